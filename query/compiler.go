package query

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/expression"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/metadata"
)

var unsupportedOperators = map[expression.Operator]bool{
	expression.OpAdd:    true,
	expression.OpSub:    true,
	expression.OpMul:    true,
	expression.OpDiv:    true,
	expression.OpMod:    true,
	expression.OpNeg:    true,
	expression.OpCom:    true,
	expression.OpNot:    true,
	expression.OpConcat: true,
	expression.OpLike:   true,
	expression.OpIs:     true,
	expression.OpIsNot:  true,
}

var filterOperators = map[expression.Operator]datastore.FilterOperator{
	expression.OpEq:    datastore.Equal,
	expression.OpNotEq: datastore.NotEqual,
	expression.OpLt:    datastore.LessThan,
	expression.OpLtEq:  datastore.LessThanOrEqual,
	expression.OpGt:    datastore.GreaterThan,
	expression.OpGtEq:  datastore.GreaterThanOrEqual,
}

// flip returns the operator to use when the operands of a comparison are swapped.
func flip(op datastore.FilterOperator) datastore.FilterOperator {
	switch op {
	case datastore.LessThan:
		return datastore.GreaterThan
	case datastore.LessThanOrEqual:
		return datastore.GreaterThanOrEqual
	case datastore.GreaterThan:
		return datastore.LessThan
	case datastore.GreaterThanOrEqual:
		return datastore.LessThanOrEqual
	}
	return op
}

// Compiler translates compiled object queries into native datastore queries.
type Compiler struct {
	provider metadata.Provider
	// inMemoryFallback downgrades unsupported filters and sorts to incomplete flags on the result
	// instead of failing the compilation.
	inMemoryFallback bool
	logger           logrus.FieldLogger
	clock            func() time.Time
}

type CompilerOption func(compiler *Compiler)

func WithInMemoryFallback(enabled bool) CompilerOption {
	return func(compiler *Compiler) {
		compiler.inMemoryFallback = enabled
	}
}

func WithLogger(logger logrus.FieldLogger) CompilerOption {
	return func(compiler *Compiler) {
		compiler.logger = logger
	}
}

// WithClock sets the time source for CURRENT_TIMESTAMP and friends.
func WithClock(clock func() time.Time) CompilerOption {
	return func(compiler *Compiler) {
		compiler.clock = clock
	}
}

func NewCompiler(provider metadata.Provider, opts ...CompilerOption) *Compiler {
	compiler := &Compiler{
		provider: provider,
		logger:   logrus.StandardLogger(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(compiler)
	}
	return compiler
}

// compilation is the state of a single Compile call.
type compilation struct {
	*Compiler
	comp   *expression.Compilation
	params expression.Parameters
	qd     *QueryData
	// joins holds the from-clause joins by alias.
	joins map[string]*joinSource
}

type joinSource struct {
	member *metadata.Member
	class  *metadata.Class
}

func (cc *compilation) now() time.Time {
	return cc.clock()
}

// Compile builds the native queries for the compilation.
func (c *Compiler) Compile(comp *expression.Compilation, params expression.Parameters) (*QueryData, error) {
	if len(comp.Subqueries) > 0 {
		return nil, unsupportedFeature("Subqueries are not supported: %s", strings.Join(comp.Subqueries, ", "))
	}
	class, err := c.provider.Class(comp.CandidateClass)
	if err != nil {
		return nil, fatalUserError("couldn't get candidate class: %s", err)
	}

	cc := &compilation{
		Compiler: c,
		comp:     comp,
		params:   params,
		qd: &QueryData{
			Class:                  class,
			Query:                  datastore.NewQuery(class.KindName()),
			QueryType:              comp.Type,
			Range:                  comp.Range,
			ExcludeFromTransaction: comp.ExcludeFromTransaction,
			FilterComplete:         true,
			OrderComplete:          true,
		},
		joins: make(map[string]*joinSource),
	}
	qd := cc.qd

	if err := cc.compileResult(); err != nil {
		return nil, errors.Wrap(err, "couldn't compile result expressions")
	}
	if err := cc.compileFrom(); err != nil {
		return nil, errors.Wrap(err, "couldn't compile joins")
	}
	if comp.Filter != nil {
		if err := cc.addExpression(comp.Filter); err != nil {
			return nil, errors.Wrap(err, "couldn't compile filter")
		}
	}
	if err := cc.flushOrFilters(); err != nil {
		return nil, errors.Wrap(err, "couldn't add 'or' filters")
	}
	if qd.JoinQuery != nil {
		if err := cc.validateJoin(); err != nil {
			return nil, errors.Wrap(err, "invalid join")
		}
	}
	if err := cc.addClassFilters(); err != nil {
		return nil, errors.Wrap(err, "couldn't add class filters")
	}
	if qd.JoinQuery == nil {
		if err := cc.addSorts(); err != nil {
			return nil, errors.Wrap(err, "couldn't compile ordering")
		}
	}

	if err := cc.compileCursor(); err != nil {
		return nil, errors.Wrap(err, "couldn't compile start cursor")
	}

	// The merge join reads the join property from the parents, so they have to be complete.
	if qd.JoinQuery == nil && (qd.ResultType == ResultTypeKeysOnly || qd.QueryType == expression.QueryTypeBulkDelete) {
		if err := qd.Query.SetKeysOnly(); err != nil {
			return nil, errors.Wrap(err, "couldn't set keys only")
		}
	}

	qd.Query.Freeze()
	if qd.JoinQuery != nil {
		qd.JoinQuery.Freeze()
	}
	c.logger.WithField("query", qd.String()).Debug("compiled query")

	return qd, nil
}

func (cc *compilation) compileCursor() error {
	raw := cc.comp.Extensions[expression.ExtensionCursor]
	if raw == nil {
		return nil
	}

	var cursor *datastore.Cursor
	switch raw := raw.(type) {
	case *datastore.Cursor:
		cursor = raw
	case datastore.Cursor:
		cursor = &raw
	case string:
		var err error
		if cursor, err = datastore.DecodeCursor(raw); err != nil {
			return fatalUserError("Invalid cursor %q: %s", raw, err)
		}
	default:
		return fatalUserError("Cursors have to be given as a cursor or its encoded string, found %T", raw)
	}
	if cc.qd.JoinQuery != nil {
		return unsupportedFeature("Cursors are not supported for joins.")
	}
	if err := cursor.Check(cc.qd.Query.Sorts()); err != nil {
		return fatalUserError("Cursor doesn't match the query: %s", err)
	}
	cc.qd.StartCursor = cursor
	return nil
}

func (cc *compilation) compileResult() error {
	result := cc.comp.Result
	if len(result) == 0 {
		return nil
	}
	if len(result) == 1 {
		expr := result[0]
		if expr.ExpressionType == expression.ExpressionTypeInvoke && expr.Invoke.Left == nil && strings.EqualFold(expr.Invoke.Method, "count") {
			cc.qd.Count = true
			cc.qd.ResultType = ResultTypeKeysOnly
			return nil
		}
		if expr.ExpressionType == expression.ExpressionTypePrimary && expr.Primary.Left == nil &&
			len(expr.Primary.Tuples) == 1 && expr.Primary.Tuples[0] == cc.comp.CandidateAlias {
			return nil
		}
	}

	keysOnly := true
	projection := make([]string, 0, len(result))
	for _, expr := range result {
		if expr.ExpressionType != expression.ExpressionTypePrimary {
			return unsupportedFeature("Unsupported result expression: %s", expr)
		}
		class, tuples, symbol, err := cc.resolvePrimary(expr.Primary)
		if err != nil {
			return err
		}
		if symbol != "" {
			return unsupportedFeature("Result expressions on joined objects are not supported: %s", expr)
		}
		member := class.ResolvePath(tuples)
		if member == nil {
			return fatalUserError("Unknown field %s of class %s", strings.Join(tuples, "."), class.Name)
		}
		if member.PrimaryKey {
			projection = append(projection, datastore.KeyPropertyName)
			continue
		}
		keysOnly = false
		projection = append(projection, member.NativeName())
	}

	if keysOnly {
		cc.qd.ResultType = ResultTypeKeysOnly
		if len(projection) == 1 {
			return nil
		}
	}
	cc.qd.Projection = projection
	return nil
}

func (cc *compilation) compileFrom() error {
	for _, join := range cc.comp.From {
		if join.Path == nil || join.Path.ExpressionType != expression.ExpressionTypePrimary {
			return unsupportedFeature("Joins are only supported on fields: %s", join.Path)
		}
		class, tuples, symbol, err := cc.resolvePrimary(join.Path.Primary)
		if err != nil {
			return err
		}
		if symbol != "" {
			return unsupportedFeature("Joins on fields of joined objects are not supported: %s", join.Path)
		}
		member := class.ResolvePath(tuples)
		if member == nil {
			return fatalUserError("Unknown field %s of class %s", strings.Join(tuples, "."), class.Name)
		}
		if member.Relation == metadata.RelationNone || member.RelatedClass == "" {
			return fatalUserError("Field %s of class %s is not a relation and can't be joined", member.Name, class.Name)
		}

		name := join.Class
		if name == "" {
			name = member.RelatedClass
		}
		related, err := cc.provider.Class(name)
		if err != nil {
			return fatalUserError("couldn't get joined class: %s", err)
		}
		cc.joins[join.Alias] = &joinSource{
			member: member,
			class:  related,
		}
	}
	return nil
}

// resolvePrimary finds the class a field path is on and strips its qualifier.
// The returned symbol is empty for the candidate class, and names the variable or join alias otherwise.
func (cc *compilation) resolvePrimary(p *expression.Primary) (*metadata.Class, []string, string, error) {
	tuples := p.Tuples
	symbol := ""
	if p.Left != nil {
		if p.Left.ExpressionType != expression.ExpressionTypeVariable {
			return nil, nil, "", unsupportedFeature("Unsupported field qualifier: %s", p.Left)
		}
		symbol = p.Left.Variable.Name
	} else if len(tuples) > 1 {
		switch {
		case tuples[0] == "this" || tuples[0] == cc.comp.CandidateAlias:
			tuples = tuples[1:]
		case cc.isJoinSymbol(tuples[0]):
			symbol = tuples[0]
			tuples = tuples[1:]
		}
	}

	if symbol == "" || symbol == "this" || symbol == cc.comp.CandidateAlias {
		return cc.qd.Class, tuples, "", nil
	}
	class, err := cc.joinClass(symbol)
	if err != nil {
		return nil, nil, "", err
	}
	return class, tuples, symbol, nil
}

func (cc *compilation) isJoinSymbol(symbol string) bool {
	if _, ok := cc.comp.Variables[symbol]; ok {
		return true
	}
	for i := range cc.comp.From {
		if cc.comp.From[i].Alias == symbol {
			return true
		}
	}
	return false
}

func (cc *compilation) joinClass(symbol string) (*metadata.Class, error) {
	if source, ok := cc.joins[symbol]; ok {
		return source.class, nil
	}
	name, ok := cc.comp.Variables[symbol]
	if !ok {
		return nil, fatalUserError("Unknown variable %s", symbol)
	}
	class, err := cc.provider.Class(name)
	if err != nil {
		return nil, fatalUserError("couldn't get class of variable %s: %s", symbol, err)
	}
	return class, nil
}

// joinQuery returns the query on the joined class, creating it on first use.
func (cc *compilation) joinQuery(symbol string, class *metadata.Class) (*datastore.Query, error) {
	qd := cc.qd
	if qd.JoinQuery != nil {
		if qd.JoinVariable != symbol {
			return nil, unsupportedFeature("Only one join variable is supported, found both %s and %s.", qd.JoinVariable, symbol)
		}
		return qd.JoinQuery, nil
	}

	q := datastore.NewQuery(class.KindName())
	if err := q.SetKeysOnly(); err != nil {
		return nil, errors.Wrap(err, "couldn't set keys only")
	}
	qd.JoinQuery = q
	qd.JoinClass = class
	qd.JoinVariable = symbol
	if source, ok := cc.joins[symbol]; ok {
		qd.JoinSortProperty = source.member.NativeName()
	}
	return q, nil
}

func (cc *compilation) addExpression(expr *expression.Expression) error {
	if expr.ExpressionType == expression.ExpressionTypeDyadic {
		switch expr.Dyadic.Operator {
		case expression.OpAnd:
			if cc.qd.insideOr {
				return unsupportedFeature("'or' filters can only check equality")
			}
			if err := cc.addExpression(expr.Dyadic.Left); err != nil {
				return err
			}
			return cc.addExpression(expr.Dyadic.Right)
		case expression.OpOr:
			return cc.addOr(expr)
		}
	}

	err := cc.addLeaf(expr)
	if err != nil && cc.inMemoryFallback && !cc.qd.insideOr && downgradable(err) {
		cc.logger.WithError(err).WithField("filter", expr.String()).Debug("filter has to be applied in memory")
		cc.qd.FilterComplete = false
		return nil
	}
	return err
}

func (cc *compilation) addOr(expr *expression.Expression) error {
	outermost := !cc.qd.insideOr
	cc.qd.insideOr = true
	if err := cc.addExpression(expr.Dyadic.Left); err != nil {
		return err
	}
	if err := cc.addExpression(expr.Dyadic.Right); err != nil {
		return err
	}
	if outermost {
		cc.qd.insideOr = false
		cc.qd.orProperty = ""
	}
	return nil
}

func (cc *compilation) addLeaf(expr *expression.Expression) error {
	switch expr.ExpressionType {
	case expression.ExpressionTypeInvoke:
		return cc.addInvoke(expr)

	case expression.ExpressionTypeDyadic:
		d := expr.Dyadic
		if unsupportedOperators[d.Operator] {
			return &UnsupportedOperatorError{Operator: d.Operator, Expression: expr.String()}
		}
		op, ok := filterOperators[d.Operator]
		if !ok || d.Right == nil {
			return unsupportedFeature("Unsupported operator %s in %s", d.Operator, expr)
		}

		left, right := d.Left, d.Right
		if left.ExpressionType != expression.ExpressionTypePrimary && right.ExpressionType == expression.ExpressionTypePrimary {
			left, right = right, left
			op = flip(op)
		}
		if left.ExpressionType != expression.ExpressionTypePrimary {
			return unsupportedFeature("One side of the comparison has to be a field: %s", expr)
		}
		if cc.qd.insideOr && op != datastore.Equal {
			return unsupportedFeature("'or' filters can only check equality")
		}
		return cc.addComparison(left.Primary, op, right)
	}

	return unsupportedFeature("Unsupported filter expression: %s", expr)
}

func (cc *compilation) addComparison(p *expression.Primary, op datastore.FilterOperator, rhs *expression.Expression) error {
	if rhs.ExpressionType == expression.ExpressionTypeVariable {
		return cc.addJoinCondition(p, op, rhs.Variable.Name)
	}
	raw, err := cc.operand(rhs)
	if err != nil {
		return err
	}
	return cc.addFieldFilter(p, op, raw)
}

// addFieldFilter adds the filter for a field compared with an already resolved value.
func (cc *compilation) addFieldFilter(p *expression.Primary, op datastore.FilterOperator, raw interface{}) error {
	class, tuples, symbol, err := cc.resolvePrimary(p)
	if err != nil {
		return err
	}
	member := class.ResolvePath(tuples)
	if member == nil {
		return fatalUserError("Unknown field %s of class %s", strings.Join(tuples, "."), class.Name)
	}

	q := cc.qd.Query
	if symbol != "" {
		if cc.qd.insideOr {
			return unsupportedFeature("'or' filters are not supported on joined objects: %s", strings.Join(p.Tuples, "."))
		}
		if q, err = cc.joinQuery(symbol, class); err != nil {
			return err
		}
	}
	return cc.addMemberFilter(q, class, member, op, raw)
}

func (cc *compilation) addMemberFilter(q *datastore.Query, class *metadata.Class, member *metadata.Member, op datastore.FilterOperator, raw interface{}) error {
	switch {
	case member.IsEmbedded():
		return unsupportedFeature("Filters on embedded object %s are not supported, filter on its fields instead", member.Name)
	case member.KeyComponent:
		return unsupportedFeature("Filters on key component %s are not supported, filter on the primary key instead", member.Name)
	case member.PrimaryKey:
		return cc.addKeyFilter(q, class, op, raw)
	case member.ParentKey:
		if op != datastore.Equal {
			return unsupportedFeature("Operator %s is not supported on parent key %s, only equality is", op, member.Name)
		}
		value, err := toValue(raw)
		if err != nil {
			return err
		}
		if value.IsNull() {
			return fatalUserError("The datastore does not support querying for objects with null parents.")
		}
		key, err := toKey(class.KindName(), value)
		if err != nil {
			return err
		}
		return cc.setAncestor(q, key)
	case member.IsPersistable():
		return cc.addRelationFilter(q, member, op, raw)
	}

	value, err := toValue(raw)
	if err != nil {
		return err
	}
	if value.TypeID == datastore.TypeIDList {
		if op != datastore.Equal {
			return unsupportedFeature("Collection parameters are only supported for equality filters.")
		}
		return cc.addFilter(q, member.NativeName(), datastore.In, value)
	}
	return cc.addFilter(q, member.NativeName(), op, value)
}

func (cc *compilation) addKeyFilter(q *datastore.Query, class *metadata.Class, op datastore.FilterOperator, raw interface{}) error {
	value, err := toValue(raw)
	if err != nil {
		return err
	}
	kind := class.KindName()

	if value.TypeID == datastore.TypeIDList {
		if op != datastore.Equal {
			return fatalUserError("Collection parameters for the primary key can only be used with the equality operator, found %s.", op)
		}
		keys := make([]*datastore.Key, len(value.List))
		values := make([]datastore.Value, len(value.List))
		for i := range value.List {
			if keys[i], err = toKey(kind, value.List[i]); err != nil {
				return err
			}
			values[i] = datastore.NewKey(keys[i])
		}
		if q == cc.qd.Query && !cc.qd.insideOr {
			cc.qd.BatchKeys = append(cc.qd.BatchKeys, keys...)
		}
		return cc.addFilter(q, datastore.KeyPropertyName, datastore.In, datastore.NewList(values))
	}

	if value.IsNull() {
		return fatalUserError("Primary key filters can't compare with null.")
	}
	key, err := toKey(kind, value)
	if err != nil {
		return err
	}
	return cc.addFilter(q, datastore.KeyPropertyName, op, datastore.NewKey(key))
}

func (cc *compilation) addRelationFilter(q *datastore.Query, member *metadata.Member, op datastore.FilterOperator, raw interface{}) error {
	related, err := cc.provider.Class(member.RelatedClass)
	if err != nil {
		return fatalUserError("couldn't get related class of %s: %s", member.Name, err)
	}

	if !member.Owned && op == datastore.Equal && datastore.IsCollection(raw) {
		value, err := toValue(raw)
		if err != nil {
			return err
		}
		values := make([]datastore.Value, len(value.List))
		for i := range value.List {
			key, err := cc.relatedKey(related, member, value.List[i])
			if err != nil {
				return err
			}
			values[i] = datastore.NewKey(key)
		}
		return cc.addFilter(q, member.NativeName(), datastore.In, datastore.NewList(values))
	}

	var key *datastore.Key
	if raw != nil {
		value, err := toValue(raw)
		if err != nil {
			return err
		}
		if key, err = cc.relatedKey(related, member, value); err != nil {
			return err
		}
	}

	switch {
	case !member.Owned:
		return cc.addFilter(q, member.NativeName(), op, datastore.NewKey(key))

	case !member.ParentKeyProvider:
		// The related object is a child of the queried one.
		if op != datastore.Equal {
			return unsupportedFeature("Only the equals operator is supported on conditions involving the owning side of a one-to-one.")
		}
		if key == nil {
			return fatalUserError("Cannot query for parents with null children.")
		}
		if key.Parent == nil {
			return fatalUserError("Key of parameter value does not have a parent.")
		}
		return cc.addFilter(q, datastore.KeyPropertyName, datastore.Equal, datastore.NewKey(key.Parent))

	default:
		// The related object is the parent of the queried one.
		if key == nil {
			return fatalUserError("The datastore does not support querying for objects with null parents.")
		}
		if op != datastore.Equal {
			return unsupportedFeature("Only the equals operator is supported on conditions involving the parent of an owned relation.")
		}
		return cc.setAncestor(q, key)
	}
}

func (cc *compilation) relatedKey(related *metadata.Class, member *metadata.Member, value datastore.Value) (*datastore.Key, error) {
	if value.IsNull() {
		return nil, fatalUserError("Null value in collection parameter for field %s", member.Name)
	}
	key, err := toKey(related.KindName(), value)
	if err != nil {
		return nil, err
	}
	if key.Kind != related.KindName() {
		return nil, fatalUserError("Value %s for field %s is a key of kind %s, but the field refers to class %s stored as kind %s",
			key, member.Name, key.Kind, related.Name, related.KindName())
	}
	return key, nil
}

func (cc *compilation) setAncestor(q *datastore.Query, key *datastore.Key) error {
	if cc.qd.insideOr {
		return unsupportedFeature("Ancestor filters can't be used inside 'or' filters")
	}
	if ancestor := q.Ancestor(); ancestor != nil && !ancestor.Equal(key) {
		return unsupportedFeature("Query already has the ancestor %s, found another one: %s", ancestor, key)
	}
	if err := q.SetAncestor(key); err != nil {
		return errors.Wrap(err, "couldn't set ancestor")
	}
	return nil
}

// addFilter adds a filter to the query, or to the pending 'or' values if inside an 'or'.
func (cc *compilation) addFilter(q *datastore.Query, property string, op datastore.FilterOperator, value datastore.Value) error {
	qd := cc.qd
	if qd.insideOr {
		if qd.orProperty == "" {
			qd.orProperty = property
		} else if qd.orProperty != property {
			return unsupportedFeature("Or filters cannot be applied to multiple properties (found both %s and %s).", qd.orProperty, property)
		}
		if op == datastore.In {
			qd.orFilters.add(property, value.List...)
		} else {
			qd.orFilters.add(property, value)
		}
		return nil
	}

	if err := q.AddFilter(property, op, value); err != nil {
		return errors.Wrapf(err, "couldn't add filter on %s", property)
	}
	return nil
}

func (cc *compilation) flushOrFilters() error {
	acc := &cc.qd.orFilters
	if len(acc.properties) == 0 {
		return nil
	}

	allKeys := true
	for _, property := range acc.properties {
		if property != datastore.KeyPropertyName {
			allKeys = false
		}
		if err := cc.qd.Query.AddFilter(property, datastore.In, datastore.NewList(acc.values[property])); err != nil {
			return errors.Wrapf(err, "couldn't add filter on %s", property)
		}
	}
	if allKeys {
		for _, value := range acc.values[datastore.KeyPropertyName] {
			cc.qd.BatchKeys = append(cc.qd.BatchKeys, value.Key)
		}
	}
	return nil
}

func (cc *compilation) addJoinCondition(p *expression.Primary, op datastore.FilterOperator, variable string) error {
	if op != datastore.Equal {
		return unsupportedFeature("Operator %s cannot be used as part of the join condition. Use == instead.", op)
	}
	if cc.qd.insideOr {
		return unsupportedFeature("Join conditions can't be used inside 'or' filters")
	}

	class, tuples, symbol, err := cc.resolvePrimary(p)
	if err != nil {
		return err
	}
	if symbol != "" {
		return unsupportedFeature("Join conditions have to use a field of the candidate class: %s", strings.Join(p.Tuples, "."))
	}
	member := class.ResolvePath(tuples)
	if member == nil {
		return fatalUserError("Unknown field %s of class %s", strings.Join(tuples, "."), class.Name)
	}
	if member.Relation == metadata.RelationNone || member.RelatedClass == "" {
		return unsupportedFeature("Field %s is not a relation and can't be used in a join condition", member.Name)
	}

	joinClass, err := cc.joinClass(variable)
	if err != nil {
		return err
	}
	if _, err := cc.joinQuery(variable, joinClass); err != nil {
		return err
	}
	if cc.qd.JoinSortProperty != "" && cc.qd.JoinSortProperty != member.NativeName() {
		return unsupportedFeature("Only one join condition is supported, found joins on both %s and %s", cc.qd.JoinSortProperty, member.NativeName())
	}
	cc.qd.JoinSortProperty = member.NativeName()
	return nil
}

func (cc *compilation) addInvoke(expr *expression.Expression) error {
	inv := expr.Invoke
	switch inv.Method {
	case "contains":
		if inv.Left == nil || len(inv.Arguments) != 1 {
			return unsupportedFeature("contains() has to be called on a field or parameter with one argument: %s", expr)
		}
		arg := &inv.Arguments[0]
		switch inv.Left.ExpressionType {
		case expression.ExpressionTypePrimary:
			if cc.qd.insideOr && arg.ExpressionType == expression.ExpressionTypeVariable {
				return unsupportedFeature("Join conditions can't be used inside 'or' filters")
			}
			return cc.addComparison(inv.Left.Primary, datastore.Equal, arg)
		case expression.ExpressionTypeParameter:
			if arg.ExpressionType != expression.ExpressionTypePrimary {
				return unsupportedFeature("The argument of contains() on a parameter has to be a field: %s", expr)
			}
			return cc.addComparison(arg.Primary, datastore.Equal, inv.Left)
		}
		return unsupportedFeature("contains() has to be called on a field or parameter: %s", expr)

	case "startsWith", "matches":
		if inv.Left == nil || inv.Left.ExpressionType != expression.ExpressionTypePrimary {
			return unsupportedFeature("%s() can only be called on a field: %s", inv.Method, expr)
		}
		if cc.qd.insideOr {
			return unsupportedFeature("'or' filters can only check equality")
		}
		if len(inv.Arguments) == 0 {
			return unsupportedFeature("%s() needs an argument: %s", inv.Method, expr)
		}
		if len(inv.Arguments) > 1 {
			if inv.Method == "matches" {
				return unsupportedFeature("Escape characters are not supported in matches(): %s", expr)
			}
			return unsupportedFeature("startsWith() takes exactly one argument: %s", expr)
		}

		raw, err := cc.operand(&inv.Arguments[0])
		if err != nil {
			return err
		}
		s, ok := raw.(string)
		if !ok {
			return fatalUserError("%s() needs a string argument, got %v", inv.Method, raw)
		}

		prefix := s
		if inv.Method == "matches" {
			var exact bool
			if prefix, exact, err = cc.matchesPrefix(s); err != nil {
				return err
			} else if exact {
				return cc.addFieldFilter(inv.Left.Primary, datastore.Equal, s)
			}
		}
		return cc.addPrefixFilter(inv.Left.Primary, prefix)
	}

	return unsupportedFeature("Unsupported method <%s> while parsing expression: %s", inv.Method, expr)
}

// matchesPrefix extracts the prefix of a matches() pattern, which may only use a trailing wildcard.
// It reports exact for patterns without a wildcard.
func (cc *compilation) matchesPrefix(pattern string) (string, bool, error) {
	wildcard := ".*"
	if cc.comp.Language == expression.LanguageJPQL {
		wildcard = "%"
	}
	i := strings.Index(pattern, wildcard)
	if i == -1 {
		return pattern, true, nil
	}
	if i != len(pattern)-len(wildcard) {
		return "", false, unsupportedFeature("Wildcard must appear at the end of the expression string (only prefix matches are supported): %s", pattern)
	}
	return pattern[:i], false, nil
}

// addPrefixFilter emulates a prefix match with a half-open range.
func (cc *compilation) addPrefixFilter(p *expression.Primary, prefix string) error {
	if err := cc.addFieldFilter(p, datastore.GreaterThanOrEqual, prefix); err != nil {
		return err
	}
	if bound, ok := upperBound(prefix); ok {
		return cc.addFieldFilter(p, datastore.LessThan, bound)
	}
	return nil
}

func (cc *compilation) validateJoin() error {
	qd := cc.qd
	if qd.JoinSortProperty == "" {
		return unsupportedFeature("Variable %s is not bound by a join condition.", qd.JoinVariable)
	}
	for _, q := range []*datastore.Query{qd.Query, qd.JoinQuery} {
		for _, filter := range q.Filters() {
			if filter.Operator != datastore.Equal {
				return unsupportedFeature("Filter on property '%s' uses operator '%s'. Joins are only supported when all filters are 'equals' filters.", filter.Property, filter.Operator)
			}
		}
	}

	sortErr := unsupportedFeature("Joins can only be sorted by the join column in ascending order (in this case '%s')", qd.JoinSortProperty)
	if len(cc.comp.Ordering) > 1 {
		return sortErr
	}
	if len(cc.comp.Ordering) == 1 {
		ordering := cc.comp.Ordering[0]
		if ordering.Direction != expression.Ascending || ordering.Expression.ExpressionType != expression.ExpressionTypePrimary {
			return sortErr
		}
		class, tuples, symbol, err := cc.resolvePrimary(ordering.Expression.Primary)
		if err != nil {
			return err
		}
		if symbol != "" {
			return sortErr
		}
		if member := class.ResolvePath(tuples); member == nil || member.NativeName() != qd.JoinSortProperty {
			return sortErr
		}
	}

	if err := qd.Query.AddSort(qd.JoinSortProperty, datastore.Ascending); err != nil {
		return errors.Wrap(err, "couldn't add join sort")
	}
	return nil
}

func (cc *compilation) addClassFilters() error {
	qd := cc.qd
	discriminator, err := cc.provider.DiscriminatorFilter(qd.Class, cc.comp.Subclasses)
	if err != nil {
		return errors.Wrap(err, "couldn't get discriminator filter")
	}
	if discriminator != nil {
		if err := qd.Query.AddFilter(discriminator.Property, discriminator.Operator, discriminator.Value); err != nil {
			return errors.Wrap(err, "couldn't add discriminator filter")
		}
	}
	if tenant := cc.provider.TenantFilter(qd.Class); tenant != nil {
		if err := qd.Query.AddFilter(tenant.Property, tenant.Operator, tenant.Value); err != nil {
			return errors.Wrap(err, "couldn't add tenant filter")
		}
	}
	return nil
}

func (cc *compilation) addSorts() error {
	for _, ordering := range cc.comp.Ordering {
		err := cc.addSort(ordering)
		if err != nil && cc.inMemoryFallback && downgradable(err) {
			cc.logger.WithError(err).WithField("ordering", ordering.Expression.String()).Debug("ordering has to be applied in memory")
			cc.qd.OrderComplete = false
			continue
		} else if err != nil {
			return err
		}
	}
	return nil
}

func (cc *compilation) addSort(ordering expression.Ordering) error {
	if ordering.Expression.ExpressionType != expression.ExpressionTypePrimary {
		return unsupportedFeature("Only fields can be used for ordering: %s", ordering.Expression)
	}
	class, tuples, symbol, err := cc.resolvePrimary(ordering.Expression.Primary)
	if err != nil {
		return err
	}
	if symbol != "" {
		return unsupportedFeature("Sorting by fields of joined objects is not supported: %s", ordering.Expression)
	}
	member := class.ResolvePath(tuples)
	if member == nil {
		return fatalUserError("Unknown field %s of class %s", strings.Join(tuples, "."), class.Name)
	}

	var property string
	switch {
	case member.ParentKey:
		return unsupportedFeature("Cannot sort by parent.")
	case member.PrimaryKey:
		property = datastore.KeyPropertyName
	case member.IsEmbedded():
		return unsupportedFeature("Sorting by embedded object %s is not supported, sort by its fields instead", member.Name)
	default:
		property = member.NativeName()
	}

	direction := datastore.Ascending
	if ordering.Direction == expression.Descending {
		direction = datastore.Descending
	}
	if err := cc.qd.Query.AddSort(property, direction); err != nil {
		return errors.Wrapf(err, "couldn't add sort on %s", property)
	}
	return nil
}
