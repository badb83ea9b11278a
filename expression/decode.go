package expression

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
)

// QueryFile is a query description together with its parameters, as read from YAML.
type QueryFile struct {
	Compilation *Compilation
	Parameters  Parameters
}

type queryFile struct {
	Language               string                 `yaml:"language"`
	Type                   string                 `yaml:"type"`
	Candidate              string                 `yaml:"candidate"`
	Alias                  string                 `yaml:"alias"`
	Subclasses             bool                   `yaml:"subclasses"`
	ExcludeFromTransaction bool                   `yaml:"excludeFromTransaction"`
	Variables              map[string]string      `yaml:"variables"`
	From                   []joinNode             `yaml:"from"`
	Filter                 *exprNode              `yaml:"filter"`
	Ordering               []orderingNode         `yaml:"ordering"`
	Result                 []exprNode             `yaml:"result"`
	Range                  *rangeNode             `yaml:"range"`
	Parameters             map[string]yaml.Node   `yaml:"parameters"`
	Extensions             map[string]interface{} `yaml:"extensions"`
}

type joinNode struct {
	Type  string `yaml:"type"`
	Path  string `yaml:"path"`
	Alias string `yaml:"alias"`
	Class string `yaml:"class"`
}

type orderingNode struct {
	Field     string    `yaml:"field"`
	Expr      *exprNode `yaml:"expr"`
	Direction string    `yaml:"direction"`
}

type rangeNode struct {
	From int64  `yaml:"from"`
	To   *int64 `yaml:"to"`
}

type exprNode struct {
	And      []exprNode `yaml:"and"`
	Or       []exprNode `yaml:"or"`
	Op       string     `yaml:"op"`
	Left     *exprNode  `yaml:"left"`
	Right    *exprNode  `yaml:"right"`
	Operand  *exprNode  `yaml:"operand"`
	Field    string     `yaml:"field"`
	On       string     `yaml:"on"`
	Literal  yaml.Node  `yaml:"literal"`
	Param    string     `yaml:"param"`
	Position *int       `yaml:"position"`
	Variable string     `yaml:"variable"`
	Call     *callNode  `yaml:"call"`
}

type callNode struct {
	Target *exprNode  `yaml:"target"`
	Method string     `yaml:"method"`
	Args   []exprNode `yaml:"args"`
}

// DecodeQueryFile reads a YAML query description.
func DecodeQueryFile(r io.Reader) (*QueryFile, error) {
	var file queryFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, errors.Wrap(err, "couldn't decode yaml query")
	}
	if file.Candidate == "" {
		return nil, errors.New("query has no candidate class")
	}

	c := &Compilation{
		CandidateClass:         file.Candidate,
		CandidateAlias:         file.Alias,
		Subclasses:             file.Subclasses,
		ExcludeFromTransaction: file.ExcludeFromTransaction,
		Variables:              file.Variables,
		Extensions:             file.Extensions,
	}

	switch strings.ToLower(file.Language) {
	case "", "jdoql":
		c.Language = LanguageJDOQL
	case "jpql":
		c.Language = LanguageJPQL
	default:
		return nil, errors.Errorf("unknown query language %s", file.Language)
	}

	switch strings.ToLower(file.Type) {
	case "", "select":
		c.Type = QueryTypeSelect
	case "delete":
		c.Type = QueryTypeBulkDelete
	default:
		return nil, errors.Errorf("unknown query type %s", file.Type)
	}

	for i, join := range file.From {
		joinType, err := parseJoinType(join.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't decode join with index %d", i)
		}
		if join.Path == "" || join.Alias == "" {
			return nil, errors.Errorf("join with index %d needs both a path and an alias", i)
		}
		c.From = append(c.From, Join{
			Type:  joinType,
			Path:  NewPrimary(join.Path),
			Alias: join.Alias,
			Class: join.Class,
		})
	}

	if file.Filter != nil {
		filter, err := file.Filter.toExpression()
		if err != nil {
			return nil, errors.Wrap(err, "couldn't decode filter")
		}
		c.Filter = filter
	}

	for i, ordering := range file.Ordering {
		var expr *Expression
		switch {
		case ordering.Expr != nil:
			var err error
			if expr, err = ordering.Expr.toExpression(); err != nil {
				return nil, errors.Wrapf(err, "couldn't decode ordering with index %d", i)
			}
		case ordering.Field != "":
			expr = NewPrimary(ordering.Field)
		default:
			return nil, errors.Errorf("ordering with index %d has neither a field nor an expression", i)
		}

		direction := Ascending
		switch strings.ToLower(ordering.Direction) {
		case "", "asc", "ascending":
		case "desc", "descending":
			direction = Descending
		default:
			return nil, errors.Errorf("unknown ordering direction %s", ordering.Direction)
		}
		c.Ordering = append(c.Ordering, Ordering{Expression: expr, Direction: direction})
	}

	for i := range file.Result {
		expr, err := file.Result[i].toExpression()
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't decode result expression with index %d", i)
		}
		c.Result = append(c.Result, expr)
	}

	if file.Range != nil {
		c.Range = &Range{FromIncl: file.Range.From, ToExcl: NoUpperBound}
		if file.Range.To != nil {
			c.Range.ToExcl = *file.Range.To
		}
	}

	params := make(Parameters, len(file.Parameters))
	for name, node := range file.Parameters {
		node := node
		value, err := decodeValue(&node)
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't decode parameter %s", name)
		}
		params[name] = value
	}

	return &QueryFile{
		Compilation: c,
		Parameters:  params,
	}, nil
}

func parseJoinType(s string) (JoinType, error) {
	switch strings.ToLower(s) {
	case "", "inner":
		return JoinInner, nil
	case "inner fetch":
		return JoinInnerFetch, nil
	case "left outer", "left":
		return JoinLeftOuter, nil
	case "left outer fetch":
		return JoinLeftOuterFetch, nil
	}
	return 0, errors.Errorf("unknown join type %s", s)
}

func (node *exprNode) toExpression() (*Expression, error) {
	switch {
	case len(node.And) > 0:
		return foldNodes(node.And, OpAnd)
	case len(node.Or) > 0:
		return foldNodes(node.Or, OpOr)

	case node.Op != "":
		op, ok := ParseOperator(node.Op)
		if !ok {
			return nil, errors.Errorf("unknown operator %s", node.Op)
		}
		if node.Operand != nil {
			operand, err := node.Operand.toExpression()
			if err != nil {
				return nil, errors.Wrap(err, "couldn't decode operand")
			}
			return NewUnary(op, operand), nil
		}
		if node.Left == nil || node.Right == nil {
			return nil, errors.Errorf("operator %s needs left and right sides", node.Op)
		}
		left, err := node.Left.toExpression()
		if err != nil {
			return nil, errors.Wrap(err, "couldn't decode left side")
		}
		right, err := node.Right.toExpression()
		if err != nil {
			return nil, errors.Wrap(err, "couldn't decode right side")
		}
		return NewDyadic(left, op, right), nil

	case node.Field != "":
		if node.On != "" {
			return NewQualifiedPrimary(NewVariable(node.On), node.Field), nil
		}
		return NewPrimary(node.Field), nil

	case node.Literal.Kind != 0:
		value, err := decodeValue(&node.Literal)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't decode literal")
		}
		return NewLiteral(value), nil

	case node.Param != "":
		return NewParameter(node.Param), nil
	case node.Position != nil:
		return NewPositionalParameter(*node.Position), nil
	case node.Variable != "":
		return NewVariable(node.Variable), nil

	case node.Call != nil:
		var target *Expression
		if node.Call.Target != nil {
			var err error
			if target, err = node.Call.Target.toExpression(); err != nil {
				return nil, errors.Wrap(err, "couldn't decode invocation target")
			}
		}
		args := make([]Expression, len(node.Call.Args))
		for i := range node.Call.Args {
			arg, err := node.Call.Args[i].toExpression()
			if err != nil {
				return nil, errors.Wrapf(err, "couldn't decode argument with index %d", i)
			}
			args[i] = *arg
		}
		return NewInvoke(target, node.Call.Method, args...), nil
	}

	return nil, errors.New("empty expression")
}

func foldNodes(nodes []exprNode, op Operator) (*Expression, error) {
	out, err := nodes[0].toExpression()
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't decode %s argument with index 0", op)
	}
	for i := 1; i < len(nodes); i++ {
		next, err := nodes[i].toExpression()
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't decode %s argument with index %d", op, i)
		}
		out = NewDyadic(out, op, next)
	}
	return out, nil
}

// decodeValue decodes a YAML value. Mappings with a kind and an id or name become keys.
func decodeValue(node *yaml.Node) (interface{}, error) {
	if node.Kind == yaml.MappingNode {
		var key keyNode
		if err := node.Decode(&key); err != nil {
			return nil, errors.Wrap(err, "couldn't decode key")
		}
		return key.toKey()
	}
	if node.Kind == yaml.SequenceNode {
		out := make([]interface{}, len(node.Content))
		for i := range node.Content {
			value, err := decodeValue(node.Content[i])
			if err != nil {
				return nil, errors.Wrapf(err, "couldn't decode element with index %d", i)
			}
			out[i] = value
		}
		return out, nil
	}

	var out interface{}
	if err := node.Decode(&out); err != nil {
		return nil, errors.Wrap(err, "couldn't decode scalar")
	}
	return out, nil
}

type keyNode struct {
	Kind   string   `yaml:"kind"`
	ID     int64    `yaml:"id"`
	Name   string   `yaml:"name"`
	Parent *keyNode `yaml:"parent"`
}

func (k *keyNode) toKey() (*datastore.Key, error) {
	if k.Kind == "" {
		return nil, errors.New("key needs a kind")
	}
	var parent *datastore.Key
	if k.Parent != nil {
		var err error
		if parent, err = k.Parent.toKey(); err != nil {
			return nil, errors.Wrap(err, "couldn't decode parent key")
		}
	}
	if k.Name != "" {
		return datastore.NewNameKey(k.Kind, k.Name, parent), nil
	}
	if k.ID == 0 {
		return nil, errors.Errorf("key of kind %s needs an id or a name", k.Kind)
	}
	return datastore.NewIDKey(k.Kind, k.ID, parent), nil
}
