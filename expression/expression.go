package expression

import (
	"fmt"
	"strings"
)

type Operator int

const (
	OpAnd Operator = iota
	OpOr
	OpEq
	OpNotEq
	OpLt
	OpLtEq
	OpGt
	OpGtEq
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpCom
	OpNot
	OpConcat
	OpLike
	OpIs
	OpIsNot
)

var operatorSymbols = map[Operator]string{
	OpAnd:    "&&",
	OpOr:     "||",
	OpEq:     "==",
	OpNotEq:  "!=",
	OpLt:     "<",
	OpLtEq:   "<=",
	OpGt:     ">",
	OpGtEq:   ">=",
	OpAdd:    "+",
	OpSub:    "-",
	OpMul:    "*",
	OpDiv:    "/",
	OpMod:    "%",
	OpNeg:    "-",
	OpCom:    "~",
	OpNot:    "!",
	OpConcat: "CONCAT",
	OpLike:   "LIKE",
	OpIs:     "instanceof",
	OpIsNot:  "!instanceof",
}

func (op Operator) String() string {
	if symbol, ok := operatorSymbols[op]; ok {
		return symbol
	}
	return fmt.Sprintf("Operator(%d)", int(op))
}

// ParseOperator maps an operator symbol or name to its Operator.
func ParseOperator(symbol string) (Operator, bool) {
	switch strings.ToLower(symbol) {
	case "and", "&&":
		return OpAnd, true
	case "or", "||":
		return OpOr, true
	case "==", "=", "eq":
		return OpEq, true
	case "!=", "<>", "ne":
		return OpNotEq, true
	case "<", "lt":
		return OpLt, true
	case "<=", "le":
		return OpLtEq, true
	case ">", "gt":
		return OpGt, true
	case ">=", "ge":
		return OpGtEq, true
	case "+", "add":
		return OpAdd, true
	case "-", "sub":
		return OpSub, true
	case "*", "mul":
		return OpMul, true
	case "/", "div":
		return OpDiv, true
	case "%", "mod":
		return OpMod, true
	case "neg":
		return OpNeg, true
	case "~", "com":
		return OpCom, true
	case "!", "not":
		return OpNot, true
	case "concat":
		return OpConcat, true
	case "like":
		return OpLike, true
	case "instanceof", "is":
		return OpIs, true
	case "!instanceof", "isnot":
		return OpIsNot, true
	}
	return 0, false
}

// Expression is a node of a compiled query. The expression tree is immutable.
type Expression struct {
	ExpressionType ExpressionType
	// Only one of the below may be non-null.
	Dyadic    *Dyadic
	Literal   *Literal
	Parameter *Parameter
	Primary   *Primary
	Invoke    *Invoke
	Variable  *Variable
}

type ExpressionType int

const (
	ExpressionTypeDyadic ExpressionType = iota
	ExpressionTypeLiteral
	ExpressionTypeParameter
	ExpressionTypePrimary
	ExpressionTypeInvoke
	ExpressionTypeVariable
)

// Dyadic is a binary operation. Unary operations (negation, complement, not) leave Right nil.
type Dyadic struct {
	Left     *Expression
	Operator Operator
	Right    *Expression
}

type Literal struct {
	Value interface{}
}

// Parameter references a bound parameter by name, or by position when Name is empty.
type Parameter struct {
	Name     string
	Position int
}

// Primary is a property path like "address.city". Left optionally qualifies the path with a variable.
type Primary struct {
	Tuples []string
	Left   *Expression
}

// Invoke is a method invocation. Left is nil for static functions like CURRENT_TIMESTAMP.
type Invoke struct {
	Left      *Expression
	Method    string
	Arguments []Expression
}

type Variable struct {
	Name string
}

func NewDyadic(left *Expression, op Operator, right *Expression) *Expression {
	return &Expression{
		ExpressionType: ExpressionTypeDyadic,
		Dyadic: &Dyadic{
			Left:     left,
			Operator: op,
			Right:    right,
		},
	}
}

func NewAnd(left, right *Expression) *Expression {
	return NewDyadic(left, OpAnd, right)
}

func NewOr(left, right *Expression) *Expression {
	return NewDyadic(left, OpOr, right)
}

func NewUnary(op Operator, operand *Expression) *Expression {
	return NewDyadic(operand, op, nil)
}

func NewLiteral(value interface{}) *Expression {
	return &Expression{
		ExpressionType: ExpressionTypeLiteral,
		Literal:        &Literal{Value: value},
	}
}

func NewParameter(name string) *Expression {
	return &Expression{
		ExpressionType: ExpressionTypeParameter,
		Parameter:      &Parameter{Name: name},
	}
}

func NewPositionalParameter(position int) *Expression {
	return &Expression{
		ExpressionType: ExpressionTypeParameter,
		Parameter:      &Parameter{Position: position},
	}
}

// NewPrimary creates a property path from its dotted form.
func NewPrimary(path string) *Expression {
	return &Expression{
		ExpressionType: ExpressionTypePrimary,
		Primary:        &Primary{Tuples: strings.Split(path, ".")},
	}
}

// NewQualifiedPrimary creates a property path on an explicit variable.
func NewQualifiedPrimary(variable *Expression, path string) *Expression {
	out := NewPrimary(path)
	out.Primary.Left = variable
	return out
}

func NewInvoke(left *Expression, method string, args ...Expression) *Expression {
	return &Expression{
		ExpressionType: ExpressionTypeInvoke,
		Invoke: &Invoke{
			Left:      left,
			Method:    method,
			Arguments: args,
		},
	}
}

func NewVariable(name string) *Expression {
	return &Expression{
		ExpressionType: ExpressionTypeVariable,
		Variable:       &Variable{Name: name},
	}
}

// ID returns the dotted form of the path.
func (p *Primary) ID() string {
	return strings.Join(p.Tuples, ".")
}

func (expr *Expression) String() string {
	if expr == nil {
		return "<nil>"
	}

	switch expr.ExpressionType {
	case ExpressionTypeDyadic:
		if expr.Dyadic.Right == nil {
			return fmt.Sprintf("%s(%s)", expr.Dyadic.Operator, expr.Dyadic.Left)
		}
		return fmt.Sprintf("(%s %s %s)", expr.Dyadic.Left, expr.Dyadic.Operator, expr.Dyadic.Right)
	case ExpressionTypeLiteral:
		if s, ok := expr.Literal.Value.(string); ok {
			return fmt.Sprintf("%q", s)
		}
		return fmt.Sprint(expr.Literal.Value)
	case ExpressionTypeParameter:
		if expr.Parameter.Name != "" {
			return ":" + expr.Parameter.Name
		}
		return fmt.Sprintf("?%d", expr.Parameter.Position)
	case ExpressionTypePrimary:
		if expr.Primary.Left != nil {
			return expr.Primary.Left.String() + "." + expr.Primary.ID()
		}
		return expr.Primary.ID()
	case ExpressionTypeInvoke:
		args := make([]string, len(expr.Invoke.Arguments))
		for i := range expr.Invoke.Arguments {
			args[i] = expr.Invoke.Arguments[i].String()
		}
		call := fmt.Sprintf("%s(%s)", expr.Invoke.Method, strings.Join(args, ", "))
		if expr.Invoke.Left != nil {
			return expr.Invoke.Left.String() + "." + call
		}
		return call
	case ExpressionTypeVariable:
		return expr.Variable.Name
	}

	panic("unexhaustive expression type match")
}
