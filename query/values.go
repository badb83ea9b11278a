package query

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/expression"
)

// Identifiable is implemented by objects which can be used as query values in place of their key.
type Identifiable interface {
	DatastoreKey() *datastore.Key
}

// operand resolves the value side of a comparison to a Go value.
func (cc *compilation) operand(expr *expression.Expression) (interface{}, error) {
	switch expr.ExpressionType {
	case expression.ExpressionTypeLiteral:
		return expr.Literal.Value, nil

	case expression.ExpressionTypeParameter:
		value, ok := cc.params.Lookup(expr.Parameter)
		if !ok {
			return nil, fatalUserError("Parameter %s has no value", expr)
		}
		return value, nil

	case expression.ExpressionTypePrimary:
		// A bare name which isn't a field is an implicit parameter.
		if expr.Primary.Left == nil && len(expr.Primary.Tuples) == 1 {
			if value, ok := cc.params[expr.Primary.Tuples[0]]; ok {
				return value, nil
			}
		}
		return nil, unsupportedFeature("Comparisons between properties are not supported: %s", expr)

	case expression.ExpressionTypeDyadic:
		if expr.Dyadic.Operator == expression.OpNeg && expr.Dyadic.Right == nil &&
			expr.Dyadic.Left.ExpressionType == expression.ExpressionTypeLiteral {
			if negated, ok := negate(expr.Dyadic.Left.Literal.Value); ok {
				return negated, nil
			}
		}
		return nil, &UnsupportedOperatorError{Operator: expr.Dyadic.Operator, Expression: expr.String()}

	case expression.ExpressionTypeInvoke:
		if expr.Invoke.Left == nil && len(expr.Invoke.Arguments) == 0 {
			now := cc.now()
			switch strings.ToUpper(expr.Invoke.Method) {
			case "CURRENT_TIMESTAMP":
				return now, nil
			case "CURRENT_DATE":
				return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), nil
			case "CURRENT_TIME":
				return time.Date(1970, time.January, 1, now.Hour(), now.Minute(), now.Second(), now.Nanosecond(), now.Location()), nil
			}
		}
		return nil, unsupportedFeature("Unsupported method <%s> while parsing expression: %s", expr.Invoke.Method, expr)
	}

	return nil, unsupportedFeature("Unsupported value expression: %s", expr)
}

func negate(v interface{}) (interface{}, bool) {
	switch v := v.(type) {
	case int:
		return -v, true
	case int8:
		return -v, true
	case int16:
		return -v, true
	case int32:
		return -v, true
	case int64:
		return -v, true
	case float32:
		return -v, true
	case float64:
		return -v, true
	}
	return nil, false
}

// toValue converts a Go value to a datastore value. Identifiable objects become their key.
func toValue(v interface{}) (datastore.Value, error) {
	if identifiable, ok := v.(Identifiable); ok {
		if key := identifiable.DatastoreKey(); key != nil {
			return datastore.NewKey(key), nil
		}
		return datastore.Value{}, fatalUserError("%v does not have an id", v)
	}
	value, err := datastore.NewValue(v)
	if err != nil {
		return datastore.Value{}, &FatalUserError{Message: errors.Wrap(err, "invalid query value").Error()}
	}
	return value, nil
}

// toKey converts a value to a key of the given kind.
// Strings are decoded as encoded keys first and used as key names otherwise, integers are used as ids.
func toKey(kind string, v datastore.Value) (*datastore.Key, error) {
	switch v.TypeID {
	case datastore.TypeIDKey:
		return v.Key, nil
	case datastore.TypeIDString:
		if key, err := datastore.DecodeKey(v.Str); err == nil {
			return key, nil
		}
		return datastore.NewNameKey(kind, v.Str, nil), nil
	case datastore.TypeIDInt:
		return datastore.NewIDKey(kind, v.Int, nil), nil
	}
	return nil, fatalUserError("Value %s of type %s can't be converted to a key of kind %s", v, v.TypeID, kind)
}

// elements returns the elements of a list value, or the value itself.
func elements(v datastore.Value) []datastore.Value {
	if v.TypeID == datastore.TypeIDList {
		return v.List
	}
	return []datastore.Value{v}
}

// upperBound returns the smallest string greater than all strings with the given prefix.
// It returns false if there is none, which happens when every byte is 0xFF.
func upperBound(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xFF {
			out := make([]byte, i+1)
			copy(out, b[:i])
			out[i] = b[i] + 1
			return string(out), true
		}
	}
	return "", false
}
