package datastore

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type TypeID int

// The declaration order is also the cross-type sort order. Ints and floats compare numerically.
const (
	TypeIDNull TypeID = iota
	TypeIDInt
	TypeIDFloat
	TypeIDTime
	TypeIDBoolean
	TypeIDString
	TypeIDBytes
	TypeIDKey
	TypeIDList
)

func (t TypeID) String() string {
	switch t {
	case TypeIDNull:
		return "null"
	case TypeIDInt:
		return "int"
	case TypeIDFloat:
		return "float"
	case TypeIDTime:
		return "time"
	case TypeIDBoolean:
		return "boolean"
	case TypeIDString:
		return "string"
	case TypeIDBytes:
		return "bytes"
	case TypeIDKey:
		return "key"
	case TypeIDList:
		return "list"
	}
	return "unknown"
}

// Value is a single property value. Multi-valued properties are stored as a list.
type Value struct {
	TypeID  TypeID
	Int     int64
	Float   float64
	Time    time.Time
	Boolean bool
	Str     string
	Bytes   []byte
	Key     *Key
	List    []Value
}

func NewNull() Value {
	return Value{TypeID: TypeIDNull}
}

func NewInt(value int64) Value {
	return Value{TypeID: TypeIDInt, Int: value}
}

func NewFloat(value float64) Value {
	return Value{TypeID: TypeIDFloat, Float: value}
}

func NewTime(value time.Time) Value {
	return Value{TypeID: TypeIDTime, Time: value}
}

func NewBoolean(value bool) Value {
	return Value{TypeID: TypeIDBoolean, Boolean: value}
}

func NewString(value string) Value {
	return Value{TypeID: TypeIDString, Str: value}
}

func NewBytes(value []byte) Value {
	return Value{TypeID: TypeIDBytes, Bytes: value}
}

func NewKey(value *Key) Value {
	if value == nil {
		return NewNull()
	}
	return Value{TypeID: TypeIDKey, Key: value}
}

func NewList(value []Value) Value {
	return Value{TypeID: TypeIDList, List: value}
}

func (value Value) IsNull() bool {
	return value.TypeID == TypeIDNull
}

func (value Value) isNumber() bool {
	return value.TypeID == TypeIDInt || value.TypeID == TypeIDFloat
}

func (value Value) asFloat() float64 {
	if value.TypeID == TypeIDInt {
		return float64(value.Int)
	}
	return value.Float
}

func (value Value) Compare(other Value) int {
	if value.isNumber() && other.isNumber() && value.TypeID != other.TypeID {
		return compareFloats(value.asFloat(), other.asFloat())
	}

	if value.TypeID != other.TypeID {
		if value.TypeID < other.TypeID {
			return -1
		} else {
			return 1
		}
	}

	switch value.TypeID {
	case TypeIDNull:
		return 0

	case TypeIDInt:
		if value.Int < other.Int {
			return -1
		} else if value.Int > other.Int {
			return 1
		} else {
			return 0
		}

	case TypeIDFloat:
		return compareFloats(value.Float, other.Float)

	case TypeIDTime:
		if value.Time.Before(other.Time) {
			return -1
		} else if value.Time.After(other.Time) {
			return 1
		} else {
			return 0
		}

	case TypeIDBoolean:
		if value.Boolean == other.Boolean {
			return 0
		} else if !value.Boolean {
			return -1
		} else {
			return 1
		}

	case TypeIDString:
		return strings.Compare(value.Str, other.Str)

	case TypeIDBytes:
		return bytes.Compare(value.Bytes, other.Bytes)

	case TypeIDKey:
		return value.Key.Compare(other.Key)

	case TypeIDList:
		maxLen := len(value.List)
		if len(other.List) > maxLen {
			maxLen = len(other.List)
		}

		for i := 0; i < maxLen; i++ {
			if i == len(value.List) {
				return -1
			} else if i == len(other.List) {
				return 1
			}

			if comp := value.List[i].Compare(other.List[i]); comp != 0 {
				return comp
			}
		}

		return 0

	default:
		panic("impossible, type switch bug")
	}
}

func compareFloats(a, b float64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func (value Value) String() string {
	builder := &strings.Builder{}
	value.append(builder)
	return builder.String()
}

func (value Value) append(builder *strings.Builder) {
	switch value.TypeID {
	case TypeIDNull:
		builder.WriteString("null")

	case TypeIDInt:
		builder.WriteString(fmt.Sprint(value.Int))

	case TypeIDFloat:
		builder.WriteString(fmt.Sprint(value.Float))

	case TypeIDTime:
		builder.WriteString(value.Time.Format(time.RFC3339Nano))

	case TypeIDBoolean:
		builder.WriteString(fmt.Sprint(value.Boolean))

	case TypeIDString:
		builder.WriteString(fmt.Sprintf("'%s'", value.Str))

	case TypeIDBytes:
		builder.WriteString(fmt.Sprintf("0x%x", value.Bytes))

	case TypeIDKey:
		builder.WriteString(value.Key.String())

	case TypeIDList:
		builder.WriteString("[")
		for i, v := range value.List {
			v.append(builder)
			if i != len(value.List)-1 {
				builder.WriteString(", ")
			}
		}
		builder.WriteString("]")

	default:
		panic("impossible, type switch bug")
	}
}

// ToRawGoValue converts the value back into a plain Go value.
func (value Value) ToRawGoValue() interface{} {
	switch value.TypeID {
	case TypeIDNull:
		return nil
	case TypeIDInt:
		return value.Int
	case TypeIDFloat:
		return value.Float
	case TypeIDTime:
		return value.Time
	case TypeIDBoolean:
		return value.Boolean
	case TypeIDString:
		return value.Str
	case TypeIDBytes:
		return value.Bytes
	case TypeIDKey:
		return value.Key
	case TypeIDList:
		out := make([]interface{}, len(value.List))
		for i := range value.List {
			out[i] = value.List[i].ToRawGoValue()
		}
		return out
	default:
		panic("impossible, type switch bug")
	}
}

// NewValue converts a plain Go value into a Value.
// Slices and arrays (other than []byte) become lists, fmt.Stringer values become strings.
func NewValue(v interface{}) (Value, error) {
	switch v := v.(type) {
	case nil:
		return NewNull(), nil
	case Value:
		return v, nil
	case *Key:
		return NewKey(v), nil
	case Key:
		return NewKey(&v), nil
	case int:
		return NewInt(int64(v)), nil
	case int8:
		return NewInt(int64(v)), nil
	case int16:
		return NewInt(int64(v)), nil
	case int32:
		return NewInt(int64(v)), nil
	case int64:
		return NewInt(v), nil
	case uint8:
		return NewInt(int64(v)), nil
	case uint16:
		return NewInt(int64(v)), nil
	case uint32:
		return NewInt(int64(v)), nil
	case float32:
		return NewFloat(float64(v)), nil
	case float64:
		return NewFloat(v), nil
	case bool:
		return NewBoolean(v), nil
	case string:
		return NewString(v), nil
	case []byte:
		return NewBytes(v), nil
	case time.Time:
		return NewTime(v), nil
	case fmt.Stringer:
		return NewString(v.String()), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := NewValue(rv.Index(i).Interface())
			if err != nil {
				return Value{}, errors.Wrapf(err, "couldn't convert element with index %d", i)
			}
			out[i] = elem
		}
		return NewList(out), nil
	case reflect.Ptr:
		if rv.IsNil() {
			return NewNull(), nil
		}
		return NewValue(rv.Elem().Interface())
	}

	return Value{}, errors.Errorf("unsupported value type %T", v)
}

// IsCollection reports whether the Go value is a slice or array other than []byte.
func IsCollection(v interface{}) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	if _, ok := v.(Value); ok {
		return v.(Value).TypeID == TypeIDList
	}
	kind := reflect.TypeOf(v).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}
