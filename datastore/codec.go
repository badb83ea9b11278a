package datastore

import (
	"encoding/base64"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fastjson"
)

// MarshalValueJSON encodes a value as a JSON object of the form {"t": typeID, "v": payload}.
// Ints are written as JSON numbers and read back with Int64, so they keep full precision.
func MarshalValueJSON(arena *fastjson.Arena, value Value) *fastjson.Value {
	out := arena.NewObject()
	out.Set("t", arena.NewNumberInt(int(value.TypeID)))

	var payload *fastjson.Value
	switch value.TypeID {
	case TypeIDNull:
		payload = arena.NewNull()
	case TypeIDInt:
		payload = arena.NewNumberString(strconv.FormatInt(value.Int, 10))
	case TypeIDFloat:
		payload = arena.NewNumberFloat64(value.Float)
	case TypeIDTime:
		payload = arena.NewString(value.Time.Format(time.RFC3339Nano))
	case TypeIDBoolean:
		if value.Boolean {
			payload = arena.NewTrue()
		} else {
			payload = arena.NewFalse()
		}
	case TypeIDString:
		payload = arena.NewString(value.Str)
	case TypeIDBytes:
		payload = arena.NewString(base64.StdEncoding.EncodeToString(value.Bytes))
	case TypeIDKey:
		payload = arena.NewString(value.Key.Encode())
	case TypeIDList:
		payload = arena.NewArray()
		for i := range value.List {
			payload.SetArrayItem(i, MarshalValueJSON(arena, value.List[i]))
		}
	default:
		panic("unexhaustive value type match")
	}
	out.Set("v", payload)

	return out
}

// UnmarshalValueJSON decodes a value written by MarshalValueJSON.
func UnmarshalValueJSON(v *fastjson.Value) (Value, error) {
	typeField := v.Get("t")
	if typeField == nil {
		return Value{}, errors.New("missing value type")
	}
	typeID, err := typeField.Int()
	if err != nil {
		return Value{}, errors.Wrap(err, "couldn't read value type")
	}
	payload := v.Get("v")
	if payload == nil {
		return Value{}, errors.New("missing value payload")
	}

	switch TypeID(typeID) {
	case TypeIDNull:
		return NewNull(), nil
	case TypeIDInt:
		i, err := payload.Int64()
		if err != nil {
			return Value{}, errors.Wrap(err, "couldn't read int")
		}
		return NewInt(i), nil
	case TypeIDFloat:
		f, err := payload.Float64()
		if err != nil {
			return Value{}, errors.Wrap(err, "couldn't read float")
		}
		return NewFloat(f), nil
	case TypeIDTime:
		t, err := time.Parse(time.RFC3339Nano, string(payload.GetStringBytes()))
		if err != nil {
			return Value{}, errors.Wrap(err, "couldn't parse time")
		}
		return NewTime(t), nil
	case TypeIDBoolean:
		b, err := payload.Bool()
		if err != nil {
			return Value{}, errors.Wrap(err, "couldn't read boolean")
		}
		return NewBoolean(b), nil
	case TypeIDString:
		s, err := payload.StringBytes()
		if err != nil {
			return Value{}, errors.Wrap(err, "couldn't read string")
		}
		return NewString(string(s)), nil
	case TypeIDBytes:
		b, err := base64.StdEncoding.DecodeString(string(payload.GetStringBytes()))
		if err != nil {
			return Value{}, errors.Wrap(err, "couldn't decode bytes")
		}
		return NewBytes(b), nil
	case TypeIDKey:
		key, err := DecodeKey(string(payload.GetStringBytes()))
		if err != nil {
			return Value{}, errors.Wrap(err, "couldn't decode key")
		}
		return NewKey(key), nil
	case TypeIDList:
		items, err := payload.Array()
		if err != nil {
			return Value{}, errors.Wrap(err, "couldn't read list")
		}
		list := make([]Value, len(items))
		for i := range items {
			if list[i], err = UnmarshalValueJSON(items[i]); err != nil {
				return Value{}, errors.Wrapf(err, "couldn't decode list element with index %d", i)
			}
		}
		return NewList(list), nil
	default:
		return Value{}, errors.Errorf("unknown value type %d", typeID)
	}
}
