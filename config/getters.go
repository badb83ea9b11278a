package config

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("field not found")

type Option func(options *options)

type options struct {
	withDefault  bool
	defaultValue interface{}
}

func getOptions(opts ...Option) *options {
	defaultOptions := &options{
		withDefault:  false,
		defaultValue: nil,
	}

	for _, opt := range opts {
		opt(defaultOptions)
	}

	return defaultOptions
}

// WithDefault makes a getter return the value if the field is missing.
// The value has to be of the type the getter returns.
func WithDefault(value interface{}) Option {
	return func(options *options) {
		options.withDefault = true
		options.defaultValue = value
	}
}

// GetInterface gets the given, potentially dotted, field irrespective of its type.
// "a.b" descends into the submap under "a".
func GetInterface(config map[string]interface{}, field string, opts ...Option) (interface{}, error) {
	options := getOptions(opts...)
	i := strings.Index(field, ".")
	if i == -1 {
		element, ok := config[field]
		if options.withDefault && !ok {
			return options.defaultValue, nil
		}
		if !ok {
			return nil, ErrNotFound
		}
		return element, nil
	}

	element, ok := config[field[:i]]
	if options.withDefault && !ok {
		return options.defaultValue, nil
	}
	if !ok {
		return nil, ErrNotFound
	}
	submap, ok := element.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("%v should be a map, got: %v", field[:i], reflect.TypeOf(element))
	}

	out, err := GetInterface(submap, field[i+1:], opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't get %v", field[i+1:])
	}

	return out, nil
}

// get reads a field of type T, falling back to the default only if the field is missing.
func get[T any](config map[string]interface{}, field string, opts ...Option) (T, error) {
	var zero T
	options := getOptions(opts...)
	out, err := GetInterface(config, field)
	if err != nil {
		if options.withDefault && errors.Cause(err) == ErrNotFound {
			return options.defaultValue.(T), nil
		}
		return zero, errors.Wrapf(err, "couldn't get %s", field)
	}

	typed, ok := out.(T)
	if !ok {
		return zero, errors.Errorf("expected %v for %s, got %v", reflect.TypeOf(zero), field, reflect.TypeOf(out))
	}
	return typed, nil
}

func GetMap(config map[string]interface{}, field string, opts ...Option) (map[string]interface{}, error) {
	return get[map[string]interface{}](config, field, opts...)
}

func GetString(config map[string]interface{}, field string, opts ...Option) (string, error) {
	return get[string](config, field, opts...)
}

func GetInt(config map[string]interface{}, field string, opts ...Option) (int, error) {
	return get[int](config, field, opts...)
}

func GetBool(config map[string]interface{}, field string, opts ...Option) (bool, error) {
	return get[bool](config, field, opts...)
}

// GetFloat64 also accepts integers, which is what yaml decodes whole numbers to.
func GetFloat64(config map[string]interface{}, field string, opts ...Option) (float64, error) {
	options := getOptions(opts...)
	out, err := GetInterface(config, field)
	if err != nil {
		if options.withDefault && errors.Cause(err) == ErrNotFound {
			return options.defaultValue.(float64), nil
		}
		return 0, errors.Wrapf(err, "couldn't get %s", field)
	}

	switch out := out.(type) {
	case float64:
		return out, nil
	case int:
		return float64(out), nil
	}
	return 0, errors.Errorf("expected float64 for %s, got %v", field, reflect.TypeOf(out))
}

func GetStringList(config map[string]interface{}, field string, opts ...Option) ([]string, error) {
	options := getOptions(opts...)
	out, err := get[[]interface{}](config, field)
	if err != nil {
		if options.withDefault && errors.Cause(err) == ErrNotFound {
			return options.defaultValue.([]string), nil
		}
		return nil, err
	}

	outStrings := make([]string, len(out))
	for i := range out {
		outString, ok := out[i].(string)
		if !ok {
			return nil, errors.Errorf("expected string slice, got %v at index %v", reflect.TypeOf(out[i]), i)
		}
		outStrings[i] = outString
	}

	return outStrings, nil
}
