package datastore

import (
	"sort"
	"strings"
)

// Entity is a single native record: a key and its properties.
type Entity struct {
	Key        *Key
	Properties map[string]Value
}

func NewEntity(key *Key) *Entity {
	return &Entity{
		Key:        key,
		Properties: make(map[string]Value),
	}
}

func (e *Entity) Set(name string, value Value) {
	e.Properties[name] = value
}

// Property returns the named property. The key pseudo-property resolves to the entity key.
func (e *Entity) Property(name string) (Value, bool) {
	if name == KeyPropertyName {
		return NewKey(e.Key), true
	}
	v, ok := e.Properties[name]
	return v, ok
}

// KeysOnly returns a copy of the entity without any properties.
func (e *Entity) KeysOnly() *Entity {
	return NewEntity(e.Key)
}

func (e *Entity) Clone() *Entity {
	out := NewEntity(e.Key)
	for name, value := range e.Properties {
		out.Properties[name] = value
	}
	return out
}

func (e *Entity) String() string {
	names := make([]string, 0, len(e.Properties))
	for name := range e.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	builder := &strings.Builder{}
	builder.WriteString(e.Key.String())
	builder.WriteString("{")
	for i, name := range names {
		if i != 0 {
			builder.WriteString(", ")
		}
		builder.WriteString(name)
		builder.WriteString(": ")
		builder.WriteString(e.Properties[name].String())
	}
	builder.WriteString("}")
	return builder.String()
}
