package datastore

import (
	"encoding/base64"

	"github.com/pkg/errors"
	"github.com/valyala/fastjson"
)

// Cursor is a position in the results of a query. A scan started at a cursor returns
// the entities ordered after it: by the query sorts first, then by key.
type Cursor struct {
	// Values holds the sort value of the entity for each sort predicate of the query.
	Values []Value
	Key    *Key
}

// NewCursor returns the position right after the entity in the order of the sorts.
func NewCursor(e *Entity, sorts []SortPredicate) *Cursor {
	values := make([]Value, len(sorts))
	for i, s := range sorts {
		value, _ := e.Property(s.Property)
		values[i] = sortValue(value, s.Direction)
	}
	return &Cursor{
		Values: values,
		Key:    e.Key,
	}
}

// Check returns ErrIllegalArgument if the cursor wasn't created for a query with the given sorts.
func (c *Cursor) Check(sorts []SortPredicate) error {
	if c.Key == nil {
		return errors.Wrap(ErrIllegalArgument, "cursor without a key")
	}
	if len(c.Values) != len(sorts) {
		return errors.Wrapf(ErrIllegalArgument, "cursor has %d sort values, the query has %d sorts", len(c.Values), len(sorts))
	}
	return nil
}

// Before reports whether the entity is ordered after the cursor position.
func (c *Cursor) Before(e *Entity, sorts []SortPredicate) bool {
	for i, s := range sorts {
		value, _ := e.Property(s.Property)
		cmp := c.Values[i].Compare(sortValue(value, s.Direction))
		if cmp == 0 {
			continue
		}
		if s.Direction == Descending {
			return cmp > 0
		}
		return cmp < 0
	}
	return c.Key.Compare(e.Key) < 0
}

// Encode returns an opaque, URL-safe string form of the cursor.
func (c *Cursor) Encode() string {
	var arena fastjson.Arena
	obj := arena.NewObject()
	obj.Set("k", arena.NewString(c.Key.Encode()))
	values := arena.NewArray()
	for i := range c.Values {
		values.SetArrayItem(i, MarshalValueJSON(&arena, c.Values[i]))
	}
	obj.Set("v", values)
	return base64.RawURLEncoding.EncodeToString(obj.MarshalTo(nil))
}

func (c *Cursor) String() string {
	return c.Encode()
}

// DecodeCursor parses a string produced by Cursor.Encode.
func DecodeCursor(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, errors.New("empty encoded cursor")
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't decode cursor string")
	}

	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't parse cursor")
	}
	key, err := DecodeKey(string(v.GetStringBytes("k")))
	if err != nil {
		return nil, errors.Wrap(err, "couldn't decode cursor key")
	}
	items := v.GetArray("v")
	values := make([]Value, len(items))
	for i := range items {
		if values[i], err = UnmarshalValueJSON(items[i]); err != nil {
			return nil, errors.Wrapf(err, "couldn't decode cursor value with index %d", i)
		}
	}
	return &Cursor{
		Values: values,
		Key:    key,
	}, nil
}

// SkipToCursor returns the entities ordered after the cursor, assuming they are sorted by the sorts.
// A nil cursor keeps all of them.
func SkipToCursor(entities []*Entity, c *Cursor, sorts []SortPredicate) []*Entity {
	if c == nil {
		return entities
	}
	for i := range entities {
		if c.Before(entities[i], sorts) {
			return entities[i:]
		}
	}
	return nil
}
