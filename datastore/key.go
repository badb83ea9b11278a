package datastore

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// KeyPropertyName is the pseudo-property under which filters and sorts address the entity key.
const KeyPropertyName = "__key__"

// Key identifies an entity. A key has either a numeric ID or a string Name, never both.
// Keys are immutable once constructed.
type Key struct {
	Kind   string
	ID     int64
	Name   string
	Parent *Key
}

func NewIDKey(kind string, id int64, parent *Key) *Key {
	return &Key{
		Kind:   kind,
		ID:     id,
		Parent: parent,
	}
}

func NewNameKey(kind string, name string, parent *Key) *Key {
	return &Key{
		Kind:   kind,
		Name:   name,
		Parent: parent,
	}
}

// Incomplete reports whether the key has neither an ID nor a Name yet.
func (k *Key) Incomplete() bool {
	return k.ID == 0 && k.Name == ""
}

// Path returns the key's ancestor chain, root first, ending with k itself.
func (k *Key) Path() []*Key {
	var path []*Key
	for cur := k; cur != nil; cur = cur.Parent {
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Root returns the top-most ancestor of the key, which is the key itself for root keys.
func (k *Key) Root() *Key {
	cur := k
	for cur.Parent != nil {
		cur = cur.Parent
	}
	return cur
}

// HasAncestor reports whether ancestor is a prefix of k's path. A key is its own ancestor.
func (k *Key) HasAncestor(ancestor *Key) bool {
	for cur := k; cur != nil; cur = cur.Parent {
		if cur.Equal(ancestor) {
			return true
		}
	}
	return false
}

func (k *Key) Equal(other *Key) bool {
	return k.Compare(other) == 0
}

// Compare orders keys root first, element by element. Within an element the kind is compared
// first, then numeric IDs before names. A key sorts before all of its descendants.
// A nil key sorts before any other key.
func (k *Key) Compare(other *Key) int {
	if k == nil || other == nil {
		switch {
		case k == nil && other == nil:
			return 0
		case k == nil:
			return -1
		default:
			return 1
		}
	}

	path, otherPath := k.Path(), other.Path()
	for i := 0; i < len(path) && i < len(otherPath); i++ {
		if cmp := compareElement(path[i], otherPath[i]); cmp != 0 {
			return cmp
		}
	}

	switch {
	case len(path) < len(otherPath):
		return -1
	case len(path) > len(otherPath):
		return 1
	default:
		return 0
	}
}

func compareElement(a, b *Key) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}

	aNamed, bNamed := a.Name != "", b.Name != ""
	switch {
	case !aNamed && bNamed:
		return -1
	case aNamed && !bNamed:
		return 1
	case aNamed:
		return strings.Compare(a.Name, b.Name)
	}

	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}

func (k *Key) String() string {
	if k == nil {
		return "<nil>"
	}
	builder := &strings.Builder{}
	for i, elem := range k.Path() {
		if i != 0 {
			builder.WriteString("/")
		}
		builder.WriteString(elem.Kind)
		if elem.Name != "" {
			builder.WriteString(fmt.Sprintf("(%q)", elem.Name))
		} else {
			builder.WriteString(fmt.Sprintf("(%d)", elem.ID))
		}
	}
	return builder.String()
}

// Marshal returns the order-preserving binary form of the key.
// bytes.Compare on two marshaled keys agrees with Compare.
func (k *Key) Marshal() []byte {
	var out []byte
	for _, elem := range k.Path() {
		out = append(out, SortedMarshalString(elem.Kind)...)
		if elem.Name != "" {
			out = append(out, SortedMarshalString(elem.Name)...)
		} else {
			out = append(out, SortedMarshalInt(elem.ID)...)
		}
	}
	return out
}

// UnmarshalKey is the inverse of Key.Marshal.
func UnmarshalKey(b []byte) (*Key, error) {
	if len(b) == 0 {
		return nil, errors.New("empty byte slice given to unmarshal")
	}

	var key *Key
	for pos := 0; pos < len(b); {
		kindEnd, err := findLengthOfUnmarshal(b, pos)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't find key kind")
		}
		kind, err := SortedUnmarshalString(b[pos:kindEnd])
		if err != nil {
			return nil, errors.Wrap(err, "couldn't unmarshal key kind")
		}
		pos = kindEnd
		if pos >= len(b) {
			return nil, errors.Errorf("key element of kind %s has no identifier", kind)
		}

		idEnd, err := findLengthOfUnmarshal(b, pos)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't find key identifier")
		}
		switch b[pos] {
		case StringIdentifier:
			name, err := SortedUnmarshalString(b[pos:idEnd])
			if err != nil {
				return nil, errors.Wrap(err, "couldn't unmarshal key name")
			}
			key = NewNameKey(kind, name, key)
		case IntIdentifier:
			id, err := SortedUnmarshalInt(b[pos:idEnd])
			if err != nil {
				return nil, errors.Wrap(err, "couldn't unmarshal key id")
			}
			key = NewIDKey(kind, id, key)
		default:
			return nil, errors.Errorf("invalid key identifier type %d", b[pos])
		}
		pos = idEnd
	}

	return key, nil
}

// Encode returns an opaque, URL-safe string form of the key.
func (k *Key) Encode() string {
	return base64.RawURLEncoding.EncodeToString(k.Marshal())
}

// DecodeKey parses a string produced by Key.Encode.
func DecodeKey(encoded string) (*Key, error) {
	if encoded == "" {
		return nil, errors.New("empty encoded key")
	}
	b, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't decode key string")
	}
	return UnmarshalKey(b)
}
