package join

import (
	"github.com/pkg/errors"
	"github.com/tidwall/btree"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
)

// MergeJoin emits the parent entities whose join property references a child key.
//
// Parents must be sorted ascending by the join property, children ascending by key.
// Both inputs are read forward only: a parent join key lower than the current child
// cursor is matched only against the children read so far, the cursor never rewinds.
type MergeJoin struct {
	parents  datastore.Iterator
	children datastore.Iterator
	property string

	currentChild *datastore.Key
	childrenDone bool
	materialized *btree.Generic[*datastore.Key]
}

func NewMergeJoin(parents, children datastore.Iterator, property string) *MergeJoin {
	return &MergeJoin{
		parents:  parents,
		children: children,
		property: property,
		materialized: btree.NewGenericOptions(func(a, b *datastore.Key) bool {
			return a.Compare(b) < 0
		}, btree.Options{
			NoLocks: true,
		}),
	}
}

func (m *MergeJoin) Next() (*datastore.Entity, error) {
	for {
		parent, err := m.parents.Next()
		if err != nil {
			if errors.Cause(err) == datastore.ErrEndOfIterator {
				return nil, datastore.ErrEndOfIterator
			}
			return nil, errors.Wrap(err, "couldn't get next parent entity")
		}

		value, ok := parent.Property(m.property)
		if !ok {
			continue
		}
		for _, joinKey := range joinKeys(value) {
			if err := m.advanceTo(joinKey); err != nil {
				return nil, err
			}
			if _, ok := m.materialized.Get(joinKey); ok {
				return parent, nil
			}
		}
	}
}

// advanceTo reads children until the child cursor is at or past the join key.
func (m *MergeJoin) advanceTo(joinKey *datastore.Key) error {
	for !m.childrenDone && (m.currentChild == nil || joinKey.Compare(m.currentChild) > 0) {
		child, err := m.children.Next()
		if err != nil {
			if errors.Cause(err) == datastore.ErrEndOfIterator {
				m.childrenDone = true
				return nil
			}
			return errors.Wrap(err, "couldn't get next child entity")
		}
		m.materialized.Set(child.Key)
		m.currentChild = child.Key
	}
	return nil
}

func joinKeys(value datastore.Value) []*datastore.Key {
	switch value.TypeID {
	case datastore.TypeIDKey:
		return []*datastore.Key{value.Key}
	case datastore.TypeIDList:
		out := make([]*datastore.Key, 0, len(value.List))
		for _, element := range value.List {
			if element.TypeID == datastore.TypeIDKey {
				out = append(out, element.Key)
			}
		}
		return out
	}
	return nil
}

// MaterializedChildKeys returns the child keys read so far in ascending order.
func (m *MergeJoin) MaterializedChildKeys() []*datastore.Key {
	out := make([]*datastore.Key, 0, m.materialized.Len())
	m.materialized.Scan(func(key *datastore.Key) bool {
		out = append(out, key)
		return true
	})
	return out
}

func (m *MergeJoin) Close() error {
	parentErr := m.parents.Close()
	childErr := m.children.Close()
	if parentErr != nil {
		return errors.Wrap(parentErr, "couldn't close parent iterator")
	}
	if childErr != nil {
		return errors.Wrap(childErr, "couldn't close child iterator")
	}
	return nil
}
