package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
)

const btreeDegree = 2

type entityItem struct {
	key    []byte
	entity *datastore.Entity
}

func (item *entityItem) Less(than btree.Item) bool {
	other, ok := than.(*entityItem)
	if !ok {
		return true
	}

	return bytes.Compare(item.key, other.key) == -1
}

// Store is an in-memory datastore.Service. Entities of each kind live in their own btree
// ordered by marshaled key, so unsorted scans come out in key order.
type Store struct {
	sync.RWMutex
	kinds   map[string]*btree.BTree
	nextIDs map[string]int64
}

func NewStore() *Store {
	return &Store{
		kinds:   make(map[string]*btree.BTree),
		nextIDs: make(map[string]int64),
	}
}

func (s *Store) tree(kind string) *btree.BTree {
	tree, ok := s.kinds[kind]
	if !ok {
		tree = btree.New(btreeDegree)
		s.kinds[kind] = tree
	}
	return tree
}

func (s *Store) NewTransaction(ctx context.Context) (datastore.Transaction, error) {
	return &transaction{store: s}, nil
}

func (s *Store) Prepare(ctx context.Context, txn datastore.Transaction, q *datastore.Query, opts datastore.FetchOptions) (datastore.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't prepare query")
	}
	if err := opts.Check(q); err != nil {
		return nil, err
	}

	s.RLock()
	var matching []*datastore.Entity
	if tree, ok := s.kinds[q.Kind()]; ok {
		tree.Ascend(func(i btree.Item) bool {
			entity := i.(*entityItem).entity
			if datastore.Matches(entity, q) {
				matching = append(matching, entity)
			}
			return true
		})
	}
	s.RUnlock()

	if sorts := q.Sorts(); len(sorts) > 0 {
		datastore.SortEntities(matching, sorts)
	}
	matching = datastore.SkipToCursor(matching, opts.StartCursor, q.Sorts())
	matching = datastore.ApplyFetchOptions(matching, opts)

	out := make([]*datastore.Entity, len(matching))
	for i := range matching {
		out[i] = datastore.Project(matching[i], q)
	}

	return datastore.NewSliceIterator(out), nil
}

func (s *Store) Get(ctx context.Context, txn datastore.Transaction, keys []*datastore.Key) ([]*datastore.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't get entities")
	}

	s.RLock()
	defer s.RUnlock()

	out := make([]*datastore.Entity, len(keys))
	for i, key := range keys {
		if key == nil {
			return nil, errors.Wrapf(datastore.ErrIllegalArgument, "nil key at index %d", i)
		}
		tree, ok := s.kinds[key.Kind]
		if !ok {
			continue
		}
		item := tree.Get(&entityItem{key: key.Marshal()})
		if item == nil {
			continue
		}
		out[i] = item.(*entityItem).entity.Clone()
	}
	return out, nil
}

func (s *Store) Put(ctx context.Context, txn datastore.Transaction, entities []*datastore.Entity) error {
	for i := range entities {
		if entities[i].Key == nil || entities[i].Key.Incomplete() {
			return errors.Wrapf(datastore.ErrIllegalArgument, "incomplete key for entity with index %d", i)
		}
	}

	if txn != nil {
		tx, ok := txn.(*transaction)
		if !ok {
			return errors.Errorf("invalid transaction type %T", txn)
		}
		tx.Lock()
		defer tx.Unlock()
		tx.puts = append(tx.puts, entities...)
		return nil
	}

	s.Lock()
	defer s.Unlock()
	s.put(entities)
	return nil
}

func (s *Store) put(entities []*datastore.Entity) {
	for _, entity := range entities {
		s.tree(entity.Key.Kind).ReplaceOrInsert(&entityItem{
			key:    entity.Key.Marshal(),
			entity: entity.Clone(),
		})
	}
}

func (s *Store) Delete(ctx context.Context, txn datastore.Transaction, keys []*datastore.Key) error {
	if txn != nil {
		tx, ok := txn.(*transaction)
		if !ok {
			return errors.Errorf("invalid transaction type %T", txn)
		}
		tx.Lock()
		defer tx.Unlock()
		tx.deletes = append(tx.deletes, keys...)
		return nil
	}

	s.Lock()
	defer s.Unlock()
	s.delete(keys)
	return nil
}

// delete ignores keys which aren't present.
func (s *Store) delete(keys []*datastore.Key) {
	for _, key := range keys {
		if tree, ok := s.kinds[key.Kind]; ok {
			tree.Delete(&entityItem{key: key.Marshal()})
		}
	}
}

func (s *Store) AllocateIDs(ctx context.Context, kind string, n int) (int64, error) {
	if n <= 0 {
		return 0, errors.Wrapf(datastore.ErrIllegalArgument, "can't allocate %d ids", n)
	}

	s.Lock()
	defer s.Unlock()

	first := s.nextIDs[kind] + 1
	s.nextIDs[kind] += int64(n)
	return first, nil
}

// transaction buffers writes until commit.
type transaction struct {
	sync.Mutex
	store   *Store
	puts    []*datastore.Entity
	deletes []*datastore.Key
	done    bool
}

func (tx *transaction) Commit(ctx context.Context) error {
	tx.Lock()
	defer tx.Unlock()
	if tx.done {
		return errors.New("transaction already finished")
	}
	tx.done = true

	tx.store.Lock()
	defer tx.store.Unlock()
	tx.store.put(tx.puts)
	tx.store.delete(tx.deletes)
	return nil
}

func (tx *transaction) Rollback(ctx context.Context) error {
	tx.Lock()
	defer tx.Unlock()
	tx.done = true
	tx.puts = nil
	tx.deletes = nil
	return nil
}
