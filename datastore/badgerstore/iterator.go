package badgerstore

import (
	"github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
)

// iterator is a wrapper around *badger.Iterator that implements datastore.Iterator.
// Filters are evaluated while scanning; offset and limit are applied to matching entities.
type iterator struct {
	txn     *badger.Txn
	ownsTxn bool
	it      *badger.Iterator
	prefix  []byte
	query   *datastore.Query
	cursor  *datastore.Cursor

	toSkip    int
	remaining int
	project   bool
	closed    bool
}

func newIterator(txn *badger.Txn, ownsTxn bool, it *badger.Iterator, prefix []byte, q *datastore.Query, opts datastore.FetchOptions, project bool) *iterator {
	seek := prefix
	if opts.StartCursor != nil {
		// Unsorted scans are in key order, so the cursor key is where the results resume.
		seek = append(append([]byte{}, prefix...), opts.StartCursor.Key.Marshal()...)
	}
	it.Seek(seek)
	return &iterator{
		txn:       txn,
		ownsTxn:   ownsTxn,
		it:        it,
		prefix:    prefix,
		query:     q,
		cursor:    opts.StartCursor,
		toSkip:    opts.Offset,
		remaining: opts.Limit,
		project:   project,
	}
}

func (bi *iterator) Next() (*datastore.Entity, error) {
	if bi.closed {
		return nil, errors.New("iterator already closed")
	}

	for {
		if bi.remaining == 0 {
			return nil, datastore.ErrEndOfIterator
		}
		entity, err := bi.current()
		if err != nil {
			return nil, err
		}
		bi.it.Next()

		if !datastore.Matches(entity, bi.query) {
			continue
		}
		if bi.cursor != nil && !bi.cursor.Before(entity, nil) {
			continue
		}
		if bi.toSkip > 0 {
			bi.toSkip--
			continue
		}
		if bi.remaining > 0 {
			bi.remaining--
		}
		if !bi.project {
			return entity, nil
		}
		return datastore.Project(entity, bi.query), nil
	}
}

func (bi *iterator) current() (*datastore.Entity, error) {
	if !bi.it.ValidForPrefix(bi.prefix) {
		return nil, datastore.ErrEndOfIterator
	}

	item := bi.it.Item() //important: this doesn't call Next()

	key, err := datastore.UnmarshalKey(item.Key()[len(bi.prefix):])
	if err != nil {
		return nil, errors.Wrap(err, "couldn't unmarshal entity key")
	}

	keysOnly := bi.query.KeysOnly() && len(bi.query.Filters()) == 0 && len(bi.query.Sorts()) == 0
	if keysOnly {
		return datastore.NewEntity(key), nil
	}

	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't read entity value")
	}
	return unmarshalEntity(key, data)
}

// drain reads all remaining entities and closes the iterator.
func (bi *iterator) drain() ([]*datastore.Entity, error) {
	var out []*datastore.Entity
	for {
		entity, err := bi.Next()
		if errors.Cause(err) == datastore.ErrEndOfIterator {
			break
		} else if err != nil {
			bi.Close()
			return nil, err
		}
		out = append(out, entity)
	}
	if err := bi.Close(); err != nil {
		return nil, errors.Wrap(err, "couldn't close iterator")
	}
	return out, nil
}

func (bi *iterator) Close() error {
	if bi.closed {
		return nil
	}
	bi.closed = true
	bi.it.Close()
	if bi.ownsTxn {
		bi.txn.Discard()
	}
	return nil
}
