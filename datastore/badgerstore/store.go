package badgerstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/config"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
)

const defaultSequenceBandwidth = 100

var (
	entityPrefix   = []byte("e/")
	sequencePrefix = []byte("s/")
)

type Options struct {
	Path     string
	InMemory bool
	// SequenceBandwidth is the number of ids leased from badger at once by AllocateIDs.
	SequenceBandwidth int
	Logger            logrus.FieldLogger
}

// OptionsFromConfig reads store options from the free-form store section of the configuration.
func OptionsFromConfig(cfg map[string]interface{}, logger logrus.FieldLogger) (Options, error) {
	path, err := config.GetString(cfg, "path", config.WithDefault(""))
	if err != nil {
		return Options{}, errors.Wrap(err, "couldn't get path")
	}
	inMemory, err := config.GetBool(cfg, "inMemory", config.WithDefault(path == ""))
	if err != nil {
		return Options{}, errors.Wrap(err, "couldn't get inMemory")
	}
	if path == "" && !inMemory {
		return Options{}, errors.New("badger store needs a path unless it's in memory")
	}
	bandwidth, err := config.GetInt(cfg, "sequence.bandwidth", config.WithDefault(defaultSequenceBandwidth))
	if err != nil {
		return Options{}, errors.Wrap(err, "couldn't get sequence bandwidth")
	}

	return Options{
		Path:              path,
		InMemory:          inMemory,
		SequenceBandwidth: bandwidth,
		Logger:            logger,
	}, nil
}

// Store is a datastore.Service persisted in badger. Entities are stored under
// "e/" + kind + marshaled key, so a prefix scan over a kind yields key order.
type Store struct {
	db *badger.DB

	sequenceBandwidth uint64
	sequencesMutex    sync.Mutex
	sequences         map[string]*badger.Sequence
}

func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(newBadgerLogger(opts.Logger))
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't open badger database")
	}

	bandwidth := opts.SequenceBandwidth
	if bandwidth <= 0 {
		bandwidth = defaultSequenceBandwidth
	}

	return &Store{
		db:                db,
		sequenceBandwidth: uint64(bandwidth),
		sequences:         make(map[string]*badger.Sequence),
	}, nil
}

func (s *Store) Close() error {
	s.sequencesMutex.Lock()
	for kind, seq := range s.sequences {
		if err := seq.Release(); err != nil {
			s.sequencesMutex.Unlock()
			return errors.Wrapf(err, "couldn't release id sequence of kind %s", kind)
		}
	}
	s.sequences = make(map[string]*badger.Sequence)
	s.sequencesMutex.Unlock()

	return s.db.Close()
}

func kindPrefix(kind string) []byte {
	var buf bytes.Buffer
	buf.Write(entityPrefix)
	buf.Write(datastore.SortedMarshalString(kind))
	return buf.Bytes()
}

func entityKey(key *datastore.Key) []byte {
	var buf bytes.Buffer
	buf.Write(kindPrefix(key.Kind))
	buf.Write(key.Marshal())
	return buf.Bytes()
}

type transaction struct {
	txn *badger.Txn
}

func (tx *transaction) Commit(ctx context.Context) error {
	if err := tx.txn.Commit(); err != nil {
		return errors.Wrap(translateError(err), "couldn't commit transaction")
	}
	return nil
}

func (tx *transaction) Rollback(ctx context.Context) error {
	tx.txn.Discard()
	return nil
}

func (s *Store) NewTransaction(ctx context.Context) (datastore.Transaction, error) {
	return &transaction{txn: s.db.NewTransaction(true)}, nil
}

func badgerTxn(txn datastore.Transaction) (*badger.Txn, error) {
	if txn == nil {
		return nil, nil
	}
	tx, ok := txn.(*transaction)
	if !ok {
		return nil, errors.Errorf("invalid transaction type %T", txn)
	}
	return tx.txn, nil
}

func translateError(err error) error {
	switch errors.Cause(err) {
	case context.DeadlineExceeded:
		return datastore.ErrTimeout
	case badger.ErrEmptyKey, badger.ErrInvalidKey, badger.ErrTxnTooBig:
		return errors.Wrap(datastore.ErrIllegalArgument, err.Error())
	}
	return err
}

func (s *Store) Prepare(ctx context.Context, txn datastore.Transaction, q *datastore.Query, opts datastore.FetchOptions) (datastore.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(translateError(err), "couldn't prepare query")
	}
	if err := opts.Check(q); err != nil {
		return nil, err
	}
	tx, err := badgerTxn(txn)
	if err != nil {
		return nil, err
	}

	ownsTxn := tx == nil
	if ownsTxn {
		tx = s.db.NewTransaction(false)
	}

	iteratorOpts := badger.DefaultIteratorOptions
	if opts.ChunkSize > 0 {
		iteratorOpts.PrefetchSize = opts.ChunkSize
	}
	iteratorOpts.PrefetchValues = !q.KeysOnly() || len(q.Filters()) > 0 || len(q.Sorts()) > 0
	prefix := kindPrefix(q.Kind())
	iteratorOpts.Prefix = prefix

	if len(q.Sorts()) == 0 && ownsTxn {
		return newIterator(tx, true, tx.NewIterator(iteratorOpts), prefix, q, opts, true), nil
	}

	// Sorted results need the full result set, and a read-write transaction allows
	// only one open iterator, so both are read eagerly.
	it := newIterator(tx, ownsTxn, tx.NewIterator(iteratorOpts), prefix, q, datastore.DefaultFetchOptions(), false)
	entities, err := it.drain()
	if err != nil {
		return nil, err
	}
	datastore.SortEntities(entities, q.Sorts())
	entities = datastore.SkipToCursor(entities, opts.StartCursor, q.Sorts())
	entities = datastore.ApplyFetchOptions(entities, opts)
	for i := range entities {
		entities[i] = datastore.Project(entities[i], q)
	}
	return datastore.NewSliceIterator(entities), nil
}

func (s *Store) Get(ctx context.Context, txn datastore.Transaction, keys []*datastore.Key) ([]*datastore.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(translateError(err), "couldn't get entities")
	}
	tx, err := badgerTxn(txn)
	if err != nil {
		return nil, err
	}

	out := make([]*datastore.Entity, len(keys))
	get := func(tx *badger.Txn) error {
		for i, key := range keys {
			if key == nil {
				return errors.Wrapf(datastore.ErrIllegalArgument, "nil key at index %d", i)
			}
			item, err := tx.Get(entityKey(key))
			if err == badger.ErrKeyNotFound {
				continue
			} else if err != nil {
				return errors.Wrapf(translateError(err), "couldn't get entity %s", key)
			}
			data, err := item.ValueCopy(nil)
			if err != nil {
				return errors.Wrapf(err, "couldn't read entity %s", key)
			}
			if out[i], err = unmarshalEntity(key, data); err != nil {
				return errors.Wrapf(err, "couldn't decode entity %s", key)
			}
		}
		return nil
	}

	if tx != nil {
		err = get(tx)
	} else {
		err = s.db.View(get)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Put(ctx context.Context, txn datastore.Transaction, entities []*datastore.Entity) error {
	for i := range entities {
		if entities[i].Key == nil || entities[i].Key.Incomplete() {
			return errors.Wrapf(datastore.ErrIllegalArgument, "incomplete key for entity with index %d", i)
		}
	}

	return s.write(txn, func(tx *badger.Txn) error {
		for _, e := range entities {
			if err := tx.Set(entityKey(e.Key), marshalProperties(e)); err != nil {
				return errors.Wrapf(translateError(err), "couldn't put entity %s", e.Key)
			}
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, txn datastore.Transaction, keys []*datastore.Key) error {
	return s.write(txn, func(tx *badger.Txn) error {
		for _, key := range keys {
			if err := tx.Delete(entityKey(key)); err != nil {
				return errors.Wrapf(translateError(err), "couldn't delete entity %s", key)
			}
		}
		return nil
	})
}

func (s *Store) write(txn datastore.Transaction, f func(tx *badger.Txn) error) error {
	tx, err := badgerTxn(txn)
	if err != nil {
		return err
	}
	if tx != nil {
		return f(tx)
	}
	return s.db.Update(f)
}

func (s *Store) AllocateIDs(ctx context.Context, kind string, n int) (int64, error) {
	if n <= 0 {
		return 0, errors.Wrapf(datastore.ErrIllegalArgument, "can't allocate %d ids", n)
	}

	s.sequencesMutex.Lock()
	defer s.sequencesMutex.Unlock()

	seq, ok := s.sequences[kind]
	if !ok {
		var err error
		seq, err = s.db.GetSequence(append(append([]byte{}, sequencePrefix...), kind...), s.sequenceBandwidth)
		if err != nil {
			return 0, errors.Wrapf(err, "couldn't get id sequence for kind %s", kind)
		}
		s.sequences[kind] = seq
	}

	var first uint64
	for i := 0; i < n; i++ {
		next, err := seq.Next()
		if err != nil {
			return 0, errors.Wrap(err, "couldn't allocate id")
		}
		if i == 0 {
			first = next
		}
	}

	// Sequences start at zero, which is reserved for incomplete keys.
	return int64(first) + 1, nil
}
