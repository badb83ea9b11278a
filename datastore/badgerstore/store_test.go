package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
)

func openTestStore(t *testing.T) *Store {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	opts, err := OptionsFromConfig(map[string]interface{}{}, logger)
	require.NoError(t, err)
	require.True(t, opts.InMemory)

	store, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

func order(id int64, customer *datastore.Key, total int64) *datastore.Entity {
	e := datastore.NewEntity(datastore.NewIDKey("Order", id, nil))
	e.Set("customerRef", datastore.NewKey(customer))
	e.Set("total", datastore.NewInt(total))
	return e
}

func collect(t *testing.T, it datastore.Iterator) []*datastore.Entity {
	var out []*datastore.Entity
	for {
		e, err := it.Next()
		if errors.Cause(err) == datastore.ErrEndOfIterator {
			break
		}
		require.NoError(t, err)
		out = append(out, e)
	}
	require.NoError(t, it.Close())
	return out
}

func ids(entities []*datastore.Entity) []int64 {
	out := make([]int64, len(entities))
	for i := range entities {
		out[i] = entities[i].Key.ID
	}
	return out
}

func TestCodecRoundTrip(t *testing.T) {
	created := time.Date(2021, 3, 4, 5, 6, 7, 8, time.UTC)
	e := datastore.NewEntity(datastore.NewNameKey("Thing", "a", nil))
	e.Set("null", datastore.NewNull())
	e.Set("int", datastore.NewInt(9007199254740993))
	e.Set("float", datastore.NewFloat(1.25))
	e.Set("bool", datastore.NewBoolean(true))
	e.Set("string", datastore.NewString("żółw"))
	e.Set("bytes", datastore.NewBytes([]byte{0, 1, 255}))
	e.Set("key", datastore.NewKey(datastore.NewIDKey("Customer", 3, nil)))
	e.Set("list", datastore.NewList([]datastore.Value{datastore.NewString("x"), datastore.NewInt(2)}))
	e.Set("time", datastore.NewTime(created))

	got, err := unmarshalEntity(e.Key, marshalProperties(e))
	require.NoError(t, err)

	assert.True(t, created.Equal(got.Properties["time"].Time))
	delete(got.Properties, "time")
	delete(e.Properties, "time")
	assert.Equal(t, e, got)

	_, err = unmarshalEntity(e.Key, []byte(`{"x": {"v": 1}}`))
	assert.Error(t, err)
	_, err = unmarshalEntity(e.Key, []byte(`[`))
	assert.Error(t, err)
}

func TestStorePrepare(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	alice := datastore.NewIDKey("Customer", 1, nil)
	bob := datastore.NewIDKey("Customer", 2, nil)
	require.NoError(t, store.Put(ctx, nil, []*datastore.Entity{
		order(4, bob, 40),
		order(1, alice, 10),
		order(3, alice, 30),
		order(2, bob, 20),
	}))

	tests := []struct {
		name  string
		build func(q *datastore.Query)
		opts  datastore.FetchOptions
		want  []int64
	}{
		{
			name:  "key order",
			build: func(q *datastore.Query) {},
			opts:  datastore.DefaultFetchOptions(),
			want:  []int64{1, 2, 3, 4},
		},
		{
			name: "equality on key property",
			build: func(q *datastore.Query) {
				q.AddFilter("customerRef", datastore.Equal, datastore.NewKey(alice))
			},
			opts: datastore.DefaultFetchOptions(),
			want: []int64{1, 3},
		},
		{
			name: "streaming offset and limit",
			build: func(q *datastore.Query) {
				q.SetKeysOnly()
			},
			opts: datastore.FetchOptions{Offset: 1, Limit: 2},
			want: []int64{2, 3},
		},
		{
			name: "sorted keys only",
			build: func(q *datastore.Query) {
				q.AddSort("total", datastore.Descending)
				q.SetKeysOnly()
			},
			opts: datastore.FetchOptions{Limit: 3},
			want: []int64{4, 3, 2},
		},
		{
			name:  "cursor in key order",
			build: func(q *datastore.Query) {},
			opts: datastore.FetchOptions{
				StartCursor: &datastore.Cursor{Key: datastore.NewIDKey("Order", 2, nil)},
				Limit:       datastore.NoLimit,
			},
			want: []int64{3, 4},
		},
		{
			name: "cursor with filter offset and limit",
			build: func(q *datastore.Query) {
				q.AddFilter("total", datastore.GreaterThan, datastore.NewInt(10))
			},
			opts: datastore.FetchOptions{
				StartCursor: &datastore.Cursor{Key: datastore.NewIDKey("Order", 1, nil)},
				Offset:      1,
				Limit:       1,
			},
			want: []int64{3},
		},
		{
			name: "cursor on sorted query",
			build: func(q *datastore.Query) {
				q.AddSort("total", datastore.Descending)
			},
			opts: datastore.FetchOptions{
				StartCursor: &datastore.Cursor{
					Values: []datastore.Value{datastore.NewInt(30)},
					Key:    datastore.NewIDKey("Order", 3, nil),
				},
				Limit: datastore.NoLimit,
			},
			want: []int64{2, 1},
		},
		{
			name:  "cursor past the end",
			build: func(q *datastore.Query) {},
			opts: datastore.FetchOptions{
				StartCursor: &datastore.Cursor{Key: datastore.NewIDKey("Order", 4, nil)},
				Limit:       datastore.NoLimit,
			},
			want: []int64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := datastore.NewQuery("Order")
			tt.build(q)
			q.Freeze()

			it, err := store.Prepare(ctx, nil, q, tt.opts)
			require.NoError(t, err)
			got := collect(t, it)
			assert.Equal(t, tt.want, ids(got))
			if q.KeysOnly() {
				for _, e := range got {
					assert.Empty(t, e.Properties)
				}
			}
		})
	}
}

func TestStorePrepareInvalidCursor(t *testing.T) {
	store := openTestStore(t)

	q := datastore.NewQuery("Order")
	q.AddSort("total", datastore.Ascending)
	q.Freeze()

	_, err := store.Prepare(context.Background(), nil, q, datastore.FetchOptions{
		StartCursor: &datastore.Cursor{Key: datastore.NewIDKey("Order", 1, nil)},
		Limit:       datastore.NoLimit,
	})
	assert.Equal(t, datastore.ErrIllegalArgument, errors.Cause(err))
}

func TestStoreTransactionsAndDelete(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	customer := datastore.NewIDKey("Customer", 1, nil)

	txn, err := store.NewTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, txn, []*datastore.Entity{order(1, customer, 10), order(2, customer, 20)}))

	it, err := store.Prepare(ctx, txn, datastore.NewQuery("Order"), datastore.DefaultFetchOptions())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(collect(t, it)))
	require.NoError(t, txn.Commit(ctx))

	keys := []*datastore.Key{datastore.NewIDKey("Order", 2, nil), datastore.NewIDKey("Order", 5, nil)}
	got, err := store.Get(ctx, nil, keys)
	require.NoError(t, err)
	require.NotNil(t, got[0])
	assert.Nil(t, got[1])
	assert.Equal(t, int64(20), got[0].Properties["total"].Int)

	require.NoError(t, store.Delete(ctx, nil, keys))
	got, err = store.Get(ctx, nil, keys)
	require.NoError(t, err)
	assert.Nil(t, got[0])
}

func TestStoreAllocateIDs(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	first, err := store.AllocateIDs(ctx, "Order", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	next, err := store.AllocateIDs(ctx, "Order", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), next)

	other, err := store.AllocateIDs(ctx, "Customer", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)

	_, err = store.AllocateIDs(ctx, "Order", 0)
	assert.Equal(t, datastore.ErrIllegalArgument, errors.Cause(err))
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(map[string]interface{}{"path": "/tmp/x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, Options{Path: "/tmp/x", SequenceBandwidth: defaultSequenceBandwidth}, opts)

	opts, err = OptionsFromConfig(map[string]interface{}{
		"inMemory": true,
		"sequence": map[string]interface{}{"bandwidth": 10},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, Options{InMemory: true, SequenceBandwidth: 10}, opts)

	_, err = OptionsFromConfig(map[string]interface{}{"inMemory": false}, nil)
	assert.Error(t, err)
}
