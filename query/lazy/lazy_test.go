package lazy

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
)

type source struct {
	entities []*datastore.Entity
	reads    int
	// failAt makes the read with this index fail once.
	failAt   int
	closed   bool
	closeErr error
}

func newSource(n int) *source {
	s := &source{failAt: -1}
	for i := 0; i < n; i++ {
		s.entities = append(s.entities, datastore.NewEntity(datastore.NewIDKey("Person", int64(i+1), nil)))
	}
	return s
}

func (s *source) Next() (*datastore.Entity, error) {
	if s.reads == s.failAt {
		s.failAt = -1
		return nil, datastore.ErrTimeout
	}
	if s.reads >= len(s.entities) {
		return nil, datastore.ErrEndOfIterator
	}
	s.reads++
	return s.entities[s.reads-1], nil
}

func (s *source) Close() error {
	s.closed = true
	return s.closeErr
}

func keyName(e *datastore.Entity) (string, error) {
	return e.Key.String(), nil
}

func TestLazyResolution(t *testing.T) {
	src := newSource(5)
	result := New[string](src, keyName)

	v, err := result.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "Person(3)", v)
	assert.Equal(t, 3, src.reads)
	assert.Equal(t, 3, result.Resolved())
	assert.False(t, result.Exhausted())

	v, err = result.Get(4)
	require.NoError(t, err)
	assert.Equal(t, "Person(5)", v)
	assert.Equal(t, 5, src.reads)
}

func TestLazyIdempotentReads(t *testing.T) {
	src := newSource(5)
	calls := 0
	result := New[string](src, func(e *datastore.Entity) (string, error) {
		calls++
		return e.Key.String(), nil
	})

	first, err := result.Get(1)
	require.NoError(t, err)
	second, err := result.Get(1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, src.reads)
	assert.Equal(t, 2, calls)
}

func TestLazySizeAndBounds(t *testing.T) {
	src := newSource(3)
	result := New[string](src, keyName)

	size, err := result.Size()
	require.NoError(t, err)
	assert.Equal(t, 3, size)
	assert.True(t, result.Exhausted())

	tests := []struct {
		name  string
		index int
	}{
		{name: "past the end", index: 3},
		{name: "negative", index: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := result.Get(tt.index)
			assert.Equal(t, ErrIndexOutOfRange, errors.Cause(err))
		})
	}
	assert.Equal(t, 3, src.reads)
}

func TestLazyIterator(t *testing.T) {
	src := newSource(4)
	result := New[string](src, keyName)
	_, err := result.Get(1)
	require.NoError(t, err)

	var got []string
	it := result.Iterator()
	for {
		v, err := it.Next()
		if err == datastore.ErrEndOfIterator {
			break
		}
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []string{"Person(1)", "Person(2)", "Person(3)", "Person(4)"}, got)
	assert.Equal(t, 4, src.reads)

	// A second iterator only replays resolved elements.
	second := result.Iterator()
	v, err := second.Next()
	require.NoError(t, err)
	assert.Equal(t, "Person(1)", v)
	assert.Equal(t, 1, second.Index())
	assert.Equal(t, 4, src.reads)
}

func TestLazyErrors(t *testing.T) {
	t.Run("source failure", func(t *testing.T) {
		src := newSource(4)
		src.failAt = 2
		result := New[string](src, keyName, WithKeyTracking())

		_, err := result.Get(3)
		assert.Equal(t, datastore.ErrTimeout, errors.Cause(err))
		assert.Equal(t, 2, result.Resolved())
		assert.Error(t, result.Err())

		v, err := result.Get(1)
		require.NoError(t, err)
		assert.Equal(t, "Person(2)", v)

		v, err = result.Get(3)
		require.NoError(t, err)
		assert.Equal(t, "Person(4)", v)
		assert.NoError(t, result.Err())
		assert.Len(t, result.ResolvedKeys(), 4)
	})

	t.Run("transform failure", func(t *testing.T) {
		src := newSource(3)
		fail := true
		result := New[int64](src, func(e *datastore.Entity) (int64, error) {
			if e.Key.ID == 2 && fail {
				fail = false
				return 0, fmt.Errorf("bad entity")
			}
			return e.Key.ID, nil
		})

		_, err := result.Size()
		assert.Error(t, err)
		assert.Equal(t, 1, result.Resolved())

		v, err := result.Get(1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)
		assert.Equal(t, 2, src.reads)
	})
}

func TestResolvedKeys(t *testing.T) {
	src := newSource(3)
	result := New[string](src, keyName, WithKeyTracking())
	_, err := result.Get(1)
	require.NoError(t, err)

	keys := result.ResolvedKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, result.Resolved(), len(keys))
	assert.Equal(t, int64(1), keys[0].ID)
	assert.Equal(t, int64(2), keys[1].ID)

	untracked := New[string](newSource(3), keyName)
	require.NoError(t, untracked.ResolveAll())
	assert.Empty(t, untracked.ResolvedKeys())
}

type sink struct {
	puts map[string][]*datastore.Key
}

func (s *sink) Put(cacheKey string, keys []*datastore.Key) {
	if s.puts == nil {
		s.puts = make(map[string][]*datastore.Key)
	}
	s.puts[cacheKey] = keys
}

func TestStreamingResult(t *testing.T) {
	t.Run("close resolves and caches", func(t *testing.T) {
		src := newSource(3)
		keys := &sink{}
		result := NewStreaming[string](src, keyName, keys, "q")

		_, err := result.Get(0)
		require.NoError(t, err)
		require.NoError(t, result.Close())

		assert.True(t, src.closed)
		assert.Equal(t, 3, src.reads)
		require.Len(t, keys.puts["q"], 3)
		assert.Equal(t, int64(3), keys.puts["q"][2].ID)

		v, err := result.Get(2)
		require.NoError(t, err)
		assert.Equal(t, "Person(3)", v)
		require.NoError(t, result.Close())
	})

	t.Run("failed result is not cached", func(t *testing.T) {
		src := newSource(3)
		src.failAt = 1
		keys := &sink{}
		result := NewStreaming[string](src, keyName, keys, "q")

		_, err := result.Get(2)
		require.Error(t, err)
		require.NoError(t, result.Close())
		assert.True(t, src.closed)
		assert.Empty(t, keys.puts)
		assert.Equal(t, 1, src.reads)
	})

	t.Run("no sink", func(t *testing.T) {
		src := newSource(10000)
		result := NewStreaming[string](src, keyName, nil, "")
		require.NoError(t, result.Close())
		assert.True(t, src.closed)
		assert.Equal(t, 0, src.reads)
		assert.Empty(t, result.ResolvedKeys())
	})

	t.Run("no sink stops reading on close", func(t *testing.T) {
		src := newSource(10000)
		result := NewStreaming[string](src, keyName, nil, "")

		v, err := result.Get(0)
		require.NoError(t, err)
		assert.Equal(t, "Person(1)", v)
		require.NoError(t, result.Close())

		assert.True(t, src.closed)
		assert.Equal(t, 1, src.reads)
		_, err = result.Get(1)
		assert.Error(t, err)
	})

	t.Run("failed resolve and failed close", func(t *testing.T) {
		src := newSource(3)
		src.failAt = 2
		src.closeErr = errors.New("connection lost")
		result := NewStreaming[string](src, keyName, &sink{}, "q")

		err := result.Close()
		require.Error(t, err)
		assert.Equal(t, datastore.ErrTimeout, errors.Cause(err))
		assert.Contains(t, err.Error(), "connection lost")
		assert.True(t, src.closed)
	})
}

func TestResultCursor(t *testing.T) {
	t.Run("without cursor tracking", func(t *testing.T) {
		result := NewStreaming[string](newSource(3), keyName, nil, "")
		cursor, err := result.EndCursor()
		require.NoError(t, err)
		assert.Nil(t, cursor)
		assert.Nil(t, result.Cursor())
	})

	t.Run("tracks the last resolved entity", func(t *testing.T) {
		src := newSource(3)
		result := NewStreaming[string](src, keyName, nil, "", WithCursor(nil, nil))
		assert.Nil(t, result.Cursor())

		_, err := result.Get(0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Cursor().Key.ID)

		cursor, err := result.EndCursor()
		require.NoError(t, err)
		assert.Equal(t, 3, src.reads)
		assert.Equal(t, datastore.NewIDKey("Person", 3, nil), cursor.Key)
		assert.Empty(t, cursor.Values)
	})

	t.Run("empty result keeps the start", func(t *testing.T) {
		start := &datastore.Cursor{Key: datastore.NewIDKey("Person", 9, nil)}
		result := NewStreaming[string](newSource(0), keyName, nil, "", WithCursor(start, nil))
		cursor, err := result.EndCursor()
		require.NoError(t, err)
		assert.Same(t, start, cursor)
	})

	t.Run("failed resolve", func(t *testing.T) {
		src := newSource(3)
		src.failAt = 1
		result := NewStreaming[string](src, keyName, nil, "", WithCursor(nil, nil))
		_, err := result.EndCursor()
		require.Error(t, err)
		assert.Equal(t, datastore.ErrTimeout, errors.Cause(err))
	})
}
