package datastore

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryBuilder(t *testing.T) {
	q := NewQuery("Person")
	require.NoError(t, q.AddFilter("age", GreaterThanOrEqual, NewInt(30)))
	require.NoError(t, q.AddFilter("age", LessThan, NewInt(40)))
	require.NoError(t, q.AddSort("name", Ascending))

	assert.Error(t, q.AddFilter("name", In, NewString("a")))
	assert.Error(t, q.AddFilter("name", Equal, NewList([]Value{NewString("a")})))

	q.Freeze()
	assert.Equal(t, ErrQueryFrozen, errors.Cause(q.AddFilter("x", Equal, NewInt(1))))
	assert.Equal(t, ErrQueryFrozen, errors.Cause(q.AddSort("x", Descending)))
	assert.Equal(t, ErrQueryFrozen, errors.Cause(q.SetAncestor(NewIDKey("A", 1, nil))))
	assert.Equal(t, ErrQueryFrozen, errors.Cause(q.SetKeysOnly()))

	assert.Equal(t, []FilterPredicate{
		{Property: "age", Operator: GreaterThanOrEqual, Value: NewInt(30)},
		{Property: "age", Operator: LessThan, Value: NewInt(40)},
	}, q.Filters())
	assert.Equal(t, []SortPredicate{{Property: "name", Direction: Ascending}}, q.Sorts())
	assert.True(t, q.HasSort("name"))
	assert.Equal(t, "SELECT * FROM Person WHERE age >= 30 AND age < 40 ORDER BY name ASC", q.String())

	filters := q.Filters()
	filters[0].Property = "changed"
	assert.Equal(t, "age", q.Filters()[0].Property)
}

func TestMatchesAndSort(t *testing.T) {
	customer := NewIDKey("Customer", 1, nil)
	alice := NewEntity(NewIDKey("Person", 1, customer))
	alice.Set("name", NewString("alice"))
	alice.Set("age", NewInt(31))
	alice.Set("tags", NewList([]Value{NewString("x"), NewString("z")}))

	bob := NewEntity(NewIDKey("Person", 2, nil))
	bob.Set("name", NewString("bob"))
	bob.Set("age", NewInt(45))
	bob.Set("tags", NewList([]Value{NewString("y")}))

	carol := NewEntity(NewIDKey("Person", 3, nil))
	carol.Set("name", NewString("carol"))

	tests := []struct {
		name  string
		build func(q *Query)
		want  []*Entity
	}{
		{
			name: "range",
			build: func(q *Query) {
				q.AddFilter("age", GreaterThanOrEqual, NewInt(30))
				q.AddFilter("age", LessThan, NewInt(40))
			},
			want: []*Entity{alice},
		},
		{
			name: "multi-valued equality",
			build: func(q *Query) {
				q.AddFilter("tags", Equal, NewString("z"))
			},
			want: []*Entity{alice},
		},
		{
			name: "in",
			build: func(q *Query) {
				q.AddFilter("name", In, NewList([]Value{NewString("bob"), NewString("carol")}))
			},
			want: []*Entity{bob, carol},
		},
		{
			name: "key",
			build: func(q *Query) {
				q.AddFilter(KeyPropertyName, Equal, NewKey(NewIDKey("Person", 2, nil)))
			},
			want: []*Entity{bob},
		},
		{
			name: "ancestor",
			build: func(q *Query) {
				q.SetAncestor(customer)
			},
			want: []*Entity{alice},
		},
		{
			name: "sort excludes missing property",
			build: func(q *Query) {
				q.AddSort("age", Descending)
			},
			want: []*Entity{bob, alice},
		},
		{
			name: "multi-valued descending sort uses largest element",
			build: func(q *Query) {
				q.AddSort("tags", Descending)
			},
			want: []*Entity{alice, bob},
		},
		{
			name: "multi-valued ascending sort uses smallest element",
			build: func(q *Query) {
				q.AddSort("tags", Ascending)
			},
			want: []*Entity{alice, bob},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQuery("Person")
			tt.build(q)

			var got []*Entity
			for _, e := range []*Entity{carol, bob, alice} {
				if Matches(e, q) {
					got = append(got, e)
				}
			}
			SortEntities(got, q.Sorts())
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyFetchOptions(t *testing.T) {
	entities := []*Entity{
		NewEntity(NewIDKey("A", 1, nil)),
		NewEntity(NewIDKey("A", 2, nil)),
		NewEntity(NewIDKey("A", 3, nil)),
	}

	assert.Len(t, ApplyFetchOptions(entities, DefaultFetchOptions()), 3)
	assert.Equal(t, entities[1:2], ApplyFetchOptions(entities, FetchOptions{Offset: 1, Limit: 1}))
	assert.Empty(t, ApplyFetchOptions(entities, FetchOptions{Offset: 5, Limit: NoLimit}))
	assert.Empty(t, ApplyFetchOptions(entities, FetchOptions{Limit: 0}))
}
