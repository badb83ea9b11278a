package cmd

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore/memory"
)

func TestReadFixtures(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []*datastore.Entity
	}{
		{
			name: "scalars",
			input: `{"__key__": {"kind": "Person", "id": 1}, "name": "alice", "age": 31, "score": 1.5, "active": true, "nick": null}
`,
			want: []*datastore.Entity{
				{
					Key: datastore.NewIDKey("Person", 1, nil),
					Properties: map[string]datastore.Value{
						"name":   datastore.NewString("alice"),
						"age":    datastore.NewInt(31),
						"score":  datastore.NewFloat(1.5),
						"active": datastore.NewBoolean(true),
						"nick":   datastore.NewNull(),
					},
				},
			},
		},
		{
			name: "keys times and lists",
			input: `
{"__key__": {"kind": "Order", "name": "o-1", "parent": {"kind": "Region", "name": "eu"}}, "customerRef": {"__key__": {"kind": "Customer", "id": 7}}, "placed": {"__time__": "2024-03-05T15:04:05Z"}, "tags": ["a", 2]}

{"__key__": {"kind": "Order"}}
`,
			want: []*datastore.Entity{
				{
					Key: datastore.NewNameKey("Order", "o-1", datastore.NewNameKey("Region", "eu", nil)),
					Properties: map[string]datastore.Value{
						"customerRef": datastore.NewKey(datastore.NewIDKey("Customer", 7, nil)),
						"placed":      datastore.NewTime(time.Date(2024, time.March, 5, 15, 4, 5, 0, time.UTC)),
						"tags":        datastore.NewList([]datastore.Value{datastore.NewString("a"), datastore.NewInt(2)}),
					},
				},
				{
					Key:        datastore.NewIDKey("Order", 0, nil),
					Properties: map[string]datastore.Value{},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readFixtures(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadFixturesGeneratedKey(t *testing.T) {
	got, err := readFixtures(strings.NewReader(`{"__kind__": "Person", "name": "bob"}`))
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "Person", got[0].Key.Kind)
	assert.Len(t, got[0].Key.Name, 26)
	assert.False(t, got[0].Key.Incomplete())
	assert.Equal(t, map[string]datastore.Value{"name": datastore.NewString("bob")}, got[0].Properties)
}

func TestReadFixturesErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "invalid json", input: `{"name": `, wantErr: "couldn't parse line 1"},
		{name: "not an object", input: `[1, 2]`, wantErr: "entity has to be an object"},
		{name: "no key", input: `{"name": "alice"}`, wantErr: "entity needs either __key__ or __kind__"},
		{name: "key without kind", input: `{"__key__": {"id": 1}}`, wantErr: "key without a kind"},
		{name: "string id", input: `{"__key__": {"kind": "Person", "id": "1"}}`, wantErr: "key id has to be an integer"},
		{name: "incomplete key property", input: `{"__kind__": "Order", "customerRef": {"__key__": {"kind": "Customer"}}}`, wantErr: "key properties have to be complete"},
		{name: "bad time", input: `{"__kind__": "Order", "placed": {"__time__": "yesterday"}}`, wantErr: "couldn't parse time"},
		{name: "plain object", input: `{"__kind__": "Order", "address": {"city": "Paris"}}`, wantErr: "objects have to hold either __key__ or __time__"},
		{name: "error line", input: "{\"__kind__\": \"Order\"}\n{\"oops\": 1}", wantErr: "invalid entity on line 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readFixtures(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCompleteKeys(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_, err := store.AllocateIDs(ctx, "Person", 10)
	require.NoError(t, err)

	region := datastore.NewNameKey("Region", "eu", nil)
	entities := []*datastore.Entity{
		datastore.NewEntity(datastore.NewIDKey("Person", 0, nil)),
		datastore.NewEntity(datastore.NewIDKey("Order", 0, region)),
		datastore.NewEntity(datastore.NewIDKey("Person", 3, nil)),
		datastore.NewEntity(datastore.NewIDKey("Person", 0, nil)),
	}
	require.NoError(t, completeKeys(ctx, store, entities))

	assert.Equal(t, datastore.NewIDKey("Person", 11, nil), entities[0].Key)
	assert.Equal(t, datastore.NewIDKey("Order", 1, region), entities[1].Key)
	assert.Equal(t, datastore.NewIDKey("Person", 3, nil), entities[2].Key)
	assert.Equal(t, datastore.NewIDKey("Person", 12, nil), entities[3].Key)
}
