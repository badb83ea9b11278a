package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/metadata"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/query"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{name: "nil", value: nil, want: ""},
		{name: "nil key", value: (*datastore.Key)(nil), want: ""},
		{name: "key", value: datastore.NewIDKey("Order", 3, datastore.NewNameKey("Region", "eu", nil)), want: `Region("eu")/Order(3)`},
		{name: "time", value: time.Date(2024, time.March, 5, 15, 4, 5, 0, time.UTC), want: "2024-03-05T15:04:05Z"},
		{name: "int", value: int64(42), want: "42"},
		{name: "list", value: []interface{}{"a", int64(2), nil}, want: "[a, 2, ]"},
		{name: "map", value: map[string]interface{}{"city": "Paris", "zip": int64(75001)}, want: "{city: Paris, zip: 75001}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatValue(tt.value))
		})
	}
}

func TestResultHeader(t *testing.T) {
	class := &metadata.Class{
		Name: "Customer",
		Members: []*metadata.Member{
			{Name: "id", PrimaryKey: true},
			{Name: "name"},
			{Name: "region"},
		},
	}

	tests := []struct {
		name string
		qd   *query.QueryData
		want []string
	}{
		{name: "entities", qd: &query.QueryData{Class: class}, want: []string{"id", "name", "region"}},
		{name: "count", qd: &query.QueryData{Class: class, Count: true}, want: []string{"count"}},
		{name: "projection", qd: &query.QueryData{Class: class, Projection: []string{"name", "region"}}, want: []string{"name", "region"}},
		{name: "keys only", qd: &query.QueryData{Class: class, ResultType: query.ResultTypeKeysOnly}, want: []string{"__key__"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resultHeader(tt.qd))
		})
	}
}

func TestResultRow(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		result interface{}
		want   []interface{}
	}{
		{
			name:   "single column",
			header: []string{"__key__"},
			result: []interface{}{"kept", "whole"},
			want:   []interface{}{[]interface{}{"kept", "whole"}},
		},
		{
			name:   "projection",
			header: []string{"name", "region"},
			result: []interface{}{"alice", "EU"},
			want:   []interface{}{"alice", "EU"},
		},
		{
			name:   "map",
			header: []string{"id", "name", "region"},
			result: map[string]interface{}{"name": "bob", "id": int64(2)},
			want:   []interface{}{int64(2), "bob", nil},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resultRow(tt.header, tt.result))
		})
	}
}

func TestTableFormatter(t *testing.T) {
	var buf bytes.Buffer
	table := newTableFormatter(&buf, []string{"id", "name"})
	table.Write([]interface{}{datastore.NewIDKey("Customer", 1, nil), "alice"})
	table.Write([]interface{}{datastore.NewIDKey("Customer", 2, nil), nil})
	table.Close()

	out := buf.String()
	assert.Contains(t, out, "id")
	assert.Contains(t, out, "Customer(1)")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "Customer(2)")
}
