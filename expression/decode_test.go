package expression

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
)

func TestDecodeQueryFile(t *testing.T) {
	input := `
language: jpql
candidate: Order
alias: o
from:
  - path: o.customer
    alias: c
filter:
  and:
    - op: "=="
      left: {field: region, on: c}
      right: {literal: EU}
    - op: ">="
      left: {field: o.total}
      right: {op: neg, operand: {literal: 5}}
    - call:
        target: {field: o.name}
        method: startsWith
        args: [{param: prefix}]
ordering:
  - field: o.customer
result:
  - field: o.id
range: {from: 2, to: 5}
extensions:
  cursor: abc
parameters:
  prefix: ab
  customer: {kind: Customer, id: 7, parent: {kind: Region, name: eu}}
  ids: [1, 2]
`
	file, err := DecodeQueryFile(strings.NewReader(input))
	require.NoError(t, err)

	c := file.Compilation
	assert.Equal(t, LanguageJPQL, c.Language)
	assert.Equal(t, QueryTypeSelect, c.Type)
	assert.Equal(t, "Order", c.CandidateClass)
	require.Len(t, c.From, 1)
	assert.Equal(t, "c", c.From[0].Alias)
	assert.Equal(t, []string{"o", "customer"}, c.From[0].Path.Primary.Tuples)
	assert.Equal(t, `(((c.region == "EU") && (o.total >= -(5))) && o.name.startsWith(:prefix))`, c.Filter.String())
	require.Len(t, c.Ordering, 1)
	assert.Equal(t, Ascending, c.Ordering[0].Direction)
	assert.Equal(t, "o.id", c.Result[0].String())
	assert.Equal(t, &Range{FromIncl: 2, ToExcl: 5}, c.Range)
	assert.Equal(t, "abc", c.Extensions[ExtensionCursor])

	assert.Equal(t, "ab", file.Parameters["prefix"])
	assert.Equal(t, []interface{}{1, 2}, file.Parameters["ids"])
	key, ok := file.Parameters["customer"].(*datastore.Key)
	require.True(t, ok)
	assert.Equal(t, `Region("eu")/Customer(7)`, key.String())
}

func TestDecodeQueryFileErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "no candidate", input: `alias: p`},
		{name: "unknown language", input: "candidate: P\nlanguage: sql"},
		{name: "unknown operator", input: "candidate: P\nfilter: {op: '<=>', left: {field: a}, right: {literal: 1}}"},
		{name: "missing right side", input: "candidate: P\nfilter: {op: '==', left: {field: a}}"},
		{name: "empty expression", input: "candidate: P\nfilter: {}"},
		{name: "bad direction", input: "candidate: P\nordering: [{field: a, direction: sideways}]"},
		{name: "key without id", input: "candidate: P\nparameters: {k: {kind: P}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeQueryFile(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestParametersLookup(t *testing.T) {
	params := Parameters{"name": "x", "0": "first", "1": "second"}

	v, ok := params.Lookup(&Parameter{Name: "name"})
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	v, ok = params.Lookup(&Parameter{Position: 1})
	assert.True(t, ok)
	assert.Equal(t, "second", v)

	v, ok = params.Lookup(&Parameter{Name: "missing", Position: 0})
	assert.True(t, ok)
	assert.Equal(t, "first", v)

	_, ok = params.Lookup(&Parameter{Position: 5})
	assert.False(t, ok)
}

func TestSymbolClass(t *testing.T) {
	c := &Compilation{
		CandidateClass: "Order",
		CandidateAlias: "o",
		Variables:      map[string]string{"v": "Customer"},
		From:           []Join{{Path: NewPrimary("o.items"), Alias: "i", Class: "Item"}},
	}

	for symbol, want := range map[string]string{"o": "Order", "v": "Customer", "i": "Item"} {
		got, ok := c.SymbolClass(symbol)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := c.SymbolClass("x")
	assert.False(t, ok)
}
