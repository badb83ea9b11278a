package metadata

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
)

const fixture = `
tenantID: acme
classes:
  - name: Animal
    discriminator: {property: type, value: animal}
    members:
      - {name: id, primaryKey: true}
      - {name: name}
      - name: address
        embedded:
          - {name: city, column: address_city}
  - name: Dog
    superclass: Animal
    discriminator: {value: dog}
    members:
      - {name: breed}
  - name: Puppy
    superclass: Dog
    discriminator: {value: puppy}
  - name: Owner
    kind: owners
    multitenancyDisabled: true
    members:
      - {name: key, primaryKey: true}
      - {name: pet, relation: one-to-one, relatedClass: Dog, owned: true}
`

func TestLoadRegistry(t *testing.T) {
	registry, err := LoadRegistry(strings.NewReader(fixture))
	require.NoError(t, err)

	dog, err := registry.Class("Dog")
	require.NoError(t, err)
	assert.Equal(t, "Animal", dog.KindName())
	assert.Equal(t, "type", dog.Discriminator.Property)
	assert.Equal(t, "id", dog.PrimaryKey().Name)
	assert.NotNil(t, dog.Member("breed"))
	assert.Equal(t, "address_city", dog.ResolvePath([]string{"address", "city"}).NativeName())
	assert.Nil(t, dog.ResolvePath([]string{"name", "city"}))
	assert.Nil(t, dog.ResolvePath([]string{"missing"}))

	owner, err := registry.Class("Owner")
	require.NoError(t, err)
	assert.Equal(t, "owners", owner.KindName())
	pet := owner.Member("pet")
	assert.Equal(t, RelationOneToOne, pet.Relation)
	assert.True(t, pet.IsPersistable())

	_, err = registry.Class("Cat")
	assert.Equal(t, ErrClassNotFound, errors.Cause(err))
}

func TestRegistryFilters(t *testing.T) {
	registry, err := LoadRegistry(strings.NewReader(fixture))
	require.NoError(t, err)
	animal, _ := registry.Class("Animal")
	dog, _ := registry.Class("Dog")
	owner, _ := registry.Class("Owner")

	tests := []struct {
		name       string
		class      *Class
		subclasses bool
		want       *datastore.FilterPredicate
	}{
		{
			name:  "single class",
			class: dog,
			want:  &datastore.FilterPredicate{Property: "type", Operator: datastore.Equal, Value: datastore.NewString("dog")},
		},
		{
			name:       "with subclasses",
			class:      animal,
			subclasses: true,
			want: &datastore.FilterPredicate{Property: "type", Operator: datastore.In, Value: datastore.NewList([]datastore.Value{
				datastore.NewString("animal"),
				datastore.NewString("dog"),
				datastore.NewString("puppy"),
			})},
		},
		{
			name:  "no discriminator",
			class: owner,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := registry.DiscriminatorFilter(tt.class, tt.subclasses)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, &datastore.FilterPredicate{Property: DefaultTenantProperty, Operator: datastore.Equal, Value: datastore.NewString("acme")}, registry.TenantFilter(dog))
	assert.Nil(t, registry.TenantFilter(owner))
}

func TestRegistryErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "duplicate class", input: "classes: [{name: A}, {name: A}]"},
		{name: "unknown superclass", input: "classes: [{name: A, superclass: B}]"},
		{name: "cycle", input: "classes: [{name: A, superclass: B}, {name: B, superclass: A}]"},
		{name: "two primary keys", input: "classes: [{name: A, members: [{name: a, primaryKey: true}, {name: b, primaryKey: true}]}]"},
		{name: "relation without class", input: "classes: [{name: A, members: [{name: a, relation: many-to-one}]}]"},
		{name: "unknown relation", input: "classes: [{name: A, members: [{name: a, relation: sideways}]}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRegistry(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}
