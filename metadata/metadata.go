package metadata

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
)

var ErrClassNotFound = errors.New("class not found")

type Relation int

const (
	RelationNone Relation = iota
	RelationOneToOne
	RelationManyToOne
	RelationOneToMany
	RelationManyToMany
)

func (r Relation) String() string {
	switch r {
	case RelationNone:
		return "none"
	case RelationOneToOne:
		return "one-to-one"
	case RelationManyToOne:
		return "many-to-one"
	case RelationOneToMany:
		return "one-to-many"
	case RelationManyToMany:
		return "many-to-many"
	}
	return "unknown"
}

func (r *Relation) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "none":
		*r = RelationNone
	case "one-to-one", "onetoone":
		*r = RelationOneToOne
	case "many-to-one", "manytoone":
		*r = RelationManyToOne
	case "one-to-many", "onetomany":
		*r = RelationOneToMany
	case "many-to-many", "manytomany":
		*r = RelationManyToMany
	default:
		return errors.Errorf("unknown relation %s", text)
	}
	return nil
}

// Member describes a persistent field of a class.
type Member struct {
	Name string `yaml:"name"`
	// Column is the native property name, defaulting to Name.
	Column     string `yaml:"column"`
	PrimaryKey bool   `yaml:"primaryKey"`
	// ParentKey marks the member holding the key of the entity group parent.
	ParentKey bool `yaml:"parentKey"`
	// KeyComponent marks members mapped onto the id or name part of the primary key.
	KeyComponent bool     `yaml:"keyComponent"`
	Relation     Relation `yaml:"relation"`
	RelatedClass string   `yaml:"relatedClass"`
	Owned        bool     `yaml:"owned"`
	// ParentKeyProvider marks the child side of an owned relation, whose value is the parent object.
	ParentKeyProvider bool      `yaml:"parentKeyProvider"`
	Embedded          []*Member `yaml:"embedded"`
}

func (m *Member) NativeName() string {
	if m.Column != "" {
		return m.Column
	}
	return m.Name
}

// IsPersistable reports whether the member references a single related object.
func (m *Member) IsPersistable() bool {
	return m.Relation == RelationOneToOne || m.Relation == RelationManyToOne
}

func (m *Member) IsEmbedded() bool {
	return len(m.Embedded) > 0
}

func (m *Member) embeddedMember(name string) *Member {
	for _, member := range m.Embedded {
		if member.Name == name {
			return member
		}
	}
	return nil
}

type Discriminator struct {
	Property string `yaml:"property"`
	Value    string `yaml:"value"`
}

// Class describes a persistent class and the kind it is stored as.
type Class struct {
	Name string `yaml:"name"`
	// Kind defaults to Name.
	Kind          string         `yaml:"kind"`
	Superclass    string         `yaml:"superclass"`
	Members       []*Member      `yaml:"members"`
	Discriminator *Discriminator `yaml:"discriminator"`
	// MultitenancyDisabled exempts the class from the tenant filter.
	MultitenancyDisabled bool `yaml:"multitenancyDisabled"`
}

func (c *Class) KindName() string {
	if c.Kind != "" {
		return c.Kind
	}
	return c.Name
}

func (c *Class) Member(name string) *Member {
	for _, member := range c.Members {
		if member.Name == name {
			return member
		}
	}
	return nil
}

func (c *Class) PrimaryKey() *Member {
	for _, member := range c.Members {
		if member.PrimaryKey {
			return member
		}
	}
	return nil
}

// ResolvePath walks a field path through embedded members and returns the member at its end.
// It returns nil if any segment is unknown.
func (c *Class) ResolvePath(tuples []string) *Member {
	if len(tuples) == 0 {
		return nil
	}
	member := c.Member(tuples[0])
	for _, segment := range tuples[1:] {
		if member == nil || !member.IsEmbedded() {
			return nil
		}
		member = member.embeddedMember(segment)
	}
	return member
}

// Provider supplies class descriptions to the query compiler.
type Provider interface {
	Class(name string) (*Class, error)
	// DiscriminatorFilter returns the filter restricting a query to the class, and its subclasses
	// when requested. It returns nil if the class has no discriminator.
	DiscriminatorFilter(class *Class, includeSubclasses bool) (*datastore.FilterPredicate, error)
	// TenantFilter returns the filter restricting a query to the current tenant, or nil.
	TenantFilter(class *Class) *datastore.FilterPredicate
}
