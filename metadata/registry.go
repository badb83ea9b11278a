package metadata

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
)

const DefaultTenantProperty = "__tenant__"

// Registry is a Provider over a fixed set of classes.
//
// Subclasses share the kind of their superclass unless they set their own,
// and inherit its members and discriminator property.
type Registry struct {
	Classes []*Class `yaml:"classes"`
	// TenantID, when set, restricts queries on classes with multitenancy enabled.
	TenantID       string `yaml:"tenantID"`
	TenantProperty string `yaml:"tenantProperty"`

	byName     map[string]*Class
	subclasses map[string][]*Class
}

func NewRegistry(classes ...*Class) (*Registry, error) {
	registry := &Registry{
		Classes: classes,
	}
	if err := registry.init(); err != nil {
		return nil, err
	}
	return registry, nil
}

func ReadRegistry(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't open file")
	}
	defer f.Close()

	return LoadRegistry(f)
}

func LoadRegistry(r io.Reader) (*Registry, error) {
	var registry Registry
	if err := yaml.NewDecoder(r).Decode(&registry); err != nil {
		return nil, errors.Wrap(err, "couldn't decode yaml metadata")
	}
	if err := registry.init(); err != nil {
		return nil, err
	}
	return &registry, nil
}

func (r *Registry) init() error {
	if r.TenantProperty == "" {
		r.TenantProperty = DefaultTenantProperty
	}

	r.byName = make(map[string]*Class, len(r.Classes))
	r.subclasses = make(map[string][]*Class)
	for _, class := range r.Classes {
		if class.Name == "" {
			return errors.New("class without a name")
		}
		if _, ok := r.byName[class.Name]; ok {
			return errors.Errorf("duplicate class %s", class.Name)
		}
		r.byName[class.Name] = class
	}

	resolved := make(map[string]bool, len(r.Classes))
	for _, class := range r.Classes {
		if err := r.inherit(class, resolved, map[string]bool{}); err != nil {
			return errors.Wrapf(err, "couldn't resolve class %s", class.Name)
		}
	}

	for _, class := range r.Classes {
		if err := validateClass(class); err != nil {
			return errors.Wrapf(err, "invalid class %s", class.Name)
		}
		if class.Superclass != "" {
			r.subclasses[class.Superclass] = append(r.subclasses[class.Superclass], class)
		}
	}
	return nil
}

func (r *Registry) inherit(class *Class, resolved, visiting map[string]bool) error {
	if resolved[class.Name] || class.Superclass == "" {
		resolved[class.Name] = true
		return nil
	}
	if visiting[class.Name] {
		return errors.New("inheritance cycle")
	}
	visiting[class.Name] = true

	super, ok := r.byName[class.Superclass]
	if !ok {
		return errors.Errorf("unknown superclass %s", class.Superclass)
	}
	if err := r.inherit(super, resolved, visiting); err != nil {
		return err
	}

	if class.Kind == "" {
		class.Kind = super.KindName()
	}
	members := make([]*Member, 0, len(super.Members)+len(class.Members))
	for _, member := range super.Members {
		if class.Member(member.Name) == nil {
			members = append(members, member)
		}
	}
	class.Members = append(members, class.Members...)
	if class.Discriminator != nil && class.Discriminator.Property == "" && super.Discriminator != nil {
		class.Discriminator.Property = super.Discriminator.Property
	}

	resolved[class.Name] = true
	return nil
}

func validateClass(class *Class) error {
	names := make(map[string]bool, len(class.Members))
	primaryKeys := 0
	for _, member := range class.Members {
		if member.Name == "" {
			return errors.New("member without a name")
		}
		if names[member.Name] {
			return errors.Errorf("duplicate member %s", member.Name)
		}
		names[member.Name] = true
		if member.PrimaryKey {
			primaryKeys++
		}
		if member.IsPersistable() && member.RelatedClass == "" {
			return errors.Errorf("relation member %s has no related class", member.Name)
		}
	}
	if primaryKeys > 1 {
		return errors.Errorf("%d primary key members, expected at most one", primaryKeys)
	}
	if class.Discriminator != nil && class.Discriminator.Property == "" {
		return errors.New("discriminator without a property")
	}
	return nil
}

func (r *Registry) Class(name string) (*Class, error) {
	class, ok := r.byName[name]
	if !ok {
		return nil, errors.Wrapf(ErrClassNotFound, "class %s", name)
	}
	return class, nil
}

// Subclasses returns all direct and indirect subclasses of the class.
func (r *Registry) Subclasses(class *Class) []*Class {
	var out []*Class
	for _, sub := range r.subclasses[class.Name] {
		out = append(out, sub)
		out = append(out, r.Subclasses(sub)...)
	}
	return out
}

func (r *Registry) DiscriminatorFilter(class *Class, includeSubclasses bool) (*datastore.FilterPredicate, error) {
	if class.Discriminator == nil {
		return nil, nil
	}

	values := []datastore.Value{datastore.NewString(class.Discriminator.Value)}
	if includeSubclasses {
		for _, sub := range r.Subclasses(class) {
			if sub.Discriminator == nil {
				continue
			}
			if sub.Discriminator.Property != class.Discriminator.Property {
				return nil, errors.Errorf("subclass %s uses discriminator property %s, expected %s", sub.Name, sub.Discriminator.Property, class.Discriminator.Property)
			}
			values = append(values, datastore.NewString(sub.Discriminator.Value))
		}
	}

	if len(values) == 1 {
		return &datastore.FilterPredicate{
			Property: class.Discriminator.Property,
			Operator: datastore.Equal,
			Value:    values[0],
		}, nil
	}
	return &datastore.FilterPredicate{
		Property: class.Discriminator.Property,
		Operator: datastore.In,
		Value:    datastore.NewList(values),
	}, nil
}

func (r *Registry) TenantFilter(class *Class) *datastore.FilterPredicate {
	if r.TenantID == "" || class.MultitenancyDisabled {
		return nil
	}
	return &datastore.FilterPredicate{
		Property: r.TenantProperty,
		Operator: datastore.Equal,
		Value:    datastore.NewString(r.TenantID),
	}
}
