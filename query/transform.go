package query

import (
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/metadata"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/query/lazy"
)

// Materializer turns a native entity into a domain object of the class.
type Materializer interface {
	Materialize(class *metadata.Class, entity *datastore.Entity) (interface{}, error)
}

// MapMaterializer materializes entities as maps from member names to plain Go values.
// Embedded members become nested maps, the primary key member holds the key.
type MapMaterializer struct{}

func (MapMaterializer) Materialize(class *metadata.Class, entity *datastore.Entity) (interface{}, error) {
	return materializeMembers(class.Members, entity), nil
}

func materializeMembers(members []*metadata.Member, entity *datastore.Entity) map[string]interface{} {
	out := make(map[string]interface{}, len(members))
	for _, member := range members {
		switch {
		case member.PrimaryKey:
			out[member.Name] = entity.Key
		case member.ParentKey:
			out[member.Name] = entity.Key.Parent
		case member.IsEmbedded():
			out[member.Name] = materializeMembers(member.Embedded, entity)
		default:
			if value, ok := entity.Property(member.NativeName()); ok {
				out[member.Name] = value.ToRawGoValue()
			}
		}
	}
	return out
}

func keyTransformer(entity *datastore.Entity) (interface{}, error) {
	return entity.Key, nil
}

func entityTransformer(class *metadata.Class, materializer Materializer) lazy.Transformer[interface{}] {
	if materializer == nil {
		return func(entity *datastore.Entity) (interface{}, error) {
			return entity, nil
		}
	}
	return func(entity *datastore.Entity) (interface{}, error) {
		return materializer.Materialize(class, entity)
	}
}

// projectionTransformer reads the given properties. A single property gives its value,
// several give a slice of values. Missing properties are nil.
func projectionTransformer(properties []string) lazy.Transformer[interface{}] {
	return func(entity *datastore.Entity) (interface{}, error) {
		out := make([]interface{}, len(properties))
		for i, property := range properties {
			if value, ok := entity.Property(property); ok {
				out[i] = value.ToRawGoValue()
			}
		}
		if len(out) == 1 {
			return out[0], nil
		}
		return out, nil
	}
}

func (qd *QueryData) transformer(materializer Materializer) lazy.Transformer[interface{}] {
	switch {
	case len(qd.Projection) > 0:
		return projectionTransformer(qd.Projection)
	case qd.ResultType == ResultTypeKeysOnly:
		return keyTransformer
	}
	return entityTransformer(qd.Class, materializer)
}
