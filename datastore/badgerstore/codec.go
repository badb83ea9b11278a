package badgerstore

import (
	"github.com/pkg/errors"
	"github.com/valyala/fastjson"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
)

// marshalProperties stores entity properties as a JSON object of property names to encoded values.
func marshalProperties(e *datastore.Entity) []byte {
	var arena fastjson.Arena
	obj := arena.NewObject()
	for name, value := range e.Properties {
		obj.Set(name, datastore.MarshalValueJSON(&arena, value))
	}
	return obj.MarshalTo(nil)
}

func unmarshalEntity(key *datastore.Key, data []byte) (*datastore.Entity, error) {
	e := datastore.NewEntity(key)

	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't parse stored entity")
	}
	obj, err := v.Object()
	if err != nil {
		return nil, errors.Wrap(err, "stored entity is not an object")
	}

	var outErr error
	obj.Visit(func(name []byte, field *fastjson.Value) {
		if outErr != nil {
			return
		}
		value, err := datastore.UnmarshalValueJSON(field)
		if err != nil {
			outErr = errors.Wrapf(err, "couldn't decode property %s", name)
			return
		}
		e.Properties[string(name)] = value
	})
	if outErr != nil {
		return nil, outErr
	}

	return e, nil
}
