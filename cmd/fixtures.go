package cmd

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/valyala/fastjson"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
)

const (
	kindField = "__kind__"
	timeField = "__time__"
)

// readFixtures reads one JSON object per line. The entity key is given under "__key__" as
// {"kind": ..., "id" | "name": ..., "parent": {...}}. Without an id or name the key is left
// incomplete. Without a key at all, "__kind__" is required and the key gets a generated name.
//
// Properties holding {"__key__": ...} are keys, {"__time__": "<RFC3339>"} are times.
func readFixtures(r io.Reader) ([]*datastore.Entity, error) {
	var out []*datastore.Entity
	var p fastjson.Parser

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		v, err := p.ParseBytes(data)
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't parse line %d", line)
		}
		entity, err := fixtureEntity(v)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid entity on line %d", line)
		}
		out = append(out, entity)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read fixtures")
	}

	return out, nil
}

func fixtureEntity(v *fastjson.Value) (*datastore.Entity, error) {
	obj, err := v.Object()
	if err != nil {
		return nil, errors.Wrap(err, "entity has to be an object")
	}

	var key *datastore.Key
	if keyValue := obj.Get(datastore.KeyPropertyName); keyValue != nil {
		if key, err = fixtureKey(keyValue); err != nil {
			return nil, errors.Wrap(err, "couldn't read key")
		}
	} else {
		kind := string(obj.Get(kindField).GetStringBytes())
		if kind == "" {
			return nil, errors.Errorf("entity needs either %s or %s", datastore.KeyPropertyName, kindField)
		}
		key = datastore.NewNameKey(kind, ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(), nil)
	}

	entity := datastore.NewEntity(key)
	var outErr error
	obj.Visit(func(name []byte, field *fastjson.Value) {
		if outErr != nil {
			return
		}
		switch string(name) {
		case datastore.KeyPropertyName, kindField:
			return
		}
		value, err := fixtureValue(field)
		if err != nil {
			outErr = errors.Wrapf(err, "couldn't read property %s", name)
			return
		}
		entity.Set(string(name), value)
	})
	if outErr != nil {
		return nil, outErr
	}

	return entity, nil
}

func fixtureKey(v *fastjson.Value) (*datastore.Key, error) {
	obj, err := v.Object()
	if err != nil {
		return nil, errors.Wrap(err, "key has to be an object")
	}
	kind := string(obj.Get("kind").GetStringBytes())
	if kind == "" {
		return nil, errors.New("key without a kind")
	}

	var parent *datastore.Key
	if parentValue := obj.Get("parent"); parentValue != nil {
		if parent, err = fixtureKey(parentValue); err != nil {
			return nil, errors.Wrap(err, "couldn't read parent key")
		}
	}

	switch {
	case obj.Get("name") != nil:
		name, err := obj.Get("name").StringBytes()
		if err != nil {
			return nil, errors.Wrap(err, "key name has to be a string")
		}
		return datastore.NewNameKey(kind, string(name), parent), nil
	case obj.Get("id") != nil:
		id, err := obj.Get("id").Int64()
		if err != nil {
			return nil, errors.Wrap(err, "key id has to be an integer")
		}
		return datastore.NewIDKey(kind, id, parent), nil
	}
	return datastore.NewIDKey(kind, 0, parent), nil
}

func fixtureValue(v *fastjson.Value) (datastore.Value, error) {
	switch v.Type() {
	case fastjson.TypeNull:
		return datastore.NewNull(), nil
	case fastjson.TypeTrue:
		return datastore.NewBoolean(true), nil
	case fastjson.TypeFalse:
		return datastore.NewBoolean(false), nil
	case fastjson.TypeString:
		return datastore.NewString(string(v.GetStringBytes())), nil
	case fastjson.TypeNumber:
		if i, err := v.Int64(); err == nil {
			return datastore.NewInt(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return datastore.Value{}, errors.Wrap(err, "couldn't read number")
		}
		return datastore.NewFloat(f), nil
	case fastjson.TypeArray:
		elements := v.GetArray()
		out := make([]datastore.Value, len(elements))
		for i := range elements {
			value, err := fixtureValue(elements[i])
			if err != nil {
				return datastore.Value{}, errors.Wrapf(err, "couldn't read element with index %d", i)
			}
			out[i] = value
		}
		return datastore.NewList(out), nil
	case fastjson.TypeObject:
		if keyValue := v.Get(datastore.KeyPropertyName); keyValue != nil {
			key, err := fixtureKey(keyValue)
			if err != nil {
				return datastore.Value{}, err
			}
			if key.Incomplete() {
				return datastore.Value{}, errors.New("key properties have to be complete")
			}
			return datastore.NewKey(key), nil
		}
		if timeValue := v.Get(timeField); timeValue != nil {
			t, err := time.Parse(time.RFC3339Nano, string(timeValue.GetStringBytes()))
			if err != nil {
				return datastore.Value{}, errors.Wrap(err, "couldn't parse time")
			}
			return datastore.NewTime(t), nil
		}
		return datastore.Value{}, errors.Errorf("objects have to hold either %s or %s", datastore.KeyPropertyName, timeField)
	}

	panic("unexhaustive json type match")
}

// completeKeys allocates ids for incomplete keys, one batch per kind.
func completeKeys(ctx context.Context, service datastore.Service, entities []*datastore.Entity) error {
	incomplete := make(map[string][]*datastore.Entity)
	var kinds []string
	for _, entity := range entities {
		if !entity.Key.Incomplete() {
			continue
		}
		kind := entity.Key.Kind
		if _, ok := incomplete[kind]; !ok {
			kinds = append(kinds, kind)
		}
		incomplete[kind] = append(incomplete[kind], entity)
	}

	for _, kind := range kinds {
		batch := incomplete[kind]
		first, err := service.AllocateIDs(ctx, kind, len(batch))
		if err != nil {
			return errors.Wrapf(err, "couldn't allocate ids for kind %s", kind)
		}
		for i, entity := range batch {
			entity.Key = datastore.NewIDKey(kind, first+int64(i), entity.Key.Parent)
		}
	}
	return nil
}
