package config

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	got, err := ReadConfig("fixtures/example.yaml")
	require.NoError(t, err)

	want := &Config{
		Metadata: filepath.Join("fixtures", "classes.yml"),
		Store: StoreConfig{
			Type: "badger",
			Config: map[string]interface{}{
				"path":     "/var/lib/dsquery",
				"inMemory": false,
				"sequence": map[string]interface{}{
					"bandwidth": 50,
					"ratio":     0.5,
				},
				"tags": []interface{}{"a", "b"},
			},
		},
		Query: QueryConfig{
			InMemoryFallback:    true,
			AccurateDeleteCount: true,
			ChunkSize:           100,
			TenantID:            "acme",
		},
		Cache: CacheConfig{
			Enabled:     true,
			NumCounters: 1000,
			MaxCost:     1 << 20,
		},
		Log: LogConfig{
			Level: "debug",
			File:  "logs.txt",
		},
	}
	assert.Equal(t, want, got)
	assert.Equal(t, filepath.Join(Dir, "logs.txt"), got.LogPath())
}

func TestReadConfigErrors(t *testing.T) {
	_, err := ReadConfig("fixtures/missing.yaml")
	assert.Error(t, err)

	defaultPath := DefaultPath
	defer func() { DefaultPath = defaultPath }()
	DefaultPath = filepath.Join(t.TempDir(), "config.yml")

	got, err := ReadConfig(DefaultPath)
	require.NoError(t, err)
	assert.Equal(t, Default(), got)
}

func TestGetters(t *testing.T) {
	cfg := map[string]interface{}{
		"path":     "/tmp/x",
		"inMemory": true,
		"size":     3,
		"sequence": map[string]interface{}{
			"ratio": 0.5,
			"count": 2,
		},
		"tags":  []interface{}{"a", "b"},
		"mixed": []interface{}{"a", 1},
	}

	tests := []struct {
		name    string
		get     func() (interface{}, error)
		want    interface{}
		wantErr bool
	}{
		{
			name: "string",
			get:  func() (interface{}, error) { return GetString(cfg, "path") },
			want: "/tmp/x",
		},
		{
			name: "string default",
			get:  func() (interface{}, error) { return GetString(cfg, "missing", WithDefault("def")) },
			want: "def",
		},
		{
			name:    "string of wrong type",
			get:     func() (interface{}, error) { return GetString(cfg, "size", WithDefault("def")) },
			wantErr: true,
		},
		{
			name: "bool",
			get:  func() (interface{}, error) { return GetBool(cfg, "inMemory") },
			want: true,
		},
		{
			name: "int",
			get:  func() (interface{}, error) { return GetInt(cfg, "size") },
			want: 3,
		},
		{
			name: "nested float",
			get:  func() (interface{}, error) { return GetFloat64(cfg, "sequence.ratio") },
			want: 0.5,
		},
		{
			name: "nested int as float",
			get:  func() (interface{}, error) { return GetFloat64(cfg, "sequence.count") },
			want: 2.0,
		},
		{
			name: "map",
			get:  func() (interface{}, error) { return GetMap(cfg, "sequence") },
			want: map[string]interface{}{"ratio": 0.5, "count": 2},
		},
		{
			name: "string list",
			get:  func() (interface{}, error) { return GetStringList(cfg, "tags") },
			want: []string{"a", "b"},
		},
		{
			name: "string list default",
			get:  func() (interface{}, error) { return GetStringList(cfg, "other", WithDefault([]string{"c"})) },
			want: []string{"c"},
		},
		{
			name:    "mixed list",
			get:     func() (interface{}, error) { return GetStringList(cfg, "mixed") },
			wantErr: true,
		},
		{
			name:    "descend into a non-map",
			get:     func() (interface{}, error) { return GetInt(cfg, "path.x") },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.get()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := GetInt(cfg, "missing")
	assert.Equal(t, ErrNotFound, errors.Cause(err))
}
