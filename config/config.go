package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Dir is the default directory for the configuration, the metadata registry and logs.
var Dir = func() string {
	dir, err := homedir.Dir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, ".dsquery")
}()

var DefaultPath = filepath.Join(Dir, "config.yml")

// StoreConfig selects the native store. Config is read by the store itself with the typed getters.
type StoreConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config"`
}

type QueryConfig struct {
	InMemoryFallback    bool   `yaml:"inMemoryFallback"`
	AccurateDeleteCount bool   `yaml:"accurateDeleteCount"`
	ChunkSize           int    `yaml:"chunkSize"`
	TenantID            string `yaml:"tenantId"`
}

type CacheConfig struct {
	Enabled     bool  `yaml:"enabled"`
	NumCounters int64 `yaml:"numCounters"`
	MaxCost     int64 `yaml:"maxCost"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// File is relative to the configuration directory. Empty means stderr.
	File string `yaml:"file"`
}

type Config struct {
	// Metadata is the path of the class registry.
	Metadata string      `yaml:"metadata"`
	Store    StoreConfig `yaml:"store"`
	Query    QueryConfig `yaml:"query"`
	Cache    CacheConfig `yaml:"cache"`
	Log      LogConfig   `yaml:"log"`
}

func Default() *Config {
	return &Config{
		Metadata: filepath.Join(Dir, "classes.yml"),
		Store: StoreConfig{
			Type: "memory",
		},
		Cache: CacheConfig{
			NumCounters: 1e5,
			MaxCost:     1 << 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ReadConfig reads the configuration file on top of the defaults.
// A missing file at the default path is not an error.
func ReadConfig(path string) (*Config, error) {
	config := Default()

	f, err := os.Open(path)
	if os.IsNotExist(err) && path == DefaultPath {
		return config, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "couldn't open file")
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(config); err != nil {
		return nil, errors.Wrap(err, "couldn't decode yaml configuration")
	}
	cleanupMaps(config.Store.Config)

	if config.Metadata != "" && !filepath.IsAbs(config.Metadata) {
		config.Metadata = filepath.Join(filepath.Dir(path), config.Metadata)
	}

	return config, nil
}

// LogPath returns the absolute path of the log file, or "" for stderr.
func (config *Config) LogPath() string {
	if config.Log.File == "" || filepath.IsAbs(config.Log.File) {
		return config.Log.File
	}
	return filepath.Join(Dir, config.Log.File)
}

// The yaml decoder creates maps of type map[interface{}]interface{} for non-string keys.
// cleanupMaps will change them to map[string]interface{}.
func cleanupMaps(config map[string]interface{}) {
	for k, v := range config {
		config[k] = cleanupMapsRecursive(v)
	}
}

func cleanupMapsRecursive(config interface{}) interface{} {
	switch config := config.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{})
		for k, v := range config {
			out[fmt.Sprintf("%v", k)] = cleanupMapsRecursive(v)
		}
		return out
	case map[string]interface{}:
		for k, v := range config {
			config[k] = cleanupMapsRecursive(v)
		}
	case []interface{}:
		for i := range config {
			config[i] = cleanupMapsRecursive(config[i])
		}
	}

	return config
}
