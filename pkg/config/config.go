package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nspcc-dev/neo-mpt/pkg/core/mpt"
	"github.com/nspcc-dev/neo-mpt/pkg/core/storage/dbconfig"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the default path to the config file.
const DefaultConfigPath = "./config/neo-mpt.yml"

// Version is the version of the tool, set at build time.
var Version = "dev"

// Config is the top level struct representing the config for the tool.
type Config struct {
	ApplicationConfiguration ApplicationConfiguration `yaml:"ApplicationConfiguration"`
}

// Default returns the configuration used when no file is given, it keeps
// everything in memory.
func Default() Config {
	return Config{
		ApplicationConfiguration: ApplicationConfiguration{
			DBConfiguration: dbconfig.DBConfiguration{
				Type: dbconfig.InMemoryDB,
			},
			StateRoot: StateRoot{
				CacheSize: mpt.DefaultCacheSize,
			},
		},
	}
}

// Load attempts to load the config from the given path, DefaultConfigPath
// is used if it's empty.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	return LoadFile(path, "")
}

// LoadFile loads config from the provided path. If relativePath is not empty,
// it is prepended to all relative paths found in the file.
func LoadFile(configPath string, relativePath string) (Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config '%s' doesn't exist", configPath)
	}

	configData, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config: %w", err)
	}

	config := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(configData))
	decoder.KnownFields(true)
	err = decoder.Decode(&config)
	if err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if relativePath != "" {
		updateRelativePaths(relativePath, &config)
	}

	err = config.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// updateRelativePaths updates relative paths in the config structure based
// on the provided relative path.
func updateRelativePaths(relativePath string, config *Config) {
	updatePath := func(path *string) {
		if *path != "" && !filepath.IsAbs(*path) {
			*path = filepath.Join(relativePath, *path)
		}
	}

	updatePath(&config.ApplicationConfiguration.LogPath)
	updatePath(&config.ApplicationConfiguration.DBConfiguration.LevelDBOptions.DataDirectoryPath)
	updatePath(&config.ApplicationConfiguration.DBConfiguration.BoltDBOptions.FilePath)
}

// Validate checks the whole config for consistency.
func (c Config) Validate() error {
	return c.ApplicationConfiguration.Validate()
}
