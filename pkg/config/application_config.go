package config

import (
	"errors"
	"fmt"

	"github.com/nspcc-dev/neo-mpt/pkg/core/storage/dbconfig"
	"go.uber.org/zap/zapcore"
)

// ApplicationConfiguration is the config specific to the tool.
type ApplicationConfiguration struct {
	DBConfiguration dbconfig.DBConfiguration `yaml:"DBConfiguration"`

	LogLevel string `yaml:"LogLevel"`
	LogPath  string `yaml:"LogPath"`

	Pprof      BasicService `yaml:"Pprof"`
	Prometheus BasicService `yaml:"Prometheus"`
	StateRoot  StateRoot    `yaml:"StateRoot"`
}

// StateRoot contains settings of the state root module.
type StateRoot struct {
	// KeepOnlyLatestState makes the trie drop nodes that are no longer
	// referenced by the latest state.
	KeepOnlyLatestState bool `yaml:"KeepOnlyLatestState"`
	// CacheSize is the number of resolved trie nodes kept in memory.
	CacheSize int `yaml:"CacheSize"`
}

// Validate checks ApplicationConfiguration for internal consistency and returns
// an error if any invalid settings are found.
func (a *ApplicationConfiguration) Validate() error {
	switch a.DBConfiguration.Type {
	case dbconfig.LevelDB:
		if a.DBConfiguration.LevelDBOptions.DataDirectoryPath == "" {
			return errors.New("LevelDB path is not set")
		}
	case dbconfig.BoltDB:
		if a.DBConfiguration.BoltDBOptions.FilePath == "" {
			return errors.New("BoltDB file path is not set")
		}
	case dbconfig.InMemoryDB:
	default:
		return fmt.Errorf("unknown storage type: %q", a.DBConfiguration.Type)
	}
	if len(a.LogLevel) > 0 {
		if _, err := zapcore.ParseLevel(a.LogLevel); err != nil {
			return fmt.Errorf("invalid LogLevel: %w", err)
		}
	}
	if a.StateRoot.CacheSize < 0 {
		return fmt.Errorf("negative StateRoot.CacheSize: %d", a.StateRoot.CacheSize)
	}
	for name, srv := range map[string]BasicService{
		"Pprof":      a.Pprof,
		"Prometheus": a.Prometheus,
	} {
		if srv.Enabled && len(srv.Addresses) == 0 {
			return fmt.Errorf("%s is enabled, but no Addresses are set", name)
		}
	}
	return nil
}
