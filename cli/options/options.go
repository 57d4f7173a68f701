/*
Package options contains a set of common CLI options and helper functions to use them.
*/
package options

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/nspcc-dev/neo-mpt/pkg/config"
	"github.com/nspcc-dev/neo-mpt/pkg/io"
	"github.com/urfave/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ConfigFile is a flag for commands that use the tool configuration.
var ConfigFile = cli.StringFlag{
	Name:  "config-file",
	Usage: "path to the configuration file (" + config.DefaultConfigPath + " is used if present, in-memory DB otherwise)",
}

// RelativePath is a flag for commands that use configuration and provide
// a prefix to all relative paths in config files.
var RelativePath = cli.StringFlag{
	Name:  "relative-path",
	Usage: "a prefix to all relative paths in the configuration file",
}

// Debug is a flag for commands that allow debug logging.
var Debug = cli.BoolFlag{
	Name:  "debug, d",
	Usage: "enable debug logging (LOTS of output, overrides configuration)",
}

// Hex is a flag for commands accepting keys and values, it makes them
// hex-encoded.
var Hex = cli.BoolFlag{
	Name:  "hex",
	Usage: "keys and values are hex-encoded (raw strings are used by default)",
}

// Common is a set of global flags of the tool.
var Common = []cli.Flag{ConfigFile, RelativePath, Debug}

func stringFlag(ctx *cli.Context, name string) string {
	if s := ctx.String(name); s != "" {
		return s
	}
	return ctx.GlobalString(name)
}

// IsDebug returns true if debug logging is requested either for the command
// or globally.
func IsDebug(ctx *cli.Context) bool {
	return ctx.Bool("debug") || ctx.GlobalBool("debug")
}

// GetConfigFromContext looks at the config flags in the given context and
// returns an appropriate config.
func GetConfigFromContext(ctx *cli.Context) (config.Config, error) {
	var (
		configFile   = stringFlag(ctx, "config-file")
		relativePath = stringFlag(ctx, "relative-path")
	)
	if len(configFile) != 0 {
		return config.LoadFile(configFile, relativePath)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.LoadFile(config.DefaultConfigPath, relativePath)
	}
	return config.Default(), nil
}

// ParseBytes decodes a command-line argument into a key or value according
// to the hex flag.
func ParseBytes(ctx *cli.Context, s string) ([]byte, error) {
	if !ctx.Bool("hex") {
		return []byte(s), nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex string %q: %w", s, err)
	}
	return b, nil
}

// FormatBytes encodes a key or value for output according to the hex flag.
func FormatBytes(ctx *cli.Context, b []byte) string {
	if ctx.Bool("hex") {
		return hex.EncodeToString(b)
	}
	return string(b)
}

// HandleLoggingParams reads logging parameters.
// If a user selected debug level -- function enables it.
// If logPath is configured -- function creates a dir and a file for logging.
func HandleLoggingParams(debug bool, cfg config.ApplicationConfiguration) (*zap.Logger, *zap.AtomicLevel, error) {
	var (
		level = zapcore.InfoLevel
		err   error
	)
	if len(cfg.LogLevel) > 0 {
		level, err = zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, fmt.Errorf("log setting: %w", err)
		}
	}
	if debug {
		level = zapcore.DebugLevel
	}

	cc := zap.NewProductionConfig()
	cc.DisableCaller = true
	cc.DisableStacktrace = true
	cc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cc.Encoding = "console"
	cc.Level = zap.NewAtomicLevelAt(level)
	cc.Sampling = nil

	if logPath := cfg.LogPath; logPath != "" {
		if err := io.MakeDirForFile(logPath, "logger"); err != nil {
			return nil, nil, err
		}
		cc.OutputPaths = []string{logPath}
	}

	log, err := cc.Build()
	return log, &cc.Level, err
}
