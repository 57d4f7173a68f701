package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nspcc-dev/neo-mpt/cli/app"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

// executor represents context for a test instance.
// It can be safely used in multiple tests, but not in parallel.
type executor struct {
	// CLI is a cli application to test.
	CLI *cli.App
	// ConfigFile is the path to the config file used by the commands.
	ConfigFile string
	// Out contains command output.
	Out *bytes.Buffer
	// Err contains command errors.
	Err *bytes.Buffer
}

// newExecutor creates an executor with the config using the DB of the given
// type located in a temporary directory.
func newExecutor(t *testing.T, dbType string, keepLatest bool) *executor {
	dir := t.TempDir()
	cfg := `ApplicationConfiguration:
  DBConfiguration:
    Type: "` + dbType + `"
    LevelDBOptions:
      DataDirectoryPath: "` + filepath.Join(dir, "leveldb") + `"
    BoltDBOptions:
      FilePath: "` + filepath.Join(dir, "mpt.bolt") + `"
  LogPath: "` + filepath.Join(dir, "mpt.log") + `"
  StateRoot:
    KeepOnlyLatestState: ` + map[bool]string{false: "false", true: "true"}[keepLatest] + `
`
	cfgPath := filepath.Join(dir, "mpt.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	e := &executor{
		CLI:        app.New(),
		ConfigFile: cfgPath,
		Out:        bytes.NewBuffer(nil),
		Err:        bytes.NewBuffer(nil),
	}
	e.CLI.Writer = e.Out
	e.CLI.ErrWriter = e.Err
	return e
}

func (e *executor) getNextLine(t *testing.T) string {
	line, err := e.Out.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\n")
}

func (e *executor) checkNextLine(t *testing.T, expected string) {
	line := e.getNextLine(t)
	e.checkLine(t, line, expected)
}

func (e *executor) checkLine(t *testing.T, line, expected string) {
	require.Regexp(t, expected, line)
}

func (e *executor) checkEOF(t *testing.T) {
	_, err := e.Out.ReadString('\n')
	require.True(t, errors.Is(err, io.EOF))
}

func setExitFunc() <-chan int {
	ch := make(chan int, 1)
	cli.OsExiter = func(code int) {
		ch <- code
	}
	return ch
}

func checkExit(t *testing.T, ch <-chan int, code int) {
	select {
	case c := <-ch:
		require.Equal(t, code, c)
	default:
		if code != 0 {
			require.Fail(t, "no exit was called")
		}
	}
}

// RunWithError runs command and checks that is exits with error.
func (e *executor) RunWithError(t *testing.T, args ...string) {
	ch := setExitFunc()
	require.Error(t, e.run(args...))
	checkExit(t, ch, 1)
}

// Run runs command and checks that there were no errors.
func (e *executor) Run(t *testing.T, args ...string) {
	ch := setExitFunc()
	require.NoError(t, e.run(args...))
	checkExit(t, ch, 0)
}

// RunDB runs the 'db' subcommand with the executor's config.
func (e *executor) RunDB(t *testing.T, args ...string) {
	e.Run(t, append([]string{"neo-mpt", "--config-file", e.ConfigFile, "db"}, args...)...)
}

// RunDBWithError runs the 'db' subcommand with the executor's config and
// checks that it fails.
func (e *executor) RunDBWithError(t *testing.T, args ...string) {
	e.RunWithError(t, append([]string{"neo-mpt", "--config-file", e.ConfigFile, "db"}, args...)...)
}

func (e *executor) run(args ...string) error {
	e.Out.Reset()
	e.Err.Reset()
	return e.CLI.Run(args)
}
