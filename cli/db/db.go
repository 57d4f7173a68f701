/*
Package db contains commands operating on the MPT state kept in the
configured database.
*/
package db

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nspcc-dev/neo-mpt/cli/options"
	"github.com/nspcc-dev/neo-mpt/pkg/core/mpt"
	"github.com/nspcc-dev/neo-mpt/pkg/core/stateroot"
	"github.com/nspcc-dev/neo-mpt/pkg/core/storage"
	"github.com/nspcc-dev/neo-mpt/pkg/util"
	"github.com/pierrec/lz4"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

// KVPair represents a key-value pair.
type KVPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

var errArgCount = errors.New("invalid number of arguments")

// NewCommands returns 'db' command.
func NewCommands() []cli.Command {
	hexFlag := []cli.Flag{options.Hex}
	return []cli.Command{{
		Name:  "db",
		Usage: "Operations with the MPT state stored in the database",
		Subcommands: []cli.Command{
			{
				Name:      "put",
				Usage:     "Put a value into the state creating a new height",
				ArgsUsage: "KEY VALUE",
				Action:    put,
				Flags:     hexFlag,
			},
			{
				Name:      "delete",
				Usage:     "Delete a key from the state creating a new height",
				ArgsUsage: "KEY",
				Action:    del,
				Flags:     hexFlag,
			},
			{
				Name:      "get",
				Usage:     "Get the value of a key from the current state",
				ArgsUsage: "KEY",
				Action:    get,
				Flags:     hexFlag,
			},
			{
				Name:      "find",
				Usage:     "List key-value pairs with keys starting with the prefix",
				ArgsUsage: "PREFIX",
				Action:    find,
				Flags:     hexFlag,
			},
			{
				Name:      "proof",
				Usage:     "Print the proof of a key in the current state, one hex-encoded node per line",
				ArgsUsage: "KEY",
				Action:    proof,
				Flags:     hexFlag,
			},
			{
				Name:      "verify",
				Usage:     "Verify the proof of a key against the state root",
				ArgsUsage: "ROOT KEY PROOF...",
				Action:    verify,
				Flags:     hexFlag,
			},
			{
				Name:   "root",
				Usage:  "Print the state root of the current or specified height",
				Action: root,
				Flags: []cli.Flag{
					cli.UintFlag{
						Name:  "height",
						Usage: "height of the state root (current if not set)",
					},
				},
			},
			{
				Name:   "dump",
				Usage:  "Dump all key-value pairs of the current state into a JSON file",
				Action: dump,
				Flags: []cli.Flag{
					cli.StringFlag{
						Name:  "out, o",
						Usage: "output file (kv_pairs.json if not set)",
					},
					cli.BoolFlag{
						Name:  "compress, c",
						Usage: "compress the output with lz4",
					},
				},
			},
		},
	}}
}

// initModule opens the configured database and initializes the state root
// module at the latest stored height. The returned function closes
// everything.
func initModule(ctx *cli.Context) (*stateroot.Module, func(), error) {
	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return nil, nil, cli.NewExitError(err, 1)
	}
	log, _, err := options.HandleLoggingParams(options.IsDebug(ctx), cfg.ApplicationConfiguration)
	if err != nil {
		return nil, nil, cli.NewExitError(err, 1)
	}
	store, err := storage.NewStore(cfg.ApplicationConfiguration.DBConfiguration)
	if err != nil {
		_ = log.Sync()
		return nil, nil, cli.NewExitError(fmt.Errorf("could not initialize storage: %w", err), 1)
	}
	closer := func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close the DB", zap.Error(err))
		}
		_ = log.Sync()
	}
	m := stateroot.NewModule(cfg.ApplicationConfiguration.StateRoot, log, storage.NewMemCachedStore(store))
	if err := m.InitLatest(); err != nil {
		closer()
		return nil, nil, cli.NewExitError(fmt.Errorf("could not initialize state: %w", err), 1)
	}
	return m, closer, nil
}

func parseArgs(ctx *cli.Context, n int) ([][]byte, error) {
	args := ctx.Args()
	if len(args) != n {
		return nil, cli.NewExitError(fmt.Errorf("%w: expected %d, got %d", errArgCount, n, len(args)), 1)
	}
	res := make([][]byte, n)
	for i := range args {
		b, err := options.ParseBytes(ctx, args[i])
		if err != nil {
			return nil, cli.NewExitError(err, 1)
		}
		res[i] = b
	}
	return res, nil
}

func applyChange(ctx *cli.Context, key, value []byte) error {
	m, closer, err := initModule(ctx)
	if err != nil {
		return err
	}
	defer closer()

	var b mpt.Batch
	b.Add(key, value)
	index := m.CurrentLocalHeight() + 1
	if err := m.AddMPTBatch(index, b); err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintf(ctx.App.Writer, "height: %d\nroot: %s\n", index, m.CurrentLocalStateRoot().StringLE())
	return nil
}

func put(ctx *cli.Context) error {
	args, err := parseArgs(ctx, 2)
	if err != nil {
		return err
	}
	return applyChange(ctx, args[0], args[1])
}

func del(ctx *cli.Context) error {
	args, err := parseArgs(ctx, 1)
	if err != nil {
		return err
	}
	return applyChange(ctx, args[0], nil)
}

func get(ctx *cli.Context) error {
	args, err := parseArgs(ctx, 1)
	if err != nil {
		return err
	}
	m, closer, err := initModule(ctx)
	if err != nil {
		return err
	}
	defer closer()

	v, err := m.GetState(m.CurrentLocalStateRoot(), args[0])
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintln(ctx.App.Writer, options.FormatBytes(ctx, v))
	return nil
}

func find(ctx *cli.Context) error {
	if len(ctx.Args()) > 1 {
		return cli.NewExitError(errArgCount, 1)
	}
	prefix, err := options.ParseBytes(ctx, ctx.Args().First())
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	m, closer, err := initModule(ctx)
	if err != nil {
		return err
	}
	defer closer()

	kvs, err := m.FindStates(m.CurrentLocalStateRoot(), prefix)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	for _, kv := range kvs {
		fmt.Fprintf(ctx.App.Writer, "%s: %s\n", options.FormatBytes(ctx, kv.Key), options.FormatBytes(ctx, kv.Value))
	}
	return nil
}

func proof(ctx *cli.Context) error {
	args, err := parseArgs(ctx, 1)
	if err != nil {
		return err
	}
	m, closer, err := initModule(ctx)
	if err != nil {
		return err
	}
	defer closer()

	ps, err := m.GetStateProof(m.CurrentLocalStateRoot(), args[0])
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	for _, p := range ps {
		fmt.Fprintln(ctx.App.Writer, hex.EncodeToString(p))
	}
	return nil
}

func verify(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) < 3 {
		return cli.NewExitError(errArgCount, 1)
	}
	rh, err := util.Uint256DecodeStringLE(strings.TrimPrefix(args[0], "0x"))
	if err != nil {
		return cli.NewExitError(fmt.Errorf("invalid root: %w", err), 1)
	}
	key, err := options.ParseBytes(ctx, args[1])
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	ps := make([][]byte, 0, len(args)-2)
	for _, s := range args[2:] {
		p, err := hex.DecodeString(s)
		if err != nil {
			return cli.NewExitError(fmt.Errorf("invalid proof node: %w", err), 1)
		}
		ps = append(ps, p)
	}
	v, ok := mpt.VerifyProof(rh, key, ps)
	if !ok {
		return cli.NewExitError("proof is invalid", 1)
	}
	fmt.Fprintln(ctx.App.Writer, options.FormatBytes(ctx, v))
	return nil
}

func root(ctx *cli.Context) error {
	m, closer, err := initModule(ctx)
	if err != nil {
		return err
	}
	defer closer()

	height := m.CurrentLocalHeight()
	if ctx.IsSet("height") {
		height = uint32(ctx.Uint("height"))
	}
	sr, err := m.GetStateRoot(height)
	if err != nil {
		return cli.NewExitError(fmt.Errorf("no state root at %d: %w", height, err), 1)
	}
	data, err := json.Marshal(sr)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintln(ctx.App.Writer, string(data))
	return nil
}

func dump(ctx *cli.Context) error {
	m, closer, err := initModule(ctx)
	if err != nil {
		return err
	}
	defer closer()

	outputFile := ctx.String("out")
	if outputFile == "" {
		outputFile = "kv_pairs.json"
	}
	file, err := os.Create(outputFile)
	if err != nil {
		return cli.NewExitError(fmt.Errorf("error creating file: %w", err), 1)
	}
	defer file.Close()

	kvs, err := m.FindStates(m.CurrentLocalStateRoot(), nil)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	pairs := make([]KVPair, len(kvs))
	for i := range kvs {
		pairs[i] = KVPair{
			Key:   hex.EncodeToString(kvs[i].Key),
			Value: hex.EncodeToString(kvs[i].Value),
		}
	}
	var (
		w  io.Writer = file
		zw *lz4.Writer
	)
	if ctx.Bool("compress") {
		zw = lz4.NewWriter(file)
		w = zw
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(pairs); err != nil {
		return cli.NewExitError(fmt.Errorf("error encoding key-value pairs: %w", err), 1)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return cli.NewExitError(fmt.Errorf("error compressing key-value pairs: %w", err), 1)
		}
	}
	fmt.Fprintf(ctx.App.Writer, "%d key-value pairs dumped to %s\n", len(pairs), outputFile)
	return nil
}
