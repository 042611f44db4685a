package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"neuroevo/internal/config"
	"neuroevo/pkg/neuroevo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

type globalOptions struct {
	logFormat string
	logLevel  string
	storeKind string
	storePath string

	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "neuroevoctl",
		Short:         "Evolve fixed-topology neural network controllers with a genetic algorithm",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logFormat, opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&opts.storeKind, "store", "", "store backend: memory, file or sqlite (default from config, else memory)")
	flags.StringVar(&opts.storePath, "store-path", "", "directory for the file store or database path for sqlite")

	root.AddCommand(
		newRunCmd(opts),
		newRunsCmd(opts),
		newHistoryCmd(opts),
		newGenotypeCmd(opts),
	)
	return root
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q: want text or json", format)
	}
}

// openClient resolves the store from flags first, then from the config file
// at configPath when one is given.
func (o *globalOptions) openClient(ctx context.Context, configPath string, opts neuroevo.Options) (*neuroevo.Client, error) {
	kind, path := o.storeKind, o.storePath
	if kind == "" && configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		kind, path = cfg.Store.Kind, cfg.Store.Path
	}
	opts.StoreKind = kind
	opts.StorePath = path
	opts.Logger = o.logger
	client, err := neuroevo.New(opts)
	if err != nil {
		return nil, err
	}
	if err := client.Init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func closeClient(client *neuroevo.Client, errp *error) {
	if err := client.Close(); err != nil {
		*errp = errors.Join(*errp, err)
	}
}
