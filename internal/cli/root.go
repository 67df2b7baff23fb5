// Package cli provides the queuectl command-line interface.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cuongbtq/media-vetting/internal/bootstrap"
	"github.com/cuongbtq/media-vetting/internal/config"
	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/shared/redisstore"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

// app carries what every command needs once PersistentPreRunE has run
type app struct {
	configPath string
	jsonOutput bool
	verbose    bool

	logger *slog.Logger
	store  *redisstore.Store
	core   *bootstrap.Core
}

// Option adjusts the root command, mainly for tests
type Option func(*app)

// WithCore skips config loading and uses an already built core
func WithCore(core *bootstrap.Core) Option {
	return func(a *app) { a.core = core }
}

// NewRootCmd builds the queuectl command tree
func NewRootCmd(opts ...Option) *cobra.Command {
	a := &app{}
	for _, opt := range opts {
		opt(a)
	}

	defaultConfigPath := os.Getenv("QUEUECTL_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}

	rootCmd := &cobra.Command{
		Use:   "queuectl",
		Short: "Inspect and control media vetting queues",
		Long: `queuectl talks directly to the Redis store shared by the worker and API services.

It reports queue counts, pauses, resumes and drains queues, shows individual
jobs and follows batch progress.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" || a.core != nil {
				return nil
			}
			return a.connect(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.store != nil {
				if err := a.store.Close(); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to close redis: %v\n", err)
				}
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath, "path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "print JSON instead of text")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(
		newStatsCmd(a),
		newPauseCmd(a),
		newResumeCmd(a),
		newDrainCmd(a),
		newJobCmd(a),
		newProgressCmd(a),
		newAbandonCmd(a),
	)

	return rootCmd
}

// Execute runs the command tree
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (a *app) connect(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateRedis(); err != nil {
		return err
	}

	level := "warn"
	if a.verbose {
		level = "debug"
	}
	appLogger, err := bootstrap.InitLogger(&config.LoggingConfig{Level: level, Format: "console", Output: "stderr"})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.logger = appLogger.Logger

	// one attempt is enough for an interactive tool
	cfg.Redis.Reconnect.ConnectAttempts = 1
	a.store, err = bootstrap.OpenStore(ctx, &cfg.Redis, a.logger)
	if err != nil {
		return err
	}

	a.core, err = bootstrap.NewCore(cfg, a.store, a.logger)
	if err != nil {
		_ = a.store.Close()
		a.store = nil
		return err
	}
	return nil
}

// kindArgs parses kind names; none means every kind
func kindArgs(args []string) ([]domain.Kind, error) {
	if len(args) == 0 {
		return domain.Kinds(), nil
	}
	kinds := make([]domain.Kind, 0, len(args))
	for _, arg := range args {
		kind, err := domain.ParseKind(arg)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func (a *app) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
