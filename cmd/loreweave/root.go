package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/ZanzyTHEbar/loreweave/loom/config"
	"github.com/ZanzyTHEbar/loreweave/loom/weave"
	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app carries state shared by all subcommands.
type app struct {
	cfgFile   string
	cfg       *config.Config
	logger    zerolog.Logger
	completer ports.Completer // nil uses the configured OpenAI client
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "loreweave",
		Short: "Token-budgeted conversation memory for chat models",
		Long: "loreweave keeps a conversation inside a model's context window, " +
			"summarizing older history once the turn budget runs out.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(cfg.Log, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file path (default ./loreweave.yaml)")

	rootCmd.AddCommand(newWeaveCmd(a))
	rootCmd.AddCommand(newBudgetCmd(a))
	rootCmd.AddCommand(newHistoryCmd(a))
	rootCmd.AddCommand(newModelsCmd())

	return rootCmd
}

func newLogger(lc config.LogConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil || lc.Level == "" {
		level = zerolog.InfoLevel
	}
	if w == nil {
		w = os.Stderr
	}
	if lc.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// manager builds a Manager for one command invocation.
func (a *app) manager(ctx context.Context) (*weave.Manager, func() error, error) {
	return weave.NewFactory(a.cfg, a.logger).
		WithCompleter(a.completer).
		CreateManager(ctx)
}
