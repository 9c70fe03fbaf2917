// Package cli wires the khobor commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Adda-Baaj/khobor-collector/internal/config"
	"github.com/Adda-Baaj/khobor-collector/internal/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersionInfo records build metadata shown by the version command.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

// app carries state shared by every command of one process.
type app struct {
	v          *viper.Viper
	configFile string
	stdout     io.Writer
}

// NewRootCmd builds the command tree writing results to stdout.
func NewRootCmd(stdout io.Writer) *cobra.Command {
	a := &app{v: viper.New(), stdout: stdout}

	root := &cobra.Command{
		Use:           "khobor",
		Short:         "Category-based news collector for NewsAPI",
		Long:          "khobor pulls NewsAPI articles per category, de-duplicates them by content and merges category tags in a persistent store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "path to a YAML or JSON config file")
	pf.Bool("debug", false, "enable debug logging")
	pf.String("store", "sqlite", "storage backend (sqlite|bolt|mongo|firestore)")
	pf.String("db-path", "", "database file for the sqlite and bolt backends")
	a.bind(pf.Lookup("debug"), "debug")
	a.bind(pf.Lookup("store"), "store.backend")
	a.bind(pf.Lookup("db-path"), "store.path")

	root.AddCommand(a.newCollectCmd(), a.newBackfillCmd(), newVersionCmd(stdout))
	return root
}

// Execute runs the command tree with ctx and reports failures on stderr.
func Execute(ctx context.Context) int {
	root := NewRootCmd(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "khobor %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func (a *app) load() (config.Config, *logger.ZapLogger, error) {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
