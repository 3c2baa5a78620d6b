package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/agentic-research/arbor/api"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// globals carries the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	backend    string
	baseDir    string
	database   string
	dataset    string
	hierarchy  []string
	logLevel   string

	log *logrus.Logger
}

// NewRootCmd builds the command tree. Output goes to the command's writers so
// tests can capture it.
func NewRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "arbor",
		Short:         "Arbor: hierarchical dataset trees over pluggable storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLogger(cmd.ErrOrStderr(), g.logLevel)
			if err != nil {
				return err
			}
			g.log = l
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&g.configPath, "config", "c", "", "Path to a JSON configuration file")
	f.StringVar(&g.backend, "backend", "", "Storage backend: file_system, sqlite or bids")
	f.StringVarP(&g.baseDir, "base-dir", "b", "", "Directory holding the datasets")
	f.StringVar(&g.database, "database", "", "SQLite database file (sqlite backend)")
	f.StringVarP(&g.dataset, "dataset", "d", "", "Dataset ID or absolute path")
	f.StringSliceVar(&g.hierarchy, "hierarchy", nil, "Storage levels, outer to inner (e.g. subject,session)")
	f.StringVar(&g.logLevel, "log-level", "warning", "Log level: debug, info, warning or error")

	root.AddCommand(newNodesCmd(g), newFieldCmd(g), newFileCmd(g))
	return root
}

func newLogger(w io.Writer, level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return l, nil
}

// config merges the configuration file with flags; flags set on the command
// line win.
func (g *globals) config(cmd *cobra.Command) (*api.Config, error) {
	c := &api.Config{}
	if g.configPath != "" {
		loaded, err := api.Load(g.configPath)
		if err != nil {
			return nil, err
		}
		c = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		c.Backend = g.backend
	}
	if flags.Changed("base-dir") {
		c.BaseDir = g.baseDir
	}
	if flags.Changed("database") {
		c.Database = g.database
	}
	if flags.Changed("dataset") {
		c.Dataset = g.dataset
	}
	if flags.Changed("hierarchy") {
		c.Hierarchy = g.hierarchy
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	g.log.WithFields(logrus.Fields{
		"backend": c.Backend,
		"dataset": c.Dataset,
	}).Debug("configuration resolved")
	return c, nil
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func lockTimeout(c *api.Config) time.Duration { return time.Duration(c.LockTimeout) }
