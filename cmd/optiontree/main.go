// Package main provides the optiontree CLI.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"optiontree/service"
	"optiontree/store"
)

// Version is the current optiontree CLI version.
var Version = "0.1.0"

const (
	configFileName = ".optiontree"
	configFileType = "yaml"
	defaultDSN     = "optiontree.db"
)

// app carries the state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:          "optiontree",
		Short:        "Manage hierarchical option sets",
		Long:         `optiontree edits and inspects option sets: ranked trees of selectable options stored in SQLite or PostgreSQL.`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.optiontree.yaml)")
	flags.String("dsn", defaultDSN, "database DSN: a SQLite path or a postgres:// URL")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log engine activity to stderr")
	a.v.BindPFlag("dsn", flags.Lookup("dsn"))

	root.AddCommand(
		newSetsCmd(a),
		newInitSetCmd(a),
		newApplyCmd(a),
		newShowCmd(a),
		newExportCmd(a),
		newResolveCmd(a),
		newFindCmd(a),
		newDestroyCmd(a),
		newAnswerCmd(a),
		newTokenCmd(a),
		newHashKeyCmd(),
	)
	return root
}

// initConfig reads the config file and OPTIONTREE_* environment variables.
// A missing default config file is not an error.
func (a *app) initConfig() error {
	a.v.SetEnvPrefix("OPTIONTREE")
	a.v.AutomaticEnv()
	a.v.SetDefault("jwt_issuer", "optiontree")
	a.v.SetDefault("huge_threshold", 100)
	a.v.SetDefault("truncated_count", 10)

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", a.cfgFile, err)
		}
		return nil
	}

	home, err := homedir.Dir()
	if err != nil {
		return fmt.Errorf("finding home directory: %w", err)
	}
	a.v.AddConfigPath(home)
	a.v.SetConfigName(configFileName)
	a.v.SetConfigType(configFileType)
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

func (a *app) logger(cmd *cobra.Command) *slog.Logger {
	if !a.verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// open opens the configured database and a service over it. The caller
// closes the returned DB.
func (a *app) open(cmd *cobra.Command) (*store.DB, *service.Service, error) {
	dsn, err := homedir.Expand(a.v.GetString("dsn"))
	if err != nil {
		return nil, nil, fmt.Errorf("expanding dsn: %w", err)
	}
	if dir := filepath.Dir(dsn); dsn != ":memory:" && !isPostgres(dsn) && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := store.Open(dsn)
	if err != nil {
		return nil, nil, err
	}
	svc := service.New(db, service.Options{
		Logger:         a.logger(cmd),
		HugeThreshold:  a.v.GetInt("huge_threshold"),
		TruncatedCount: a.v.GetInt("truncated_count"),
	})
	return db, svc, nil
}
