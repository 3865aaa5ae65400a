package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andreyvit/docrel"
	"github.com/andreyvit/docrel/rid"
)

const Version = "0.3.0"

var (
	rootCmd = &cobra.Command{
		Use:   "docrel",
		Short: "store JSON documents in relational form",
		Long: fmt.Sprintf(`docrel (v%s)

Stores schemaless JSON documents as rows of per-shape tables, growing the
schema as documents arrive.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of docrel",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("docrel v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("db", "docrel.db", "path of the database file")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Duration("open-timeout", 10*time.Second, "how long to wait for the database file lock")
	flags.Int64("rid-pool", rid.DefaultPool, "row ids to reserve at once per doc part")
	flags.Int("max-commit-attempts", docrel.DefaultMaxCommitAttempts, "how many times to redo a transaction after a schema conflict")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig loads env files and makes DOCREL_* variables override flag
// defaults.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("docrel")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	logger, err := newLogger(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      lvl,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})), nil
}

func openDB() (*docrel.DB, error) {
	return docrel.Open(viper.GetString("db"), docrel.Options{
		Logger:            slog.Default(),
		OpenTimeout:       viper.GetDuration("open-timeout"),
		Pool:              viper.GetInt64("rid-pool"),
		MaxCommitAttempts: viper.GetInt("max-commit-attempts"),
	})
}
