package main

import (
	"fmt"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the schema catalog as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		dump := db.Snapshot().Dump()
		if out := viper.GetString("out"); out != "" {
			return atomic.WriteFile(out, strings.NewReader(dump))
		}
		fmt.Fprint(cmd.OutOrStdout(), dump)
		return nil
	},
}

func init() {
	schemaCmd.Flags().String("out", "", "write to this file instead of standard output")
}
