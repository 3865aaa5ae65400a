package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andreyvit/docrel/docval"
)

var getCmd = &cobra.Command{
	Use:   "get <database> <collection> <did...>",
	Short: "Print documents rebuilt from their rows",
	Args:  cobra.MinimumNArgs(3),
	RunE:  runGet,
}

func init() {
	getCmd.Flags().Bool("indent", false, "pretty-print the output")
}

func runGet(cmd *cobra.Command, args []string) error {
	database, collection := args[0], args[1]
	dids := make([]int64, 0, len(args)-2)
	for _, s := range args[2:] {
		did, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid did %q", s)
		}
		dids = append(dids, did)
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	for _, did := range dids {
		doc, err := db.Get(cmd.Context(), database, collection, did)
		if err != nil {
			return fmt.Errorf("did %d: %w", did, err)
		}
		data, err := docval.AppendJSON(nil, doc)
		if err != nil {
			return err
		}
		if viper.GetBool("indent") {
			var buf bytes.Buffer
			if err := json.Indent(&buf, data, "", "  "); err != nil {
				return err
			}
			data = buf.Bytes()
		}
		fmt.Fprintf(out, "%s\n", data)
	}
	return nil
}
