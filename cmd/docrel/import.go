package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andreyvit/docrel"
	"github.com/andreyvit/docrel/docval"
)

var importCmd = &cobra.Command{
	Use:   "import <database> <collection> [file...]",
	Short: "Insert documents from JSON Lines or JSON files",
	Long: `Inserts documents read from the given files, or from standard input when
none are given. With --format jsonl every non-empty line is one document;
with --format json each file holds one document. Comments and trailing commas
are accepted in both.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runImport,
}

func init() {
	importCmd.Flags().String("format", "jsonl", "input format (jsonl, json)")
	importCmd.Flags().Int("batch", 100, "documents per transaction")
	importCmd.Flags().Bool("print-dids", false, "print the did of every inserted document")
}

func runImport(cmd *cobra.Command, args []string) error {
	database, collection, files := args[0], args[1], args[2:]
	format := viper.GetString("format")
	batch := max(viper.GetInt("batch"), 1)

	var docs []*docval.Document
	if len(files) == 0 {
		d, err := readDocuments(os.Stdin, format)
		if err != nil {
			return fmt.Errorf("stdin: %w", err)
		}
		docs = d
	}
	for _, fn := range files {
		f, err := os.Open(fn)
		if err != nil {
			return err
		}
		d, err := readDocuments(f, format)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", fn, err)
		}
		docs = append(docs, d...)
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	for start := 0; start < len(docs); start += batch {
		chunk := docs[start:min(start+batch, len(docs))]
		var dids []int64
		err := db.Update(ctx, func(tx *docrel.Tx) error {
			dids = dids[:0]
			for _, doc := range chunk {
				did, err := tx.Insert(ctx, database, collection, doc)
				if err != nil {
					return err
				}
				dids = append(dids, did)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("documents %d..%d: %w", start+1, start+len(chunk), err)
		}
		if viper.GetBool("print-dids") {
			for _, did := range dids {
				fmt.Fprintln(out, did)
			}
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "imported %d documents into %s.%s\n", len(docs), database, collection)
	return nil
}

// readDocuments parses r as JSON Lines (format "jsonl") or as a single
// document (format "json").
func readDocuments(r io.Reader, format string) ([]*docval.Document, error) {
	switch format {
	case "json":
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		doc, err := docval.ParseDocument(data)
		if err != nil {
			return nil, err
		}
		return []*docval.Document{doc}, nil
	case "jsonl":
		var docs []*docval.Document
		sc := bufio.NewScanner(r)
		sc.Buffer(nil, 64*1024*1024)
		for line := 1; sc.Scan(); line++ {
			data := bytes.TrimSpace(sc.Bytes())
			if len(data) == 0 {
				continue
			}
			doc, err := docval.ParseDocument(data)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			docs = append(docs, doc)
		}
		return docs, sc.Err()
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
