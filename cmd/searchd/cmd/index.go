package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"searchd/internal/engine"
)

// ingestBatchSize bounds how many documents go into one engine batch.
const ingestBatchSize = 100

func newIndexCmd() *cobra.Command {
	var location string

	cmd := &cobra.Command{
		Use:   "index <dir>",
		Short: "Build a search index from a directory of documents",
		Long: `Build (or extend) a Bleve index on disk from the documents under
<dir>, so it can later be registered with PUT /<name>?path=<location>.

Files ending in .json are indexed field-by-field from their top-level
object; any other regular file is indexed as a single "content" field.
Document IDs are paths relative to <dir>.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), args[0], location)
		},
	}

	cmd.Flags().StringVar(&location, "path", "", "Index location on disk (required)")
	_ = cmd.MarkFlagRequired("path")

	return cmd
}

func runIndex(ctx context.Context, dir, location string) error {
	idx, err := openOrCreate(location)
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()

	var batch []engine.Document
	var total int

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := idx.Index(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		doc, err := readDocument(path, rel)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		batch = append(batch, doc)
		if len(batch) >= ingestBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	fmt.Printf("indexed %d documents into %s\n", total, location)
	return nil
}

// openOrCreate opens an existing index at location or creates a new one.
func openOrCreate(location string) (*engine.Index, error) {
	idx, err := engine.Open("ingest", location)
	if err == nil {
		return idx, nil
	}
	return engine.Create("ingest", location)
}

// readDocument turns one file into an indexable document. JSON files
// contribute their top-level object as fields; everything else is
// indexed as plain text content.
func readDocument(path, id string) (engine.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.Document{}, err
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var fields map[string]interface{}
		if err := json.Unmarshal(data, &fields); err == nil {
			return engine.Document{ID: id, Fields: fields}, nil
		}
		// Malformed JSON falls through to plain-text indexing.
	}

	return engine.Document{
		ID:     id,
		Fields: map[string]interface{}{"content": string(data)},
	}, nil
}
