package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/hyperengineering/oracle/internal/importer"
	"github.com/hyperengineering/oracle/internal/storage"
	"github.com/hyperengineering/oracle/internal/store"
	"github.com/hyperengineering/oracle/internal/types"
	"github.com/spf13/cobra"
)

var (
	importMultiline  bool
	importJSONOutput bool
)

var importCmd = &cobra.Command{
	Use:   "import <format> <deck> <file>",
	Short: "Replace a deck's cards with the contents of an export file",
	Long: `Import parses a deck export and replaces every card in the named deck.
The deck must already exist. Replacement is all-or-nothing.

Formats: ` + strings.Join(importer.Formats(), ", ") + `

Pass "-" as the deck to use the format's default deck name.`,
	Args: cobra.ExactArgs(3),
	RunE: runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importMultiline, "multiline", false,
		"Allow quoted CSV fields to span lines")
	importCmd.Flags().BoolVar(&importJSONOutput, "json", false,
		"Output the import result as JSON")
}

func runImport(cmd *cobra.Command, args []string) error {
	format, deckName, path := args[0], args[1], args[2]
	if !slices.Contains(importer.Formats(), format) {
		return fmt.Errorf("%w: %q (expected one of %s)", importer.ErrUnknownFormat,
			format, strings.Join(importer.Formats(), ", "))
	}
	if deckName == "-" {
		deckName = ""
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	archiver, err := storage.NewArchiver(cfg.Storage)
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	im := importer.New(db, archiver, cfg.Import.BatchSize)
	res, err := im.Import(cmd.Context(), importer.Request{
		Format:    format,
		DeckName:  deckName,
		FileName:  filepath.Base(path),
		Data:      data,
		Multiline: importMultiline || cfg.Import.Multiline,
		Progress: func(p types.BatchProgress) {
			if !importJSONOutput {
				fmt.Fprintf(cmd.ErrOrStderr(), "batch %d/%d: %d/%d cards\n",
					p.Batch, p.Batches, p.Inserted, p.Total)
			}
		},
	})
	if err != nil {
		return err
	}

	if importJSONOutput {
		return printJSON(out, res)
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(out, "%s %s\n", color.YellowString("warning:"), w)
	}
	fmt.Fprintf(out, "%s %d of %d cards into %q in %d batches\n",
		color.GreenString("Imported"), res.Imported, res.Parsed, res.DeckName, res.Batches)
	if res.Archive != "" {
		fmt.Fprintf(out, "archived to %s\n", res.Archive)
	}
	return nil
}
