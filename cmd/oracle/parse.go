package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/hyperengineering/oracle/internal/importer"
	"github.com/spf13/cobra"
)

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Parse a flat-text card document and print the cards as JSON",
	Long:  `Parse reads a flat-text card document ("-" for stdin) and writes the cards as a JSON array to stdout. Warnings go to stderr.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runParse,
}

func runParse(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	parsed, err := importer.ParseFlatText(string(data))
	if err != nil {
		return err
	}

	for _, w := range parsed.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", color.YellowString("warning:"), w)
	}
	return printJSON(cmd.OutOrStdout(), parsed.Cards)
}
