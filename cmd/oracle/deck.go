package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/hyperengineering/oracle/internal/manifest"
	"github.com/hyperengineering/oracle/internal/store"
	"github.com/hyperengineering/oracle/internal/types"
	"github.com/hyperengineering/oracle/internal/validation"
	"github.com/spf13/cobra"
)

var (
	deckJSONOutput  bool
	deckDescription string
	deckIsFree      bool
	deckIsStarter   bool
	deckProductIDs  []string
	deckIfNotExists bool
	deckSeedDryRun  bool
)

var deckCmd = &cobra.Command{
	Use:   "deck",
	Short: "Manage decks",
	Long:  "List, create, and seed decks directly against the database without running the server.",
}

var deckListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all decks",
	Args:  cobra.NoArgs,
	RunE:  runDeckList,
}

var deckCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new deck",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeckCreate,
}

var deckSeedCmd = &cobra.Command{
	Use:   "seed <manifest.toml>",
	Short: "Create the decks listed in a TOML manifest",
	Long:  "Create every [[deck]] in the manifest that does not exist yet. Existing decks are left untouched.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeckSeed,
}

func init() {
	deckCmd.PersistentFlags().BoolVar(&deckJSONOutput, "json", false,
		"Output in JSON format")

	deckCreateCmd.Flags().StringVar(&deckDescription, "description", "",
		"Human-readable description")
	deckCreateCmd.Flags().BoolVar(&deckIsFree, "free", false,
		"Deck is available without purchase")
	deckCreateCmd.Flags().BoolVar(&deckIsStarter, "starter", false,
		"Deck is offered to new users")
	deckCreateCmd.Flags().StringSliceVar(&deckProductIDs, "product-id", nil,
		"Store product ID unlocking the deck (repeatable)")
	deckCreateCmd.Flags().BoolVar(&deckIfNotExists, "if-not-exists", false,
		"Exit 0 if deck already exists")

	deckSeedCmd.Flags().BoolVar(&deckSeedDryRun, "dry-run", false,
		"Validate the manifest without touching the database")

	deckCmd.AddCommand(deckListCmd)
	deckCmd.AddCommand(deckCreateCmd)
	deckCmd.AddCommand(deckSeedCmd)
}

// openStore opens the configured database for a one-shot CLI command.
func openStore() (*store.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.Database.Path)
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func runDeckList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	decks, err := db.ListDecks(ctx)
	if err != nil {
		return fmt.Errorf("list decks: %w", err)
	}

	if deckJSONOutput {
		if decks == nil {
			decks = []types.Deck{}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"decks": decks,
			"total": len(decks),
		})
	}

	if len(decks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No decks found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tNAME\tCARDS\tACCESS\tCREATED")
	for _, d := range decks {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			d.ID,
			d.Name,
			d.CardCount,
			deckAccess(d),
			d.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func deckAccess(d types.Deck) string {
	var tags []string
	if d.IsFree {
		tags = append(tags, "free")
	}
	if d.IsStarter {
		tags = append(tags, "starter")
	}
	if len(d.ProductIDs) > 0 {
		tags = append(tags, strings.Join(d.ProductIDs, ","))
	}
	if len(tags) == 0 {
		return "-"
	}
	return strings.Join(tags, " ")
}

func runDeckCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	in := types.NewDeck{
		Name:        strings.TrimSpace(args[0]),
		Description: deckDescription,
		IsFree:      deckIsFree,
		IsStarter:   deckIsStarter,
		ProductIDs:  deckProductIDs,
	}
	if errs := validation.ValidateNewDeck(in); len(errs) > 0 {
		return fmt.Errorf("invalid deck: %s: %s", errs[0].Field, errs[0].Message)
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	deck, err := db.CreateDeck(ctx, in)
	if err != nil {
		if errors.Is(err, store.ErrDeckExists) && deckIfNotExists {
			existing, loadErr := db.GetDeckByName(ctx, in.Name)
			if loadErr != nil {
				return fmt.Errorf("deck exists but could not be loaded: %w", loadErr)
			}
			if deckJSONOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"deck":            existing,
					"already_existed": true,
				})
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Deck %q already exists (id: %s)\n", existing.Name, existing.ID)
			return nil
		}
		return err
	}

	if deckJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"deck": deck})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s deck %q (id: %s)\n", color.GreenString("Created"), deck.Name, deck.ID)
	return nil
}

func runDeckSeed(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	m, err := manifest.Load(args[0])
	if err != nil {
		return err
	}

	if deckSeedDryRun {
		for _, d := range m.Decks {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.CyanString("would seed"), d.Name)
		}
		return nil
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := manifest.Seed(ctx, db, m)
	if err != nil {
		return err
	}

	if deckJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"created":  orEmpty(res.Created),
			"existing": orEmpty(res.Existing),
		})
	}

	out := cmd.OutOrStdout()
	for _, d := range res.Created {
		fmt.Fprintf(out, "%s  %s\n", color.GreenString("created"), d.Name)
	}
	for _, d := range res.Existing {
		fmt.Fprintf(out, "%s   %s\n", color.YellowString("exists"), d.Name)
	}
	fmt.Fprintf(out, "%d created, %d already present\n", len(res.Created), len(res.Existing))
	return nil
}

func orEmpty(decks []types.Deck) []types.Deck {
	if decks == nil {
		return []types.Deck{}
	}
	return decks
}
