package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/hyperengineering/oracle/internal/importer"
	"github.com/hyperengineering/oracle/internal/manifest"
	"github.com/hyperengineering/oracle/internal/store"
	"github.com/hyperengineering/oracle/internal/types"
)

const (
	mnlExport = "image,number,details,heading,activity,video\n" +
		"mnl-01.png,1,Trust the pause,Journalling,Write about rest,https://vimeo.com/111\n" +
		"mnl-02.png,2,Follow the spark,Journalling,Write about joy,https://vimeo.com/222\n"

	flatDoc = `# Card 1, Awakening
The Distortion: Fear runs the show.
The Higher Truth: Love is here.
## Guided Audio
Listen.
# Card 2, Trust
Benediction: Go gently.
`

	seedManifest = `[[deck]]
name = "Magic not Logic"
is_free = true

[[deck]]
name = "Sacred Rewrite"
product_ids = ["sacred_rewrite_full"]
`
)

// executeCmd runs the root command with captured output against an isolated
// database. Package-level flag variables are reset first because cobra
// parses into them and stale values would leak between tests.
func executeCmd(t *testing.T, dbPath string, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	t.Setenv("ORACLE_DEV_MODE", "true")
	t.Setenv("ORACLE_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("ORACLE_STORAGE_BUCKET", "")
	color.NoColor = true

	dbPathOverride = ""
	deckJSONOutput = false
	deckDescription = ""
	deckIsFree = false
	deckIsStarter = false
	deckProductIDs = nil
	deckIfNotExists = false
	deckSeedDryRun = false
	importMultiline = false
	importJSONOutput = false

	fullArgs := append(args, "--db", dbPath)

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(fullArgs)

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetIn(nil)
	rootCmd.SetArgs(nil)

	return outBuf.String(), errBuf.String(), err
}

func testDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "oracle.db")
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func openTestStore(t *testing.T, dbPath string) *store.SQLiteStore {
	t.Helper()
	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// --- Deck Tests ---

func TestDeckCreate_Defaults(t *testing.T) {
	dbPath := testDBPath(t)
	stdout, _, err := executeCmd(t, dbPath, "", "deck", "create", "Magic not Logic",
		"--free", "--product-id", "mnl_full", "--description", "Everyday magic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, `Created deck "Magic not Logic"`) {
		t.Errorf("stdout = %q", stdout)
	}

	deck, err := openTestStore(t, dbPath).GetDeckByName(context.Background(), "Magic not Logic")
	if err != nil {
		t.Fatalf("GetDeckByName: %v", err)
	}
	if !deck.IsFree || deck.IsStarter || deck.Description != "Everyday magic" {
		t.Errorf("deck = %+v", deck)
	}
	if len(deck.ProductIDs) != 1 || deck.ProductIDs[0] != "mnl_full" {
		t.Errorf("product ids = %v", deck.ProductIDs)
	}
}

func TestDeckCreate_Duplicate(t *testing.T) {
	dbPath := testDBPath(t)
	if _, _, err := executeCmd(t, dbPath, "", "deck", "create", "Sacred Rewrite"); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, _, err := executeCmd(t, dbPath, "", "deck", "create", "Sacred Rewrite")
	if !errors.Is(err, store.ErrDeckExists) {
		t.Errorf("err = %v, want ErrDeckExists", err)
	}

	_, stderr, err := executeCmd(t, dbPath, "", "deck", "create", "Sacred Rewrite", "--if-not-exists")
	if err != nil {
		t.Fatalf("--if-not-exists: %v", err)
	}
	if !strings.Contains(stderr, "already exists") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestDeckCreate_RejectsBlankName(t *testing.T) {
	_, _, err := executeCmd(t, testDBPath(t), "", "deck", "create", "   ")
	if err == nil || !strings.Contains(err.Error(), "name") {
		t.Errorf("err = %v, want name validation error", err)
	}
}

func TestDeckList_EmptyAndJSON(t *testing.T) {
	dbPath := testDBPath(t)

	stdout, _, err := executeCmd(t, dbPath, "", "deck", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(stdout, "No decks found.") {
		t.Errorf("stdout = %q", stdout)
	}

	if _, _, err := executeCmd(t, dbPath, "", "deck", "create", "Sacred Rewrite", "--starter"); err != nil {
		t.Fatalf("create: %v", err)
	}

	stdout, _, err = executeCmd(t, dbPath, "", "deck", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(stdout, "Sacred Rewrite") || !strings.Contains(stdout, "starter") {
		t.Errorf("table output = %q", stdout)
	}

	stdout, _, err = executeCmd(t, dbPath, "", "deck", "list", "--json")
	if err != nil {
		t.Fatalf("list --json: %v", err)
	}
	var got struct {
		Decks []types.Deck `json:"decks"`
		Total int          `json:"total"`
	}
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, stdout)
	}
	if got.Total != 1 || got.Decks[0].Name != "Sacred Rewrite" || !got.Decks[0].IsStarter {
		t.Errorf("json output = %+v", got)
	}
}

func TestDeckSeed_CreatesMissingOnly(t *testing.T) {
	dbPath := testDBPath(t)
	if _, _, err := executeCmd(t, dbPath, "", "deck", "create", "Sacred Rewrite", "--description", "kept"); err != nil {
		t.Fatalf("create: %v", err)
	}
	path := writeFile(t, "decks.toml", seedManifest)

	stdout, _, err := executeCmd(t, dbPath, "", "deck", "seed", path)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(stdout, "1 created, 1 already present") {
		t.Errorf("stdout = %q", stdout)
	}

	db := openTestStore(t, dbPath)
	kept, err := db.GetDeckByName(context.Background(), "Sacred Rewrite")
	if err != nil {
		t.Fatalf("GetDeckByName: %v", err)
	}
	if kept.Description != "kept" || len(kept.ProductIDs) != 0 {
		t.Errorf("existing deck was modified: %+v", kept)
	}
	created, err := db.GetDeckByName(context.Background(), "Magic not Logic")
	if err != nil {
		t.Fatalf("GetDeckByName: %v", err)
	}
	if !created.IsFree {
		t.Errorf("created deck = %+v", created)
	}
}

func TestDeckSeed_RepeatIsNoop(t *testing.T) {
	dbPath := testDBPath(t)
	path := writeFile(t, "decks.toml", seedManifest)

	for i := 0; i < 2; i++ {
		if _, _, err := executeCmd(t, dbPath, "", "deck", "seed", path); err != nil {
			t.Fatalf("seed #%d: %v", i+1, err)
		}
	}

	decks, err := openTestStore(t, dbPath).ListDecks(context.Background())
	if err != nil {
		t.Fatalf("ListDecks: %v", err)
	}
	if len(decks) != 2 {
		t.Errorf("decks = %d, want 2", len(decks))
	}
}

func TestDeckSeed_DryRunAndInvalidManifest(t *testing.T) {
	dbPath := testDBPath(t)

	stdout, _, err := executeCmd(t, dbPath, "", "deck", "seed", writeFile(t, "decks.toml", seedManifest), "--dry-run")
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !strings.Contains(stdout, "would seed Magic not Logic") {
		t.Errorf("stdout = %q", stdout)
	}
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Error("dry run opened the database")
	}

	_, _, err = executeCmd(t, dbPath, "", "deck", "seed", writeFile(t, "bad.toml", "[[deck]]\nname = \"x\"\ncolour = \"red\"\n"))
	if !errors.Is(err, manifest.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

// --- Import Tests ---

func TestImport_ReplacesCards(t *testing.T) {
	dbPath := testDBPath(t)
	if _, _, err := executeCmd(t, dbPath, "", "deck", "create", "Magic not Logic"); err != nil {
		t.Fatalf("create: %v", err)
	}
	path := writeFile(t, "mnl.csv", mnlExport)

	stdout, stderr, err := executeCmd(t, dbPath, "", "import", "magic-not-logic", "-", path)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(stdout, `Imported 2 of 2 cards into "Magic not Logic"`) {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.Contains(stderr, "batch 1/1: 2/2 cards") {
		t.Errorf("stderr = %q", stderr)
	}

	db := openTestStore(t, dbPath)
	deck, err := db.GetDeckByName(context.Background(), "Magic not Logic")
	if err != nil {
		t.Fatalf("GetDeckByName: %v", err)
	}
	cards, err := db.ListCards(context.Background(), deck.ID)
	if err != nil {
		t.Fatalf("ListCards: %v", err)
	}
	if len(cards) != 2 || cards[0].CardDetails != "Trust the pause" {
		t.Errorf("cards = %+v", cards)
	}
}

func TestImport_JSONOutput(t *testing.T) {
	dbPath := testDBPath(t)
	if _, _, err := executeCmd(t, dbPath, "", "deck", "create", "Everyday"); err != nil {
		t.Fatalf("create: %v", err)
	}

	stdout, stderr, err := executeCmd(t, dbPath, "", "import", "flat-text", "Everyday",
		writeFile(t, "cards.md", flatDoc), "--json")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stderr != "" {
		t.Errorf("progress written in JSON mode: %q", stderr)
	}
	var res types.ImportResult
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, stdout)
	}
	if res.DeckName != "Everyday" || res.Format != "flat-text" || res.Imported != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestImport_Errors(t *testing.T) {
	dbPath := testDBPath(t)
	csv := writeFile(t, "mnl.csv", mnlExport)

	_, _, err := executeCmd(t, dbPath, "", "import", "tarot", "-", csv)
	if !errors.Is(err, importer.ErrUnknownFormat) {
		t.Errorf("unknown format err = %v", err)
	}

	_, _, err = executeCmd(t, dbPath, "", "import", "magic-not-logic", "-", csv)
	if !errors.Is(err, store.ErrDeckNotFound) {
		t.Errorf("missing deck err = %v", err)
	}

	_, _, err = executeCmd(t, dbPath, "", "import", "magic-not-logic", "-", filepath.Join(t.TempDir(), "nope.csv"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v", err)
	}
}

// --- Parse Tests ---

func TestParse_FileToJSON(t *testing.T) {
	stdout, _, err := executeCmd(t, testDBPath(t), "", "parse", writeFile(t, "cards.md", flatDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var cards []types.Card
	if err := json.Unmarshal([]byte(stdout), &cards); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, stdout)
	}
	if len(cards) != 2 {
		t.Fatalf("cards = %d, want 2", len(cards))
	}
	if cards[0].CardTitle != "Awakening" || cards[0].GuidedAudio.Content != "Listen." {
		t.Errorf("card 1 = %+v", cards[0])
	}
	if cards[1].Benediction.Content != "Go gently." {
		t.Errorf("card 2 benediction = %q", cards[1].Benediction.Content)
	}
}

func TestParse_Stdin(t *testing.T) {
	stdout, _, err := executeCmd(t, testDBPath(t), flatDoc, "parse", "-")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.Contains(stdout, `"card_title": "Trust"`) {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestParse_NoCards(t *testing.T) {
	_, _, err := executeCmd(t, testDBPath(t), "just some prose\n", "parse", "-")
	if !errors.Is(err, importer.ErrNoCards) {
		t.Errorf("err = %v, want ErrNoCards", err)
	}
}

func TestParse_DuplicateWarning(t *testing.T) {
	_, stderr, err := executeCmd(t, testDBPath(t), "# Card 1, A\nx\n# Card 1, B\ny\n", "parse", "-")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.Contains(stderr, "warning:") {
		t.Errorf("stderr = %q, want duplicate warning", stderr)
	}
}
