// Package importer turns deck exports into cards and replaces a deck's
// contents with them.
package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hyperengineering/oracle/internal/storage"
	"github.com/hyperengineering/oracle/internal/types"
)

const (
	// DefaultBatchSize is the number of cards written per insert batch.
	DefaultBatchSize = 10
	// MaxBatchSize bounds a batch so one insert stays under SQLite's
	// bound parameter limit.
	MaxBatchSize = 500
)

// Store defines the store operations needed by the importer.
type Store interface {
	GetDeckByName(ctx context.Context, name string) (*types.Deck, error)
	ReplaceDeckCards(ctx context.Context, deckID string, cards []types.Card, batchSize int, progress func(types.BatchProgress)) (int, error)
}

// Archiver keeps a copy of each imported source file.
type Archiver interface {
	Archive(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// Request describes one import run.
type Request struct {
	Format   string
	DeckName string
	FileName string
	Data     []byte

	// Multiline joins physical lines inside open quoted fields into one
	// record. Off by default; exports have historically been read line by line.
	Multiline bool

	// Progress is called after each batch is written.
	Progress func(types.BatchProgress)
}

// Importer resolves the target deck, parses the source and replaces the
// deck's cards.
type Importer struct {
	store     Store
	archiver  Archiver
	batchSize int
	now       func() time.Time
}

// New creates an Importer. A nil archiver disables archiving; a non-positive
// batchSize uses DefaultBatchSize and larger ones are capped at MaxBatchSize.
func New(store Store, archiver Archiver, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	return &Importer{
		store:     store,
		archiver:  archiver,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Import runs the full pipeline. The deck must already exist. Replacing is
// all-or-nothing: if any batch fails the deck keeps its previous cards.
func (im *Importer) Import(ctx context.Context, req Request) (*types.ImportResult, error) {
	deckName := req.DeckName
	if deckName == "" {
		if layout, ok := LayoutFor(req.Format); ok {
			deckName = layout.DeckName
		}
	}
	if deckName == "" {
		return nil, fmt.Errorf("deck name is required for format %q", req.Format)
	}

	deck, err := im.store.GetDeckByName(ctx, deckName)
	if err != nil {
		return nil, fmt.Errorf("resolve deck %q: %w", deckName, err)
	}

	parsed, err := Parse(req.Format, string(req.Data), req.Multiline)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", req.Format, err)
	}
	for _, w := range parsed.Warnings {
		slog.Warn("import warning",
			"component", "importer",
			"deck", deck.Name,
			"warning", w,
		)
	}

	slog.Info("import started",
		"component", "importer",
		"action", "import_start",
		"deck", deck.Name,
		"format", req.Format,
		"cards", len(parsed.Cards),
	)

	batches := 0
	progress := func(p types.BatchProgress) {
		batches = p.Batch
		slog.Info("import batch committed",
			"component", "importer",
			"action", "import_batch",
			"deck", deck.Name,
			"batch", p.Batch,
			"batches", p.Batches,
			"inserted", p.Inserted,
			"total", p.Total,
		)
		if req.Progress != nil {
			req.Progress(p)
		}
	}

	imported, err := im.store.ReplaceDeckCards(ctx, deck.ID, parsed.Cards, im.batchSize, progress)
	if err != nil {
		slog.Error("import failed",
			"component", "importer",
			"action", "import_failed",
			"deck", deck.Name,
			"error", err,
		)
		return nil, fmt.Errorf("replace cards for deck %q: %w", deck.Name, err)
	}

	result := &types.ImportResult{
		DeckID:   deck.ID,
		DeckName: deck.Name,
		Format:   req.Format,
		Parsed:   len(parsed.Cards),
		Imported: imported,
		Batches:  batches,
		Warnings: parsed.Warnings,
	}

	if im.archiver != nil {
		key := im.archiveKey(deck.Name, req.FileName)
		location, err := im.archiver.Archive(ctx, key, bytes.NewReader(req.Data), int64(len(req.Data)), contentTypeFor(req.Format))
		if err != nil {
			slog.Warn("archive failed",
				"component", "importer",
				"deck", deck.Name,
				"key", key,
				"error", err,
			)
			result.Warnings = append(result.Warnings, "source file was not archived")
		} else {
			result.Archive = location
		}
	}

	slog.Info("import completed",
		"component", "importer",
		"action", "import_complete",
		"deck", deck.Name,
		"imported", imported,
		"batches", batches,
	)
	return result, nil
}

func (im *Importer) archiveKey(deckName, fileName string) string {
	if fileName == "" {
		fileName = "upload"
	}
	return storage.ImportKey(deckName, fileName, im.now())
}

func contentTypeFor(format string) string {
	if format == FlatText {
		return "text/markdown"
	}
	return "text/csv"
}
