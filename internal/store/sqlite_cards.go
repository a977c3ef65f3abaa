package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/hyperengineering/oracle/internal/types"
	"github.com/oklog/ulid/v2"
)

// cardColumns lists card columns in scan order. The embedding blob is read
// only by the similarity search.
var cardColumns = func() []string {
	cols := []string{"id", "deck_id", "card_number", "card_title", "image_file_name", "card_details"}
	for _, key := range types.SectionKeys {
		cols = append(cols, string(key)+"_heading", string(key)+"_content")
	}
	return append(cols, "content_sections", "embedding_status", "created_at")
}()

// maxInsertRows is the most card rows one INSERT can bind without passing
// SQLite's limit of 32766 bound parameters.
var maxInsertRows = 32766 / len(cardColumns)

func selectCards() sq.SelectBuilder {
	return builder.Select(cardColumns...).From("cards")
}

func scanCard(scanner interface{ Scan(...any) error }, extra ...any) (*types.Card, error) {
	var c types.Card
	var sections, createdAt string

	dest := []any{&c.ID, &c.DeckID, &c.CardNumber, &c.CardTitle, &c.ImageFileName, &c.CardDetails}
	for _, key := range types.SectionKeys {
		sec := c.Section(key)
		dest = append(dest, &sec.Heading, &sec.Content)
	}
	dest = append(dest, &sections, &c.EmbeddingStatus, &createdAt)
	dest = append(dest, extra...)

	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}

	c.ContentSections = map[string]string{}
	if sections != "" {
		if err := json.Unmarshal([]byte(sections), &c.ContentSections); err != nil {
			return nil, fmt.Errorf("parse content_sections JSON: %w", err)
		}
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func cardValues(c types.Card, id, deckID, now string) ([]any, error) {
	sections := c.ContentSections
	if sections == nil {
		sections = map[string]string{}
	}
	sectionsJSON, err := json.Marshal(sections)
	if err != nil {
		return nil, fmt.Errorf("marshal content_sections: %w", err)
	}

	values := []any{id, deckID, c.CardNumber, c.CardTitle, c.ImageFileName, c.CardDetails}
	for _, key := range types.SectionKeys {
		sec := c.Section(key)
		values = append(values, sec.Heading, sec.Content)
	}
	return append(values, string(sectionsJSON), types.EmbeddingPending, now), nil
}

// ReplaceDeckCards deletes every card of the deck and inserts cards in
// sequential batches, all inside one transaction. progress is called after
// each batch is written; if any batch fails the deck keeps its previous cards.
// A non-positive or oversized batchSize is reduced to the largest batch one
// statement can hold.
func (s *SQLiteStore) ReplaceDeckCards(ctx context.Context, deckID string, cards []types.Card, batchSize int, progress func(types.BatchProgress)) (int, error) {
	if batchSize <= 0 || batchSize > maxInsertRows {
		batchSize = maxInsertRows
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	ok, err := deckExists(ctx, tx, deckID)
	if err != nil {
		return 0, fmt.Errorf("check deck: %w", err)
	}
	if !ok {
		return 0, ErrDeckNotFound
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM cards WHERE deck_id = ?", deckID); err != nil {
		return 0, fmt.Errorf("delete cards: %w", err)
	}

	now := s.timestamp()
	batches := 0
	if len(cards) > 0 {
		batches = (len(cards) + batchSize - 1) / batchSize
	}
	inserted := 0

	for b := 0; b < batches; b++ {
		start := b * batchSize
		end := start + batchSize
		if end > len(cards) {
			end = len(cards)
		}

		insert := builder.Insert("cards").Columns(cardColumns...)
		for _, c := range cards[start:end] {
			values, err := cardValues(c, ulid.Make().String(), deckID, now)
			if err != nil {
				return 0, err
			}
			insert = insert.Values(values...)
		}

		query, args, err := insert.ToSql()
		if err != nil {
			return 0, fmt.Errorf("build insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("insert batch %d/%d: %w", b+1, batches, err)
		}

		inserted = end
		if progress != nil {
			progress(types.BatchProgress{Batch: b + 1, Batches: batches, Inserted: inserted, Total: len(cards)})
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return inserted, nil
}

// ListCards returns a deck's cards ordered by card number, then insertion.
func (s *SQLiteStore) ListCards(ctx context.Context, deckID string) ([]types.Card, error) {
	ok, err := deckExists(ctx, s.db, deckID)
	if err != nil {
		return nil, fmt.Errorf("check deck: %w", err)
	}
	if !ok {
		return nil, ErrDeckNotFound
	}

	query, args, err := selectCards().
		Where(sq.Eq{"deck_id": deckID}).
		OrderBy("card_number ASC", "rowid ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	return s.queryCards(ctx, query, args...)
}

// GetCard returns the card with the given number in a deck. When an import
// produced repeated numbers the first inserted card wins.
func (s *SQLiteStore) GetCard(ctx context.Context, deckID string, number int) (*types.Card, error) {
	query, args, err := selectCards().
		Where(sq.Eq{"deck_id": deckID, "card_number": number}).
		OrderBy("rowid ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	return s.queryCard(ctx, deckID, query, args...)
}

// RandomCard draws one card from a deck uniformly at random.
func (s *SQLiteStore) RandomCard(ctx context.Context, deckID string) (*types.Card, error) {
	query, args, err := selectCards().
		Where(sq.Eq{"deck_id": deckID}).
		OrderBy("RANDOM()").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	return s.queryCard(ctx, deckID, query, args...)
}

// queryCard distinguishes a missing deck from a deck without a match.
func (s *SQLiteStore) queryCard(ctx context.Context, deckID, query string, args ...any) (*types.Card, error) {
	card, err := scanCard(s.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return card, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	ok, err := deckExists(ctx, s.db, deckID)
	if err != nil {
		return nil, fmt.Errorf("check deck: %w", err)
	}
	if !ok {
		return nil, ErrDeckNotFound
	}
	return nil, ErrNotFound
}

func (s *SQLiteStore) queryCards(ctx context.Context, query string, args ...any) ([]types.Card, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer rows.Close()

	cards := []types.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		cards = append(cards, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return cards, nil
}
