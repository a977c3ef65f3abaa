package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/hyperengineering/oracle/internal/types"
	"github.com/oklog/ulid/v2"
)

var deckColumns = []string{
	"d.id", "d.name", "d.description", "d.is_free", "d.is_starter", "d.product_ids", "d.created_at",
	"(SELECT COUNT(*) FROM cards c WHERE c.deck_id = d.id) AS card_count",
}

func selectDecks() sq.SelectBuilder {
	return builder.Select(deckColumns...).From("decks d")
}

func scanDeck(scanner interface{ Scan(...any) error }) (*types.Deck, error) {
	var d types.Deck
	var productIDs, createdAt string

	if err := scanner.Scan(
		&d.ID,
		&d.Name,
		&d.Description,
		&d.IsFree,
		&d.IsStarter,
		&productIDs,
		&createdAt,
		&d.CardCount,
	); err != nil {
		return nil, err
	}

	if productIDs != "" {
		if err := json.Unmarshal([]byte(productIDs), &d.ProductIDs); err != nil {
			return nil, fmt.Errorf("parse product_ids JSON: %w", err)
		}
	}
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

// CreateDeck inserts a new deck. Names are unique.
func (s *SQLiteStore) CreateDeck(ctx context.Context, deck types.NewDeck) (*types.Deck, error) {
	productIDs := deck.ProductIDs
	if productIDs == nil {
		productIDs = []string{}
	}
	productJSON, err := json.Marshal(productIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal product_ids: %w", err)
	}

	id := ulid.Make().String()
	query, args, err := builder.Insert("decks").
		Columns("id", "name", "description", "is_free", "is_starter", "product_ids", "created_at").
		Values(id, deck.Name, deck.Description, deck.IsFree, deck.IsStarter, string(productJSON), s.timestamp()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrDeckExists
		}
		return nil, fmt.Errorf("insert deck: %w", err)
	}

	return s.GetDeck(ctx, id)
}

// GetDeck retrieves a deck by ID.
func (s *SQLiteStore) GetDeck(ctx context.Context, id string) (*types.Deck, error) {
	return s.getDeck(ctx, sq.Eq{"d.id": id})
}

// GetDeckByName retrieves a deck by its exact name.
func (s *SQLiteStore) GetDeckByName(ctx context.Context, name string) (*types.Deck, error) {
	return s.getDeck(ctx, sq.Eq{"d.name": name})
}

func (s *SQLiteStore) getDeck(ctx context.Context, where sq.Eq) (*types.Deck, error) {
	query, args, err := selectDecks().Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	deck, err := scanDeck(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeckNotFound
		}
		return nil, fmt.Errorf("scan row: %w", err)
	}
	return deck, nil
}

// ListDecks returns all decks ordered by name with their card counts.
func (s *SQLiteStore) ListDecks(ctx context.Context) ([]types.Deck, error) {
	query, args, err := selectDecks().OrderBy("d.name ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decks: %w", err)
	}
	defer rows.Close()

	decks := []types.Deck{}
	for rows.Next() {
		d, err := scanDeck(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		decks = append(decks, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return decks, nil
}

// deckExists reports whether id names a deck, using q for the lookup.
func deckExists(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM decks WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
