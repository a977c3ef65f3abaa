package store

import (
	"context"

	"github.com/hyperengineering/oracle/internal/types"
)

// Store defines the interface contract for deck, card, safety and protocol
// storage.
type Store interface {
	CreateDeck(ctx context.Context, deck types.NewDeck) (*types.Deck, error)
	GetDeck(ctx context.Context, id string) (*types.Deck, error)
	GetDeckByName(ctx context.Context, name string) (*types.Deck, error)
	ListDecks(ctx context.Context) ([]types.Deck, error)

	ReplaceDeckCards(ctx context.Context, deckID string, cards []types.Card, batchSize int, progress func(types.BatchProgress)) (int, error)
	ListCards(ctx context.Context, deckID string) ([]types.Card, error)
	GetCard(ctx context.Context, deckID string, number int) (*types.Card, error)
	RandomCard(ctx context.Context, deckID string) (*types.Card, error)

	RecordEscalation(ctx context.Context, event types.EscalationEvent) (*types.EscalationEvent, error)
	SaveProtocol(ctx context.Context, protocol types.Protocol) (*types.Protocol, error)
	ListProtocols(ctx context.Context, userID string) ([]types.Protocol, error)

	GetPendingEmbeddings(ctx context.Context, limit int) ([]types.Card, error)
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
	MarkEmbeddingFailed(ctx context.Context, id string) error
	FindSimilarCards(ctx context.Context, embedding []float32, limit int) ([]types.SimilarCard, error)

	GetStats(ctx context.Context) (*types.StoreStats, error)
	Close() error
}
