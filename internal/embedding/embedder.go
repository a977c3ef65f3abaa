// Package embedding turns card text into vectors for related-card lookup.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperengineering/oracle/internal/types"
)

// ErrEmptyInput is returned when there is no text to embed.
var ErrEmptyInput = errors.New("embedding input is empty")

// Embedder defines the interface contract for embedding generation services.
type Embedder interface {
	Embed(ctx context.Context, content string) ([]float32, error)
	EmbedBatch(ctx context.Context, contents []string) ([][]float32, error)
	ModelName() string
}

// Cards embeds each card's title and details in a single batch call.
// The result is index-aligned with cards.
func Cards(ctx context.Context, e Embedder, cards []types.Card) ([][]float32, error) {
	texts := make([]string, len(cards))
	for i := range cards {
		texts[i] = cards[i].EmbeddingText()
		if texts[i] == "" {
			return nil, fmt.Errorf("card %d (%s): %w", cards[i].CardNumber, cards[i].ID, ErrEmptyInput)
		}
	}
	return e.EmbedBatch(ctx, texts)
}
