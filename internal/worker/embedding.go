// Package worker runs background maintenance loops for the service.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hyperengineering/oracle/internal/embedding"
	"github.com/hyperengineering/oracle/internal/types"
)

// EmbeddingStore defines the store operations needed by the embedding worker.
type EmbeddingStore interface {
	GetPendingEmbeddings(ctx context.Context, limit int) ([]types.Card, error)
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
	MarkEmbeddingFailed(ctx context.Context, id string) error
}

// EmbeddingWorker embeds cards left pending by imports. Cards that keep
// failing are marked failed after maxAttempts so they stop being retried.
type EmbeddingWorker struct {
	store       EmbeddingStore
	embedder    embedding.Embedder
	interval    time.Duration
	maxAttempts int
	batchSize   int
	attempts    map[string]int // per card ID; only touched by the Run goroutine
}

// NewEmbeddingWorker creates a new embedding worker.
func NewEmbeddingWorker(s EmbeddingStore, e embedding.Embedder, interval time.Duration, maxAttempts, batchSize int) *EmbeddingWorker {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	return &EmbeddingWorker{
		store:       s,
		embedder:    e,
		interval:    interval,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		attempts:    make(map[string]int),
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
func (w *EmbeddingWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("embedding worker started",
		"component", "worker",
		"interval", w.interval,
		"model", w.embedder.ModelName(),
	)

	// Process immediately on start, then on each tick
	w.processPending(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("embedding worker stopped", "component", "worker")
			return
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

// processPending embeds one batch of pending cards and returns how many
// embeddings were stored.
func (w *EmbeddingWorker) processPending(ctx context.Context) int {
	cards, err := w.store.GetPendingEmbeddings(ctx, w.batchSize)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("failed to get pending embeddings",
				"component", "worker",
				"error", err,
			)
		}
		return 0
	}

	w.pruneAttempts(cards)

	var batch []types.Card
	for _, c := range cards {
		switch {
		case c.EmbeddingText() == "":
			w.markFailed(ctx, c, "card has no text")
		case w.attempts[c.ID] >= w.maxAttempts:
			w.markFailed(ctx, c, "max attempts reached")
		default:
			batch = append(batch, c)
		}
	}
	if len(batch) == 0 {
		return 0
	}

	vectors, err := embedding.Cards(ctx, w.embedder, batch)
	if err != nil {
		slog.Warn("embedding batch failed, will retry",
			"component", "worker",
			"count", len(batch),
			"error", err,
		)
		for _, c := range batch {
			w.attempts[c.ID]++
		}
		return 0
	}

	stored := 0
	for i, c := range batch {
		if err := w.store.UpdateEmbedding(ctx, c.ID, vectors[i]); err != nil {
			slog.Error("failed to store embedding",
				"component", "worker",
				"card_id", c.ID,
				"error", err,
			)
			w.attempts[c.ID]++
			continue
		}
		delete(w.attempts, c.ID)
		stored++
	}

	if stored > 0 {
		slog.Info("embedded cards",
			"component", "worker",
			"action", "embed_cards",
			"count", stored,
		)
	}
	return stored
}

// pruneAttempts forgets cards that are no longer pending, such as those
// deleted by a re-import.
func (w *EmbeddingWorker) pruneAttempts(pending []types.Card) {
	if len(w.attempts) == 0 {
		return
	}
	live := make(map[string]struct{}, len(pending))
	for _, c := range pending {
		live[c.ID] = struct{}{}
	}
	for id := range w.attempts {
		if _, ok := live[id]; !ok {
			delete(w.attempts, id)
		}
	}
}

func (w *EmbeddingWorker) markFailed(ctx context.Context, c types.Card, reason string) {
	if err := w.store.MarkEmbeddingFailed(ctx, c.ID); err != nil {
		slog.Error("failed to mark embedding as failed",
			"component", "worker",
			"card_id", c.ID,
			"error", err,
		)
		return
	}
	slog.Error("card embedding permanently failed",
		"component", "worker",
		"action", "embed_cards",
		"card_id", c.ID,
		"card_number", c.CardNumber,
		"attempts", w.attempts[c.ID],
		"reason", reason,
	)
	delete(w.attempts, c.ID)
}
