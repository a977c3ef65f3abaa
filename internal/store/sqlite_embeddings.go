package store

import (
	"context"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/hyperengineering/oracle/internal/types"
)

// GetPendingEmbeddings retrieves cards that need embedding generation.
func (s *SQLiteStore) GetPendingEmbeddings(ctx context.Context, limit int) ([]types.Card, error) {
	query, args, err := selectCards().
		Where(sq.Eq{"embedding_status": types.EmbeddingPending}).
		OrderBy("created_at ASC", "rowid ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	cards, err := s.queryCards(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending embeddings: %w", err)
	}
	return cards, nil
}

// UpdateEmbedding stores the embedding for a card and marks it complete.
func (s *SQLiteStore) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	return s.setEmbedding(ctx, id, packEmbedding(embedding), types.EmbeddingComplete)
}

// MarkEmbeddingFailed marks a card's embedding as failed after retries are
// exhausted. Failed cards are skipped by the similarity search.
func (s *SQLiteStore) MarkEmbeddingFailed(ctx context.Context, id string) error {
	return s.setEmbedding(ctx, id, nil, types.EmbeddingFailed)
}

func (s *SQLiteStore) setEmbedding(ctx context.Context, id string, blob []byte, status string) error {
	query, args, err := builder.Update("cards").
		Set("embedding", blob).
		Set("embedding_status", status).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindSimilarCards returns up to limit cards with a complete embedding,
// most similar first.
func (s *SQLiteStore) FindSimilarCards(ctx context.Context, embedding []float32, limit int) ([]types.SimilarCard, error) {
	if limit <= 0 || len(embedding) == 0 {
		return []types.SimilarCard{}, nil
	}

	query, args, err := selectCards().
		Column("embedding").
		Where(sq.Eq{"embedding_status": types.EmbeddingComplete}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var results []types.SimilarCard
	for rows.Next() {
		var blob []byte
		c, err := scanCard(rows, &blob)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		results = append(results, types.SimilarCard{
			Card:       *c,
			Similarity: cosineSimilarity(embedding, unpackEmbedding(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []types.SimilarCard{}
	}
	return results, nil
}
