package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hyperengineering/oracle/internal/types"
	"go.uber.org/goleak"
)

// --- Mock Implementations ---

type mockStore struct {
	mu          sync.Mutex
	pending     []types.Card
	getErr      error
	updateErr   error
	updated     []string
	markedFail  []string
	getPendings int
}

func (m *mockStore) GetPendingEmbeddings(ctx context.Context, limit int) ([]types.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getPendings++
	if m.getErr != nil {
		return nil, m.getErr
	}
	if limit > len(m.pending) {
		limit = len(m.pending)
	}
	return append([]types.Card(nil), m.pending[:limit]...), nil
}

func (m *mockStore) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updated = append(m.updated, id)
	m.remove(id)
	return nil
}

func (m *mockStore) MarkEmbeddingFailed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markedFail = append(m.markedFail, id)
	m.remove(id)
	return nil
}

func (m *mockStore) remove(id string) {
	for i, c := range m.pending {
		if c.ID == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func (m *mockStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getPendings
}

type mockEmbedder struct {
	mu    sync.Mutex
	err   error
	calls int
	texts []string
}

func (m *mockEmbedder) Embed(ctx context.Context, content string) ([]float32, error) {
	return []float32{1}, nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, contents []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.texts = contents
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(contents))
	for i := range contents {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func (m *mockEmbedder) ModelName() string { return "mock-embed" }

func pendingCards() []types.Card {
	return []types.Card{
		{ID: "c1", CardNumber: 1, CardTitle: "Surrender", CardDetails: "The Distortion: control"},
		{ID: "c2", CardNumber: 2, CardTitle: "Rest"},
	}
}

// --- Tests ---

func TestEmbeddingWorker_ProcessesPending(t *testing.T) {
	store := &mockStore{pending: pendingCards()}
	embedder := &mockEmbedder{}
	w := NewEmbeddingWorker(store, embedder, time.Hour, 3, 50)

	if got := w.processPending(context.Background()); got != 2 {
		t.Errorf("processPending() = %d, want 2", got)
	}
	if embedder.calls != 1 {
		t.Errorf("embed calls = %d, want 1", embedder.calls)
	}
	if diff := cmp.Diff([]string{"Surrender\nThe Distortion: control", "Rest"}, embedder.texts); diff != "" {
		t.Errorf("texts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c1", "c2"}, store.updated); diff != "" {
		t.Errorf("updated mismatch (-want +got):\n%s", diff)
	}
}

func TestEmbeddingWorker_RespectsBatchSize(t *testing.T) {
	store := &mockStore{pending: pendingCards()}
	w := NewEmbeddingWorker(store, &mockEmbedder{}, time.Hour, 3, 1)

	if got := w.processPending(context.Background()); got != 1 {
		t.Errorf("processPending() = %d, want 1", got)
	}
	if len(store.pending) != 1 {
		t.Errorf("pending = %d, want 1 left", len(store.pending))
	}
}

func TestEmbeddingWorker_MarksFailedAfterMaxAttempts(t *testing.T) {
	store := &mockStore{pending: pendingCards()}
	embedder := &mockEmbedder{err: errors.New("rate limited")}
	w := NewEmbeddingWorker(store, embedder, time.Hour, 2, 50)

	ctx := context.Background()
	w.processPending(ctx)
	w.processPending(ctx)
	if len(store.markedFail) != 0 {
		t.Fatalf("marked failed too early: %v", store.markedFail)
	}

	w.processPending(ctx)
	if diff := cmp.Diff([]string{"c1", "c2"}, store.markedFail); diff != "" {
		t.Errorf("markedFail mismatch (-want +got):\n%s", diff)
	}
	if embedder.calls != 2 {
		t.Errorf("embed calls = %d, want 2", embedder.calls)
	}
	if len(w.attempts) != 0 {
		t.Errorf("attempts should be cleared, got %v", w.attempts)
	}
}

func TestEmbeddingWorker_SuccessResetsAttempts(t *testing.T) {
	store := &mockStore{pending: pendingCards()[:1]}
	embedder := &mockEmbedder{err: errors.New("flaky")}
	w := NewEmbeddingWorker(store, embedder, time.Hour, 3, 50)

	w.processPending(context.Background())
	if w.attempts["c1"] != 1 {
		t.Fatalf("attempts = %d, want 1", w.attempts["c1"])
	}

	embedder.err = nil
	w.processPending(context.Background())
	if _, ok := w.attempts["c1"]; ok {
		t.Error("attempts should be cleared after success")
	}
}

func TestEmbeddingWorker_ForgetsDeletedCards(t *testing.T) {
	store := &mockStore{pending: pendingCards()}
	embedder := &mockEmbedder{err: errors.New("flaky")}
	w := NewEmbeddingWorker(store, embedder, time.Hour, 5, 50)

	w.processPending(context.Background())
	if len(w.attempts) != 2 {
		t.Fatalf("attempts = %v, want both cards tracked", w.attempts)
	}

	// A re-import deletes the old cards and inserts a new one.
	store.mu.Lock()
	store.pending = []types.Card{{ID: "c3", CardNumber: 1, CardTitle: "Begin again"}}
	store.mu.Unlock()

	w.processPending(context.Background())
	if diff := cmp.Diff(map[string]int{"c3": 1}, w.attempts); diff != "" {
		t.Errorf("attempts mismatch (-want +got):\n%s", diff)
	}
}

func TestEmbeddingWorker_EmptyCardFailsImmediately(t *testing.T) {
	store := &mockStore{pending: []types.Card{{ID: "blank", CardNumber: 0}}}
	embedder := &mockEmbedder{}
	w := NewEmbeddingWorker(store, embedder, time.Hour, 3, 50)

	w.processPending(context.Background())
	if diff := cmp.Diff([]string{"blank"}, store.markedFail); diff != "" {
		t.Errorf("markedFail mismatch (-want +got):\n%s", diff)
	}
	if embedder.calls != 0 {
		t.Error("embedder should not be called for a blank card")
	}
}

func TestEmbeddingWorker_UpdateErrorCountsAttempt(t *testing.T) {
	store := &mockStore{pending: pendingCards()[:1], updateErr: errors.New("disk full")}
	w := NewEmbeddingWorker(store, &mockEmbedder{}, time.Hour, 3, 50)

	if got := w.processPending(context.Background()); got != 0 {
		t.Errorf("processPending() = %d, want 0", got)
	}
	if w.attempts["c1"] != 1 {
		t.Errorf("attempts = %d, want 1", w.attempts["c1"])
	}
}

func TestEmbeddingWorker_StoreErrorSkipsCycle(t *testing.T) {
	store := &mockStore{getErr: errors.New("locked")}
	embedder := &mockEmbedder{}
	w := NewEmbeddingWorker(store, embedder, time.Hour, 3, 50)

	if got := w.processPending(context.Background()); got != 0 {
		t.Errorf("processPending() = %d, want 0", got)
	}
	if embedder.calls != 0 {
		t.Error("embedder should not be called when listing fails")
	}
}

func TestEmbeddingWorker_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &mockStore{pending: pendingCards()}
	w := NewEmbeddingWorker(store, &mockEmbedder{}, 10*time.Millisecond, 3, 50)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for store.calls() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.calls() < 2 {
		t.Errorf("expected at least 2 polls, got %d", store.calls())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
