package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/oracle/internal/auth"
	"github.com/hyperengineering/oracle/internal/embedding"
	"github.com/hyperengineering/oracle/internal/importer"
	"github.com/hyperengineering/oracle/internal/safety"
	"github.com/hyperengineering/oracle/internal/storage"
	"github.com/hyperengineering/oracle/internal/store"
	"github.com/hyperengineering/oracle/internal/types"
	"github.com/hyperengineering/oracle/internal/validation"
	"github.com/oklog/ulid/v2"
)

// DeckImporter runs a deck import.
type DeckImporter interface {
	Import(ctx context.Context, req importer.Request) (*types.ImportResult, error)
}

// ChatRelay streams a guide conversation back to the client.
type ChatRelay interface {
	Model() string
	Stream(ctx context.Context, w http.ResponseWriter, systemPrompt string, messages []types.ChatMessage)
}

// ImageSigner issues short-lived links to card images.
type ImageSigner interface {
	PresignedURL(ctx context.Context, key string) (string, time.Time, error)
}

// Deps are the collaborators the handlers call into. Embedder may be nil,
// which disables related-card lookup.
type Deps struct {
	Store    store.Store
	Importer DeckImporter
	Filter   *safety.Filter
	Relay    ChatRelay
	Embedder embedding.Embedder
	Images   ImageSigner
	Verifier *auth.Verifier
}

// Options are the request-independent settings of the API.
type Options struct {
	APIKey         string
	Version        string
	AllowedOrigin  string
	RelatedCards   int
	ImagePrefix    string
	Multiline      bool
	MaxUploadBytes int64
}

// Handler implements the API handlers
type Handler struct {
	store    store.Store
	importer DeckImporter
	filter   *safety.Filter
	relay    ChatRelay
	embedder embedding.Embedder
	images   ImageSigner
	verifier *auth.Verifier
	opts     Options
}

// NewHandler creates a new Handler. A nil Filter uses the default keyword
// list and threshold; a nil Images signer reports images as unavailable.
func NewHandler(d Deps, opts Options) *Handler {
	if d.Filter == nil {
		d.Filter = safety.NewFilter(nil, 0)
	}
	if d.Images == nil {
		d.Images = storage.NoopArchiver{}
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	return &Handler{
		store:    d.Store,
		importer: d.Importer,
		filter:   d.Filter,
		relay:    d.Relay,
		embedder: d.Embedder,
		images:   d.Images,
		verifier: d.Verifier,
		opts:     opts,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		slog.Error("health stats failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	resp := types.HealthResponse{
		Status:     "healthy",
		Version:    h.opts.Version,
		DeckCount:  stats.DeckCount,
		CardCount:  stats.CardCount,
		Embeddings: stats.EmbeddingStats,
	}
	if h.relay != nil {
		resp.ChatModel = h.relay.Model()
	}
	if h.embedder != nil {
		resp.EmbeddingModel = h.embedder.ModelName()
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListDecks handles GET /api/v1/decks
func (h *Handler) ListDecks(w http.ResponseWriter, r *http.Request) {
	decks, err := h.store.ListDecks(r.Context())
	if err != nil {
		slog.Error("list decks failed", "component", "api", "error", err)
		MapStoreError(w, r, err)
		return
	}
	if decks == nil {
		decks = []types.Deck{}
	}
	writeJSON(w, http.StatusOK, types.DeckListResponse{Decks: decks})
}

// CreateDeck handles POST /api/v1/decks
func (h *Handler) CreateDeck(w http.ResponseWriter, r *http.Request) {
	var req types.NewDeck
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	req.Name = strings.TrimSpace(req.Name)

	if errs := validation.ValidateNewDeck(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	deck, err := h.store.CreateDeck(r.Context(), req)
	if err != nil {
		if !errors.Is(err, store.ErrDeckExists) {
			slog.Error("create deck failed", "component", "api", "deck", req.Name, "error", err)
		}
		MapStoreError(w, r, err)
		return
	}

	slog.Info("deck created",
		"component", "api",
		"action", "deck_create",
		"deck", deck.Name,
		"deck_id", deck.ID,
	)
	writeJSON(w, http.StatusCreated, deck)
}

// resolveDeck looks up the {deck} path parameter, which is either a deck ID
// or a URL-escaped deck name.
func (h *Handler) resolveDeck(r *http.Request) (*types.Deck, error) {
	raw := chi.URLParam(r, "deck")
	ref, err := url.PathUnescape(raw)
	if err != nil {
		ref = raw
	}
	if _, err := ulid.ParseStrict(ref); err == nil {
		deck, err := h.store.GetDeck(r.Context(), ref)
		if !errors.Is(err, store.ErrDeckNotFound) {
			return deck, err
		}
	}
	return h.store.GetDeckByName(r.Context(), ref)
}

func cardNumberParam(r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ListCards handles GET /api/v1/decks/{deck}/cards
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	deck, err := h.resolveDeck(r)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	cards, err := h.store.ListCards(r.Context(), deck.ID)
	if err != nil {
		slog.Error("list cards failed", "component", "api", "deck", deck.Name, "error", err)
		MapStoreError(w, r, err)
		return
	}
	if cards == nil {
		cards = []types.Card{}
	}

	writeJSON(w, http.StatusOK, types.CardListResponse{
		DeckID:   deck.ID,
		DeckName: deck.Name,
		Cards:    cards,
	})
}

// GetCard handles GET /api/v1/decks/{deck}/cards/{number}
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	card, ok := h.lookupCard(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// DrawCard handles GET /api/v1/decks/{deck}/draw
func (h *Handler) DrawCard(w http.ResponseWriter, r *http.Request) {
	deck, err := h.resolveDeck(r)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	card, err := h.store.RandomCard(r.Context(), deck.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteProblem(w, r, http.StatusNotFound, "Deck has no cards")
			return
		}
		slog.Error("draw failed", "component", "api", "deck", deck.Name, "error", err)
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// CardImage handles GET /api/v1/decks/{deck}/cards/{number}/image by
// redirecting to a presigned object storage URL.
func (h *Handler) CardImage(w http.ResponseWriter, r *http.Request) {
	card, ok := h.lookupCard(w, r)
	if !ok {
		return
	}
	if card.ImageFileName == "" {
		WriteProblem(w, r, http.StatusNotFound, "Card has no image")
		return
	}

	key := storage.ImageKey(h.opts.ImagePrefix, card.ImageFileName)
	signed, expires, err := h.images.PresignedURL(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			WriteProblem(w, r, http.StatusNotFound, "Image storage is not configured")
			return
		}
		slog.Error("presign failed", "component", "api", "key", key, "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Image temporarily unavailable")
		return
	}

	w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", maxAgeUntil(expires)))
	http.Redirect(w, r, signed, http.StatusFound)
}

func maxAgeUntil(t time.Time) int {
	secs := int(time.Until(t).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}

func (h *Handler) lookupCard(w http.ResponseWriter, r *http.Request) (*types.Card, bool) {
	number, ok := cardNumberParam(r)
	if !ok {
		WriteProblem(w, r, http.StatusBadRequest, "Card number must be an integer")
		return nil, false
	}

	deck, err := h.resolveDeck(r)
	if err != nil {
		MapStoreError(w, r, err)
		return nil, false
	}

	card, err := h.store.GetCard(r.Context(), deck.ID, number)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteProblem(w, r, http.StatusNotFound, fmt.Sprintf("Card %d not found", number))
			return nil, false
		}
		slog.Error("get card failed", "component", "api", "deck", deck.Name, "error", err)
		MapStoreError(w, r, err)
		return nil, false
	}
	return card, true
}

// ImportDeck handles POST /api/v1/decks/{deck}/import?format=. The request
// body is the raw export file.
func (h *Handler) ImportDeck(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		WriteProblem(w, r, http.StatusBadRequest, "Query parameter 'format' is required")
		return
	}
	if !slices.Contains(importer.Formats(), format) {
		WriteProblem(w, r, http.StatusBadRequest,
			fmt.Sprintf("Unknown format %q; expected one of: %s", format, strings.Join(importer.Formats(), ", ")))
		return
	}

	multiline := h.opts.Multiline
	if v := r.URL.Query().Get("multiline"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			WriteProblem(w, r, http.StatusBadRequest, "Query parameter 'multiline' must be a boolean")
			return
		}
		multiline = parsed
	}

	deck, err := h.resolveDeck(r)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Upload exceeds %d bytes", h.opts.MaxUploadBytes))
			return
		}
		WriteProblem(w, r, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(data) == 0 {
		WriteProblem(w, r, http.StatusBadRequest, "Request body is empty")
		return
	}

	result, err := h.importer.Import(r.Context(), importer.Request{
		Format:    format,
		DeckName:  deck.Name,
		FileName:  r.URL.Query().Get("filename"),
		Data:      data,
		Multiline: multiline,
	})
	if err != nil {
		slog.Error("import request failed",
			"component", "api",
			"action", "import",
			"deck", deck.Name,
			"format", format,
			"error", err,
		)
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
