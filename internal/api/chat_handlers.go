package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/oracle/internal/auth"
	"github.com/hyperengineering/oracle/internal/chat"
	"github.com/hyperengineering/oracle/internal/types"
	"github.com/hyperengineering/oracle/internal/validation"
)

// Chat handles POST /api/v1/chat for an authenticated user.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		chat.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		chat.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if errs := validation.ValidateChatRequest(req); len(errs) > 0 {
		chat.WriteError(w, http.StatusBadRequest, firstError(errs))
		return
	}

	h.guide(w, r, userID.String(), req.Messages, req.Intake)
}

// LegacyChat handles POST /api/v1/chat/legacy, which names the user in the
// body and carries no intake.
func (h *Handler) LegacyChat(w http.ResponseWriter, r *http.Request) {
	var req types.LegacyChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		chat.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if errs := validation.ValidateLegacyChatRequest(req); len(errs) > 0 {
		chat.WriteError(w, http.StatusBadRequest, firstError(errs))
		return
	}

	h.guide(w, r, req.UserID, req.Messages, nil)
}

// guide runs the safety check, records any escalation, assembles the system
// prompt and relays the conversation. The escalation is stored before the
// model is called; a failed write is logged and the chat continues.
func (h *Handler) guide(w http.ResponseWriter, r *http.Request, userID string, messages []types.ChatMessage, intake *types.Intake) {
	ctx := r.Context()
	decision := h.filter.Check(messages, intake)

	in := chat.PromptInput{Intake: intake}
	if decision.Escalate {
		in.Escalation = &decision
		if _, err := h.store.RecordEscalation(ctx, decision.Event(userID)); err != nil {
			slog.Error("escalation not recorded",
				"component", "api",
				"action", "escalation",
				"trigger", decision.TriggerType,
				"error", err,
			)
		} else {
			slog.Warn("conversation escalated",
				"component", "api",
				"action", "escalation",
				"trigger", decision.TriggerType,
			)
		}
	} else {
		in.Related = h.relatedCards(ctx, chat.LatestUserMessage(messages))
	}

	h.relay.Stream(ctx, w, chat.BuildSystemPrompt(in), messages)
}

// relatedCards finds cards similar to query. Lookup failures are logged and
// yield no cards.
func (h *Handler) relatedCards(ctx context.Context, query string) []types.SimilarCard {
	if h.embedder == nil || h.opts.RelatedCards <= 0 || query == "" {
		return nil
	}

	vec, err := h.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("related card lookup skipped", "component", "api", "stage", "embed", "error", err)
		return nil
	}
	cards, err := h.store.FindSimilarCards(ctx, vec, h.opts.RelatedCards)
	if err != nil {
		slog.Warn("related card lookup skipped", "component", "api", "stage", "search", "error", err)
		return nil
	}
	return cards
}

func firstError(errs []validation.ValidationError) string {
	return fmt.Sprintf("%s: %s", errs[0].Field, errs[0].Message)
}

// SaveProtocol handles POST /api/v1/protocols
func (h *Handler) SaveProtocol(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid token")
		return
	}

	var req types.Protocol
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if errs := validation.ValidateProtocol(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Protocol contains invalid fields", errs)
		return
	}

	req.ID = ""
	req.CreatedAt = nil
	req.UserID = userID.String()

	saved, err := h.store.SaveProtocol(r.Context(), req)
	if err != nil {
		slog.Error("save protocol failed", "component", "api", "action", "protocol_save", "error", err)
		MapStoreError(w, r, err)
		return
	}

	slog.Info("protocol saved",
		"component", "api",
		"action", "protocol_save",
		"protocol_id", saved.ID,
		"steps", len(saved.Steps),
	)
	writeJSON(w, http.StatusCreated, saved)
}

// ListProtocols handles GET /api/v1/protocols
func (h *Handler) ListProtocols(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid token")
		return
	}

	protocols, err := h.store.ListProtocols(r.Context(), userID.String())
	if err != nil {
		slog.Error("list protocols failed", "component", "api", "error", err)
		MapStoreError(w, r, err)
		return
	}
	if protocols == nil {
		protocols = []types.Protocol{}
	}
	writeJSON(w, http.StatusOK, types.ProtocolListResponse{Protocols: protocols})
}
