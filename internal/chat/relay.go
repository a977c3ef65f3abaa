package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hyperengineering/oracle/internal/types"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// Client-facing messages for upstream failures. Upstream detail is logged only.
const (
	MsgRateLimited = "Rate limits exceeded, please try again later."
	MsgPayment     = "Service temporarily unavailable."
	MsgGateway     = "AI gateway error"
)

// CompletionsService defines the streaming chat completion call.
// This abstraction enables testing without calling a real model endpoint.
type CompletionsService interface {
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Relay forwards a conversation to the model and streams the raw completion
// chunks back as server-sent events.
type Relay struct {
	completions CompletionsService
	model       string
}

// NewRelay creates a Relay for an OpenAI-compatible endpoint. An empty
// baseURL uses the OpenAI default. Requests are attempted once.
func NewRelay(apiKey, baseURL, model string) *Relay {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &Relay{completions: client.Chat.Completions, model: model}
}

// NewRelayWithService creates a Relay over an existing completions service.
func NewRelayWithService(completions CompletionsService, model string) *Relay {
	return &Relay{completions: completions, model: model}
}

// Model returns the chat model name.
func (r *Relay) Model() string {
	return r.model
}

// Stream sends systemPrompt plus the transcript upstream and writes the
// response to w. Upstream failures before the first chunk become JSON error
// responses; once streaming has begun, failures end the stream early.
func (r *Relay) Stream(ctx context.Context, w http.ResponseWriter, systemPrompt string, messages []types.ChatMessage) {
	params := openai.ChatCompletionNewParams{
		Messages: openai.F(buildMessages(systemPrompt, messages)),
		Model:    openai.F(openai.ChatModel(r.model)),
	}

	stream := r.completions.NewStreaming(ctx, params)
	defer stream.Close()

	if !stream.Next() {
		if err := stream.Err(); err != nil {
			status, msg := UpstreamError(err)
			slog.Error("chat upstream failed",
				"component", "chat",
				"action", "relay_start",
				"status", status,
				"error", err,
			)
			WriteError(w, status, msg)
			return
		}
		// Upstream closed without any chunk.
		startStream(w)
		writeDone(w)
		return
	}

	flusher := startStream(w)
	chunks := 0
	for {
		if err := writeEvent(w, stream.Current().JSON.RawJSON()); err != nil {
			slog.Warn("chat client went away",
				"component", "chat",
				"chunks", chunks,
				"error", err,
			)
			return
		}
		chunks++
		if flusher != nil {
			flusher.Flush()
		}
		if !stream.Next() {
			break
		}
	}

	if err := stream.Err(); err != nil {
		slog.Error("chat stream interrupted",
			"component", "chat",
			"action", "relay_stream",
			"chunks", chunks,
			"error", err,
		)
		return
	}

	writeDone(w)
	if flusher != nil {
		flusher.Flush()
	}
	slog.Debug("chat stream completed", "component", "chat", "chunks", chunks)
}

func buildMessages(systemPrompt string, messages []types.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	out = append(out, openai.SystemMessage(systemPrompt))
	for _, m := range messages {
		switch m.Role {
		case types.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case types.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		}
	}
	return out
}

// UpstreamError maps an upstream failure to the status and message returned
// to the caller.
func UpstreamError(err error) (int, string) {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusTooManyRequests:
			return http.StatusTooManyRequests, MsgRateLimited
		case http.StatusPaymentRequired:
			return http.StatusPaymentRequired, MsgPayment
		}
	}
	return http.StatusInternalServerError, MsgGateway
}

// WriteError writes a JSON {"error": msg} response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg})
}

func startStream(w http.ResponseWriter) http.Flusher {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	return flusher
}

func writeEvent(w http.ResponseWriter, data string) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeDone(w http.ResponseWriter) {
	fmt.Fprint(w, "data: [DONE]\n\n")
}
