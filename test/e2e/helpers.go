// Package e2e runs the assembled service over a real socket: router,
// SQLite store, importer and chat relay, with the model endpoint replaced by
// a scripted upstream.
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hyperengineering/oracle/internal/api"
	"github.com/hyperengineering/oracle/internal/auth"
	"github.com/hyperengineering/oracle/internal/chat"
	"github.com/hyperengineering/oracle/internal/importer"
	"github.com/hyperengineering/oracle/internal/safety"
	"github.com/hyperengineering/oracle/internal/storage"
	"github.com/hyperengineering/oracle/internal/store"
	"github.com/hyperengineering/oracle/pkg/guide"
)

const (
	adminKey  = "e2e-admin-key"
	jwtSecret = "e2e-jwt-secret"
	jwtIssuer = "identity"
)

// scriptedUpstream is an OpenAI-compatible completions endpoint that streams
// a fixed list of content deltas and records each request's system prompt.
type scriptedUpstream struct {
	mu      sync.Mutex
	deltas  []string
	prompts []string
	// fail ends the stream with an error event instead of [DONE].
	fail bool
}

func (u *scriptedUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Messages []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"messages"`
	}
	raw, _ := io.ReadAll(r.Body)
	json.Unmarshal(raw, &body)

	u.mu.Lock()
	if len(body.Messages) > 0 {
		u.prompts = append(u.prompts, fmt.Sprint(body.Messages[0].Content))
	}
	deltas := append([]string(nil), u.deltas...)
	fail := u.fail
	u.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for i, d := range deltas {
		content, _ := json.Marshal(d)
		fmt.Fprintf(w, `data: {"id":"c%d","object":"chat.completion.chunk","created":1,"model":"gpt-e2e","choices":[{"index":0,"delta":{"role":"assistant","content":%s},"finish_reason":null}]}`+"\n\n", i, content)
		if flusher != nil {
			flusher.Flush()
		}
	}
	if fail {
		fmt.Fprint(w, `data: {"error":{"message":"model overloaded","type":"server_error"}}`+"\n\n")
		return
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func (u *scriptedUpstream) script(deltas ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.deltas = deltas
	u.fail = false
}

// scriptFailure streams deltas and then fails mid-reply.
func (u *scriptedUpstream) scriptFailure(deltas ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.deltas = deltas
	u.fail = true
}

func (u *scriptedUpstream) lastPrompt() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.prompts) == 0 {
		return ""
	}
	return u.prompts[len(u.prompts)-1]
}

type env struct {
	server   *httptest.Server
	store    *store.SQLiteStore
	upstream *scriptedUpstream
	verifier *auth.Verifier
}

func setup(t *testing.T) *env {
	t.Helper()

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "oracle.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	up := &scriptedUpstream{deltas: []string{"Breathe"}}
	upstream := httptest.NewServer(up)

	verifier := auth.NewVerifier(jwtSecret, jwtIssuer)
	handler := api.NewHandler(api.Deps{
		Store:    db,
		Importer: importer.New(db, storage.NoopArchiver{}, 2),
		Filter:   safety.NewFilter(nil, 0),
		Relay:    chat.NewRelay("sk-e2e", upstream.URL+"/v1", "gpt-e2e"),
		Verifier: verifier,
	}, api.Options{APIKey: adminKey, Version: "e2e"})
	server := httptest.NewServer(api.NewRouter(handler))

	// Server before store, matching serve's shutdown order.
	t.Cleanup(func() {
		server.Close()
		upstream.Close()
		db.Close()
	})

	return &env{server: server, store: db, upstream: up, verifier: verifier}
}

// guideClient returns a client authenticated as a fresh user.
func (e *env) guideClient(t *testing.T) (*guide.Client, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	token, err := e.verifier.Issue(userID, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	c, err := guide.New(guide.Config{BaseURL: e.server.URL, Token: token})
	if err != nil {
		t.Fatalf("guide.New: %v", err)
	}
	return c, userID
}

// adminRequest sends an admin-authenticated request and decodes a JSON
// response into out when out is non-nil.
func (e *env) adminRequest(t *testing.T, method, path, contentType, body string, out any) int {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+adminKey)
	req.Header.Set("Content-Type", contentType)
	return e.send(t, req, out)
}

func (e *env) get(t *testing.T, path string, out any) int {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, e.server.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return e.send(t, req, out)
}

func (e *env) send(t *testing.T, req *http.Request, out any) int {
	t.Helper()
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", req.URL.Path, err)
		}
	}
	return resp.StatusCode
}
