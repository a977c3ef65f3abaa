package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hyperengineering/oracle/internal/auth"
)

const testAPIKey = "test-secret-key-12345"

// mockHandler is a simple handler that records if it was called
func mockHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}), &called
}

// captureLogs swaps the default logger for a JSON logger writing to the
// returned buffer until the test ends.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(old) })
	return &buf
}

// --- AuthMiddleware ---

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		header     string
		wantCalled bool
		wantStatus int
	}{
		{"valid token", testAPIKey, "Bearer " + testAPIKey, true, http.StatusOK},
		{"missing header", testAPIKey, "", false, http.StatusUnauthorized},
		{"wrong token", testAPIKey, "Bearer wrong-token", false, http.StatusUnauthorized},
		{"no bearer prefix", testAPIKey, testAPIKey, false, http.StatusUnauthorized},
		{"empty token", testAPIKey, "Bearer ", false, http.StatusUnauthorized},
		{"whitespace token", testAPIKey, "Bearer    ", false, http.StatusUnauthorized},
		{"unset key rejects everything", "", "Bearer ", false, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, called := mockHandler()
			mw := AuthMiddleware(tt.apiKey)(handler)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/decks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			mw.ServeHTTP(w, req)

			if *called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", *called, tt.wantCalled)
			}
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestAuthMiddleware_ResponseFormat_RFC7807(t *testing.T) {
	handler, _ := mockHandler()
	mw := AuthMiddleware(testAPIKey)(handler)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/decks", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %v, want application/problem+json", ct)
	}

	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal response as RFC 7807: %v", err)
	}
	if p.Type != problemBaseURI+"unauthorized" {
		t.Errorf("type = %v", p.Type)
	}
	if p.Status != 401 || p.Detail != "Missing or invalid API key" || p.Instance != "/api/v1/decks" {
		t.Errorf("problem = %+v", p)
	}
	if strings.Contains(w.Body.String(), testAPIKey) {
		t.Error("response body contains the expected API key - security violation!")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{"valid token", "Bearer abc123", "abc123"},
		{"missing header", "", ""},
		{"no bearer prefix", "abc123", ""},
		{"empty after bearer", "Bearer ", ""},
		{"whitespace after bearer", "Bearer    ", ""},
		{"lowercase bearer", "bearer abc123", ""},
		{"basic auth", "Basic abc123", ""},
		{"token with spaces trimmed", "Bearer  abc123 ", "abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := extractBearerToken(req); got != tt.expected {
				t.Errorf("extractBearerToken() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestConstantTimeEqual(t *testing.T) {
	tests := []struct {
		a, b     string
		expected bool
	}{
		{"abc123", "abc123", true},
		{"abc123", "xyz789", false},
		{"abc", "abcdef", false},
		{"", "", true},
		{"abc", "", false},
	}
	for _, tt := range tests {
		if got := constantTimeEqual(tt.a, tt.b); got != tt.expected {
			t.Errorf("constantTimeEqual(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.expected)
		}
	}
}

// --- JWTMiddleware ---

func TestJWTMiddleware_ValidToken_SetsUserID(t *testing.T) {
	v := auth.NewVerifier("jwt-secret", "identity")
	userID := uuid.New()
	token, err := v.Issue(userID, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	var got uuid.UUID
	mw := JWTMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got != userID {
		t.Errorf("user id = %v, want %v", got, userID)
	}
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	v := auth.NewVerifier("jwt-secret", "identity")
	expired, _ := v.Issue(uuid.New(), -time.Minute)
	foreign, _ := auth.NewVerifier("other-secret", "identity").Issue(uuid.New(), time.Hour)

	tests := []struct {
		name     string
		verifier *auth.Verifier
		header   string
	}{
		{"missing header", v, ""},
		{"garbage", v, "Bearer not-a-jwt"},
		{"expired", v, "Bearer " + expired},
		{"wrong secret", v, "Bearer " + foreign},
		{"no verifier", nil, "Bearer " + foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, called := mockHandler()
			mw := JWTMiddleware(tt.verifier)(handler)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			mw.ServeHTTP(w, req)

			if *called {
				t.Error("handler should not be called")
			}
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if body["error"] == "" {
				t.Errorf("body = %v, want error field", body)
			}
		})
	}
}

// --- CORSMiddleware ---

func TestCORSMiddleware_PreflightAnswered(t *testing.T) {
	handler, called := mockHandler()
	mw := CORSMiddleware("")(handler)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if *called {
		t.Error("preflight should not reach the handler")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q, want *", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "authorization") {
		t.Errorf("allow-headers = %q", got)
	}
}

func TestCORSMiddleware_ConfiguredOrigin(t *testing.T) {
	handler, called := mockHandler()
	mw := CORSMiddleware("https://app.example.com")(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/decks", nil)
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)

	if !*called {
		t.Error("handler was not called")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow-origin = %q", got)
	}
	if got := w.Header().Get("Vary"); got != "Origin" {
		t.Errorf("vary = %q, want Origin", got)
	}
}

// --- LoggingMiddleware ---

func TestLoggingMiddleware_NoAuthHeaderLeak(t *testing.T) {
	logBuf := captureLogs(t)

	mw := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/decks", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	mw.ServeHTTP(httptest.NewRecorder(), req)

	if strings.Contains(logBuf.String(), testAPIKey) {
		t.Error("log output contains the API key - security violation!")
	}
	if !strings.Contains(logBuf.String(), `"msg":"request completed"`) {
		t.Errorf("expected request log line, got: %s", logBuf.String())
	}
}

func TestGetRequestID(t *testing.T) {
	var reqID string
	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Get("/test", func(w http.ResponseWriter, r *http.Request) {
		reqID = GetRequestID(r.Context())
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	if reqID == "" {
		t.Error("GetRequestID returned empty string, expected chi-generated ID")
	}

	if got := GetRequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()); got != "" {
		t.Errorf("GetRequestID without middleware = %q, want empty", got)
	}
}

func TestLogLevelForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   slog.Level
	}{
		{200, slog.LevelInfo},
		{201, slog.LevelInfo},
		{204, slog.LevelInfo},
		{302, slog.LevelInfo},
		{400, slog.LevelWarn},
		{401, slog.LevelWarn},
		{404, slog.LevelWarn},
		{413, slog.LevelWarn},
		{422, slog.LevelWarn},
		{500, slog.LevelError},
		{502, slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			if got := logLevelForStatus(tt.status); got != tt.want {
				t.Errorf("logLevelForStatus(%d) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestLoggingMiddleware_Fields(t *testing.T) {
	logBuf := captureLogs(t)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(LoggingMiddleware)
	router.Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.100:54321"
	router.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(logBuf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log as JSON: %v", err)
	}

	for _, field := range []string{"request_id", "method", "path", "status", "duration_ms", "remote_addr"} {
		if _, ok := entry[field]; !ok {
			t.Errorf("missing expected field: %s", field)
		}
	}
	if entry["request_id"] == "" {
		t.Error("request_id is empty")
	}
	if entry["remote_addr"] != "192.168.1.100:54321" {
		t.Errorf("remote_addr = %v", entry["remote_addr"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Errorf("status = %v, want 418", entry["status"])
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", entry["level"])
	}
	for key := range entry {
		if strings.Contains(key, "-") || key != strings.ToLower(key) {
			t.Errorf("field %q should be snake_case", key)
		}
	}
}

func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusBadRequest, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logBuf := captureLogs(t)
			mw := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

			if !strings.Contains(logBuf.String(), `"level":"`+tt.level+`"`) {
				t.Errorf("expected %s level, got: %s", tt.level, logBuf.String())
			}
		})
	}
}

func TestResponseWriter_FirstStatusWinsAndFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError)
	rw.Write([]byte("data: x\n\n"))
	rw.Flush()

	if rw.statusCode != http.StatusCreated {
		t.Errorf("statusCode = %d, want 201", rw.statusCode)
	}
	if !rec.Flushed {
		t.Error("Flush did not reach the underlying writer")
	}
}

// --- RecoveryMiddleware ---

func TestRecoveryMiddleware_NoPanic(t *testing.T) {
	handler, _ := mockHandler()
	w := httptest.NewRecorder()
	RecoveryMiddleware(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/decks", nil))

	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("status = %d body = %q", w.Code, w.Body.String())
	}
}

func TestRecoveryMiddleware_PanicNoLeak(t *testing.T) {
	logBuf := captureLogs(t)

	secretMessage := "super-secret-database-password-12345"
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(secretMessage)
	})

	w := httptest.NewRecorder()
	RecoveryMiddleware(panicHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/decks", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), secretMessage) {
		t.Error("response body contains secret panic message - security violation!")
	}

	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if p.Type != problemBaseURI+"internal-error" || p.Detail != "Internal Server Error" {
		t.Errorf("problem = %+v", p)
	}

	logOutput := logBuf.String()
	if !strings.Contains(logOutput, "panic recovered") || !strings.Contains(logOutput, secretMessage) {
		t.Errorf("expected panic details in logs, got: %s", logOutput)
	}
}
