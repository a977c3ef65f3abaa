// Package guide is a Go client for the oracle chat API. It streams guide
// replies and detects the practice protocol embedded in them.
package guide

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds the client configuration.
type Config struct {
	BaseURL    string        // Oracle service URL
	Token      string        // Bearer token issued by the identity service
	Timeout    time.Duration // Non-streaming request timeout (default: 30s)
	HTTPClient *http.Client  // Optional; used for streaming requests
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("oracle api: %d %s", e.StatusCode, e.Message)
}

// Handlers receive streaming events. Both are optional.
type Handlers struct {
	OnDelta func(delta string)
	// OnProtocolReady fires once, as soon as a complete protocol has arrived.
	OnProtocolReady func(p *Protocol)
}

// Client talks to the oracle chat API.
type Client struct {
	baseURL string
	token   string
	stream  *http.Client
	client  *http.Client
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("BaseURL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	streamClient := cfg.HTTPClient
	if streamClient == nil {
		streamClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		stream:  streamClient,
		client:  &http.Client{Timeout: cfg.Timeout, Transport: streamClient.Transport},
	}, nil
}

// Chat sends one turn and streams the reply. The returned Reply carries the
// full text and the protocol, if one was found. A reply cut off before the
// stream's [DONE] yields ErrIncompleteStream and no Reply.
func (c *Client) Chat(ctx context.Context, req ChatRequest, h Handlers) (*Reply, error) {
	resp, err := c.do(ctx, c.stream, http.MethodPost, "/api/v1/chat", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var buf strings.Builder
	var protocol *Protocol
	text, err := ReadStream(resp.Body, func(delta string) {
		buf.WriteString(delta)
		if h.OnDelta != nil {
			h.OnDelta(delta)
		}
		if protocol != nil {
			return
		}
		if p, ok := ExtractProtocol(buf.String()); ok {
			protocol = p
			if h.OnProtocolReady != nil {
				h.OnProtocolReady(p)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return &Reply{Text: text, Protocol: protocol}, nil
}

// SaveProtocol stores a protocol for the authenticated user.
func (c *Client) SaveProtocol(ctx context.Context, p Protocol) (*Protocol, error) {
	var saved Protocol
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/protocols", p, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// ListProtocols returns the authenticated user's saved protocols.
func (c *Client) ListProtocols(ctx context.Context) ([]Protocol, error) {
	var out struct {
		Protocols []Protocol `json:"protocols"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/protocols", nil, &out); err != nil {
		return nil, err
	}
	return out.Protocols, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, c.client, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do sends the request and converts non-2xx responses to *APIError.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

// decodeError reads both the relay's {"error"} shape and problem+json.
func decodeError(resp *http.Response) error {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
		Title  string `json:"title"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := http.StatusText(resp.StatusCode)
	if json.Unmarshal(data, &body) == nil {
		switch {
		case body.Error != "":
			msg = body.Error
		case body.Detail != "":
			msg = body.Detail
		case body.Title != "":
			msg = body.Title
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
