// Package tunnel implements the client half of the HTTP exposure contract:
// forwarding task and event calls to a remote arbor runtime over HTTP, so a
// resource tagged exposure.Tunnel in "client" mode can call through to a
// server-mode runtime elsewhere.
package tunnel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config configures a Client.
type Config struct {
	BaseURL     string
	TokenHeader string // default "x-runner-token"
	Token       string
	HTTPClient  *http.Client
	Timeout     time.Duration // default 30s, applied when HTTPClient is nil
}

// Client forwards task/event calls to a remote runtime's HTTP exposure
// server.
type Client struct {
	baseURL string
	header  string
	token   string
	http    *http.Client
}

// NewClient builds a Client against cfg.BaseURL (e.g.
// "https://host/api/v1").
func NewClient(cfg Config) *Client {
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = "x-runner-token"
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		header:  cfg.TokenHeader,
		token:   cfg.Token,
		http:    client,
	}
}

// CallError mirrors the {ok:false, error:{code,message}} body the exposure
// server returns, plus the HTTP status it arrived with.
type CallError struct {
	Status  int
	Code    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("tunnel: %s (%d): %s", e.Code, e.Status, e.Message)
}

// RunTask forwards input to {baseURL}/task/{id} and decodes the result
// into result (a pointer, or nil to discard it).
func (c *Client) RunTask(ctx context.Context, id string, input any, result any) error {
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return fmt.Errorf("tunnel: marshal input: %w", err)
	}
	raw, err := c.post(ctx, "/task/"+id, body)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("tunnel: decode response: %w", err)
	}
	return json.Unmarshal(envelope.Result, result)
}

// EmitEvent forwards payload to {baseURL}/event/{id}.
func (c *Client) EmitEvent(ctx context.Context, id string, payload any) error {
	body, err := json.Marshal(map[string]any{"payload": payload})
	if err != nil {
		return fmt.Errorf("tunnel: marshal payload: %w", err)
	}
	_, err = c.post(ctx, "/event/"+id, body)
	return err
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tunnel: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set(c.header, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tunnel: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tunnel: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw, &envelope)
		return nil, &CallError{Status: resp.StatusCode, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	return raw, nil
}
