package tunnel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientRunTaskDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/task/t.echo" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body struct {
			Input json.RawMessage `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": json.RawMessage(body.Input),
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	var result map[string]any
	if err := c.RunTask(context.Background(), "t.echo", map[string]any{"a": 1}, &result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["a"] != float64(1) {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestClientRunTaskDiscardsResultWhenNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": nil})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	if err := c.RunTask(context.Background(), "t.echo", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientEmitEventPostsPayload(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/event/ev.confirmed" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body struct {
			Payload json.RawMessage `json:"payload"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.Unmarshal(body.Payload, &gotPayload)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	if err := c.EmitEvent(context.Background(), "ev.confirmed", map[string]any{"x": "y"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPayload["x"] != "y" {
		t.Fatalf("unexpected payload observed by server: %v", gotPayload)
	}
}

func TestClientAttachesTokenHeader(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("x-runner-token")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "secret"})
	if err := c.EmitEvent(context.Background(), "ev.confirmed", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotToken != "secret" {
		t.Fatalf("expected the token header to be set, got %q", gotToken)
	}
}

func TestClientSurfacesCallErrorOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"ok": false,
			"error": map[string]string{
				"code":    "FORBIDDEN",
				"message": "task not in tunnel allow-list",
			},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	err := c.RunTask(context.Background(), "t.blocked", nil, nil)
	if err == nil {
		t.Fatalf("expected an error for a non-200 response")
	}
	callErr, ok := err.(*CallError)
	if !ok {
		t.Fatalf("expected a *CallError, got %T: %v", err, err)
	}
	if callErr.Status != http.StatusForbidden || callErr.Code != "FORBIDDEN" {
		t.Fatalf("unexpected CallError: %+v", callErr)
	}
}
