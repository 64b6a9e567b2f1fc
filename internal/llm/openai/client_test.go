package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joseph-ayodele/menu-safety/internal/llm"
)

func newTestClient(url string, retries int) *Client {
	return NewClient(Config{
		APIKey:     "test-key",
		BaseURL:    url,
		Model:      "test-model",
		Timeout:    5 * time.Second,
		MaxRetries: retries,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func completion(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"content": content}}},
	})
	return b
}

func TestAnalyze(t *testing.T) {
	const verdict = `{"items":[{"name":"Pad Thai","status":"unsafe","allergens":["peanut"]}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["model"] != "test-model" {
			t.Errorf("model = %v", body["model"])
		}
		_, _ = w.Write(completion("  " + verdict + "\n"))
	}))
	defer srv.Close()

	raw, err := newTestClient(srv.URL+"/", 0).Analyze(context.Background(), llm.AnalyzeRequest{
		Allergies: []string{"peanut"},
		MenuItems: []string{"Pad Thai"},
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if string(raw) != verdict {
		t.Errorf("content = %s", raw)
	}
}

func TestAnalyze_RetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write(completion(`{"items":[]}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL, 2).Analyze(context.Background(), llm.AnalyzeRequest{}); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestAnalyze_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Analyze(context.Background(), llm.AnalyzeRequest{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestAnalyze_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL, 0).Analyze(context.Background(), llm.AnalyzeRequest{}); err == nil {
		t.Error("expected an error for an empty choice list")
	}
}
