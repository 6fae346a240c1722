package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaClientEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Input != "fireball" {
			t.Errorf("input = %q, want fireball", req.Input)
		}
		_ = json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float64{{0.1, 0.2, 0.3}},
		})
	}))
	defer srv.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})

	vec, err := client.Embed(context.Background(), "fireball")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Errorf("Embed() = %v, want [0.1 0.2 0.3]", vec)
	}
}

func TestOllamaClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})

	if _, err := client.Embed(context.Background(), "fireball"); err == nil {
		t.Fatal("Embed() succeeded against failing server, want error")
	}
}

func TestOllamaClientEmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer srv.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})

	if _, err := client.Embed(context.Background(), "fireball"); err == nil {
		t.Fatal("Embed() with empty response succeeded, want error")
	}
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := client.Embed(ctx, "x"); err == nil {
			t.Fatalf("request %d succeeded, want error", i)
		}
	}

	_, err := client.Embed(ctx, "x")
	if err == nil || !strings.Contains(err.Error(), "circuit breaker is open") {
		t.Fatalf("error after trip = %v, want circuit open", err)
	}
}

func TestTruncate(t *testing.T) {
	client := NewOllamaClient(OllamaConfig{MaxInputRunes: 5})

	short, truncated := Truncate(client, "abc")
	if truncated || short != "abc" {
		t.Errorf("Truncate(abc) = (%q, %v), want unchanged", short, truncated)
	}

	long, truncated := Truncate(client, "abcdefghij")
	if !truncated || long != "abcde" {
		t.Errorf("Truncate() = (%q, %v), want (abcde, true)", long, truncated)
	}
}
