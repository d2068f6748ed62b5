package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRespondReturnsFirstChoice(t *testing.T) {
	var gotAuth string
	var gotBody chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "hello there"}}},
		})
	}))
	defer server.Close()

	r := New(Config{APIKey: "test-key", APIURL: server.URL, Model: "gpt-4o-mini"})
	got, err := r.Respond(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "hello there" {
		t.Fatalf("unexpected reply: %q", got)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected Authorization header: %q", gotAuth)
	}
	if gotBody.Stream {
		t.Fatal("expected stream=false")
	}
	if len(gotBody.Messages) != 1 || gotBody.Messages[0].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", gotBody.Messages)
	}
}

func TestRespondMissingAPIKey(t *testing.T) {
	r := New(Config{APIURL: "http://unused.invalid"})
	if _, err := r.Respond(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestRespondPropagatesProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(chatResponse{Error: &struct {
			Message string `json:"message"`
		}{Message: "rate limited"}})
	}))
	defer server.Close()

	r := New(Config{APIKey: "k", APIURL: server.URL})
	_, err := r.Respond(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected rate limited error, got %v", err)
	}
}
