package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/lalithlochan/outreach/internal/db"
	"github.com/lalithlochan/outreach/internal/outreach"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func fakeOpenAI(t *testing.T, reply string, status int) (*httptest.Server, *chatRequest) {
	t.Helper()
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization: got %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  got.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 40, "completion_tokens": 60, "total_tokens": 100},
		})
	}))
	t.Cleanup(server.Close)
	return server, &got
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{APIKey: "sk-test", BaseURL: baseURL}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestPersonalize_RewritesBody(t *testing.T) {
	server, req := fakeOpenAI(t, "  Hi Rosa,\n\nYour bakery deserves a site.  ", http.StatusOK)
	p := NewPersonalizer(newTestClient(t, server.URL), zap.NewNop())

	b := db.Business{ID: 4, Name: "Rosa's Bakery", Category: "bakery", Location: "Austin", ContactName: "Rosa"}
	draft := outreach.Draft{Subject: "Website for Rosa's Bakery", Body: "Dear Rosa, ..."}

	out, err := p.Personalize(context.Background(), b, db.EmailInitial, draft)
	if err != nil {
		t.Fatalf("Personalize: %v", err)
	}
	if out.Subject != draft.Subject {
		t.Errorf("subject changed: %q", out.Subject)
	}
	if out.Body != "Hi Rosa,\n\nYour bakery deserves a site." {
		t.Errorf("body: got %q", out.Body)
	}

	if req.Model != "gpt-4o-mini" {
		t.Errorf("model: got %s", req.Model)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
		t.Fatalf("messages: got %+v", req.Messages)
	}
	user := req.Messages[1].Content
	for _, want := range []string{"Business: Rosa's Bakery", "Location: Austin", "Email type: initial", "Dear Rosa, ..."} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
}

func TestPersonalize_APIErrorKeepsDraft(t *testing.T) {
	server, _ := fakeOpenAI(t, "", http.StatusTooManyRequests)
	p := NewPersonalizer(newTestClient(t, server.URL), zap.NewNop())

	draft := outreach.Draft{Subject: "S", Body: "B"}
	out, err := p.Personalize(context.Background(), db.Business{ID: 1}, db.EmailFollowUp, draft)
	if err == nil {
		t.Fatal("expected error")
	}
	if out != draft {
		t.Errorf("draft should be returned unchanged, got %+v", out)
	}
}

func TestPersonalize_EmptyReply(t *testing.T) {
	server, _ := fakeOpenAI(t, "   ", http.StatusOK)
	p := NewPersonalizer(newTestClient(t, server.URL), zap.NewNop())

	_, err := p.Personalize(context.Background(), db.Business{ID: 1}, db.EmailInitial, outreach.Draft{})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestNewClient_RequiresKey(t *testing.T) {
	if _, err := NewClient(Config{}, zap.NewNop()); err == nil {
		t.Fatal("expected error without API key")
	}
}
