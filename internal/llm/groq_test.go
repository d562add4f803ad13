package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"family-meal-planner/internal/config"
)

func newTestGroq(t *testing.T, handler http.HandlerFunc) *groqClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewGroqClient(&config.Config{
		GroqAPIKey:      "test-key",
		GroqModel:       "test-model",
		GroqVisionModel: "vision-model",
		LLMTemperature:  0.2,
	}).(*groqClient)
	client.endpoint = server.URL
	return client
}

func TestGroqGenerateContent(t *testing.T) {
	client := newTestGroq(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		var req groqRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request failed: %v", err)
			return
		}
		if req.Model != "test-model" || req.ResponseFormat["type"] != "json_object" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"test-model","choices":[{"message":{"content":"{\"ok\":true}"}}],
			"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`))
	})

	resp, err := client.GenerateContent(context.Background(), "plan a week")
	if err != nil {
		t.Fatalf("GenerateContent failed: %v", err)
	}
	if resp.Content != `{"ok":true}` {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 17 || resp.Usage.PromptTokens != 12 || resp.Usage.Model != "test-model" {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
}

func TestGroqGenerateFromImage(t *testing.T) {
	client := newTestGroq(t, func(w http.ResponseWriter, r *http.Request) {
		var req groqRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request failed: %v", err)
			return
		}
		if req.Model != "vision-model" {
			t.Errorf("expected the vision model, got %q", req.Model)
		}
		parts, ok := req.Messages[0].Content.([]any)
		if !ok || len(parts) != 2 {
			t.Errorf("expected a text and an image part, got %#v", req.Messages[0].Content)
		} else {
			image, _ := parts[1].(map[string]any)
			url, _ := image["image_url"].(map[string]any)
			if url["url"] != "data:image/png;base64,AQID" {
				t.Errorf("unexpected image url %v", url["url"])
			}
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"items\":[]}"}}],"usage":{"total_tokens":9}}`))
	})

	resp, err := client.GenerateFromImage(context.Background(), "read the receipt", []byte{1, 2, 3}, "image/png")
	if err != nil {
		t.Fatalf("GenerateFromImage failed: %v", err)
	}
	if resp.Content != `{"items":[]}` || resp.Usage.Model != "vision-model" {
		t.Errorf("unexpected response %+v", resp)
	}

	if _, err := client.GenerateFromImage(context.Background(), "x", []byte{1}, "application/pdf"); err == nil {
		t.Error("expected an error for a non-image payload")
	}
}

func TestGroqErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		client := newTestGroq(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		})
		_, err := client.GenerateContent(context.Background(), "x")
		if err == nil || !strings.Contains(err.Error(), "status=429") {
			t.Fatalf("expected status error, got %v", err)
		}
	})

	t.Run("no choices", func(t *testing.T) {
		client := newTestGroq(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		})
		if _, err := client.GenerateContent(context.Background(), "x"); err == nil {
			t.Fatal("expected an error for empty choices")
		}
	})
}
