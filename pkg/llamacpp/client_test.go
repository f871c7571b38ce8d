package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestQuery(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Expected /v1/chat/completions, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"{\"detections\":[]}"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	reply, err := c.Query(context.Background(), "m", "find things", "aGVsbG8=")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if reply != `{"detections":[]}` {
		t.Errorf("Unexpected reply %q", reply)
	}

	if got.Model != "m" || got.Stream {
		t.Errorf("Unexpected request %+v", got)
	}
	parts, ok := got.Messages[0].Content.([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("Expected text and image parts, got %#v", got.Messages[0].Content)
	}
	img := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(img, "data:image/jpeg;base64,") {
		t.Errorf("Expected a data URI, got %s", img)
	}
}

func TestQueryPartsReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"hello"}]}}]}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	reply, err := c.Query(context.Background(), "m", "p", "")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if reply != "hello" {
		t.Errorf("Expected hello, got %q", reply)
	}
}

func TestQueryErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "boom"},
		{"no choices", http.StatusOK, `{"choices":[]}`},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":""}}]}`},
		{"bad json", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, _ := NewClient(srv.URL)
			if _, err := c.Query(context.Background(), "m", "p", ""); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestNewClientDefaultURL(t *testing.T) {
	c, _ := NewClient("")
	if c.baseURL != DefaultURL {
		t.Errorf("Expected %s, got %s", DefaultURL, c.baseURL)
	}
}
