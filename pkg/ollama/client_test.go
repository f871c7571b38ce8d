package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
)

func TestQuery(t *testing.T) {
	var got api.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Expected /api/chat, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Write([]byte(`{"model":"llava","message":{"role":"assistant","content":"{\"detections\":[]}"},"done":true}` + "\n"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/api/chat")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	reply, err := c.Query(context.Background(), "llava", "find things", "aGVsbG8=")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if reply != `{"detections":[]}` {
		t.Errorf("Unexpected reply %q", reply)
	}

	if got.Model != "llava" {
		t.Errorf("Expected model llava, got %s", got.Model)
	}
	if len(got.Messages) != 1 || len(got.Messages[0].Images) != 1 {
		t.Fatalf("Expected one message with one image, got %+v", got.Messages)
	}
	if string(got.Messages[0].Images[0]) != "hello" {
		t.Errorf("Expected decoded image bytes, got %q", got.Messages[0].Images[0])
	}
}

func TestQueryBadImage(t *testing.T) {
	c, _ := NewClient("http://127.0.0.1:1")
	if _, err := c.Query(context.Background(), "m", "p", "%%%"); err == nil {
		t.Error("Expected error for invalid base64")
	}
}

func TestQueryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model not found"}` + "\n"))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	if _, err := c.Query(context.Background(), "missing", "p", ""); err == nil {
		t.Error("Expected error for a missing model")
	}
}

func TestNewClientInvalidURL(t *testing.T) {
	if _, err := NewClient("localhost"); err == nil {
		t.Error("Expected error for URL without scheme")
	}
}

func TestModelOptions(t *testing.T) {
	if _, ok := modelOptions("minicpm-v4.5")["num_ctx"]; !ok {
		t.Error("Expected num_ctx for MiniCPM-V 4")
	}
	if _, ok := modelOptions("llava")["num_ctx"]; ok {
		t.Error("Expected no num_ctx for llava")
	}
}
