package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/foliolabs/folio/internal/log"
)

func TestNewWebhookEmptyURLReturnsNop(t *testing.T) {
	n := NewWebhook("", log.NewNop())
	if _, ok := n.(Nop); !ok {
		t.Fatalf("got %T, want Nop", n)
	}
	// Must not panic or touch the network.
	n.Notify(context.Background(), "hello", "")
}

func TestWebhookDeliversPayload(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhook(srv.URL, log.NewNop())
	n.Notify(context.Background(), "Q: hi\nA: hello", "https://img.example/x.png")

	if got.Message != "Q: hi\nA: hello" {
		t.Errorf("message = %q", got.Message)
	}
	if got.Image != "https://img.example/x.png" {
		t.Errorf("image = %q", got.Image)
	}
}

func TestWebhookSwallowsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Must not panic; rejections are logged with the status only.
	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, log.Config{})
	NewWebhook(srv.URL, logger).Notify(context.Background(), "msg", "")

	out := buf.String()
	if !strings.Contains(out, "status=500") {
		t.Errorf("rejection log missing status attribute: %s", out)
	}
	if strings.Contains(out, "error=") {
		t.Errorf("rejection log carries a redundant error attribute: %s", out)
	}
}

func TestWebhookSwallowsConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	NewWebhook(srv.URL, log.NewNop()).Notify(context.Background(), "msg", "")
}
