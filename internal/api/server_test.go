package api

import (
	"context"
	"testing"
	"time"

	"github.com/foliolabs/folio/internal/chat"
	"github.com/foliolabs/folio/internal/log"
)

func TestServerRunGracefulShutdown(t *testing.T) {
	srv, err := NewServer(Config{ListenAddr: "127.0.0.1:0"},
		&fakeChat{resp: &chat.Response{}}, &fakeAdmin{}, &fakeRelated{}, nil, log.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	// Give the listener a moment to come up, then request shutdown.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after shutdown, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
