package preload

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sparv-lang/engine/internal/engineconfig"
	"github.com/sparv-lang/engine/pkg/registry"
)

func tokenizerWithPreloader(t *testing.T, calls *int32) registry.Descriptor {
	t.Helper()
	return registry.Descriptor{
		ID:          "segment:token",
		Module:      "segment",
		Function:    "token",
		Kind:        registry.KindAnnotator,
		Description: "splits text into tokens using a preloaded model",
		Run:         func(context.Context, string, map[string]any) error { return nil },
		Preloader: &registry.PreloaderDecl{
			Shared: false,
			Preload: func(context.Context, map[string]any) (any, error) {
				atomic.AddInt32(calls, 1)
				return "warm-model", nil
			},
		},
	}
}

func newTestServer(t *testing.T, workers int, dispatch Dispatcher) (*Server, string) {
	t.Helper()
	var calls int32
	reg := registry.New(nil)
	if err := reg.Register(tokenizerWithPreloader(t, &calls)); err != nil {
		t.Fatal(err)
	}
	cfg := engineconfig.New(map[string]any{"preload": []any{"segment:token"}})
	socketPath := filepath.Join(t.TempDir(), "preload.sock")
	s := New(socketPath, reg, cfg, dispatch, workers, nil)
	return s, socketPath
}

func serveInBackground(t *testing.T, s *Server) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()
	// Give the listener a moment to bind before clients dial.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c := NewClient(s.SocketPath)
		if err := c.Ping(); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after cancellation")
		}
	})
	return cancel
}

func TestServerPingAndInfo(t *testing.T) {
	s, sock := newTestServer(t, 2, func(context.Context, *registry.Descriptor, any, string, map[string]any) error {
		return nil
	})
	serveInBackground(t, s)

	c := NewClient(sock)
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	info, err := c.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if _, ok := info["segment:token"]; !ok {
		t.Fatalf("info = %v, want segment:token entry", info)
	}
}

func TestServerRunJobUsesPreloadedState(t *testing.T) {
	var gotWarm any
	s, sock := newTestServer(t, 1, func(_ context.Context, d *registry.Descriptor, warm any, sourceFile string, bindings map[string]any) error {
		gotWarm = warm
		return nil
	})
	serveInBackground(t, s)

	c := NewClient(sock)
	resp, err := c.RunJob("segment:token", "doc1.xml", map[string]any{"out": "segment.token"}, false, "")
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if !resp.OK {
		t.Fatalf("resp = %+v, want OK", resp)
	}
	if gotWarm != "warm-model" {
		t.Fatalf("dispatcher saw warm state %v, want warm-model", gotWarm)
	}
}

func TestServerRefusesWhenPoolExhausted(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	s, sock := newTestServer(t, 1, func(context.Context, *registry.Descriptor, any, string, map[string]any) error {
		started <- struct{}{}
		<-release
		return nil
	})
	serveInBackground(t, s)

	c1 := NewClient(sock)
	c1.Timeout = 0
	done := make(chan struct{})
	go func() {
		_, _ = c1.RunJob("segment:token", "doc1.xml", nil, false, "")
		close(done)
	}()
	<-started

	c2 := NewClient(sock)
	resp, err := c2.RunJob("segment:token", "doc2.xml", nil, false, "")
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if !resp.Refused {
		t.Fatalf("resp = %+v, want Refused", resp)
	}

	close(release)
	<-done
}

func TestServerRejectsConfigFingerprintMismatch(t *testing.T) {
	s, sock := newTestServer(t, 1, func(context.Context, *registry.Descriptor, any, string, map[string]any) error {
		return nil
	})
	s.ConfigFingerprint = "abc123"
	serveInBackground(t, s)

	c := NewClient(sock)
	resp, err := c.RunJob("segment:token", "doc1.xml", nil, false, "different")
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if !resp.Stale {
		t.Fatalf("resp = %+v, want Stale", resp)
	}
}

func TestServerUnknownProcessorErrors(t *testing.T) {
	s, sock := newTestServer(t, 1, func(context.Context, *registry.Descriptor, any, string, map[string]any) error {
		return nil
	})
	serveInBackground(t, s)

	c := NewClient(sock)
	resp, err := c.RunJob("no:such", "doc1.xml", nil, false, "")
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if resp.OK {
		t.Fatal("resp.OK = true, want failure for unknown processor")
	}
}

func TestServerStopDrainsAndRemovesSocket(t *testing.T) {
	s, sock := newTestServer(t, 1, func(context.Context, *registry.Descriptor, any, string, map[string]any) error {
		return nil
	})
	cancel := serveInBackground(t, s)
	defer cancel()

	c := NewClient(sock)
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(sock); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("socket %s still exists after Stop", sock)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStopRunsFinalCleanup(t *testing.T) {
	var cleanups int32
	d := registry.Descriptor{
		ID:          "segment:token",
		Module:      "segment",
		Function:    "token",
		Kind:        registry.KindAnnotator,
		Description: "splits text into tokens using a preloaded model",
		Run:         func(context.Context, string, map[string]any) error { return nil },
		Preloader: &registry.PreloaderDecl{
			Preload: func(context.Context, map[string]any) (any, error) { return "warm-model", nil },
			Cleanup: func(_ context.Context, state any, _ map[string]any) (any, error) {
				atomic.AddInt32(&cleanups, 1)
				return state, nil
			},
		},
	}
	reg := registry.New(nil)
	if err := reg.Register(d); err != nil {
		t.Fatal(err)
	}
	cfg := engineconfig.New(map[string]any{"preload": []any{"segment:token"}})
	sock := filepath.Join(t.TempDir(), "preload.sock")
	s := New(sock, reg, cfg, func(context.Context, *registry.Descriptor, any, string, map[string]any) error {
		return nil
	}, 1, nil)
	cancel := serveInBackground(t, s)
	defer cancel()

	if err := NewClient(sock).Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&cleanups) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&cleanups) == 0 {
		t.Fatal("expected the preloader's cleanup hook to run once as a final pass on Stop")
	}
}
