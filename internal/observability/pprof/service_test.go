package pprof

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	logx "dockmate/pkg/logx"
)

func TestRefusesNonLoopbackWithoutAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())
	s.mu.Lock()
	running := s.srv != nil
	s.mu.Unlock()
	if running {
		t.Fatal("server must not start on non-loopback addr without token")
	}
}

func TestTokenGuard(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "hunter2"}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		t.Fatal("server did not start")
	}
	base := fmt.Sprintf("http://%s", ln.Addr())
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(base + "/debug/pprof/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	resp, err = client.Get(base + "/debug/pprof/?token=hunter2")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with token: status = %d, want 200", resp.StatusCode)
	}

	// healthz stays open for liveness probes.
	resp, err = client.Get(base + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: status = %d, want 200", resp.StatusCode)
	}
}

func TestReconfigureStartsAndStops(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	ctx := context.Background()

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	s.mu.Lock()
	running := s.srv != nil
	s.mu.Unlock()
	if !running {
		t.Fatal("expected server running after enable")
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	s.mu.Lock()
	running = s.srv != nil
	s.mu.Unlock()
	if running {
		t.Fatal("expected server stopped after disable")
	}
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"":              "/debug/pprof/",
		"debug/profile": "/debug/profile/",
		"/x/":           "/x/",
	}
	for in, want := range cases {
		if got := normalizePrefix(in); got != want {
			t.Errorf("normalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
