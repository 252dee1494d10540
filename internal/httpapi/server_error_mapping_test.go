package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"wundot/internal/manager"
	"wundot/internal/runtime"
	"wundot/internal/runtime/echo"
)

// failingService returns err from every Run call.
type failingService struct {
	*manager.Manager
	err error
}

func (f failingService) Run(ctx context.Context, req manager.Request) (manager.Result, error) {
	return manager.Result{}, f.err
}

// blockService blocks in Run until the context is done.
type blockService struct {
	*manager.Manager
}

func (blockService) Run(ctx context.Context, req manager.Request) (manager.Result, error) {
	<-ctx.Done()
	return manager.Result{}, ctx.Err()
}

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

func TestGenerateErrorMapping(t *testing.T) {
	m := newManager(t, echo.Options{}, manager.ManagerConfig{}, false)
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"model not found", manager.ErrModelNotFound("m-missing"), http.StatusNotFound},
		{"dependency unavailable", runtime.ErrUnavailable("llama backend not built"), http.StatusServiceUnavailable},
		{"http error", mockHTTPError{msg: "teapot", code: http.StatusTeapot}, http.StatusTeapot},
		{"generic", io.EOF, http.StatusInternalServerError},
	}
	for _, c := range cases {
		h := NewMux(failingService{Manager: m, err: c.err})
		if rec := do(t, h, http.MethodPost, "/generate", `{"prompt":"hi"}`); rec.Code != c.want {
			t.Fatalf("%s: expected %d, got %d", c.name, c.want, rec.Code)
		}
	}
}

func TestGenerateTooBusyMaps429(t *testing.T) {
	m := newManager(t, echo.Options{EOGAfter: 50, Latency: 5 * time.Millisecond},
		manager.ManagerConfig{PoolSize: 1, AcquireTimeout: 5 * time.Millisecond}, true)
	h := NewMux(m)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Generate(context.Background(), "", "", "slow")
	}()
	deadline := time.Now().Add(2 * time.Second)
	for m.Status().Pool.CheckedOut == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("background generate never acquired a session")
		}
		time.Sleep(time.Millisecond)
	}
	busy := rejectedTotal.WithLabelValues(rejectPoolBusy)
	before := testutil.ToFloat64(busy)
	if rec := do(t, h, http.MethodPost, "/generate", `{"prompt":"hi"}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(busy); got != before+1 {
		t.Fatalf("pool_busy rejections = %v, want %v", got, before+1)
	}
	<-done
}

func TestGenerateTimeoutMaps504(t *testing.T) {
	defer SetGenerateTimeoutSeconds(0)
	SetGenerateTimeoutSeconds(1)
	m := newManager(t, echo.Options{}, manager.ManagerConfig{}, false)
	h := NewMux(blockService{Manager: m})
	if rec := do(t, h, http.MethodPost, "/generate", `{"prompt":"x"}`); rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 on timeout, got %d", rec.Code)
	}
}

func TestGenerateServerShutdownMaps503(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	SetBaseContext(base)
	defer SetBaseContext(nil)
	cancel()
	m := newManager(t, echo.Options{}, manager.ManagerConfig{}, false)
	h := NewMux(blockService{Manager: m})
	stopping := rejectedTotal.WithLabelValues(rejectServerStopped)
	before := testutil.ToFloat64(stopping)
	if rec := do(t, h, http.MethodPost, "/generate", `{"prompt":"x"}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while shutting down, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(stopping); got != before+1 {
		t.Fatalf("server_stopping rejections = %v, want %v", got, before+1)
	}
}

func TestGenerateLogsWithZerolog(t *testing.T) {
	SetLogger(zerolog.New(io.Discard))
	defer SetLogger(zerolog.Nop())
	m := newManager(t, echo.Options{}, manager.ManagerConfig{}, true)
	h := NewMux(m)
	for _, q := range []string{"?log=info", "?log=debug"} {
		if rec := do(t, h, http.MethodPost, "/generate"+q, `{"prompt":"hi"}`); rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", q, rec.Code)
		}
	}
	h = NewMux(failingService{Manager: m, err: errors.New("boom")})
	if rec := do(t, h, http.MethodPost, "/generate?log=error", `{"prompt":"hi"}`); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	SetCORSOptions(true, []string{"*"}, []string{"GET", "POST", "OPTIONS"}, []string{"Content-Type"})
	defer SetCORSOptions(false, nil, nil, nil)

	m := newManager(t, echo.Options{}, manager.ManagerConfig{}, false)
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	NewMux(m).ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options=nosniff, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatalf("expected CORS header Access-Control-Allow-Origin to be set, got empty")
	}
}
