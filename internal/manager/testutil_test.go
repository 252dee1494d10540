package manager

import (
	"context"
	"strings"
	"sync"
	"testing"

	"wundot/internal/chat"
	"wundot/internal/runtime"
	"wundot/internal/runtime/echo"
)

// plainFormatter joins turn texts with spaces so echo output stays readable.
func plainFormatter() chat.Formatter {
	return chat.FormatterFunc(func(turns []chat.Turn, _ bool) (string, error) {
		parts := make([]string, 0, len(turns))
		for _, t := range turns {
			parts = append(parts, t.Text)
		}
		return strings.Join(parts, " "), nil
	})
}

// recordingFormatter captures the turns of every Format call.
type recordingFormatter struct {
	mu    sync.Mutex
	calls [][]chat.Turn
}

func (r *recordingFormatter) Format(turns []chat.Turn, addGenerationMarker bool) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]chat.Turn(nil), turns...))
	r.mu.Unlock()
	return plainFormatter().Format(turns, addGenerationMarker)
}

func (r *recordingFormatter) last() []chat.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

// newReadyManager builds a manager over an echo runtime and initializes it.
func newReadyManager(t *testing.T, opts echo.Options, cfg ManagerConfig) (*Manager, *echo.Runtime) {
	t.Helper()
	rt := echo.New(opts)
	cfg.Runtime = rt
	if cfg.Formatter == nil {
		cfg.Formatter = plainFormatter()
	}
	m := NewWithConfig(cfg)
	if err := m.Initialize(context.Background(), "m.gguf", cfg.PoolSize); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return m, rt
}

// decoratedRuntime changes how echo renders tokens: eos is the text of the
// end-of-generation token and suffix is appended to every other piece.
type decoratedRuntime struct {
	*echo.Runtime
	eos    string
	suffix string
}

func (d decoratedRuntime) Render(c runtime.Context, t runtime.Token) string {
	if t == echo.EOS {
		return d.eos
	}
	return d.Runtime.Render(c, t) + d.suffix
}

func newDecoratedManager(t *testing.T, opts echo.Options, eos, suffix string) *Manager {
	t.Helper()
	m := NewWithConfig(ManagerConfig{
		Runtime:   decoratedRuntime{Runtime: echo.New(opts), eos: eos, suffix: suffix},
		Formatter: plainFormatter(),
		PoolSize:  1,
	})
	if err := m.Initialize(context.Background(), "m.gguf", 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return m
}
