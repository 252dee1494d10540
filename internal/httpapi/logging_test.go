package httpapi

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"":      LevelOff,
		"off":   LevelOff,
		"error": LevelError,
		"info":  LevelInfo,
		"debug": LevelDebug,
		"weird": LevelInfo, // default
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRequestLogLevel_Overrides(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?log=debug", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("query override failed: %v", got)
	}
	r = httptest.NewRequest("GET", "/x?log=1", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("short query override failed: %v", got)
	}
	r = httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("X-Log-Level", "error")
	if got := requestLogLevel(r); got != LevelError {
		t.Fatalf("header override failed: %v", got)
	}
	// query wins over header
	r = httptest.NewRequest("GET", "/x?log=info", nil)
	r.Header.Set("X-Log-Level", "off")
	if got := requestLogLevel(r); got != LevelInfo {
		t.Fatalf("query should take precedence: %v", got)
	}
}

func TestLogEndRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	defer SetLogger(zerolog.Nop())

	r := httptest.NewRequest("POST", "/generate", nil)
	start := time.Now()
	logEnd(r, LevelError, "generate", 200, start, nil)
	if buf.Len() != 0 {
		t.Fatalf("success logged at error level: %q", buf.String())
	}
	logEnd(r, LevelError, "generate", 500, start, errors.New("boom"))
	if !strings.Contains(buf.String(), `"error":"boom"`) || !strings.Contains(buf.String(), `"status":500`) {
		t.Fatalf("missing error line: %q", buf.String())
	}
	buf.Reset()
	logEnd(r, LevelInfo, "generate", 200, start, nil)
	if !strings.Contains(buf.String(), "generate end") {
		t.Fatalf("missing info line: %q", buf.String())
	}
	buf.Reset()
	logEnd(r, LevelOff, "generate", 500, start, errors.New("boom"))
	if buf.Len() != 0 {
		t.Fatalf("off level logged: %q", buf.String())
	}
}
