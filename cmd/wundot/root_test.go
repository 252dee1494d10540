package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"wundot/internal/chat"
	"wundot/internal/config"
	"wundot/internal/sampling"
	"wundot/pkg/types"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProfilesList(t *testing.T) {
	out, err := run(t, "", "profiles", "--backend", "echo")
	if err != nil {
		t.Fatalf("profiles: %v", err)
	}
	for _, name := range []string{"creative", "fraud-detection", "fraud-detection:strict"} {
		if !strings.Contains(out, name+"\n") {
			t.Fatalf("missing %q in:\n%s", name, out)
		}
	}
}

func TestProfilesShowFormats(t *testing.T) {
	want := sampling.DefaultTable().Get("fraud-detection")

	out, err := run(t, "", "profiles", "fraud-detection", "-o", "yaml")
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	var y sampling.Policy
	if err := yaml.Unmarshal([]byte(out), &y); err != nil {
		t.Fatalf("parse yaml: %v\n%s", err, out)
	}
	if y.TopK != want.TopK || y.Temperature != want.Temperature {
		t.Fatalf("yaml policy = %+v, want %+v", y, want)
	}

	out, err = run(t, "", "profiles", "fraud-detection", "-o", "toml")
	if err != nil {
		t.Fatalf("toml: %v", err)
	}
	var tp sampling.Policy
	if err := toml.Unmarshal([]byte(out), &tp); err != nil {
		t.Fatalf("parse toml: %v\n%s", err, out)
	}
	if tp.TopK != want.TopK || tp.MaxTokens != want.MaxTokens {
		t.Fatalf("toml policy = %+v, want %+v", tp, want)
	}

	out, err = run(t, "", "profiles", "fraud-detection", "-o", "json")
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	var jp sampling.Policy
	if err := json.Unmarshal([]byte(out), &jp); err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if jp.TopK != want.TopK {
		t.Fatalf("json policy = %+v", jp)
	}
}

func TestProfilesErrors(t *testing.T) {
	if _, err := run(t, "", "profiles", "nope"); err == nil {
		t.Fatalf("expected unknown profile error")
	}
	if _, err := run(t, "", "profiles", "creative", "-o", "xml"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestProfilesFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wundot.yaml")
	body := "profiles:\n  terse:\n    base: conservative\n    delta:\n      max_tokens: 32\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "", "--config", path, "profiles", "terse", "-o", "json")
	if err != nil {
		t.Fatalf("profiles: %v", err)
	}
	var p sampling.Policy
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.MaxTokens != 32 {
		t.Fatalf("max_tokens = %d", p.MaxTokens)
	}
}

func TestGenerateEcho(t *testing.T) {
	out, err := run(t, "", "--backend", "echo", "--model", "m.gguf", "generate", "--max-tokens", "4", "hello", "there")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Fatalf("expected generated text")
	}
}

func TestGenerateJSONFromStdin(t *testing.T) {
	out, err := run(t, "hello from stdin", "--backend", "echo", "--model", "m.gguf", "generate", "--json", "--max-tokens", "3", "-")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var resp types.GenerateResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("parse: %v\n%s", err, out)
	}
	if resp.Tokens == 0 || resp.Tokens > 3 {
		t.Fatalf("tokens = %d", resp.Tokens)
	}
	if resp.PromptTokens == 0 {
		t.Fatalf("prompt tokens not reported")
	}
}

func TestGenerateWithoutModel(t *testing.T) {
	if _, err := run(t, "", "--backend", "echo", "generate", "hi"); err == nil {
		t.Fatalf("expected error without a model")
	}
}

func TestStreamEcho(t *testing.T) {
	out, err := run(t, "", "--backend", "echo", "--model", "m.gguf", "stream", "a", "b")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Fatalf("expected streamed text")
	}
}

func TestModelsTable(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"tinyllama.Q4_K_M.gguf", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	out, err := run(t, "", "--models-dir", dir, "models")
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if !strings.Contains(out, "Q4_K_M") || strings.Contains(out, "notes") {
		t.Fatalf("unexpected listing:\n%s", out)
	}
}

func TestConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wundot.toml")
	body := "pool_size = 3\nprofile = \"creative\"\nmax_tokens = 64\nbackend = \"echo\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WUNDOT_POOL_SIZE", "5")
	t.Setenv("WUNDOT_MAX_TOKENS", "99")

	opts := &rootOptions{}
	cmd := newRootCmdWith(opts)
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetArgs([]string{"--config", path, "--pool-size", "7", "profiles"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	cfg := opts.cfg
	if cfg.PoolSize != 7 {
		t.Fatalf("flag must win: pool_size = %d", cfg.PoolSize)
	}
	if cfg.MaxTokens != 99 {
		t.Fatalf("env must beat file: max_tokens = %d", cfg.MaxTokens)
	}
	if cfg.Profile != "creative" || cfg.Backend != config.BackendEcho {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.Addr != ":8080" || cfg.Llama.ContextSize != 2048 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	if _, err := run(t, "", "--backend", "gpu", "profiles"); err == nil {
		t.Fatalf("expected invalid backend error")
	}
	if _, err := run(t, "", "--config", "missing.yaml", "profiles"); err == nil {
		t.Fatalf("expected missing config error")
	}
}

func TestNewFormatter(t *testing.T) {
	turns := chat.BuildTurns("sys", "", "hi")
	render := func(f chat.Formatter) string {
		t.Helper()
		out, err := f.Format(turns, false)
		if err != nil {
			t.Fatalf("format: %v", err)
		}
		return out
	}

	def, err := newFormatter("")
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	chatml, err := newFormatter("ChatML")
	if err != nil {
		t.Fatalf("chatml: %v", err)
	}
	if render(def) != render(chatml) {
		t.Fatalf("empty and chatml must be the same template")
	}

	inline, err := newFormatter("{{ range .Turns }}[{{ .Role }}] {{ .Text }} {{ end }}")
	if err != nil {
		t.Fatalf("inline: %v", err)
	}
	if got := render(inline); got != "[system] sys [user] hi " {
		t.Fatalf("inline = %q", got)
	}

	path := filepath.Join(t.TempDir(), "tpl.txt")
	if err := os.WriteFile(path, []byte("{{ range .Turns }}<{{ .Text }}>{{ end }}"), 0o644); err != nil {
		t.Fatal(err)
	}
	fromFile, err := newFormatter(path)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if got := render(fromFile); got != "<sys><hi>" {
		t.Fatalf("file template = %q", got)
	}

	if _, err := newFormatter("{{ .Broken "); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestServeLifecycle(t *testing.T) {
	cfg := config.Config{Backend: config.BackendEcho, ModelPath: "m.gguf", PoolSize: 2, ModelsDir: t.TempDir()}
	cfg.ApplyDefaults()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, zerolog.Nop(), ln) }()

	base := "http://" + ln.Addr().String()
	deadline := time.Now().Add(5 * time.Second)
	ready := false
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !ready {
		cancel()
		t.Fatalf("server never became ready")
	}

	resp, err := http.Post(base+"/generate", "application/json", strings.NewReader(`{"prompt":"hi","max_tokens":2}`))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var gr types.GenerateResponse
	_ = json.NewDecoder(resp.Body).Decode(&gr)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || gr.Tokens == 0 {
		t.Fatalf("generate status %d tokens %d", resp.StatusCode, gr.Tokens)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
}
