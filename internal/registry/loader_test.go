package registry

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestGGUFScanner_ScanFiltersGGUF(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"b.gguf",
		"a.GGUF", // case-insensitive
		"not-model.txt",
		"model.bin",
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte(""), 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "dir.gguf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	models, err := NewGGUFScanner().Scan(dir)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].ID != "a.GGUF" || models[1].ID != "b.gguf" {
		t.Fatalf("expected sorted ids, got %s, %s", models[0].ID, models[1].ID)
	}
	for _, m := range models {
		if !filepath.IsAbs(m.Path) || !strings.HasSuffix(strings.ToLower(m.Path), ".gguf") {
			t.Fatalf("unexpected path: %s", m.Path)
		}
	}
}

func TestGGUFScanner_ExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir on this platform: %v", err)
	}
	hTmp, err := os.MkdirTemp(home, "wundot-registry-*")
	if err != nil {
		t.Skipf("cannot create temp under home: %v", err)
	}
	defer os.RemoveAll(hTmp)
	if err := os.WriteFile(filepath.Join(hTmp, "x.gguf"), []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var tildePath string
	if runtime.GOOS == "windows" {
		tildePath = filepath.Join("~", filepath.Base(hTmp))
	} else {
		tildePath = "~/" + filepath.Base(hTmp)
	}
	models, err := NewGGUFScanner().Scan(tildePath)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(models) != 1 || models[0].ID != "x.gguf" {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestLoadDirMissing(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestLoadDirAndFind(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "m.gguf"), []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	models, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(models) != 1 || models[0].ID != "m.gguf" {
		t.Fatalf("unexpected: %+v", models)
	}
	if m, ok := Find(models, "M.GGUF"); !ok || m.Path != filepath.Join(dir, "m.gguf") {
		t.Fatalf("find: %+v %v", m, ok)
	}
	if _, ok := Find(models, "other.gguf"); ok {
		t.Fatalf("found a model that does not exist")
	}
}

func TestFilenameMetadata(t *testing.T) {
	cases := []struct {
		name, quant, family string
	}{
		{"llama-3.1-8b-instruct-q4_k_m.gguf", "Q4_K_M", "llama"},
		{"tinyllama.Q8_0.gguf", "Q8_0", "tinyllama"},
		{"mistral-7b-f16.gguf", "F16", "mistral"},
		{"phi3_mini-IQ3_XS.gguf", "IQ3_XS", "phi3"},
		{"plain.gguf", "", "plain"},
	}
	for _, c := range cases {
		if got := quantOf(c.name); got != c.quant {
			t.Fatalf("quantOf(%q) = %q want %q", c.name, got, c.quant)
		}
		if got := familyOf(c.name); got != c.family {
			t.Fatalf("familyOf(%q) = %q want %q", c.name, got, c.family)
		}
	}
}
