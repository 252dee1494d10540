// Package registry discovers GGUF model files in a models directory.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"wundot/internal/common/fsutil"
	"wundot/pkg/types"
)

// GGUFScanner lists *.gguf files in a directory.
type GGUFScanner struct{}

// NewGGUFScanner returns a scanner.
func NewGGUFScanner() *GGUFScanner { return &GGUFScanner{} }

// Scan builds registry entries from the filenames in dir. ID is the full
// filename (including extension); Path is absolute. Quant and Family are
// guessed from the filename and may be empty.
func (s *GGUFScanner) Scan(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		models = append(models, types.Model{
			ID:     name,
			Name:   name,
			Path:   filepath.Join(abs, name),
			Quant:  quantOf(name),
			Family: familyOf(name),
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// LoadDir scans dir with a GGUFScanner.
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}

// Find returns the entry whose ID matches id, case-insensitively.
func Find(models []types.Model, id string) (types.Model, bool) {
	for _, m := range models {
		if strings.EqualFold(m.ID, id) {
			return m, true
		}
	}
	return types.Model{}, false
}

var quantRe = regexp.MustCompile(`(?i)(?:^|[-._])((?:i?q\d(?:_[a-z0-9]+)*)|f16|f32|bf16)(?:[-._]|$)`)

func quantOf(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	m := quantRe.FindAllStringSubmatch(stem, -1)
	if len(m) == 0 {
		return ""
	}
	return strings.ToUpper(m[len(m)-1][1])
}

func familyOf(name string) string {
	stem := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
	if i := strings.IndexAny(stem, "-_."); i > 0 {
		return stem[:i]
	}
	return stem
}
