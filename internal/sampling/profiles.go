package sampling

import (
	"sort"
	"strings"
	"sync"
)

// FallbackProfile is returned by Table.Get for names it does not know.
const FallbackProfile = "fraud-detection:balanced"

// Profile derives a policy from Base (another profile name, or the table
// baseline when empty) by applying Delta.
type Profile struct {
	Base  string `json:"base,omitempty" yaml:"base,omitempty" toml:"base,omitempty"`
	Delta Delta  `json:"delta" yaml:"delta" toml:"delta"`
}

// Table maps profile names to derivations of a baseline policy.
type Table struct {
	mu       sync.RWMutex
	baseline Policy
	profiles map[string]Profile
}

// NewTable returns an empty table over baseline.
func NewTable(baseline Policy) *Table {
	return &Table{baseline: baseline.Clone(), profiles: make(map[string]Profile)}
}

// DefaultTable returns the built-in profiles over Default().
func DefaultTable() *Table {
	t := NewTable(Default())
	t.Register("creative", Profile{Delta: Delta{
		Temperature: F32(1.0), TopP: F32(0.95), TopK: Int(80),
		RepeatPenalty: F32(1.05), PresencePenalty: F32(0.2),
	}})
	t.Register("balanced", Profile{Delta: Delta{
		Temperature: F32(0.7), TopP: F32(0.9), TopK: Int(40), RepeatPenalty: F32(1.1),
	}})
	t.Register("conservative", Profile{Delta: Delta{
		Temperature: F32(0.3), TopP: F32(0.8), TopK: Int(20), RepeatPenalty: F32(1.15),
	}})
	// Low temperature and tight sampling for classification-style prompts.
	t.Register("fraud-detection:balanced", Profile{Delta: Delta{
		Temperature: F32(0.25), TopP: F32(0.85), TopK: Int(30),
		RepeatPenalty: F32(1.3), PresencePenalty: F32(0.3), FrequencyPenalty: F32(0.4),
		Mirostat: Int(0),
	}})
	t.Register("fraud-detection:strict", Profile{Base: "fraud-detection:balanced", Delta: Delta{
		Temperature: F32(0.1), TopP: F32(0.75), TopK: Int(20), RepeatPenalty: F32(1.4),
	}})
	t.Register("fraud-detection:sensitive", Profile{Base: "fraud-detection:balanced", Delta: Delta{
		Temperature: F32(0.4), TopP: F32(0.9), TopK: Int(40), RepeatPenalty: F32(1.2),
		PresencePenalty: F32(0.2), FrequencyPenalty: F32(0.3),
	}})
	t.Register("fraud-detection", Profile{Base: "fraud-detection:balanced"})
	return t
}

// Register adds or replaces a profile.
func (t *Table) Register(name string, p Profile) {
	t.mu.Lock()
	t.profiles[normalizeName(name)] = Profile{Base: normalizeName(p.Base), Delta: p.Delta}
	t.mu.Unlock()
}

// Baseline returns the policy profiles derive from.
func (t *Table) Baseline() Policy {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.baseline.Clone()
}

// Names lists registered profile names in sorted order.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.profiles))
	for n := range t.profiles {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Lookup resolves name. The bool is false for unknown names and for
// derivation chains that loop.
func (t *Table) Lookup(name string) (Policy, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resolve(normalizeName(name), map[string]bool{})
}

// Get resolves name, falling back to FallbackProfile when it is unknown.
func (t *Table) Get(name string) Policy {
	if p, ok := t.Lookup(name); ok {
		return p
	}
	if p, ok := t.Lookup(FallbackProfile); ok {
		return p
	}
	return t.Baseline()
}

func (t *Table) resolve(name string, seen map[string]bool) (Policy, bool) {
	prof, ok := t.profiles[name]
	if !ok || seen[name] {
		return Policy{}, false
	}
	seen[name] = true
	base := t.baseline
	if prof.Base != "" {
		b, ok := t.resolve(prof.Base, seen)
		if !ok {
			return Policy{}, false
		}
		base = b
	}
	return base.Apply(prof.Delta), true
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
