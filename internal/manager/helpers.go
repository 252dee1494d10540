package manager

import (
	"path/filepath"
	"strings"

	"wundot/internal/registry"
	"wundot/internal/sampling"
	"wundot/pkg/types"
)

// Helper: find model in registry by id.
func (m *Manager) getModelByID(id string) (types.Model, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return registry.Find(m.registry, id)
}

func looksLikePath(s string) bool {
	if strings.ContainsRune(s, '/') || strings.ContainsRune(s, filepath.Separator) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(s))
	return ext == ".gguf" || ext == ".bin"
}

func modelIDFromPath(p string) string { return filepath.Base(p) }

// PolicyToAPI converts a sampling policy to its wire form.
func PolicyToAPI(p sampling.Policy) types.Policy {
	return types.Policy{
		Temperature:      p.Temperature,
		TopP:             p.TopP,
		TopK:             p.TopK,
		RepeatPenalty:    p.RepeatPenalty,
		PresencePenalty:  p.PresencePenalty,
		FrequencyPenalty: p.FrequencyPenalty,
		Mirostat:         p.Mirostat,
		MaxTokens:        p.MaxTokens,
		Stop:             append([]string(nil), p.Stop...),
	}
}

// PolicyFromAPI converts a wire policy; the stop list is normalized.
func PolicyFromAPI(p types.Policy) sampling.Policy {
	return sampling.Policy{
		Temperature:      p.Temperature,
		TopP:             p.TopP,
		TopK:             p.TopK,
		RepeatPenalty:    p.RepeatPenalty,
		PresencePenalty:  p.PresencePenalty,
		FrequencyPenalty: p.FrequencyPenalty,
		Mirostat:         p.Mirostat,
		MaxTokens:        p.MaxTokens,
		Stop:             p.Stop,
	}.Clone()
}
