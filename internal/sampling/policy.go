package sampling

// MaxStopSequences bounds the number of stop sequences a Policy carries.
const MaxStopSequences = 4

// Policy is an immutable bundle of generation knobs. It is passed by value;
// callers that need to keep a copy across goroutines should use Clone so the
// stop slice is never shared.
type Policy struct {
	Temperature      float32  `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP             float32  `json:"top_p" yaml:"top_p" toml:"top_p"`
	TopK             int      `json:"top_k" yaml:"top_k" toml:"top_k"`
	RepeatPenalty    float32  `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`
	PresencePenalty  float32  `json:"presence_penalty" yaml:"presence_penalty" toml:"presence_penalty"`
	FrequencyPenalty float32  `json:"frequency_penalty" yaml:"frequency_penalty" toml:"frequency_penalty"`
	Mirostat         int      `json:"mirostat" yaml:"mirostat" toml:"mirostat"`
	MaxTokens        int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Stop             []string `json:"stop,omitempty" yaml:"stop,omitempty" toml:"stop,omitempty"`
}

// DefaultMaxTokens is used when a policy does not specify MaxTokens.
const DefaultMaxTokens = 256

// Default returns the baseline policy every profile derives from.
func Default() Policy {
	return Policy{
		Temperature:   0.8,
		TopP:          0.95,
		TopK:          40,
		RepeatPenalty: 1.1,
		MaxTokens:     DefaultMaxTokens,
	}
}

// Clone returns a deep copy of p with the stop list normalized.
func (p Policy) Clone() Policy {
	p.Stop = normalizeStop(p.Stop)
	return p
}

// Equal compares two policies field by field.
func (p Policy) Equal(o Policy) bool {
	if p.Temperature != o.Temperature || p.TopP != o.TopP || p.TopK != o.TopK ||
		p.RepeatPenalty != o.RepeatPenalty || p.PresencePenalty != o.PresencePenalty ||
		p.FrequencyPenalty != o.FrequencyPenalty || p.Mirostat != o.Mirostat ||
		p.MaxTokens != o.MaxTokens {
		return false
	}
	if len(p.Stop) != len(o.Stop) {
		return false
	}
	for i := range p.Stop {
		if p.Stop[i] != o.Stop[i] {
			return false
		}
	}
	return true
}

// EffectiveMaxTokens returns MaxTokens, or DefaultMaxTokens when unset.
func (p Policy) EffectiveMaxTokens() int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	return DefaultMaxTokens
}

// Delta overrides selected fields of a Policy. Nil fields inherit.
type Delta struct {
	Temperature      *float32 `json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature,omitempty"`
	TopP             *float32 `json:"top_p,omitempty" yaml:"top_p,omitempty" toml:"top_p,omitempty"`
	TopK             *int     `json:"top_k,omitempty" yaml:"top_k,omitempty" toml:"top_k,omitempty"`
	RepeatPenalty    *float32 `json:"repeat_penalty,omitempty" yaml:"repeat_penalty,omitempty" toml:"repeat_penalty,omitempty"`
	PresencePenalty  *float32 `json:"presence_penalty,omitempty" yaml:"presence_penalty,omitempty" toml:"presence_penalty,omitempty"`
	FrequencyPenalty *float32 `json:"frequency_penalty,omitempty" yaml:"frequency_penalty,omitempty" toml:"frequency_penalty,omitempty"`
	Mirostat         *int     `json:"mirostat,omitempty" yaml:"mirostat,omitempty" toml:"mirostat,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" toml:"max_tokens,omitempty"`
	Stop             []string `json:"stop,omitempty" yaml:"stop,omitempty" toml:"stop,omitempty"`
}

// Apply returns a new policy with d's set fields overriding p.
func (p Policy) Apply(d Delta) Policy {
	out := p.Clone()
	if d.Temperature != nil {
		out.Temperature = *d.Temperature
	}
	if d.TopP != nil {
		out.TopP = *d.TopP
	}
	if d.TopK != nil {
		out.TopK = *d.TopK
	}
	if d.RepeatPenalty != nil {
		out.RepeatPenalty = *d.RepeatPenalty
	}
	if d.PresencePenalty != nil {
		out.PresencePenalty = *d.PresencePenalty
	}
	if d.FrequencyPenalty != nil {
		out.FrequencyPenalty = *d.FrequencyPenalty
	}
	if d.Mirostat != nil {
		out.Mirostat = *d.Mirostat
	}
	if d.MaxTokens != nil {
		out.MaxTokens = *d.MaxTokens
	}
	if d.Stop != nil {
		out.Stop = normalizeStop(d.Stop)
	}
	return out
}

// normalizeStop copies stop, dropping empty entries and anything past
// MaxStopSequences. A nil or empty input yields nil.
func normalizeStop(stop []string) []string {
	if len(stop) == 0 {
		return nil
	}
	out := make([]string, 0, min(len(stop), MaxStopSequences))
	for _, s := range stop {
		if s == "" {
			continue
		}
		if len(out) == MaxStopSequences {
			break
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// F32 and Int are small helpers for building Deltas.
func F32(v float32) *float32 { return &v }

func Int(v int) *int { return &v }
