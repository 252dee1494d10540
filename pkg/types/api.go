package types

// Policy is the wire form of a sampling policy.
type Policy struct {
	// Sampling temperature (higher = more random).
	// example: 0.25
	Temperature float32 `json:"temperature" example:"0.25"`
	// Nucleus sampling probability.
	// example: 0.85
	TopP float32 `json:"top_p" example:"0.85"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 30
	TopK int `json:"top_k" example:"30"`
	// Repeat penalty applied to recently generated tokens.
	// example: 1.3
	RepeatPenalty float32 `json:"repeat_penalty" example:"1.3"`
	// example: 0.3
	PresencePenalty float32 `json:"presence_penalty" example:"0.3"`
	// example: 0.4
	FrequencyPenalty float32 `json:"frequency_penalty" example:"0.4"`
	// Mirostat mode (0 = off, 1 or 2).
	// example: 0
	Mirostat int `json:"mirostat" example:"0"`
	// Maximum number of new tokens to generate.
	// example: 256
	MaxTokens int `json:"max_tokens" example:"256"`
	// Optional stop sequences (at most 4). Generation stops when any sequence is matched.
	// example: ["\n\n","END"]
	Stop []string `json:"stop,omitempty" example:"[\"\\n\\n\",\"END\"]"`
}

// GenerateRequest represents a batch generation request payload.
type GenerateRequest struct {
	// Optional system prompt; omitted from the prompt when blank.
	// example: You are a fraud analyst.
	System string `json:"system,omitempty" example:"You are a fraud analyst."`
	// Optional earlier conversation text; omitted when blank.
	History string `json:"history,omitempty"`
	// Prompt text to generate a completion for.
	// example: Is this transaction suspicious?
	Prompt string `json:"prompt" example:"Is this transaction suspicious?"`
	// Optional profile name used for this call only.
	// example: fraud-detection:strict
	Profile string `json:"profile,omitempty" example:"fraud-detection:strict"`
	// Optional explicit policy used for this call only; takes precedence over Profile.
	Policy *Policy `json:"policy,omitempty"`
	// Maximum number of new tokens; 0 uses the policy value.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
}

// GenerateResponse is returned by POST /generate.
type GenerateResponse struct {
	// Generated text.
	Text string `json:"text"`
	// Number of generated tokens.
	// example: 42
	Tokens int `json:"tokens" example:"42"`
	// Number of prompt tokens.
	// example: 17
	PromptTokens int `json:"prompt_tokens" example:"17"`
	// Why generation stopped: stop, stop_sequence or length.
	// example: stop
	FinishReason string `json:"finish_reason" example:"stop"`
	// Wall time including the wait for a session, in milliseconds.
	// example: 850
	DurationMS int64 `json:"duration_ms" example:"850"`
}

// PolicyRequest is accepted by PUT /policy. Profile wins when both are set.
type PolicyRequest struct {
	// example: fraud-detection:balanced
	Profile string  `json:"profile,omitempty" example:"fraud-detection:balanced"`
	Policy  *Policy `json:"policy,omitempty"`
}

// PolicyResponse is returned by GET/PUT /policy and GET /profiles/{name}.
type PolicyResponse struct {
	// Profile name, empty for an explicit policy.
	Profile string `json:"profile,omitempty"`
	Policy  Policy `json:"policy"`
}

// ProfilesResponse wraps the list of profile names returned by GET /profiles.
type ProfilesResponse struct {
	Profiles []string `json:"profiles"`
}

// StreamOpenRequest is accepted by POST /streams.
type StreamOpenRequest struct {
	// Model path or id; empty shares the loaded model.
	Model string `json:"model,omitempty"`
}

// StreamOpenResponse is returned by POST /streams.
type StreamOpenResponse struct {
	// example: 9b2f6c1e-7c55-4a0e-9d3c-0d9f4b7e2a11
	ID string `json:"id" example:"9b2f6c1e-7c55-4a0e-9d3c-0d9f4b7e2a11"`
}

// StreamFeedRequest is accepted by POST /streams/{id}/feed.
type StreamFeedRequest struct {
	Prompt string `json:"prompt"`
}

// StreamNextResponse is returned by POST /streams/{id}/next.
type StreamNextResponse struct {
	Text string `json:"text"`
	// True once the stream has ended; Text is empty then.
	Done bool `json:"done"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// PoolStatus summarizes the session pool for /status.
type PoolStatus struct {
	// example: 8
	Size int `json:"size" example:"8"`
	// example: 6
	Available int `json:"available" example:"6"`
	// example: 2
	CheckedOut int `json:"checked_out" example:"2"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall manager state (unloaded, loading, ready, draining, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// example: tinyllama-q4.gguf
	ModelID   string `json:"model_id,omitempty" example:"tinyllama-q4.gguf"`
	ModelPath string `json:"model_path,omitempty"`
	// Time the model was loaded (unix seconds).
	LoadedAtUnix int64 `json:"loaded_at_unix,omitempty"`
	// Active profile, empty when an explicit policy was set.
	Profile string `json:"profile,omitempty"`
	// Current pool policy.
	Policy Policy      `json:"policy"`
	Pool   *PoolStatus `json:"pool,omitempty"`
	// Number of open streaming sessions.
	OpenStreams int `json:"open_streams"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
