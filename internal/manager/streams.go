package manager

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"wundot/internal/runtime"
	"wundot/internal/sampling"
	"wundot/internal/stream"
)

// streamHandle guards one stream.Session so HTTP callers cannot drive it
// concurrently.
type streamHandle struct {
	mu      sync.Mutex
	id      string
	sess    *stream.Session
	model   runtime.Model
	ownsRef bool // model was loaded for this stream and is freed on close
	closed  bool
}

// StreamOpen opens a caller-owned streaming session and returns its handle.
// An empty modelPath, or the path/id of the loaded model, shares the loaded
// model; anything else loads a private model that is freed on StreamClose.
// Streams are not bounded by the session pool.
func (m *Manager) StreamOpen(modelPath string) (string, error) {
	if m.rt == nil {
		return "", runtime.ErrUnavailable("no model runtime configured")
	}
	m.mu.RLock()
	shared := m.state == StateReady && (modelPath == "" || (m.cur != nil && (modelPath == m.cur.Path || modelPath == m.cur.ID)))
	if shared {
		// hold the read lock until the stream is registered so Shutdown
		// cannot free the model underneath it
		defer m.mu.RUnlock()
		return m.openStream(m.model, false, m.policy.Clone(), m.cur.ID)
	}
	policy := m.policy.Clone()
	m.mu.RUnlock()
	if modelPath == "" {
		return "", notReadyError{reason: "no model loaded for stream"}
	}

	info, err := m.resolveModel(modelPath)
	if err != nil {
		return "", err
	}
	model, err := m.rt.Load(info.Path)
	if err != nil {
		return "", err
	}
	id, err := m.openStream(model, true, policy, info.ID)
	if err != nil {
		m.rt.FreeModel(model)
		return "", err
	}
	return id, nil
}

func (m *Manager) openStream(model runtime.Model, owns bool, policy sampling.Policy, modelID string) (string, error) {
	sess, err := stream.Open(m.rt, model, policy, stream.WithLogger(m.log.With().Str("component", "stream").Logger()))
	if err != nil {
		return "", runtimeFailureError{op: "stream open", err: err}
	}
	h := &streamHandle{id: uuid.NewString(), sess: sess, model: model, ownsRef: owns}
	m.streamsMu.Lock()
	m.streams[h.id] = h
	n := len(m.streams)
	m.streamsMu.Unlock()
	streamsOpen.Set(float64(n))
	m.log.Debug().Str("stream", h.id).Bool("private_model", owns).Msg("stream opened")
	m.publish(Event{Name: "stream_open", ModelID: modelID, Fields: map[string]any{"stream": h.id}})
	return h.id, nil
}

func (m *Manager) lookupStream(id string) (*streamHandle, error) {
	m.streamsMu.Lock()
	h, ok := m.streams[id]
	m.streamsMu.Unlock()
	if !ok {
		return nil, streamNotFoundError{id: id}
	}
	return h, nil
}

// StreamFeed starts (or restarts) the stream on prompt.
func (m *Manager) StreamFeed(id, prompt string) error {
	h, err := m.lookupStream(id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return streamNotFoundError{id: id}
	}
	if err := h.sess.Start(prompt); err != nil {
		return runtimeFailureError{op: "stream feed", err: err}
	}
	return nil
}

// StreamNext returns the next fragment; ok is false once the stream has ended.
func (m *Manager) StreamNext(id string) (text string, ok bool, err error) {
	h, err := m.lookupStream(id)
	if err != nil {
		return "", false, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", false, streamNotFoundError{id: id}
	}
	text, ok, err = h.sess.Next()
	if err != nil {
		if errors.Is(err, stream.ErrNotStarted) {
			return "", false, err
		}
		return "", false, runtimeFailureError{op: "stream next", err: err}
	}
	if ok {
		streamTokens.Inc()
	}
	return text, ok, nil
}

// StreamClose frees the stream. Unknown ids return a not-found error.
func (m *Manager) StreamClose(id string) error {
	m.streamsMu.Lock()
	h, ok := m.streams[id]
	delete(m.streams, id)
	n := len(m.streams)
	m.streamsMu.Unlock()
	if !ok {
		return streamNotFoundError{id: id}
	}
	streamsOpen.Set(float64(n))
	m.closeHandle(h)
	m.publish(Event{Name: "stream_close", Fields: map[string]any{"stream": id}})
	return nil
}

func (m *Manager) closeHandle(h *streamHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.sess.Close()
	if h.ownsRef {
		m.rt.FreeModel(h.model)
	}
}

// closeAllStreams closes every open stream and returns how many it closed.
func (m *Manager) closeAllStreams() int {
	m.streamsMu.Lock()
	handles := make([]*streamHandle, 0, len(m.streams))
	for id, h := range m.streams {
		handles = append(handles, h)
		delete(m.streams, id)
	}
	m.streamsMu.Unlock()
	for _, h := range handles {
		m.closeHandle(h)
	}
	streamsOpen.Set(0)
	return len(handles)
}

// OpenStreams is the number of streams currently registered.
func (m *Manager) OpenStreams() int {
	m.streamsMu.Lock()
	defer m.streamsMu.Unlock()
	return len(m.streams)
}
