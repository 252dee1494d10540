package manager

import (
	"time"

	"wundot/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var cur *ModelInfo
	if m.cur != nil {
		c := *m.cur
		cur = &c
	}
	return Snapshot{State: m.state, CurrentModel: cur, Profile: m.profile, Err: m.err}
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	resp := types.StatusResponse{
		State:          string(m.state),
		Profile:        m.profile,
		Policy:         PolicyToAPI(m.policy),
		LastError:      m.err,
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	if m.cur != nil {
		resp.ModelID = m.cur.ID
		resp.ModelPath = m.cur.Path
		resp.LoadedAtUnix = m.loadedAt.Unix()
	}
	p := m.pool
	m.mu.RUnlock()

	if p != nil {
		resp.Pool = &types.PoolStatus{
			Size:       p.Size(),
			Available:  p.Available(),
			CheckedOut: p.CheckedOut(),
		}
	}
	resp.OpenStreams = m.OpenStreams()
	return resp
}
