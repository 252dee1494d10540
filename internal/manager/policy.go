package manager

import "wundot/internal/sampling"

// SetPolicy replaces the policy used by the session pool. Sessions checked
// out right now finish under the policy they were acquired with.
func (m *Manager) SetPolicy(p sampling.Policy) {
	m.setPolicy(p, "")
}

// SetProfile resolves name through the profile table, applies it with
// SetPolicy and returns the resolved policy. Unknown names resolve to the
// fallback profile.
func (m *Manager) SetProfile(name string) sampling.Policy {
	p, ok := m.profiles.Lookup(name)
	if !ok {
		m.log.Warn().Str("profile", name).Str("fallback", sampling.FallbackProfile).Msg("unknown profile")
		p = m.profiles.Get(name)
		name = sampling.FallbackProfile
	}
	m.setPolicy(p, name)
	return p.Clone()
}

func (m *Manager) setPolicy(p sampling.Policy, profile string) {
	p = p.Clone()
	m.mu.Lock()
	m.policy = p
	m.profile = profile
	pl := m.pool
	// reconfigure under m.mu so concurrent updates reach the pool in order
	if pl != nil {
		pl.Reconfigure(p)
	}
	m.mu.Unlock()
	m.log.Info().Str("profile", profile).Float32("temperature", p.Temperature).Float32("top_p", p.TopP).Int("top_k", p.TopK).Msg("policy updated")
}

// Policy returns the current policy.
func (m *Manager) Policy() sampling.Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy.Clone()
}

// Profile resolves a named profile without applying it.
func (m *Manager) Profile(name string) sampling.Policy { return m.profiles.Get(name) }

// Profiles lists the known profile names.
func (m *Manager) Profiles() []string { return m.profiles.Names() }

// LookupProfile is Profile without the fallback; ok reports whether name is known.
func (m *Manager) LookupProfile(name string) (sampling.Policy, bool) {
	return m.profiles.Lookup(name)
}
