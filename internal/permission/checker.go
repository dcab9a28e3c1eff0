package permission

import "sync"

// sessionMemo remembers which (extension, tool) pairs have been asked about
// in the current session. It is never persisted.
type sessionMemo struct {
	mu   sync.Mutex
	seen map[string]map[string]bool // extension -> tool -> observed
}

func newSessionMemo() *sessionMemo {
	return &sessionMemo{seen: make(map[string]map[string]bool)}
}

// observe marks the pair and reports whether it had been seen before.
func (m *sessionMemo) observe(ext, tool string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	tools := m.seen[ext]
	if tools == nil {
		tools = make(map[string]bool)
		m.seen[ext] = tools
	}
	if tools[tool] {
		return true
	}
	tools[tool] = true
	return false
}

func (m *sessionMemo) seenBefore(ext, tool string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[ext][tool]
}

// forget clears one pair.
func (m *sessionMemo) forget(ext, tool string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen[ext], tool)
}

// forgetExtension clears every pair of an extension.
func (m *sessionMemo) forgetExtension(ext string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, ext)
}

func (m *sessionMemo) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = make(map[string]map[string]bool)
}
