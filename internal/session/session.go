// Package session tracks the active graph context for an MCP session.
package session

import "sync"

// Session holds the current context (namespace) name. Contexts are fully
// independent; switching never touches the previous context's files.
type Session struct {
	mu      sync.Mutex
	current string
}

// New creates a session starting in defaultContext.
func New(defaultContext string) *Session {
	if defaultContext == "" {
		defaultContext = "default"
	}
	return &Session{current: defaultContext}
}

// Current returns the active context name.
func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Switch makes name the active context.
func (s *Session) Switch(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = name
}
