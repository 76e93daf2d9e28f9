// Package identity tracks the authenticated owner for the current
// process and notifies listeners on sign-in/sign-out transitions.
package identity

import "sync"

// Provider yields the stable owner identifier for the current session,
// or "" when no identity is present. The sync layer consumes this
// interface; the concrete Session below is the only implementation in
// the daemon.
type Provider interface {
	OwnerID() string
}

// Listener is invoked on authentication transitions. signedIn is true
// for sign-in (ownerID set) and false for sign-out (ownerID is the
// identity that just signed out).
type Listener func(ownerID string, signedIn bool)

// Session holds the current identity. Listeners fire synchronously, in
// registration order, and only on actual transitions: signing in the
// same owner twice notifies once.
type Session struct {
	mu        sync.RWMutex
	ownerID   string
	listeners []Listener
}

// NewSession returns a signed-out session.
func NewSession() *Session {
	return &Session{}
}

// OwnerID implements Provider.
func (s *Session) OwnerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ownerID
}

// OnChange registers a transition listener.
func (s *Session) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = append(s.listeners, l)
}

// SignIn records the authenticated owner and notifies listeners.
func (s *Session) SignIn(ownerID string) {
	if ownerID == "" {
		return
	}

	s.mu.Lock()
	if s.ownerID == ownerID {
		s.mu.Unlock()
		return
	}

	s.ownerID = ownerID
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(ownerID, true)
	}
}

// SignOut clears the identity and notifies listeners.
func (s *Session) SignOut() {
	s.mu.Lock()
	if s.ownerID == "" {
		s.mu.Unlock()
		return
	}

	previous := s.ownerID
	s.ownerID = ""
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(previous, false)
	}
}
