package player

import "sync"

// session owns the single active handle and the request counter.
// The mutex only guards field access; it is never held across backend calls.
type session struct {
	mu      sync.Mutex
	counter RequestID
	handle  Handle
	key     Key
	closed  bool
}

// issueRequest advances the counter and returns the new request id.
func (s *session) issueRequest() RequestID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return s.counter
}

// isStale reports whether a newer request was issued after id.
func (s *session) isStale(id RequestID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.counter != id
}

// installSession makes h the active handle unless id is stale. A handle
// displaced by the install is returned so the caller can release it.
func (s *session) installSession(id RequestID, key Key, h Handle) (installed bool, displaced Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.counter != id {
		return false, nil
	}
	if s.handle != nil && s.handle != h {
		displaced = s.handle
	}
	s.handle = h
	s.key = key
	return true, displaced
}

// releaseSession detaches the active handle and returns it. State is cleared
// before the caller touches the handle so completion callbacks see no session.
func (s *session) releaseSession() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handle
	s.handle = nil
	s.key = ""
	return h
}

// clearIf detaches h only when it is still the active handle.
func (s *session) clearIf(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil || s.handle != h {
		return false
	}
	s.handle = nil
	s.key = ""
	return true
}

// activeFor returns the active handle when its key matches.
func (s *session) activeFor(key Key) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.handle == nil || s.key != key {
		return nil, false
	}
	return s.handle, true
}

func (s *session) current() (Key, Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key, s.handle
}

// shutdown invalidates every in-flight request and detaches the active handle.
func (s *session) shutdown() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.counter++
	h := s.handle
	s.handle = nil
	s.key = ""
	return h
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
