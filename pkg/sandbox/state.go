package sandbox

import "sync"

// State is the mutex-guarded identity of the one live sandbox: the handle
// and, for providers that map ports, the container→host port mapping.
//
// The handle and port map transition together, so no caller ever observes
// a half-transitioned identity. The port map never outlives the handle.
// Providers embed State to satisfy the identity portion of Client.
type State struct {
	mu    sync.Mutex
	id    string
	ports map[int]int
}

// CurrentID returns the active handle, if any.
func (s *State) CurrentID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.id != ""
}

// SetID restores a handle without touching any port mapping.
func (s *State) SetID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

// ClearID drops the handle and the port mapping as one transition.
func (s *State) ClearID() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = ""
	s.ports = nil
}

// RequireID returns the active handle or ErrNoActiveSandbox.
func (s *State) RequireID() (string, error) {
	if id, ok := s.CurrentID(); ok {
		return id, nil
	}
	return "", ErrNoActiveSandbox
}

// SetIdentity installs a freshly provisioned handle together with its port
// mapping in one atomic transition. ports may be nil for providers that
// route by handle alone.
func (s *State) SetIdentity(id string, ports map[int]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.ports = ports
}

// HostPort returns the host port mapped to a sandbox port.
func (s *State) HostPort(port int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hp, ok := s.ports[port]
	return hp, ok
}

// PortCount returns the number of mapped ports. Used by tests to assert
// the mapping's lifetime never exceeds the handle's.
func (s *State) PortCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ports)
}
