package server

// LifecycleObserver receives session lifecycle notifications. Callbacks
// run on server goroutines and must not block.
type LifecycleObserver interface {
	SessionCreated(s *Session)
	SessionDestroyed(s *Session, reason string)
}

// AddObserver registers an observer for session lifecycle events.
func (srv *Server) AddObserver(o LifecycleObserver) {
	srv.obsMu.Lock()
	srv.observers = append(srv.observers, o)
	srv.obsMu.Unlock()
}

func (srv *Server) notifySessionCreated(s *Session) {
	srv.obsMu.RLock()
	defer srv.obsMu.RUnlock()
	for _, o := range srv.observers {
		o.SessionCreated(s)
	}
}

func (srv *Server) notifySessionDestroyed(s *Session, reason string) {
	srv.obsMu.RLock()
	defer srv.obsMu.RUnlock()
	for _, o := range srv.observers {
		o.SessionDestroyed(s, reason)
	}
}
