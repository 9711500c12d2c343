package server

import (
	"net"
	"strings"
	"testing"

	"github.com/ircore/ircd/config"
)

// newTestServer builds a server without binding a listener. Sessions
// are attached directly through newTestSession.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Limits.SendQueueLen = 256
	return New(cfg)
}

// newTestSession attaches a pipe-backed session and registers it under
// nick. The welcome burst is drained so tests start from a clean queue.
func newTestSession(t *testing.T, srv *Server, nick string) *Session {
	t.Helper()
	s := newUnregisteredSession(t, srv)
	srv.dispatcher.Dispatch(s, "NICK "+nick)
	srv.dispatcher.Dispatch(s, "USER "+nick+" 0 * :"+nick+" Example")
	if s.State() != StateRegistered {
		t.Fatalf("session %s did not register", nick)
	}
	drain(s)
	return s
}

func newUnregisteredSession(t *testing.T, srv *Server) *Session {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	s := newSession(srv, serverEnd)
	srv.registry.addSession(s)
	t.Cleanup(func() {
		clientEnd.Close()
		serverEnd.Close()
	})
	return s
}

// drain empties the session's outbound queue and returns the lines
// without terminators.
func drain(s *Session) []string {
	var out []string
	for {
		select {
		case payload := <-s.outbound:
			out = append(out, strings.TrimRight(string(payload), "\r\n"))
		default:
			return out
		}
	}
}

// drainMatching returns the drained lines containing substr.
func drainMatching(s *Session, substr string) []string {
	var out []string
	for _, line := range drain(s) {
		if strings.Contains(line, substr) {
			out = append(out, line)
		}
	}
	return out
}

// hasLine reports whether any line contains substr.
func hasLine(lines []string, substr string) bool {
	for _, line := range lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
