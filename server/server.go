// Package server implements the chat server core: line framing, command
// dispatch, session registration, and the channel registry. One
// goroutine per connection reads and dispatches; a paired writer
// goroutine drains that session's outbound queue. All cross-session
// state lives in the Registry.
package server

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/ircore/ircd/config"
)

// Server ties the listener, registry, dispatcher, metrics, and admin
// portal together and owns their lifecycles.
type Server struct {
	cfg        *config.Config
	registry   *Registry
	dispatcher *Dispatcher
	metrics    *Metrics
	portal     *Portal
	operators  map[string]string // username to bcrypt hash

	listener  net.Listener
	startTime time.Time

	obsMu     sync.RWMutex
	observers []LifecycleObserver

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a server from the configuration. Start must be called to
// begin accepting connections.
func New(cfg *config.Config) *Server {
	srv := &Server{
		cfg:       cfg,
		metrics:   newMetrics(),
		operators: make(map[string]string, len(cfg.Operators)),
		quit:      make(chan struct{}),
	}
	for _, op := range cfg.Operators {
		srv.operators[op.Username] = op.PasswordHash
	}
	srv.registry = newRegistry(srv)
	srv.dispatcher = newDispatcher(srv)
	if cfg.Admin.Enabled {
		srv.portal = newPortal(srv)
	}
	return srv
}

// Registry exposes the session and channel tables, for the portal and
// for tests.
func (srv *Server) Registry() *Registry {
	return srv.registry
}

// Start binds the listener and begins accepting connections. It does
// not block.
func (srv *Server) Start() error {
	ln, err := net.Listen("tcp", srv.cfg.ListenAddress())
	if err != nil {
		return err
	}
	srv.listener = ln
	srv.startTime = time.Now()

	log.Printf("*** %s listening on %s", srv.cfg.Server.Name, ln.Addr())

	if srv.portal != nil {
		srv.portal.start(srv.cfg.AdminAddress())
	}

	srv.wg.Add(1)
	go srv.acceptLoop()
	return nil
}

// Addr returns the bound listener address, for tests that listen on an
// ephemeral port.
func (srv *Server) Addr() net.Addr {
	return srv.listener.Addr()
}

// Stop closes the listener, disconnects every session, and waits for
// the reader and writer goroutines to drain, final flushes included.
// Idempotent.
func (srv *Server) Stop() {
	srv.stopOnce.Do(func() {
		close(srv.quit)
		if srv.listener != nil {
			srv.listener.Close()
		}
		if srv.portal != nil {
			srv.portal.shutdown()
		}
		for _, s := range srv.registry.Sessions() {
			s.sendError("Closing Link: %s (Server shutting down)", s.Hostname())
			s.Close("Server shutting down")
		}
		srv.wg.Wait()
		log.Printf("*** %s stopped", srv.cfg.Server.Name)
	})
}

func (srv *Server) acceptLoop() {
	defer srv.wg.Done()

	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-srv.quit:
				return
			default:
			}
			log.Printf("*** accept error: %v", err)
			continue
		}

		srv.metrics.ConnectionsTotal.Inc()

		if max := srv.cfg.Limits.MaxClients; max > 0 && srv.registry.SessionCount() >= max {
			conn.Write([]byte("ERROR :Closing Link: server is full\r\n"))
			conn.Close()
			continue
		}

		s := newSession(srv, conn)
		srv.registry.addSession(s)
		srv.metrics.ConnectionsActive.Inc()
		srv.notifySessionCreated(s)

		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			s.run()
		}()
	}
}
