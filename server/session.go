package server

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ircore/ircd/irc"
)

// RegState tracks a session's progress through registration.
type RegState int

const (
	// StateConnected: socket accepted, no identity supplied yet.
	StateConnected RegState = iota
	// StateAuthenticating: some identity commands received, not all.
	StateAuthenticating
	// StateRegistered: full command set available. Terminal.
	StateRegistered
)

func (st RegState) String() string {
	switch st {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

const (
	readChunkSize       = 4096
	writeTimeout        = 30 * time.Second
	flushTimeout        = 5 * time.Second
	registrationTimeout = 60 * time.Second
)

// Session is the server-side state for one connected client: identity,
// registration progress, channel memberships, and the outbound queue.
// Exactly one Session exists per live connection.
type Session struct {
	ID     string
	server *Server
	conn   net.Conn

	decoder *LineDecoder

	mu             sync.RWMutex
	nickname       string
	username       string
	realname       string
	hostname       string
	password       string
	state          RegState
	operator       bool
	awayMessage    string
	capNegotiating bool
	channels       map[string]bool // folded channel names joined
	lastSeen       time.Time

	outbound  chan []byte
	quit      chan struct{}
	closeOnce sync.Once
}

func newSession(srv *Server, conn net.Conn) *Session {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}

	return &Session{
		ID:       uuid.New().String(),
		server:   srv,
		conn:     conn,
		decoder:  NewLineDecoder(srv.cfg.Limits.MaxLineLen),
		hostname: host,
		channels: make(map[string]bool),
		lastSeen: time.Now(),
		outbound: make(chan []byte, srv.cfg.Limits.SendQueueLen),
		quit:     make(chan struct{}),
	}
}

// run services the connection until it closes. It owns the read side;
// the write side is drained by a single writePump goroutine so queued
// bytes are never reordered or written by another session's goroutine.
func (s *Session) run() {
	defer s.Close("Connection closed")

	s.server.wg.Add(1)
	go func() {
		defer s.server.wg.Done()
		s.writePump()
	}()
	if window := s.server.cfg.IdleTimeout(); window > 0 {
		go s.pingLoop(window)
	}

	s.readLoop()
}

func (s *Session) readLoop() {
	buf := make([]byte, readChunkSize)

	// Unregistered connections must complete identity exchange within
	// the registration window.
	s.conn.SetReadDeadline(time.Now().Add(registrationTimeout))

	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.touch()
			lines, ferr := s.decoder.Feed(buf[:n])
			// Every fully decoded line from this chunk is dispatched
			// before the next read.
			for _, line := range lines {
				s.server.dispatcher.Dispatch(s, line)
			}
			if ferr != nil {
				s.sendError("Closing Link: %s (Line too long)", s.Hostname())
				s.Close("Line too long")
				return
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() && s.State() != StateRegistered {
				s.sendError("Closing Link: %s (Registration timeout)", s.Hostname())
				s.Close("Registration timeout")
				return
			}
			return
		}

		select {
		case <-s.quit:
			return
		default:
		}
	}
}

// writePump is the only goroutine that writes to the connection. On
// shutdown it makes a bounded best-effort attempt to flush whatever is
// already queued, then closes the socket.
func (s *Session) writePump() {
	defer s.conn.Close()

	for {
		select {
		case payload := <-s.outbound:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := s.conn.Write(payload); err != nil {
				s.Close("Write error")
				return
			}
		case <-s.quit:
			for {
				select {
				case payload := <-s.outbound:
					s.conn.SetWriteDeadline(time.Now().Add(flushTimeout))
					if _, err := s.conn.Write(payload); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// pingLoop enforces the idle policy: a PING after one idle window, a
// forced close after two.
func (s *Session) pingLoop(window time.Duration) {
	ticker := time.NewTicker(window / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			idle := time.Since(s.seen())
			if idle > 2*window {
				s.Close("Ping timeout")
				return
			}
			if idle > window {
				s.sendMessage("PING", s.server.cfg.Server.Name)
			}
		case <-s.quit:
			return
		}
	}
}

// Close tears the session down: memberships are parted with a QUIT
// broadcast, the nickname claim is released, and the connection handle
// is reclaimed. Idempotent; second and later calls are no-ops.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		close(s.quit)

		s.server.registry.removeSession(s, reason)

		// Kick a blocked read; writePump flushes and closes the socket.
		s.conn.SetReadDeadline(time.Now())

		s.server.metrics.ConnectionsActive.Dec()
		s.server.notifySessionDestroyed(s, reason)
		log.Printf("[%s] *** Client disconnected: %s", s.peer(), reason)
	})
}

// closed reports whether Close has been called.
func (s *Session) closed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// sendRaw enqueues one line for delivery. It never blocks: a full queue
// means the peer has stopped draining, which is fatal for the session.
func (s *Session) sendRaw(line string) {
	if s.closed() {
		return
	}

	if s.server.cfg.Debug {
		log.Printf("[%s] => %s", s.peer(), line)
	}

	select {
	case s.outbound <- []byte(line + "\r\n"):
		s.server.metrics.MessagesSent.Inc()
	default:
		go s.Close("SendQ exceeded")
	}
}

// sendMessage sends a server-prefixed message to the client.
func (s *Session) sendMessage(command string, params ...string) {
	msg := irc.Message{
		Prefix:  s.server.cfg.Server.Name,
		Command: command,
		Params:  params,
	}
	s.sendRaw(msg.String())
}

// sendNumeric sends a numeric reply. The client's nickname (or "*"
// before one is set) is always the first parameter.
func (s *Session) sendNumeric(numeric int, params ...string) {
	target := s.Nickname()
	if target == "" {
		target = "*"
	}
	msg := irc.Message{
		Prefix:  s.server.cfg.Server.Name,
		Command: fmt.Sprintf("%03d", numeric),
		Params:  append([]string{target}, params...),
	}
	s.sendRaw(msg.String())
}

// sendError sends a final ERROR line before a controlled closure.
func (s *Session) sendError(format string, args ...interface{}) {
	s.sendRaw("ERROR :" + fmt.Sprintf(format, args...))
}

// tryCompleteRegistration transitions to Registered exactly when both
// nickname and username have been supplied and the connection password,
// if the server requires one, has matched. The welcome burst is sent
// exactly once.
func (s *Session) tryCompleteRegistration() {
	s.mu.Lock()
	if s.state == StateRegistered || s.nickname == "" || s.username == "" || s.capNegotiating {
		s.mu.Unlock()
		return
	}
	if required := s.server.cfg.Server.Password; required != "" && s.password != required {
		s.mu.Unlock()
		s.sendNumeric(irc.ERR_PASSWDMISMATCH, "Password incorrect")
		return
	}
	s.state = StateRegistered
	nick, user, host := s.nickname, s.username, s.hostname
	s.mu.Unlock()

	// Registered clients are governed by the idle policy instead.
	s.conn.SetReadDeadline(time.Time{})
	s.server.metrics.RegistrationsTotal.Inc()
	log.Printf("[%s] *** Client registered: %s", host, irc.FormatHostmask(nick, user, host))

	cfg := s.server.cfg
	s.sendNumeric(irc.RPL_WELCOME, fmt.Sprintf("Welcome to the %s IRC Network %s", cfg.Server.Network, irc.FormatHostmask(nick, user, host)))
	s.sendNumeric(irc.RPL_YOURHOST, fmt.Sprintf("Your host is %s, running version ircore-1.0", cfg.Server.Name))
	s.sendNumeric(irc.RPL_CREATED, fmt.Sprintf("This server was created %s", s.server.startTime.Format(time.RFC1123)))
	s.sendNumeric(irc.RPL_MYINFO, cfg.Server.Name, "ircore-1.0", "o", "iktol")
	s.server.handleMotd(s, nil)
}

// Accessors. Identity fields are read by handlers and the registry;
// all mutation goes through the setters or the registry.

func (s *Session) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nickname
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) Realname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.realname
}

func (s *Session) Hostname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hostname
}

func (s *Session) State() RegState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsOperator reports whether the session has server operator status.
func (s *Session) IsOperator() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operator
}

func (s *Session) setOperator(v bool) {
	s.mu.Lock()
	s.operator = v
	s.mu.Unlock()
}

func (s *Session) awayText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.awayMessage
}

func (s *Session) setAway(message string) {
	s.mu.Lock()
	s.awayMessage = message
	s.mu.Unlock()
}

// hostmask returns nick!user@host for message prefixes.
func (s *Session) hostmask() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return irc.FormatHostmask(s.nickname, s.username, s.hostname)
}

// peer names the session for log lines.
func (s *Session) peer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.nickname != "" {
		return s.nickname
	}
	return s.hostname
}

// beginAuthentication moves Connected to Authenticating on the first
// identity-establishing command.
func (s *Session) beginAuthentication() {
	s.mu.Lock()
	if s.state == StateConnected {
		s.state = StateAuthenticating
	}
	s.mu.Unlock()
}

func (s *Session) setPassword(password string) {
	s.mu.Lock()
	s.password = password
	s.mu.Unlock()
}

func (s *Session) setUser(username, realname string) {
	s.mu.Lock()
	s.username = username
	s.realname = realname
	s.mu.Unlock()
}

func (s *Session) setCapNegotiating(v bool) {
	s.mu.Lock()
	s.capNegotiating = v
	s.mu.Unlock()
}

// channelNames returns a snapshot of the folded names of joined channels.
func (s *Session) channelNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	return names
}

func (s *Session) inChannel(folded string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[folded]
}

func (s *Session) addChannel(folded string) {
	s.mu.Lock()
	s.channels[folded] = true
	s.mu.Unlock()
}

func (s *Session) removeChannel(folded string) {
	s.mu.Lock()
	delete(s.channels, folded)
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) seen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}
