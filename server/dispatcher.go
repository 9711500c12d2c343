package server

import (
	"log"
	"strings"

	"github.com/ircore/ircd/irc"
)

// DispatchError is a command failure expressed as the numeric reply the
// client receives. Handlers return it instead of writing error replies
// themselves, so every failure goes out in one shape.
type DispatchError struct {
	Numeric int
	Params  []string
}

func newDispatchError(numeric int, params ...string) *DispatchError {
	return &DispatchError{Numeric: numeric, Params: params}
}

func (e *DispatchError) Error() string {
	if n := len(e.Params); n > 0 {
		return e.Params[n-1]
	}
	return "command failed"
}

// needMoreParams is the reply every handler uses for an arity failure.
func needMoreParams(verb string) *DispatchError {
	return newDispatchError(irc.ERR_NEEDMOREPARAMS, verb, "Not enough parameters")
}

// HandlerFunc executes one command for one session.
type HandlerFunc func(s *Session, msg *irc.Message) *DispatchError

// Dispatcher parses decoded lines and routes them to the handler table.
// Unknown or malformed commands produce an error reply; they never
// terminate the session.
type Dispatcher struct {
	server   *Server
	handlers map[string]HandlerFunc

	// Commands a session may use before registration completes.
	preReg map[string]bool
}

func newDispatcher(srv *Server) *Dispatcher {
	d := &Dispatcher{
		server: srv,
		preReg: map[string]bool{
			"CAP":  true,
			"PASS": true,
			"NICK": true,
			"USER": true,
			"PING": true,
			"PONG": true,
			"QUIT": true,
		},
	}
	d.handlers = map[string]HandlerFunc{
		"CAP":     srv.handleCap,
		"PASS":    srv.handlePass,
		"NICK":    srv.handleNick,
		"USER":    srv.handleUser,
		"PING":    srv.handlePing,
		"PONG":    srv.handlePong,
		"QUIT":    srv.handleQuit,
		"JOIN":    srv.handleJoin,
		"PART":    srv.handlePart,
		"PRIVMSG": srv.handlePrivmsg,
		"NOTICE":  srv.handleNotice,
		"TOPIC":   srv.handleTopic,
		"NAMES":   srv.handleNames,
		"LIST":    srv.handleList,
		"KICK":    srv.handleKick,
		"INVITE":  srv.handleInvite,
		"MODE":    srv.handleMode,
		"OPER":    srv.handleOper,
		"KILL":    srv.handleKill,
		"WALLOPS": srv.handleWallops,
		"AWAY":    srv.handleAway,
		"WHO":     srv.handleWho,
		"WHOIS":   srv.handleWhois,
		"MOTD":    srv.handleMotd,
		"VERSION": srv.handleVersion,
	}
	return d
}

// Dispatch handles one decoded line for s.
func (d *Dispatcher) Dispatch(s *Session, line string) {
	if d.server.cfg.Debug {
		log.Printf("[%s] <= %s", s.peer(), line)
	}

	msg, err := irc.ParseMessage(line)
	if msg == nil {
		return
	}
	verb := strings.ToUpper(msg.Command)
	d.server.metrics.CommandsTotal.WithLabelValues(verb).Inc()

	if err != nil {
		// Malformed but never fatal. The verb survives parsing, so the
		// reply can still name it.
		s.sendNumeric(irc.ERR_UNKNOWNCOMMAND, verb, "Malformed message")
		return
	}

	handler, ok := d.handlers[verb]
	if !ok {
		s.sendNumeric(irc.ERR_UNKNOWNCOMMAND, verb, "Unknown command")
		return
	}

	if s.State() != StateRegistered && !d.preReg[verb] {
		s.sendNumeric(irc.ERR_NOTREGISTERED, "You have not registered")
		return
	}

	if derr := handler(s, msg); derr != nil {
		s.sendNumeric(derr.Numeric, derr.Params...)
	}
}
