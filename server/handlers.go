package server

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ircore/ircd/irc"
)

// Registration and connection commands.

func (srv *Server) handleCap(s *Session, msg *irc.Message) *DispatchError {
	if len(msg.Params) < 1 {
		return needMoreParams("CAP")
	}

	target := s.Nickname()
	if target == "" {
		target = "*"
	}

	// No capabilities are offered; negotiation exists so that clients
	// which open with CAP LS can still register cleanly.
	switch strings.ToUpper(msg.Params[0]) {
	case "LS":
		s.setCapNegotiating(true)
		s.sendMessage("CAP", target, "LS", "")
	case "LIST":
		s.sendMessage("CAP", target, "LIST", "")
	case "REQ":
		s.setCapNegotiating(true)
		requested := ""
		if len(msg.Params) > 1 {
			requested = msg.Params[len(msg.Params)-1]
		}
		s.sendMessage("CAP", target, "NAK", requested)
	case "END":
		s.setCapNegotiating(false)
		s.tryCompleteRegistration()
	}
	return nil
}

func (srv *Server) handlePass(s *Session, msg *irc.Message) *DispatchError {
	if s.State() == StateRegistered {
		return newDispatchError(irc.ERR_ALREADYREGISTRED, "Unauthorized command (already registered)")
	}
	if len(msg.Params) < 1 {
		return needMoreParams("PASS")
	}
	s.beginAuthentication()
	s.setPassword(msg.Params[0])
	return nil
}

func (srv *Server) handleNick(s *Session, msg *irc.Message) *DispatchError {
	if len(msg.Params) < 1 {
		return newDispatchError(irc.ERR_NONICKNAMEGIVEN, "No nickname given")
	}
	nick := msg.Params[0]
	if !irc.IsValidNickname(nick) {
		return newDispatchError(irc.ERR_ERRONEUSNICKNAME, nick, "Erroneous nickname")
	}

	if derr := srv.registry.SetNick(s, nick); derr != nil {
		return derr
	}
	// A rejected claim leaves the registration state untouched.
	s.beginAuthentication()
	s.tryCompleteRegistration()
	return nil
}

func (srv *Server) handleUser(s *Session, msg *irc.Message) *DispatchError {
	if s.State() == StateRegistered {
		return newDispatchError(irc.ERR_ALREADYREGISTRED, "Unauthorized command (already registered)")
	}
	if len(msg.Params) < 4 {
		return needMoreParams("USER")
	}
	s.beginAuthentication()
	s.setUser(msg.Params[0], msg.Params[3])
	s.tryCompleteRegistration()
	return nil
}

func (srv *Server) handlePing(s *Session, msg *irc.Message) *DispatchError {
	if len(msg.Params) < 1 {
		return needMoreParams("PING")
	}
	s.sendMessage("PONG", srv.cfg.Server.Name, msg.Params[0])
	return nil
}

func (srv *Server) handlePong(s *Session, msg *irc.Message) *DispatchError {
	return nil
}

func (srv *Server) handleQuit(s *Session, msg *irc.Message) *DispatchError {
	reason := "Client Quit"
	if len(msg.Params) > 0 && msg.Params[0] != "" {
		reason = msg.Params[0]
	}
	s.sendError("Closing Link: %s (%s)", s.Hostname(), reason)
	s.Close(reason)
	return nil
}

// Channel membership commands.

func (srv *Server) handleJoin(s *Session, msg *irc.Message) *DispatchError {
	if len(msg.Params) < 1 {
		return needMoreParams("JOIN")
	}

	// JOIN 0 leaves every channel.
	if msg.Params[0] == "0" {
		for _, name := range s.channelNames() {
			srv.registry.Part(s, name, "")
		}
		return nil
	}

	names := strings.Split(msg.Params[0], ",")
	var keys []string
	if len(msg.Params) > 1 {
		keys = strings.Split(msg.Params[1], ",")
	}

	for i, name := range names {
		if name == "" {
			continue
		}
		if !irc.IsValidChannelName(name) {
			s.sendNumeric(irc.ERR_NOSUCHCHANNEL, name, "No such channel")
			continue
		}
		key := ""
		if i < len(keys) {
			key = keys[i]
		}

		ch, derr := srv.registry.Join(s, name, key)
		if derr != nil {
			s.sendNumeric(derr.Numeric, derr.Params...)
			continue
		}

		if topic, _, _ := ch.Topic(); topic != "" {
			s.sendNumeric(irc.RPL_TOPIC, ch.Name, topic)
		}
		srv.sendNames(s, ch)
	}
	return nil
}

func (srv *Server) handlePart(s *Session, msg *irc.Message) *DispatchError {
	if len(msg.Params) < 1 {
		return needMoreParams("PART")
	}
	reason := ""
	if len(msg.Params) > 1 {
		reason = msg.Params[1]
	}

	for _, name := range strings.Split(msg.Params[0], ",") {
		if name == "" {
			continue
		}
		if derr := srv.registry.Part(s, name, reason); derr != nil {
			s.sendNumeric(derr.Numeric, derr.Params...)
		}
	}
	return nil
}

// Messaging commands. NOTICE shares the delivery path with PRIVMSG but
// must never generate replies, errors included (RFC 2812 section 3.3.2).

func (srv *Server) handlePrivmsg(s *Session, msg *irc.Message) *DispatchError {
	return srv.deliver(s, msg, "PRIVMSG")
}

func (srv *Server) handleNotice(s *Session, msg *irc.Message) *DispatchError {
	srv.deliver(s, msg, "NOTICE")
	return nil
}

func (srv *Server) deliver(s *Session, msg *irc.Message, verb string) *DispatchError {
	if len(msg.Params) < 1 {
		return newDispatchError(irc.ERR_NORECIPIENT, "No recipient given ("+verb+")")
	}
	if len(msg.Params) < 2 || msg.Params[1] == "" {
		return newDispatchError(irc.ERR_NOTEXTTOSEND, "No text to send")
	}
	target, text := msg.Params[0], msg.Params[1]
	line := fmt.Sprintf(":%s %s %s :%s", s.hostmask(), verb, target, text)

	if strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&") {
		ch, ok := srv.registry.GetChannel(target)
		if !ok {
			return newDispatchError(irc.ERR_NOSUCHCHANNEL, target, "No such channel")
		}
		if !ch.isMember(s) {
			return newDispatchError(irc.ERR_CANNOTSENDTOCHAN, ch.Name, "Cannot send to channel")
		}

		except := s
		if srv.cfg.Broadcast.EchoToSender {
			except = nil
		}
		ch.broadcast(line, except)
		srv.metrics.BroadcastsTotal.Inc()
		return nil
	}

	peer, ok := srv.registry.SessionByNick(target)
	if !ok {
		return newDispatchError(irc.ERR_NOSUCHNICK, target, "No such nick/channel")
	}
	peer.sendRaw(line)
	if verb == "PRIVMSG" {
		if away := peer.awayText(); away != "" {
			s.sendNumeric(irc.RPL_AWAY, peer.Nickname(), away)
		}
	}
	return nil
}

// Channel state commands.

func (srv *Server) handleTopic(s *Session, msg *irc.Message) *DispatchError {
	if len(msg.Params) < 1 {
		return needMoreParams("TOPIC")
	}
	ch, ok := srv.registry.GetChannel(msg.Params[0])
	if !ok {
		return newDispatchError(irc.ERR_NOSUCHCHANNEL, msg.Params[0], "No such channel")
	}

	// Query form.
	if len(msg.Params) == 1 {
		if topic, _, _ := ch.Topic(); topic != "" {
			s.sendNumeric(irc.RPL_TOPIC, ch.Name, topic)
		} else {
			s.sendNumeric(irc.RPL_NOTOPIC, ch.Name, "No topic is set")
		}
		return nil
	}

	return ch.setTopicFrom(s, msg.Params[1])
}

func (srv *Server) handleNames(s *Session, msg *irc.Message) *DispatchError {
	if len(msg.Params) < 1 {
		for _, ch := range srv.registry.Channels() {
			srv.sendNames(s, ch)
		}
		return nil
	}
	for _, name := range strings.Split(msg.Params[0], ",") {
		if ch, ok := srv.registry.GetChannel(name); ok {
			srv.sendNames(s, ch)
		} else {
			s.sendNumeric(irc.RPL_ENDOFNAMES, name, "End of NAMES list")
		}
	}
	return nil
}

func (srv *Server) sendNames(s *Session, ch *Channel) {
	s.sendNumeric(irc.RPL_NAMREPLY, "=", ch.Name, strings.Join(ch.nickList(), " "))
	s.sendNumeric(irc.RPL_ENDOFNAMES, ch.Name, "End of NAMES list")
}

func (srv *Server) handleList(s *Session, msg *irc.Message) *DispatchError {
	s.sendNumeric(irc.RPL_LISTSTART, "Channel", "Users Name")

	channels := srv.registry.Channels()
	if len(msg.Params) > 0 {
		wanted := make(map[string]bool)
		for _, name := range strings.Split(msg.Params[0], ",") {
			wanted[irc.CaseFold(name)] = true
		}
		filtered := channels[:0]
		for _, ch := range channels {
			if wanted[irc.CaseFold(ch.Name)] {
				filtered = append(filtered, ch)
			}
		}
		channels = filtered
	}

	for _, ch := range channels {
		topic, _, _ := ch.Topic()
		s.sendNumeric(irc.RPL_LIST, ch.Name, strconv.Itoa(ch.memberCount()), topic)
	}
	s.sendNumeric(irc.RPL_LISTEND, "End of LIST")
	return nil
}

func (srv *Server) handleKick(s *Session, msg *irc.Message) *DispatchError {
	if len(msg.Params) < 2 {
		return needMoreParams("KICK")
	}
	reason := s.Nickname()
	if len(msg.Params) > 2 && msg.Params[2] != "" {
		reason = msg.Params[2]
	}
	return srv.registry.Kick(s, msg.Params[0], msg.Params[1], reason)
}

func (srv *Server) handleInvite(s *Session, msg *irc.Message) *DispatchError {
	if len(msg.Params) < 2 {
		return needMoreParams("INVITE")
	}
	target, ok := srv.registry.SessionByNick(msg.Params[0])
	if !ok {
		return newDispatchError(irc.ERR_NOSUCHNICK, msg.Params[0], "No such nick/channel")
	}
	ch, ok := srv.registry.GetChannel(msg.Params[1])
	if !ok {
		return newDispatchError(irc.ERR_NOSUCHCHANNEL, msg.Params[1], "No such channel")
	}
	if derr := ch.inviteFrom(s, target); derr != nil {
		return derr
	}
	s.sendNumeric(irc.RPL_INVITING, target.Nickname(), ch.Name)
	target.sendRaw(fmt.Sprintf(":%s INVITE %s :%s", s.hostmask(), target.Nickname(), ch.Name))
	return nil
}

// handleMode covers channel modes i, t, k, l, and o, plus the user mode
// query. Mode changes are applied left to right; the first failure
// stops the sequence.
func (srv *Server) handleMode(s *Session, msg *irc.Message) *DispatchError {
	if len(msg.Params) < 1 {
		return needMoreParams("MODE")
	}
	target := msg.Params[0]

	if !strings.HasPrefix(target, "#") && !strings.HasPrefix(target, "&") {
		if irc.CaseFold(target) != irc.CaseFold(s.Nickname()) {
			return newDispatchError(irc.ERR_USERSDONTMATCH, "Cannot change mode for other users")
		}
		modes := "+"
		if s.IsOperator() {
			modes += "o"
		}
		s.sendNumeric(irc.RPL_UMODEIS, modes)
		return nil
	}

	ch, ok := srv.registry.GetChannel(target)
	if !ok {
		return newDispatchError(irc.ERR_NOSUCHCHANNEL, target, "No such channel")
	}
	if len(msg.Params) == 1 {
		s.sendNumeric(irc.RPL_CHANNELMODEIS, ch.Name, ch.modeString())
		return nil
	}
	return ch.applyModes(s, msg.Params[1], msg.Params[2:])
}

// Operator commands.

func (srv *Server) handleOper(s *Session, msg *irc.Message) *DispatchError {
	if len(msg.Params) < 2 {
		return needMoreParams("OPER")
	}
	if !srv.authenticateOperator(msg.Params[0], msg.Params[1]) {
		return newDispatchError(irc.ERR_PASSWDMISMATCH, "Password incorrect")
	}
	s.setOperator(true)
	s.sendNumeric(irc.RPL_YOUREOPER, "You are now an IRC operator")
	return nil
}

func (srv *Server) handleKill(s *Session, msg *irc.Message) *DispatchError {
	if !s.IsOperator() {
		return newDispatchError(irc.ERR_NOPRIVILEGES, "Permission Denied- You're not an IRC operator")
	}
	if len(msg.Params) < 2 {
		return needMoreParams("KILL")
	}
	target, ok := srv.registry.SessionByNick(msg.Params[0])
	if !ok {
		return newDispatchError(irc.ERR_NOSUCHNICK, msg.Params[0], "No such nick/channel")
	}

	reason := msg.Params[1]
	target.sendRaw(fmt.Sprintf(":%s KILL %s :%s", s.hostmask(), target.Nickname(), reason))
	target.sendError("Closing Link: %s (Killed (%s (%s)))", target.Hostname(), s.Nickname(), reason)
	target.Close(fmt.Sprintf("Killed (%s (%s))", s.Nickname(), reason))
	return nil
}

func (srv *Server) handleWallops(s *Session, msg *irc.Message) *DispatchError {
	if !s.IsOperator() {
		return newDispatchError(irc.ERR_NOPRIVILEGES, "Permission Denied- You're not an IRC operator")
	}
	if len(msg.Params) < 1 {
		return needMoreParams("WALLOPS")
	}
	line := fmt.Sprintf(":%s WALLOPS :%s", s.hostmask(), msg.Params[0])
	for _, peer := range srv.registry.Sessions() {
		if peer.IsOperator() {
			peer.sendRaw(line)
		}
	}
	return nil
}

// Presence and informational commands.

func (srv *Server) handleAway(s *Session, msg *irc.Message) *DispatchError {
	if len(msg.Params) == 0 || msg.Params[0] == "" {
		s.setAway("")
		s.sendNumeric(irc.RPL_UNAWAY, "You are no longer marked as being away")
		return nil
	}
	s.setAway(msg.Params[0])
	s.sendNumeric(irc.RPL_NOWAWAY, "You have been marked as being away")
	return nil
}

func (srv *Server) handleWho(s *Session, msg *irc.Message) *DispatchError {
	mask := "*"
	if len(msg.Params) > 0 && msg.Params[0] != "" {
		mask = msg.Params[0]
	}

	if strings.HasPrefix(mask, "#") || strings.HasPrefix(mask, "&") {
		if ch, ok := srv.registry.GetChannel(mask); ok {
			for _, member := range ch.memberSessions() {
				srv.sendWhoReply(s, ch, member)
			}
		}
	} else {
		for _, peer := range srv.registry.Sessions() {
			if peer.State() != StateRegistered {
				continue
			}
			if irc.WildcardMatch(irc.CaseFold(peer.Nickname()), irc.CaseFold(mask)) {
				srv.sendWhoReply(s, nil, peer)
			}
		}
	}
	s.sendNumeric(irc.RPL_ENDOFWHO, mask, "End of WHO list")
	return nil
}

func (srv *Server) sendWhoReply(s *Session, ch *Channel, peer *Session) {
	chName := "*"
	flags := "H"
	if peer.awayText() != "" {
		flags = "G"
	}
	if peer.IsOperator() {
		flags += "*"
	}
	if ch != nil {
		chName = ch.Name
		if ch.isOperator(peer) {
			flags += "@"
		}
	}
	s.sendNumeric(irc.RPL_WHOREPLY, chName, peer.Username(), peer.Hostname(),
		srv.cfg.Server.Name, peer.Nickname(), flags, "0 "+peer.Realname())
}

func (srv *Server) handleWhois(s *Session, msg *irc.Message) *DispatchError {
	if len(msg.Params) < 1 {
		return newDispatchError(irc.ERR_NONICKNAMEGIVEN, "No nickname given")
	}
	peer, ok := srv.registry.SessionByNick(msg.Params[0])
	if !ok {
		return newDispatchError(irc.ERR_NOSUCHNICK, msg.Params[0], "No such nick/channel")
	}

	nick := peer.Nickname()
	s.sendNumeric(irc.RPL_WHOISUSER, nick, peer.Username(), peer.Hostname(), "*", peer.Realname())

	var chanNames []string
	for _, name := range peer.channelNames() {
		ch, ok := srv.registry.GetChannel(name)
		if !ok {
			continue
		}
		display := ch.Name
		if ch.isOperator(peer) {
			display = "@" + display
		}
		chanNames = append(chanNames, display)
	}
	if len(chanNames) > 0 {
		s.sendNumeric(irc.RPL_WHOISCHANNELS, nick, strings.Join(chanNames, " "))
	}

	s.sendNumeric(irc.RPL_WHOISSERVER, nick, srv.cfg.Server.Name, srv.cfg.Server.Description)
	if away := peer.awayText(); away != "" {
		s.sendNumeric(irc.RPL_AWAY, nick, away)
	}
	if peer.IsOperator() {
		s.sendNumeric(irc.RPL_WHOISOPERATOR, nick, "is an IRC operator")
	}
	s.sendNumeric(irc.RPL_ENDOFWHOIS, nick, "End of WHOIS list")
	return nil
}

func (srv *Server) handleMotd(s *Session, msg *irc.Message) *DispatchError {
	s.sendNumeric(irc.RPL_MOTDSTART, fmt.Sprintf("- %s Message of the Day -", srv.cfg.Server.Name))
	s.sendNumeric(irc.RPL_MOTD, fmt.Sprintf("- Welcome to %s", srv.cfg.Server.Description))
	s.sendNumeric(irc.RPL_ENDOFMOTD, "End of MOTD command")
	return nil
}

func (srv *Server) handleVersion(s *Session, msg *irc.Message) *DispatchError {
	s.sendNumeric(irc.RPL_VERSION, "ircore-1.0", srv.cfg.Server.Name, srv.cfg.Server.Description)
	return nil
}
