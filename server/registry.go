package server

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ircore/ircd/irc"
)

// Registry is the authoritative owner of the nickname table, the
// channel table, and the live session set. Every cross-session
// operation (nick claims, joins, parts, teardown) goes through it, so
// the compound invariants (nick uniqueness, create-on-join, destroy-
// when-empty) hold under one lock.
type Registry struct {
	server *Server

	mu       sync.RWMutex
	nicks    map[string]*Session // folded nick
	channels map[string]*Channel // folded name
	sessions map[string]*Session // by session ID
}

func newRegistry(srv *Server) *Registry {
	return &Registry{
		server:   srv,
		nicks:    make(map[string]*Session),
		channels: make(map[string]*Channel),
		sessions: make(map[string]*Session),
	}
}

func (r *Registry) addSession(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// SetNick claims nick for s, releasing any previous claim. For a
// registered session the change is announced to the session itself and
// to every session sharing a channel with it, exactly once each.
func (r *Registry) SetNick(s *Session, nick string) *DispatchError {
	folded := irc.CaseFold(nick)

	r.mu.Lock()

	if owner, ok := r.nicks[folded]; ok && owner != s {
		r.mu.Unlock()
		return newDispatchError(irc.ERR_NICKNAMEINUSE, nick, "Nickname is already in use")
	}

	s.mu.Lock()
	old := s.nickname
	s.nickname = nick
	registered := s.state == StateRegistered
	username, hostname := s.username, s.hostname
	s.mu.Unlock()

	oldFolded := irc.CaseFold(old)
	if old != "" && oldFolded != folded {
		delete(r.nicks, oldFolded)
	}
	r.nicks[folded] = s

	if old == "" || !registered {
		r.mu.Unlock()
		return nil
	}

	// Announce to self and to channel peers, deduplicated across
	// shared channels.
	line := fmt.Sprintf(":%s NICK :%s", irc.FormatHostmask(old, username, hostname), nick)
	audience := map[*Session]bool{s: true}
	for _, name := range s.channelNames() {
		ch, ok := r.channels[name]
		if !ok {
			continue
		}
		ch.rekey(oldFolded, folded)
		for _, member := range ch.memberSessions() {
			audience[member] = true
		}
	}
	r.mu.Unlock()

	for member := range audience {
		member.sendRaw(line)
	}
	return nil
}

// SessionByNick resolves a nickname, case-insensitively.
func (r *Registry) SessionByNick(nick string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.nicks[irc.CaseFold(nick)]
	return s, ok
}

// GetChannel resolves a channel name, case-insensitively.
func (r *Registry) GetChannel(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[irc.CaseFold(name)]
	return ch, ok
}

// Join adds s to the named channel, creating it if absent. The
// membership update and the JOIN broadcast (to every member, the joiner
// included) happen inside ch.join under one channel lock acquisition,
// so no member can receive channel traffic ahead of the join notice.
func (r *Registry) Join(s *Session, name, key string) (*Channel, *DispatchError) {
	folded := irc.CaseFold(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[folded]
	if !ok {
		ch = newChannel(name)
		r.channels[folded] = ch
		r.server.metrics.ChannelsActive.Inc()
	}
	if derr := ch.join(s, key); derr != nil {
		// A freshly created channel the creator could not enter must
		// not linger.
		if !ok {
			delete(r.channels, folded)
			r.server.metrics.ChannelsActive.Dec()
		}
		return nil, derr
	}
	return ch, nil
}

// Part removes s from the named channel after broadcasting the PART to
// every member, the leaver included. An emptied channel is destroyed.
func (r *Registry) Part(s *Session, name, reason string) *DispatchError {
	folded := irc.CaseFold(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[folded]
	if !ok {
		return newDispatchError(irc.ERR_NOSUCHCHANNEL, name, "No such channel")
	}
	if !ch.isMember(s) {
		return newDispatchError(irc.ERR_NOTONCHANNEL, ch.Name, "You're not on that channel")
	}

	line := fmt.Sprintf(":%s PART %s", s.hostmask(), ch.Name)
	if reason != "" {
		line += " :" + reason
	}
	ch.broadcast(line, nil)
	ch.remove(s)

	if ch.memberCount() == 0 {
		delete(r.channels, folded)
		r.server.metrics.ChannelsActive.Dec()
	}
	return nil
}

// Kick ejects targetNick from the named channel on behalf of kicker.
// Permission checks, the KICK broadcast (target included), and the
// removal run inside ch.kick under one channel lock acquisition; an
// emptied channel is destroyed.
func (r *Registry) Kick(kicker *Session, name, targetNick, reason string) *DispatchError {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[irc.CaseFold(name)]
	if !ok {
		return newDispatchError(irc.ERR_NOSUCHCHANNEL, name, "No such channel")
	}
	target, ok := r.nicks[irc.CaseFold(targetNick)]
	if !ok {
		return newDispatchError(irc.ERR_USERNOTINCHANNEL, targetNick, ch.Name, "They aren't on that channel")
	}
	if derr := ch.kick(kicker, target, reason); derr != nil {
		return derr
	}

	if ch.memberCount() == 0 {
		delete(r.channels, irc.CaseFold(ch.Name))
		r.server.metrics.ChannelsActive.Dec()
	}
	return nil
}

// removeSession tears down every registry trace of s: channel
// memberships, the nickname claim, and the session entry. Sessions
// sharing at least one channel with s are told once, no matter how
// many channels they share.
func (r *Registry) removeSession(s *Session, reason string) {
	r.mu.Lock()

	notify := make(map[*Session]bool)
	folded := irc.CaseFold(s.Nickname())
	for _, name := range s.channelNames() {
		ch, ok := r.channels[name]
		if !ok {
			continue
		}
		for _, member := range ch.memberSessions() {
			if member != s {
				notify[member] = true
			}
		}
		ch.removeFolded(folded, s)
		if ch.memberCount() == 0 {
			delete(r.channels, name)
			r.server.metrics.ChannelsActive.Dec()
		}
	}

	if folded != "" {
		if owner, ok := r.nicks[folded]; ok && owner == s {
			delete(r.nicks, folded)
		}
	}
	delete(r.sessions, s.ID)
	r.mu.Unlock()

	if len(notify) > 0 {
		line := fmt.Sprintf(":%s QUIT :%s", s.hostmask(), reason)
		for member := range notify {
			member.sendRaw(line)
		}
	}
}

// Sessions returns a snapshot of every live session.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Channels returns a snapshot of every channel, sorted by name.
func (r *Registry) Channels() []*Channel {
	r.mu.RLock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) ChannelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
