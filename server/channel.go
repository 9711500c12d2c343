package server

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ircore/ircd/irc"
)

// Channel holds the membership and mode state for one channel. All
// mutation happens under mu, and every compound operation (admission
// checks, operator-gated changes) performs its check, its mutation, and
// its notification under a single acquisition: a membership decision
// cannot go stale, a concurrent operator revocation cannot slip between
// check and mutation, and broadcasts observe mutations in one total
// order.
//
// Lock order is Registry.mu before Channel.mu before Session.mu.
type Channel struct {
	// Name keeps the sigil and the casing of the first joiner.
	Name string

	mu         sync.RWMutex
	members    map[string]*Session // folded nick
	operators  map[string]bool     // folded nick, always a subset of members
	invited    map[string]bool     // folded nick, consumed on join
	topic      string
	topicSetBy string
	topicSetAt time.Time
	key        string
	userLimit  int
	inviteOnly bool
	topicLock  bool
	createdAt  time.Time
}

func newChannel(name string) *Channel {
	return &Channel{
		Name:      name,
		members:   make(map[string]*Session),
		operators: make(map[string]bool),
		invited:   make(map[string]bool),
		topicLock: true,
		createdAt: time.Now(),
	}
}

// join admits the session after checking key, invite list, and user
// limit, and broadcasts the JOIN to every member, the joiner included,
// before releasing the lock. A consumed invitation bypasses the key and
// limit checks. The first member becomes a channel operator. No member
// can observe channel traffic ahead of the join notification.
func (ch *Channel) join(s *Session, key string) *DispatchError {
	folded := irc.CaseFold(s.Nickname())

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if _, ok := ch.members[folded]; ok {
		return nil
	}

	invited := ch.invited[folded]
	if !invited {
		if ch.inviteOnly {
			return newDispatchError(irc.ERR_INVITEONLYCHAN, ch.Name, "Cannot join channel (+i)")
		}
		if ch.key != "" && key != ch.key {
			return newDispatchError(irc.ERR_BADCHANNELKEY, ch.Name, "Cannot join channel (+k)")
		}
		if ch.userLimit > 0 && len(ch.members) >= ch.userLimit {
			return newDispatchError(irc.ERR_CHANNELISFULL, ch.Name, "Cannot join channel (+l)")
		}
	}
	delete(ch.invited, folded)

	if len(ch.members) == 0 {
		ch.operators[folded] = true
	}
	ch.members[folded] = s
	s.addChannel(irc.CaseFold(ch.Name))

	line := fmt.Sprintf(":%s JOIN %s", s.hostmask(), ch.Name)
	for _, member := range ch.members {
		member.sendRaw(line)
	}
	return nil
}

// remove drops the session from the channel. Operator status and any
// pending invitation go with the membership.
func (ch *Channel) remove(s *Session) {
	folded := irc.CaseFold(s.Nickname())
	ch.mu.Lock()
	delete(ch.members, folded)
	delete(ch.operators, folded)
	delete(ch.invited, folded)
	ch.mu.Unlock()
	s.removeChannel(irc.CaseFold(ch.Name))
}

// removeFolded is remove for a session whose nickname has already been
// released or re-keyed.
func (ch *Channel) removeFolded(folded string, s *Session) {
	ch.mu.Lock()
	delete(ch.members, folded)
	delete(ch.operators, folded)
	delete(ch.invited, folded)
	ch.mu.Unlock()
	s.removeChannel(irc.CaseFold(ch.Name))
}

// rekey moves a member from one folded nick to another, preserving
// operator status. Used on nickname changes.
func (ch *Channel) rekey(oldFolded, newFolded string) {
	ch.mu.Lock()
	if s, ok := ch.members[oldFolded]; ok {
		delete(ch.members, oldFolded)
		ch.members[newFolded] = s
		if ch.operators[oldFolded] {
			delete(ch.operators, oldFolded)
			ch.operators[newFolded] = true
		}
	}
	ch.mu.Unlock()
}

// broadcast enqueues line to every member, except the sender when
// except is non-nil. Holding the lock for the whole fan-out gives all
// same-channel broadcasts one total order.
func (ch *Channel) broadcast(line string, except *Session) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for _, member := range ch.members {
		if member == except {
			continue
		}
		member.sendRaw(line)
	}
}

// setTopicFrom applies a topic change requested by s, enforcing
// membership and the topic lock, and broadcasts the new topic. The
// broadcast order matches the order the topic values were applied.
func (ch *Channel) setTopicFrom(s *Session, topic string) *DispatchError {
	folded := irc.CaseFold(s.Nickname())

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.members[folded] != s {
		return newDispatchError(irc.ERR_NOTONCHANNEL, ch.Name, "You're not on that channel")
	}
	if ch.topicLock && !ch.operators[folded] {
		return newDispatchError(irc.ERR_CHANOPRIVSNEEDED, ch.Name, "You're not channel operator")
	}

	ch.topic = topic
	ch.topicSetBy = s.Nickname()
	ch.topicSetAt = time.Now()

	line := fmt.Sprintf(":%s TOPIC %s :%s", s.hostmask(), ch.Name, topic)
	for _, member := range ch.members {
		member.sendRaw(line)
	}
	return nil
}

// kick ejects target on behalf of kicker, enforcing the kicker's
// membership and operator status and the target's membership. The KICK
// is broadcast to every member, target included, before removal.
func (ch *Channel) kick(kicker, target *Session, reason string) *DispatchError {
	kickerFolded := irc.CaseFold(kicker.Nickname())
	targetFolded := irc.CaseFold(target.Nickname())

	ch.mu.Lock()

	if ch.members[kickerFolded] != kicker {
		ch.mu.Unlock()
		return newDispatchError(irc.ERR_NOTONCHANNEL, ch.Name, "You're not on that channel")
	}
	if !ch.operators[kickerFolded] {
		ch.mu.Unlock()
		return newDispatchError(irc.ERR_CHANOPRIVSNEEDED, ch.Name, "You're not channel operator")
	}
	if ch.members[targetFolded] != target {
		ch.mu.Unlock()
		return newDispatchError(irc.ERR_USERNOTINCHANNEL, target.Nickname(), ch.Name, "They aren't on that channel")
	}

	line := fmt.Sprintf(":%s KICK %s %s :%s", kicker.hostmask(), ch.Name, target.Nickname(), reason)
	for _, member := range ch.members {
		member.sendRaw(line)
	}
	delete(ch.members, targetFolded)
	delete(ch.operators, targetFolded)
	delete(ch.invited, targetFolded)
	ch.mu.Unlock()

	target.removeChannel(irc.CaseFold(ch.Name))
	return nil
}

// inviteFrom records an invitation for target requested by s, enforcing
// s's membership and operator status against the same state the
// invitation lands in.
func (ch *Channel) inviteFrom(s, target *Session) *DispatchError {
	folded := irc.CaseFold(s.Nickname())
	targetFolded := irc.CaseFold(target.Nickname())

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.members[folded] != s {
		return newDispatchError(irc.ERR_NOTONCHANNEL, ch.Name, "You're not on that channel")
	}
	if ch.members[targetFolded] == target {
		return newDispatchError(irc.ERR_USERONCHANNEL, target.Nickname(), ch.Name, "is already on channel")
	}
	if !ch.operators[folded] {
		return newDispatchError(irc.ERR_CHANOPRIVSNEEDED, ch.Name, "You're not channel operator")
	}

	ch.invited[targetFolded] = true
	return nil
}

// applyModes parses and applies a mode change requested by s, checking
// operator status under the same lock the mutations happen under.
// Changes are applied left to right; the first failure stops the
// sequence and nothing is broadcast for it. The applied subset is
// broadcast before the lock is released.
func (ch *Channel) applyModes(s *Session, modes string, args []string) *DispatchError {
	folded := irc.CaseFold(s.Nickname())

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if !ch.operators[folded] {
		return newDispatchError(irc.ERR_CHANOPRIVSNEEDED, ch.Name, "You're not channel operator")
	}

	adding := true
	applied := &strings.Builder{}
	var appliedArgs []string
	sign := byte(0)

	nextArg := func() (string, bool) {
		if len(args) == 0 {
			return "", false
		}
		arg := args[0]
		args = args[1:]
		return arg, true
	}

	for i := 0; i < len(modes); i++ {
		mc := modes[i]
		switch mc {
		case '+':
			adding = true
			continue
		case '-':
			adding = false
			continue
		case 'i':
			ch.inviteOnly = adding
		case 't':
			ch.topicLock = adding
		case 'k':
			if adding {
				key, ok := nextArg()
				if !ok {
					return needMoreParams("MODE")
				}
				ch.key = key
				appliedArgs = append(appliedArgs, key)
			} else {
				ch.key = ""
			}
		case 'l':
			if adding {
				arg, ok := nextArg()
				if !ok {
					return needMoreParams("MODE")
				}
				limit, err := strconv.Atoi(arg)
				if err != nil || limit < 1 {
					continue
				}
				ch.userLimit = limit
				appliedArgs = append(appliedArgs, arg)
			} else {
				ch.userLimit = 0
			}
		case 'o':
			nick, ok := nextArg()
			if !ok {
				return needMoreParams("MODE")
			}
			nickFolded := irc.CaseFold(nick)
			if _, ok := ch.members[nickFolded]; !ok {
				return newDispatchError(irc.ERR_USERNOTINCHANNEL, nick, ch.Name, "They aren't on that channel")
			}
			if adding {
				ch.operators[nickFolded] = true
			} else {
				delete(ch.operators, nickFolded)
			}
			appliedArgs = append(appliedArgs, nick)
		default:
			return newDispatchError(irc.ERR_UNKNOWNMODE, string(mc), "is unknown mode char to me")
		}

		want := byte('+')
		if !adding {
			want = '-'
		}
		if sign != want {
			applied.WriteByte(want)
			sign = want
		}
		applied.WriteByte(mc)
	}

	if applied.Len() == 0 {
		return nil
	}
	line := fmt.Sprintf(":%s MODE %s %s", s.hostmask(), ch.Name, applied.String())
	if len(appliedArgs) > 0 {
		line += " " + strings.Join(appliedArgs, " ")
	}
	for _, member := range ch.members {
		member.sendRaw(line)
	}
	return nil
}

func (ch *Channel) isMember(s *Session) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.members[irc.CaseFold(s.Nickname())] == s
}

func (ch *Channel) isOperator(s *Session) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.operators[irc.CaseFold(s.Nickname())]
}

func (ch *Channel) memberCount() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.members)
}

// memberSessions returns a snapshot of the member sessions.
func (ch *Channel) memberSessions() []*Session {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	out := make([]*Session, 0, len(ch.members))
	for _, s := range ch.members {
		out = append(out, s)
	}
	return out
}

// nickList returns the member nicknames, operators prefixed with "@",
// sorted for stable replies.
func (ch *Channel) nickList() []string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	out := make([]string, 0, len(ch.members))
	for folded, s := range ch.members {
		nick := s.Nickname()
		if ch.operators[folded] {
			nick = "@" + nick
		}
		out = append(out, nick)
	}
	sort.Strings(out)
	return out
}

// Topic returns the topic together with who set it and when.
func (ch *Channel) Topic() (topic, setBy string, setAt time.Time) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.topic, ch.topicSetBy, ch.topicSetAt
}

// modeString renders the active modes as "+tik ..." for RPL_CHANNELMODEIS.
// The key itself is never disclosed, only its presence.
func (ch *Channel) modeString() string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	modes := "+"
	if ch.inviteOnly {
		modes += "i"
	}
	if ch.topicLock {
		modes += "t"
	}
	if ch.key != "" {
		modes += "k"
	}
	if ch.userLimit > 0 {
		modes += "l"
	}
	return modes
}
