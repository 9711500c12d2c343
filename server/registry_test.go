package server

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNickClaimIsCaseInsensitive(t *testing.T) {
	srv := newTestServer(t)
	newTestSession(t, srv, "alice")

	bob := newUnregisteredSession(t, srv)
	srv.dispatcher.Dispatch(bob, "NICK ALICE")

	assert.True(t, hasLine(drain(bob), "433"))
	assert.NotEqual(t, StateRegistered, bob.State())
}

func TestNickLookupIsCaseInsensitive(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "Alice")

	got, ok := srv.registry.SessionByNick("aLiCe")
	require.True(t, ok)
	assert.Same(t, alice, got)
}

func TestNickChangeAnnouncedOnceToChannelPeers(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")

	// Two shared channels must still produce one announcement.
	for _, s := range []*Session{alice, bob} {
		srv.dispatcher.Dispatch(s, "JOIN #one,#two")
	}
	drain(alice)
	drain(bob)

	srv.dispatcher.Dispatch(alice, "NICK alice2")

	assert.Len(t, drainMatching(bob, "NICK :alice2"), 1)
	assert.Len(t, drainMatching(alice, "NICK :alice2"), 1)

	_, ok := srv.registry.SessionByNick("alice")
	assert.False(t, ok)
	got, ok := srv.registry.SessionByNick("alice2")
	require.True(t, ok)
	assert.Same(t, alice, got)

	// Channel membership survives the rename with operator status intact.
	ch, ok := srv.registry.GetChannel("#one")
	require.True(t, ok)
	assert.True(t, ch.isMember(alice))
	assert.True(t, ch.isOperator(alice))
}

func TestJoinCreatesChannelAndGrantsOperator(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")

	srv.dispatcher.Dispatch(alice, "JOIN #fresh")

	ch, ok := srv.registry.GetChannel("#fresh")
	require.True(t, ok)
	assert.True(t, ch.isMember(alice))
	assert.True(t, ch.isOperator(alice))
	assert.Equal(t, 1, ch.memberCount())

	lines := drain(alice)
	assert.True(t, hasLine(lines, "JOIN #fresh"))
	assert.True(t, hasLine(lines, "353"))
	assert.True(t, hasLine(lines, "@alice"))
	assert.True(t, hasLine(lines, "366"))
}

func TestJoinBroadcastReachesJoinerAndMembers(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")

	srv.dispatcher.Dispatch(alice, "JOIN #room")
	drain(alice)

	srv.dispatcher.Dispatch(bob, "JOIN #room")

	assert.True(t, hasLine(drain(alice), "bob!bob@pipe JOIN #room"))
	assert.True(t, hasLine(drain(bob), "bob!bob@pipe JOIN #room"))
}

func TestSecondJoinerIsNotOperator(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")

	srv.dispatcher.Dispatch(alice, "JOIN #room")
	srv.dispatcher.Dispatch(bob, "JOIN #room")

	ch, _ := srv.registry.GetChannel("#room")
	assert.True(t, ch.isOperator(alice))
	assert.False(t, ch.isOperator(bob))
}

func TestChannelNameIsCaseInsensitive(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")

	srv.dispatcher.Dispatch(alice, "JOIN #Room")
	srv.dispatcher.Dispatch(bob, "JOIN #room")

	ch, ok := srv.registry.GetChannel("#ROOM")
	require.True(t, ok)
	assert.Equal(t, 2, ch.memberCount())
	// Display name keeps the first joiner's casing.
	assert.Equal(t, "#Room", ch.Name)
}

func TestPartLastMemberDestroysChannel(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")

	srv.dispatcher.Dispatch(alice, "JOIN #short")
	srv.dispatcher.Dispatch(alice, "PART #short :done")

	_, ok := srv.registry.GetChannel("#short")
	assert.False(t, ok)
	assert.True(t, hasLine(drain(alice), "PART #short :done"))
	assert.Empty(t, alice.channelNames())
}

func TestPartWithoutMembership(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")

	srv.dispatcher.Dispatch(alice, "JOIN #members")
	drain(bob)
	srv.dispatcher.Dispatch(bob, "PART #members")

	assert.True(t, hasLine(drain(bob), "442"))
}

func TestOperatorStatusDoesNotSurviveRejoin(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")

	srv.dispatcher.Dispatch(alice, "JOIN #ops")
	srv.dispatcher.Dispatch(bob, "JOIN #ops")
	srv.dispatcher.Dispatch(alice, "MODE #ops +o bob")

	ch, _ := srv.registry.GetChannel("#ops")
	require.True(t, ch.isOperator(bob))

	srv.dispatcher.Dispatch(bob, "PART #ops")
	srv.dispatcher.Dispatch(bob, "JOIN #ops")

	assert.True(t, ch.isMember(bob))
	assert.False(t, ch.isOperator(bob))
}

func TestInviteOnlyChannel(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")

	srv.dispatcher.Dispatch(alice, "JOIN #club")
	srv.dispatcher.Dispatch(alice, "MODE #club +i")
	drain(bob)

	srv.dispatcher.Dispatch(bob, "JOIN #club")
	assert.True(t, hasLine(drain(bob), "473"))

	srv.dispatcher.Dispatch(alice, "INVITE bob #club")
	assert.True(t, hasLine(drain(bob), "INVITE bob :#club"))

	srv.dispatcher.Dispatch(bob, "JOIN #club")
	assert.True(t, hasLine(drain(bob), "JOIN #club"))

	ch, _ := srv.registry.GetChannel("#club")
	assert.True(t, ch.isMember(bob))
}

func TestInvitationIsConsumedOnJoin(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")

	srv.dispatcher.Dispatch(alice, "JOIN #club")
	srv.dispatcher.Dispatch(alice, "MODE #club +i")
	srv.dispatcher.Dispatch(alice, "INVITE bob #club")
	srv.dispatcher.Dispatch(bob, "JOIN #club")
	srv.dispatcher.Dispatch(bob, "PART #club")
	drain(bob)

	srv.dispatcher.Dispatch(bob, "JOIN #club")
	assert.True(t, hasLine(drain(bob), "473"))
}

func TestChannelKey(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")

	srv.dispatcher.Dispatch(alice, "JOIN #vault")
	srv.dispatcher.Dispatch(alice, "MODE #vault +k hunter2")
	drain(bob)

	srv.dispatcher.Dispatch(bob, "JOIN #vault")
	assert.True(t, hasLine(drain(bob), "475"))

	srv.dispatcher.Dispatch(bob, "JOIN #vault wrong")
	assert.True(t, hasLine(drain(bob), "475"))

	srv.dispatcher.Dispatch(bob, "JOIN #vault hunter2")
	assert.True(t, hasLine(drain(bob), "JOIN #vault"))
}

func TestChannelUserLimit(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")

	srv.dispatcher.Dispatch(alice, "JOIN #tiny")
	srv.dispatcher.Dispatch(alice, "MODE #tiny +l 1")
	drain(bob)

	srv.dispatcher.Dispatch(bob, "JOIN #tiny")
	assert.True(t, hasLine(drain(bob), "471"))
}

func TestKickEjectsTarget(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")

	srv.dispatcher.Dispatch(alice, "JOIN #strict")
	srv.dispatcher.Dispatch(bob, "JOIN #strict")
	drain(alice)
	drain(bob)

	srv.dispatcher.Dispatch(alice, "KICK #strict bob :behave")

	// The target sees its own KICK.
	assert.True(t, hasLine(drain(bob), "KICK #strict bob :behave"))
	ch, _ := srv.registry.GetChannel("#strict")
	assert.False(t, ch.isMember(bob))
	assert.True(t, ch.isMember(alice))
}

func TestKickRequiresChannelOperator(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")

	srv.dispatcher.Dispatch(alice, "JOIN #strict")
	srv.dispatcher.Dispatch(bob, "JOIN #strict")
	drain(bob)

	srv.dispatcher.Dispatch(bob, "KICK #strict alice")

	assert.True(t, hasLine(drain(bob), "482"))
	ch, _ := srv.registry.GetChannel("#strict")
	assert.True(t, ch.isMember(alice))
}

func TestQuitNotifiesSharedChannelPeersOnce(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")

	for _, s := range []*Session{alice, bob} {
		srv.dispatcher.Dispatch(s, "JOIN #one,#two")
	}
	drain(bob)

	alice.Close("gone fishing")

	assert.Len(t, drainMatching(bob, "QUIT :gone fishing"), 1)

	_, ok := srv.registry.SessionByNick("alice")
	assert.False(t, ok)
	ch, ok := srv.registry.GetChannel("#one")
	require.True(t, ok)
	assert.False(t, ch.isMember(alice))
	assert.Equal(t, 1, ch.memberCount())
}

// A joiner must never receive channel traffic ahead of its own JOIN,
// even while an existing member is broadcasting concurrently.
func TestChannelTrafficNeverPrecedesOwnJoin(t *testing.T) {
	srv := newTestServer(t)
	srv.cfg.Limits.SendQueueLen = 8192
	alice := newTestSession(t, srv, "alice")
	srv.dispatcher.Dispatch(alice, "JOIN #race")
	drain(alice)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				srv.dispatcher.Dispatch(alice, "PRIVMSG #race :burst")
			}
		}
	}()

	bob := newTestSession(t, srv, "bob")
	srv.dispatcher.Dispatch(bob, "JOIN #race")
	close(stop)
	wg.Wait()

	joinIdx, privIdx := -1, -1
	for i, line := range drain(bob) {
		if joinIdx == -1 && strings.Contains(line, "bob!bob@pipe JOIN #race") {
			joinIdx = i
		}
		if privIdx == -1 && strings.Contains(line, "PRIVMSG #race") {
			privIdx = i
		}
	}
	require.NotEqual(t, -1, joinIdx, "joiner never saw its own JOIN")
	if privIdx != -1 {
		assert.Greater(t, privIdx, joinIdx, "channel traffic delivered before the JOIN")
	}
}

// Concurrent topic changes must broadcast in the order they were
// applied: the last TOPIC an observer sees is the channel's final state.
func TestConcurrentTopicBroadcastMatchesFinalState(t *testing.T) {
	srv := newTestServer(t)
	srv.cfg.Limits.SendQueueLen = 2048
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")
	carol := newTestSession(t, srv, "carol")

	srv.dispatcher.Dispatch(alice, "JOIN #news")
	srv.dispatcher.Dispatch(bob, "JOIN #news")
	srv.dispatcher.Dispatch(carol, "JOIN #news")
	srv.dispatcher.Dispatch(alice, "MODE #news +o bob")
	drain(carol)

	var wg sync.WaitGroup
	for _, setter := range []*Session{alice, bob} {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			nick := s.Nickname()
			for i := 0; i < 50; i++ {
				srv.dispatcher.Dispatch(s, fmt.Sprintf("TOPIC #news :%s %d", nick, i))
			}
		}(setter)
	}
	wg.Wait()

	var last string
	for _, line := range drain(carol) {
		if strings.Contains(line, "TOPIC #news :") {
			last = line
		}
	}
	require.NotEmpty(t, last)

	ch, ok := srv.registry.GetChannel("#news")
	require.True(t, ok)
	topic, _, _ := ch.Topic()
	assert.True(t, strings.HasSuffix(last, "TOPIC #news :"+topic),
		"final topic %q does not match last broadcast %q", topic, last)
}

// Once -o lands, the demoted member's gated commands must fail; the
// gate and the mutation share one lock acquisition.
func TestRevokedOperatorLosesPrivileges(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")
	carol := newTestSession(t, srv, "carol")

	srv.dispatcher.Dispatch(alice, "JOIN #gate")
	srv.dispatcher.Dispatch(bob, "JOIN #gate")
	srv.dispatcher.Dispatch(carol, "JOIN #gate")
	srv.dispatcher.Dispatch(alice, "MODE #gate +o bob")
	srv.dispatcher.Dispatch(alice, "MODE #gate -o bob")
	drain(bob)

	ch, ok := srv.registry.GetChannel("#gate")
	require.True(t, ok)

	srv.dispatcher.Dispatch(bob, "TOPIC #gate :mine now")
	assert.True(t, hasLine(drain(bob), " 482 "))
	topic, _, _ := ch.Topic()
	assert.Empty(t, topic)

	srv.dispatcher.Dispatch(bob, "KICK #gate carol")
	assert.True(t, hasLine(drain(bob), " 482 "))
	assert.True(t, ch.isMember(carol))

	srv.dispatcher.Dispatch(bob, "MODE #gate +i")
	assert.True(t, hasLine(drain(bob), " 482 "))
	assert.Equal(t, "+t", ch.modeString())
}

func TestDisconnectOfLastMemberDestroysChannels(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice")

	srv.dispatcher.Dispatch(alice, "JOIN #solo")
	alice.Close("bye")

	_, ok := srv.registry.GetChannel("#solo")
	assert.False(t, ok)
	assert.Zero(t, srv.registry.ChannelCount())
	assert.Zero(t, srv.registry.SessionCount())
}
