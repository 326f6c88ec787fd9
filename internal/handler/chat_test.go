package handler

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/dcrodman/muxserver/internal/server"
)

const (
	alice server.ConnID = 4
	bob   server.ConnID = 5
	carol server.ConnID = 6
)

func newTestChat(t *testing.T) (*Chat, *recordingSender) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return NewChat("", logger), newRecordingSender()
}

func TestChatPromptsOnConnect(t *testing.T) {
	chat, sender := newTestChat(t)

	chat.OnConnect(sender, alice)

	require.Equal(t, []string{defaultPrompt}, sender.take(alice))
	require.Equal(t, []server.ConnID{alice}, chat.Members())

	// Connecting does not register a nickname.
	_, named := chat.Nickname(alice)
	require.False(t, named)
}

func TestChatFirstMessageSetsNickname(t *testing.T) {
	chat, sender := newTestChat(t)
	chat.OnConnect(sender, alice)
	sender.take(alice)

	chat.OnData(sender, alice, []byte("alice\r\n"))

	name, named := chat.Nickname(alice)
	require.True(t, named)
	require.Equal(t, "alice", name)
	// Nobody else is connected and the sender never hears its own join.
	require.Empty(t, sender.sent)
}

func TestChatJoinIsBroadcastToOthers(t *testing.T) {
	chat, sender := newTestChat(t)
	chat.OnConnect(sender, alice)
	chat.OnData(sender, alice, []byte("alice\n"))
	chat.OnConnect(sender, bob)
	sender.take(alice)
	sender.take(bob)

	chat.OnData(sender, bob, []byte("bob\n"))

	require.Equal(t, []string{"bob joined the chat\n"}, sender.take(alice))
	require.Empty(t, sender.take(bob))
}

func TestChatMessagesAreBroadcastWithNickname(t *testing.T) {
	chat, sender := newTestChat(t)
	for _, id := range []server.ConnID{alice, bob, carol} {
		chat.OnConnect(sender, id)
	}
	chat.OnData(sender, alice, []byte("alice\n"))
	chat.OnData(sender, bob, []byte("bob\n"))
	for _, id := range []server.ConnID{alice, bob, carol} {
		sender.take(id)
	}

	chat.OnData(sender, alice, []byte("hi\n"))

	require.Equal(t, []string{"alice: hi\n"}, sender.take(bob))
	// Unnamed clients still receive the room's traffic.
	require.Equal(t, []string{"alice: hi\n"}, sender.take(carol))
	require.Empty(t, sender.take(alice))
}

func TestChatDisconnect(t *testing.T) {
	tests := map[string]struct {
		nickname string
		want     string
	}{
		"named":   {nickname: "bob\n", want: "bob left the chat\n"},
		"unnamed": {want: "Client 5 left the chat\n"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			chat, sender := newTestChat(t)
			chat.OnConnect(sender, alice)
			chat.OnData(sender, alice, []byte("alice\n"))
			chat.OnConnect(sender, bob)
			if tt.nickname != "" {
				chat.OnData(sender, bob, []byte(tt.nickname))
			}
			sender.take(alice)
			sender.take(bob)

			sender.closed[bob] = true
			chat.OnDisconnect(sender, bob)

			require.Equal(t, []string{tt.want}, sender.take(alice))
			_, named := chat.Nickname(bob)
			require.False(t, named)
			require.Equal(t, []server.ConnID{alice}, chat.Members())
		})
	}
}

func TestChatReusedIDStartsUnnamed(t *testing.T) {
	chat, sender := newTestChat(t)
	chat.OnConnect(sender, alice)
	chat.OnData(sender, alice, []byte("alice\n"))
	chat.OnDisconnect(sender, alice)

	// The kernel hands the same descriptor to a new client.
	chat.OnConnect(sender, alice)
	sender.take(alice)
	chat.OnData(sender, alice, []byte("dave\n"))

	name, named := chat.Nickname(alice)
	require.True(t, named)
	require.Equal(t, "dave", name)
}

func TestChatBlankNicknameIsKept(t *testing.T) {
	chat, sender := newTestChat(t)
	chat.OnConnect(sender, alice)
	chat.OnConnect(sender, bob)
	sender.take(alice)

	chat.OnData(sender, bob, []byte("\r\n"))

	name, named := chat.Nickname(bob)
	require.True(t, named)
	require.Equal(t, "", name)
	require.Equal(t, []string{" joined the chat\n"}, sender.take(alice))

	// The blank name sticks for the rest of the session.
	chat.OnData(sender, bob, []byte("hello\n"))
	chat.OnDisconnect(sender, bob)
	require.Equal(t, []string{": hello\n", " left the chat\n"}, sender.take(alice))
}

func TestChatBroadcastSurvivesFailedRecipient(t *testing.T) {
	chat, sender := newTestChat(t)
	for _, id := range []server.ConnID{alice, bob, carol} {
		chat.OnConnect(sender, id)
		sender.take(id)
	}
	chat.OnData(sender, alice, []byte("alice\n"))

	require.Equal(t, []string{"alice joined the chat\n"}, sender.take(carol))

	sender.closed[bob] = true
	chat.OnData(sender, alice, []byte("still here\n"))
	require.Equal(t, []string{"alice: still here\n"}, sender.take(carol))
}

// syncSender is a recordingSender that tolerates concurrent callers.
type syncSender struct {
	mu sync.Mutex
	*recordingSender
}

func (s *syncSender) Send(id server.ConnID, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordingSender.Send(id, data)
}

func TestChatConcurrentCallbacks(t *testing.T) {
	logger, _ := test.NewNullLogger()
	chat := NewChat("", logger)
	sender := &syncSender{recordingSender: newRecordingSender()}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id server.ConnID) {
			defer wg.Done()
			chat.OnConnect(sender, id)
			chat.OnData(sender, id, []byte("user\n"))
			chat.OnData(sender, id, []byte("hello\n"))
			chat.OnDisconnect(sender, id)
		}(server.ConnID(100 + i))
	}
	wg.Wait()

	require.Empty(t, chat.Members())
}
