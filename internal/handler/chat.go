package handler

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/muxserver/internal/server"
)

const defaultPrompt = "Enter your nickname: "

// Chat is a broadcast chat room. The first line a client sends becomes its
// nickname and every line after that is relayed to everyone else.
//
// Each callback holds mu for its entire duration, so membership changes and
// the broadcasts they trigger are serialized even if the same Chat is shared
// between servers.
type Chat struct {
	Prompt string
	Logger *logrus.Logger

	mu sync.Mutex
	// Every open connection, named or not.
	clients map[server.ConnID]struct{}
	// Connections that have chosen a nickname.
	nicknames map[server.ConnID]string
}

func NewChat(prompt string, logger *logrus.Logger) *Chat {
	if prompt == "" {
		prompt = defaultPrompt
	}
	return &Chat{
		Prompt:    prompt,
		Logger:    logger,
		clients:   make(map[server.ConnID]struct{}),
		nicknames: make(map[server.ConnID]string),
	}
}

func (c *Chat) OnConnect(s server.Sender, id server.ConnID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clients[id] = struct{}{}
	if _, err := s.Send(id, []byte(c.Prompt)); err != nil {
		c.Logger.Debugf("[chat] failed to prompt client %d: %v", id, err)
	}
}

func (c *Chat) OnData(s server.Sender, id server.ConnID, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Each read is treated as one complete line.
	text := strings.TrimRight(string(data), "\r\n")

	nickname, named := c.nicknames[id]
	if !named {
		// Whatever the first line holds becomes the nickname, even if it's blank.
		c.nicknames[id] = text

		msg := text + " joined the chat\n"
		c.broadcast(s, id, msg)
		c.Logger.Info(strings.TrimSuffix(msg, "\n"))
		return
	}

	msg := nickname + ": " + text + "\n"
	c.broadcast(s, id, msg)
	c.Logger.Info(strings.TrimSuffix(msg, "\n"))
}

func (c *Chat) OnDisconnect(s server.Sender, id server.ConnID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name, named := c.nicknames[id]
	if !named {
		name = fallbackName(id)
	}

	// The ID may be reused by the next connection, so forget it before anything else.
	delete(c.clients, id)
	delete(c.nicknames, id)

	msg := name + " left the chat\n"
	c.broadcast(s, id, msg)
	c.Logger.Info(strings.TrimSuffix(msg, "\n"))
}

// broadcast sends msg to every client except the sender. Delivery is
// fire-and-forget; a failed write to one client doesn't stop the rest.
// The caller must hold mu.
func (c *Chat) broadcast(s server.Sender, sender server.ConnID, msg string) {
	payload := []byte(msg)
	for id := range c.clients {
		if id == sender {
			continue
		}
		if _, err := s.Send(id, payload); err != nil {
			c.Logger.Debugf("[chat] failed to deliver to client %d: %v", id, err)
		}
	}
}

// Nickname returns the nickname registered for id, if it has one.
func (c *Chat) Nickname(id server.ConnID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name, ok := c.nicknames[id]
	return name, ok
}

// Members returns every connected client in ascending order.
func (c *Chat) Members() []server.ConnID {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]server.ConnID, 0, len(c.clients))
	for id := range c.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func fallbackName(id server.ConnID) string {
	return fmt.Sprintf("Client %d", id)
}
