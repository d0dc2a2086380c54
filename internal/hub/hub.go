// Package hub is the server-wide directory of authenticated sessions.
package hub

import (
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/chatduel/internal/types"
)

var (
	ErrUsernameTaken = errors.New("username already taken")
	ErrNotFound      = errors.New("user not found")
)

// Member is anything that can receive protocol messages.
type Member interface {
	Username() string
	Send(cmd types.Command, payload any) error
}

type Hub struct {
	mu      sync.RWMutex
	members map[string]Member
	log     *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		members: make(map[string]Member),
		log:     log,
	}
}

// Register claims username for m. The existence check and the insert are
// one step under the write lock.
func (h *Hub) Register(username string, m Member) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, taken := h.members[username]; taken {
		return ErrUsernameTaken
	}
	h.members[username] = m
	return nil
}

// Unregister removes username only while it still belongs to m.
func (h *Hub) Unregister(username string, m Member) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.members[username]; !ok || cur != m {
		return false
	}
	delete(h.members, username)
	return true
}

func (h *Hub) Lookup(username string) (Member, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.members[username]
	return m, ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Usernames returns the sorted names, leaving out exclude.
func (h *Hub) Usernames(exclude string) []string {
	h.mu.RLock()
	names := make([]string, 0, len(h.members))
	for name := range h.members {
		if name != exclude {
			names = append(names, name)
		}
	}
	h.mu.RUnlock()

	slices.Sort(names)
	return names
}

// SendTo delivers to one user.
func (h *Hub) SendTo(username string, cmd types.Command, payload any) error {
	m, ok := h.Lookup(username)
	if !ok {
		return ErrNotFound
	}
	return m.Send(cmd, payload)
}

// Broadcast delivers to every member except the given one and reports how
// many writes succeeded. Writes happen outside the lock so one slow peer
// cannot stall logins.
func (h *Hub) Broadcast(except Member, cmd types.Command, payload any) int {
	h.mu.RLock()
	targets := make([]Member, 0, len(h.members))
	for _, m := range h.members {
		if m != except {
			targets = append(targets, m)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, m := range targets {
		if err := m.Send(cmd, payload); err != nil {
			h.log.Debug("broadcast write failed",
				zap.String("command", string(cmd)),
				zap.String("user", m.Username()),
				zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}
