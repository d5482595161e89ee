package ws

import (
	"sync"

	"github.com/google/uuid"
)

// Session tracks one dashboard connection's room membership. A session is in
// at most one room at a time: joining a new service leaves the old room
// first. Disconnect is terminal for the session.
type Session struct {
	id  string
	hub *Hub
	sub Subscriber

	mu     sync.Mutex
	room   string
	closed bool
}

// NewSession binds a subscriber to the hub without joining any room.
func NewSession(hub *Hub, sub Subscriber) *Session {
	return &Session{id: uuid.NewString(), hub: hub, sub: sub}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Room reports the service the session is currently subscribed to, or "".
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Join subscribes the session to a service room, leaving any previous room.
func (s *Session) Join(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || service == "" || service == s.room {
		return
	}
	if s.room != "" {
		s.hub.Leave(s.room, s.sub)
	}
	s.room = service
	s.hub.Join(service, s.sub)
}

// Leave unsubscribes the session from its current room, if any.
func (s *Session) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked()
}

// Close leaves the current room and closes the subscriber. The session cannot
// be reused afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.leaveLocked()
	s.closed = true
	s.sub.Close()
}

func (s *Session) leaveLocked() {
	if s.room != "" {
		s.hub.Leave(s.room, s.sub)
		s.room = ""
	}
}
