package world

import (
	"errors"
	"sync"

	"github.com/dreamware/arena/internal/maps"
)

// ErrDisconnected is returned when an operation targets a client that has left.
var ErrDisconnected = errors.New("client disconnected")

// Client is a connected participant. Implementations must be safe for use from
// the control loop while other goroutines read their state.
type Client interface {
	ID() string
	Name() string
	Teleport(to maps.BoundSpawn) error
	SetMode(m Mode)
	Message(text string)
}

// Session is an in-process Client that records everything done to it.
// The control server creates one per connected client.
type Session struct {
	id       string
	name     string
	position maps.BoundSpawn
	mode     Mode
	messages []string
	closed   bool
	mu       sync.RWMutex
}

// NewSession creates a session. An empty name defaults to the id.
func NewSession(id, name string) *Session {
	if name == "" {
		name = id
	}
	return &Session{id: id, name: name}
}

func (s *Session) ID() string { return s.id }
func (s *Session) Name() string { return s.name }

// Teleport moves the session. It fails once the session is closed.
func (s *Session) Teleport(to maps.BoundSpawn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisconnected
	}
	s.position = to
	return nil
}

func (s *Session) SetMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

func (s *Session) Message(text string) {
	s.mu.Lock()
	s.messages = append(s.messages, text)
	s.mu.Unlock()
}

// Close marks the session as gone.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Position returns the last teleport target.
func (s *Session) Position() maps.BoundSpawn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

// Mode returns the current interaction mode.
func (s *Session) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Messages returns a copy of every message sent to the session.
func (s *Session) Messages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.messages...)
}

// LastMessage returns the most recent message, or "".
func (s *Session) LastMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return ""
	}
	return s.messages[len(s.messages)-1]
}
