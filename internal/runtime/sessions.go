package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// SessionFactory builds the handler that owns one chat.
type SessionFactory func(chatID int64) (Handler, error)

// Sessions routes each message to the handler of its chat, creating handlers
// on first use. Handlers are kept for the lifetime of Sessions.
type Sessions struct {
	factory SessionFactory

	mu       sync.Mutex
	handlers map[int64]Handler
}

// NewSessions creates a per-chat router over factory.
func NewSessions(factory SessionFactory) *Sessions {
	return &Sessions{factory: factory, handlers: make(map[int64]Handler)}
}

// HandleMessage forwards msg to the handler for msg.ChatID.
func (s *Sessions) HandleMessage(ctx context.Context, w ResponseWriter, msg *Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	h, err := s.handler(msg.ChatID)
	if err != nil {
		return err
	}
	return h.HandleMessage(ctx, w, msg)
}

// Len reports how many chats have a handler.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

func (s *Sessions) handler(chatID int64) (Handler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handlers[chatID]; ok {
		return h, nil
	}
	if s.factory == nil {
		return nil, errors.New("session factory is required")
	}
	h, err := s.factory(chatID)
	if err != nil {
		return nil, fmt.Errorf("create session for chat %d: %w", chatID, err)
	}
	if h == nil {
		return nil, fmt.Errorf("create session for chat %d: factory returned nil handler", chatID)
	}
	s.handlers[chatID] = h
	return h, nil
}
