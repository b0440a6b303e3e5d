package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/neoclaw-ai/promptsmith/internal/logging"
	"github.com/neoclaw-ai/promptsmith/internal/provider"
	"github.com/neoclaw-ai/promptsmith/internal/runtime"
	"github.com/neoclaw-ai/promptsmith/internal/session"
)

var _ runtime.Handler = (*Conversation)(nil)

// Conversation is one chat with the engine. It keeps the history between
// turns and remembers the last turn id so feedback can refer to it. Turns of
// one conversation run one at a time.
type Conversation struct {
	engine     *Engine
	transcript *session.Transcript
	sessionID  string

	mu      sync.Mutex
	history []provider.ChatMessage
	loaded  bool

	lastTurnID atomic.Int64
}

// NewConversation returns a conversation. A nil transcript keeps history in
// memory only.
func NewConversation(engine *Engine, transcript *session.Transcript, sessionID string) (*Conversation, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	return &Conversation{engine: engine, transcript: transcript, sessionID: sessionID}, nil
}

// SessionID returns the id attached to this conversation's turn records.
func (c *Conversation) SessionID() string {
	return c.sessionID
}

// LastTurnID returns the id of the most recent recorded turn, or zero.
func (c *Conversation) LastTurnID() int64 {
	return c.lastTurnID.Load()
}

// HandleMessage runs one turn and writes its answer.
func (c *Conversation) HandleMessage(ctx context.Context, w runtime.ResponseWriter, msg *runtime.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	result, err := c.Ask(ctx, msg.Text)
	if err != nil {
		return err
	}
	// Cancelled turns still answer; the transport may outlive ctx.
	return runtime.WriteAnswer(context.WithoutCancel(ctx), w, result.Answer, result.Turn.ID)
}

// Ask runs one turn against the conversation history.
func (c *Conversation) Ask(ctx context.Context, text string) (TurnResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadLocked(ctx)
	prev := len(c.history)
	result, err := c.engine.HandleTurn(ctx, text, c.history, WithSessionID(c.sessionID))
	if result.Turn.ID > 0 {
		c.lastTurnID.Store(result.Turn.ID)
	}
	if err != nil {
		return result, err
	}

	c.history = result.History
	if added := c.history[prev:]; len(added) > 0 && c.transcript != nil {
		if err := c.transcript.Append(context.WithoutCancel(ctx), added); err != nil {
			logging.Logger().Warn("failed to persist transcript", "session_id", c.sessionID, "err", err)
		}
	}
	return result, nil
}

// Reset clears the history and its transcript.
func (c *Conversation) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = nil
	c.loaded = true
	c.lastTurnID.Store(0)
	if c.transcript == nil {
		return nil
	}
	return c.transcript.Reset(ctx)
}

// History returns a copy of the current history.
func (c *Conversation) History(ctx context.Context) []provider.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked(ctx)
	return append([]provider.ChatMessage(nil), c.history...)
}

func (c *Conversation) loadLocked(ctx context.Context) {
	if c.loaded {
		return
	}
	c.loaded = true
	if c.transcript == nil {
		return
	}
	history, err := c.transcript.Load(ctx)
	if err != nil {
		logging.Logger().Warn("failed to load transcript; starting empty", "session_id", c.sessionID, "err", err)
		return
	}
	c.history = history
}
