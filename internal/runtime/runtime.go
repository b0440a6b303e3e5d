// Package runtime connects channel transports (REPL, Telegram) to message
// handlers and serializes the work of one conversation.
package runtime

import "context"

// Message is an inbound message delivered by a channel transport.
type Message struct {
	Text string
	// ChatID identifies the conversation on transports that carry several.
	ChatID int64
	// Sender is a transport-specific user label used for logging.
	Sender string
}

// ResponseWriter sends handler responses back to the active channel transport.
type ResponseWriter interface {
	WriteMessage(ctx context.Context, text string) error
}

// AnswerWriter is implemented by writers that can attach turn-specific
// controls to an answer, such as rating buttons.
type AnswerWriter interface {
	ResponseWriter
	WriteAnswer(ctx context.Context, text string, turnID int64) error
}

// Handler processes inbound messages and writes responses.
type Handler interface {
	HandleMessage(ctx context.Context, w ResponseWriter, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, w ResponseWriter, msg *Message) error

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, w ResponseWriter, msg *Message) error {
	return f(ctx, w, msg)
}

// Listener receives channel input and dispatches it to a Handler.
type Listener interface {
	Listen(ctx context.Context, handler Handler) error
}

// WriteAnswer writes text through w, attaching turn controls when w supports them.
func WriteAnswer(ctx context.Context, w ResponseWriter, text string, turnID int64) error {
	if aw, ok := w.(AnswerWriter); ok && turnID > 0 {
		return aw.WriteAnswer(ctx, text, turnID)
	}
	return w.WriteMessage(ctx, text)
}
