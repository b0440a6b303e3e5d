package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/neoclaw-ai/promptsmith/internal/logging"
)

// HandlerErrorMessage is written back when a handler fails.
const HandlerErrorMessage = "Ocorreu um erro ao processar sua mensagem. Verifique os logs do servidor."

// ErrNotStarted is returned by Enqueue before Start.
var ErrNotStarted = errors.New("dispatcher is not started")

// Dispatcher runs queued messages one at a time against a Handler. Messages
// of one conversation are answered in the order they arrived.
type Dispatcher struct {
	handler Handler

	queue chan dispatchItem
	done  chan struct{}

	stateMu    sync.Mutex
	started    bool
	rootCtx    context.Context
	currentRun context.CancelFunc
	// pending counts queued and running messages.
	pending int
}

type dispatchItem struct {
	msg      *Message
	writer   ResponseWriter
	enqueued time.Time
}

// NewDispatcher creates a dispatcher with a fixed-size queue.
func NewDispatcher(handler Handler, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		handler: handler,
		queue:   make(chan dispatchItem, queueSize),
		done:    make(chan struct{}),
	}
}

// Start begins the dispatch loop. The loop exits when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d == nil {
		return errors.New("dispatcher is required")
	}
	if d.handler == nil {
		return errors.New("handler is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if d.started {
		return errors.New("dispatcher already started")
	}
	d.started = true
	d.rootCtx = ctx

	go d.run(ctx)
	return nil
}

// Enqueue submits one message. It blocks while the queue is full.
func (d *Dispatcher) Enqueue(ctx context.Context, msg *Message, writer ResponseWriter) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if writer == nil {
		return errors.New("response writer is required")
	}
	rootCtx, started := d.dispatchContext()
	if !started {
		return ErrNotStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.addPending(1)
	select {
	case <-rootCtx.Done():
		d.addPending(-1)
		return rootCtx.Err()
	case <-ctx.Done():
		d.addPending(-1)
		return ctx.Err()
	case d.queue <- dispatchItem{msg: msg, writer: writer, enqueued: time.Now()}:
		return nil
	}
}

// Stop cancels the in-flight message and discards queued ones. It reports
// whether a message was in flight.
func (d *Dispatcher) Stop() bool {
	cancelled := d.cancelCurrentRun()
	dropped := 0
	for {
		select {
		case <-d.queue:
			d.addPending(-1)
			dropped++
		default:
			if cancelled || dropped > 0 {
				logging.Logger().Info("dispatcher stopped", "cancelled_in_flight", cancelled, "dropped", dropped)
			}
			return cancelled
		}
	}
}

// WaitUntilIdle blocks until no message is running and the queue is empty.
func (d *Dispatcher) WaitUntilIdle(ctx context.Context) error {
	if d == nil {
		return errors.New("dispatcher is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if d.isIdle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wait blocks until the dispatch loop exits.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.stateMu.Lock()
	started := d.started
	d.stateMu.Unlock()
	if !started {
		return
	}
	<-d.done
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.cancelCurrentRun()
			return
		case item := <-d.queue:
			d.handle(ctx, item)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, item dispatchItem) {
	defer d.addPending(-1)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.setCurrentRun(cancel)
	started := time.Now()
	err := d.handler.HandleMessage(runCtx, item.writer, item.msg)
	d.clearCurrentRun()

	logging.Logger().Debug(
		"message handled",
		"chat_id", item.msg.ChatID,
		"queued_ms", started.Sub(item.enqueued).Milliseconds(),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	logging.Logger().Error("message handling failed", "chat_id", item.msg.ChatID, "err", err)
	if writeErr := item.writer.WriteMessage(ctx, HandlerErrorMessage); writeErr != nil {
		logging.Logger().Warn("failed to write handler error message", "err", writeErr)
	}
}

func (d *Dispatcher) dispatchContext() (context.Context, bool) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.rootCtx, d.started
}

func (d *Dispatcher) setCurrentRun(cancel context.CancelFunc) {
	d.stateMu.Lock()
	d.currentRun = cancel
	d.stateMu.Unlock()
}

func (d *Dispatcher) clearCurrentRun() {
	d.stateMu.Lock()
	d.currentRun = nil
	d.stateMu.Unlock()
}

func (d *Dispatcher) cancelCurrentRun() bool {
	d.stateMu.Lock()
	cancel := d.currentRun
	d.currentRun = nil
	d.stateMu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	return true
}

func (d *Dispatcher) addPending(n int) {
	d.stateMu.Lock()
	d.pending += n
	d.stateMu.Unlock()
}

func (d *Dispatcher) isIdle() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return !d.started || d.pending == 0
}
