package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startDispatcher(t *testing.T, h Handler) (*Dispatcher, context.CancelFunc) {
	t.Helper()
	d := NewDispatcher(h, 20)
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("start dispatcher: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Wait()
	})
	return d, cancel
}

func TestDispatcherFIFO(t *testing.T) {
	handler := &recordingHandler{}
	writer := &recordingWriter{}
	d, _ := startDispatcher(t, handler)

	for _, text := range []string{"first", "second", "third"} {
		if err := d.Enqueue(context.Background(), &Message{Text: text}, writer); err != nil {
			t.Fatalf("enqueue %s: %v", text, err)
		}
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.WaitUntilIdle(waitCtx); err != nil {
		t.Fatalf("wait until idle: %v", err)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if diff := cmp.Diff([]string{"first", "second", "third"}, handler.messages); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcherQueuesBehindRunningMessage(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	secondStarted := make(chan struct{}, 1)
	handler := &queueingHandler{
		firstStarted:  firstStarted,
		releaseFirst:  releaseFirst,
		secondStarted: secondStarted,
	}
	writer := &recordingWriter{}
	d, _ := startDispatcher(t, handler)

	if err := d.Enqueue(context.Background(), &Message{Text: "first"}, writer); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	<-firstStarted
	if err := d.Enqueue(context.Background(), &Message{Text: "second"}, writer); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}

	select {
	case <-secondStarted:
		t.Fatalf("second message started before first completed")
	case <-time.After(50 * time.Millisecond):
	}

	close(releaseFirst)
	select {
	case <-secondStarted:
	case <-time.After(time.Second):
		t.Fatalf("second message did not start after first completed")
	}
}

func TestDispatcherStopCancelsInFlightAndDrainsQueue(t *testing.T) {
	firstCanceled := make(chan struct{}, 1)
	handler := &stopHandler{firstCanceled: firstCanceled}
	writer := &recordingWriter{}
	d, _ := startDispatcher(t, handler)

	if err := d.Enqueue(context.Background(), &Message{Text: "first"}, writer); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.startedFirst
	})
	for _, text := range []string{"second", "third"} {
		if err := d.Enqueue(context.Background(), &Message{Text: text}, writer); err != nil {
			t.Fatalf("enqueue %s: %v", text, err)
		}
	}

	if !d.Stop() {
		t.Fatalf("expected Stop to report an in-flight message")
	}

	select {
	case <-firstCanceled:
	case <-time.After(time.Second):
		t.Fatalf("expected in-flight first message to be canceled")
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.WaitUntilIdle(waitCtx); err != nil {
		t.Fatalf("wait until idle: %v", err)
	}
	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.otherCalls != 0 {
		t.Fatalf("expected queued messages to be drained, got %d extra calls", handler.otherCalls)
	}
}

func TestDispatcherStopWithoutInFlightIsNoop(t *testing.T) {
	d, _ := startDispatcher(t, &recordingHandler{})
	if d.Stop() {
		t.Fatalf("expected Stop to report nothing in flight")
	}
}

func TestDispatcherEnqueueBeforeStart(t *testing.T) {
	d := NewDispatcher(&recordingHandler{}, 1)
	err := d.Enqueue(context.Background(), &Message{Text: "x"}, &recordingWriter{})
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	d.Wait()
}

func TestDispatcherWritesHandlerErrors(t *testing.T) {
	writer := &recordingWriter{}
	d, _ := startDispatcher(t, &errorHandler{err: errors.New("boom")})
	if err := d.Enqueue(context.Background(), &Message{Text: "x"}, writer); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.WaitUntilIdle(waitCtx); err != nil {
		t.Fatalf("wait until idle: %v", err)
	}

	if diff := cmp.Diff([]string{HandlerErrorMessage}, writer.snapshot()); diff != "" {
		t.Fatalf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcherWaitUntilIdleDeadline(t *testing.T) {
	handler := &stopHandler{firstCanceled: make(chan struct{}, 1)}
	d, _ := startDispatcher(t, handler)
	if err := d.Enqueue(context.Background(), &Message{Text: "first"}, &recordingWriter{}); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.startedFirst
	})

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.WaitUntilIdle(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	d.Stop()
}

func TestDispatcherSuppressesContextCanceledError(t *testing.T) {
	writer := &recordingWriter{}
	d, _ := startDispatcher(t, &errorHandler{err: context.Canceled})
	if err := d.Enqueue(context.Background(), &Message{Text: "x"}, writer); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.WaitUntilIdle(waitCtx); err != nil {
		t.Fatalf("wait until idle: %v", err)
	}
	if got := writer.snapshot(); len(got) != 0 {
		t.Fatalf("expected no error write for context canceled, got %#v", got)
	}
}

func TestWriteAnswerPrefersAnswerWriter(t *testing.T) {
	aw := &answerWriter{}
	if err := WriteAnswer(context.Background(), aw, "olá", 7); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	if aw.turnID != 7 || aw.text != "olá" {
		t.Fatalf("expected answer with turn 7, got %+v", aw)
	}

	// Turn id zero means there is nothing to rate.
	if err := WriteAnswer(context.Background(), aw, "sem turno", 0); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	if diff := cmp.Diff([]string{"sem turno"}, aw.snapshot()); diff != "" {
		t.Fatalf("plain writes mismatch (-want +got):\n%s", diff)
	}

	plain := &recordingWriter{}
	if err := WriteAnswer(context.Background(), plain, "oi", 3); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	if diff := cmp.Diff([]string{"oi"}, plain.snapshot()); diff != "" {
		t.Fatalf("plain writes mismatch (-want +got):\n%s", diff)
	}
}

type recordingHandler struct {
	mu       sync.Mutex
	messages []string
}

func (h *recordingHandler) HandleMessage(_ context.Context, _ ResponseWriter, msg *Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg.Text)
	return nil
}

type queueingHandler struct {
	firstStarted  chan struct{}
	releaseFirst  chan struct{}
	secondStarted chan struct{}
}

func (h *queueingHandler) HandleMessage(_ context.Context, _ ResponseWriter, msg *Message) error {
	switch msg.Text {
	case "first":
		close(h.firstStarted)
		<-h.releaseFirst
	case "second":
		h.secondStarted <- struct{}{}
	}
	return nil
}

type stopHandler struct {
	mu           sync.Mutex
	startedFirst bool
	otherCalls   int

	firstCanceled chan struct{}
}

func (h *stopHandler) HandleMessage(ctx context.Context, _ ResponseWriter, msg *Message) error {
	if msg.Text == "first" {
		h.mu.Lock()
		h.startedFirst = true
		h.mu.Unlock()
		<-ctx.Done()
		h.firstCanceled <- struct{}{}
		return ctx.Err()
	}
	h.mu.Lock()
	h.otherCalls++
	h.mu.Unlock()
	return nil
}

type errorHandler struct {
	err error
}

func (h *errorHandler) HandleMessage(_ context.Context, _ ResponseWriter, _ *Message) error {
	return h.err
}

type recordingWriter struct {
	mu       sync.Mutex
	messages []string
}

func (w *recordingWriter) WriteMessage(_ context.Context, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, text)
	return nil
}

func (w *recordingWriter) snapshot() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.messages...)
}

type answerWriter struct {
	recordingWriter
	text   string
	turnID int64
}

func (w *answerWriter) WriteAnswer(_ context.Context, text string, turnID int64) error {
	w.text = text
	w.turnID = turnID
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
