package runtime

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSessionsRoutesByChat(t *testing.T) {
	var created []int64
	sessions := NewSessions(func(chatID int64) (Handler, error) {
		created = append(created, chatID)
		return HandlerFunc(func(ctx context.Context, w ResponseWriter, msg *Message) error {
			return w.WriteMessage(ctx, fmt.Sprintf("chat %d: %s", chatID, msg.Text))
		}), nil
	})
	writer := &recordingWriter{}

	for _, msg := range []*Message{
		{ChatID: 1, Text: "a"},
		{ChatID: 2, Text: "b"},
		{ChatID: 1, Text: "c"},
	} {
		if err := sessions.HandleMessage(context.Background(), writer, msg); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	if diff := cmp.Diff([]int64{1, 2}, created); diff != "" {
		t.Fatalf("created sessions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"chat 1: a", "chat 2: b", "chat 1: c"}, writer.snapshot()); diff != "" {
		t.Fatalf("responses mismatch (-want +got):\n%s", diff)
	}
	if sessions.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", sessions.Len())
	}
}

func TestSessionsFactoryErrorIsRetried(t *testing.T) {
	calls := 0
	sessions := NewSessions(func(int64) (Handler, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("disk full")
		}
		return HandlerFunc(func(context.Context, ResponseWriter, *Message) error { return nil }), nil
	})

	if err := sessions.HandleMessage(context.Background(), &recordingWriter{}, &Message{ChatID: 7}); err == nil {
		t.Fatal("expected factory error")
	}
	if sessions.Len() != 0 {
		t.Fatalf("failed session must not be kept")
	}
	if err := sessions.HandleMessage(context.Background(), &recordingWriter{}, &Message{ChatID: 7}); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected factory to be retried, got %d calls", calls)
	}
}

func TestSessionsRejectsNilMessage(t *testing.T) {
	sessions := NewSessions(nil)
	if err := sessions.HandleMessage(context.Background(), &recordingWriter{}, nil); err == nil {
		t.Fatal("expected nil message error")
	}
	if err := sessions.HandleMessage(context.Background(), &recordingWriter{}, &Message{}); err == nil {
		t.Fatal("expected missing factory error")
	}
}
