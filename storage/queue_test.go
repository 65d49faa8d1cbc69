package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/aliftan/zero-kanban/domain"
)

type fakeQueue struct {
	messages []string
	err      error
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func TestEventQueuePublishStampsBoard(t *testing.T) {
	fq := &fakeQueue{}
	q := &EventQueue{queue: fq, boardID: "board-1"}
	ev := domain.Event{ID: "e1", EntityID: "t1", EntityType: "todo", Type: domain.TodoMoved, Data: json.RawMessage(`{"destIndex":2}`), Timestamp: 42}

	if err := q.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fq.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(fq.messages))
	}
	var got domain.Event
	if err := json.Unmarshal([]byte(fq.messages[0]), &got); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if got.BoardID != "board-1" || got.Type != domain.TodoMoved || string(got.Data) != `{"destIndex":2}` {
		t.Fatalf("unexpected event %#v", got)
	}
}

func TestEventQueuePublishPropagatesErrors(t *testing.T) {
	q := &EventQueue{queue: &fakeQueue{err: errors.New("enqueue failure")}, boardID: "b"}
	if err := q.Publish(context.Background(), domain.Event{Type: domain.TodoCreated}); err == nil {
		t.Fatal("expected error")
	}
}
