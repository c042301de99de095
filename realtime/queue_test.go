package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeQueue struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (f *fakeQueue) EnqueueMessage(_ context.Context, content string, _ *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.msgs = append(f.msgs, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func TestQueueSinkExportsEnvelope(t *testing.T) {
	logger, _ := test.NewNullLogger()
	q := &fakeQueue{}
	sink := newQueueSink(q, logger)

	sink.Emit(UserRoom("u2"), UserRemovedFromProject, map[string]string{"projectId": "p1", "projectName": "Sprint"})
	sink.Flush()

	if len(q.msgs) != 1 {
		t.Fatalf("expected one exported message, got %d", len(q.msgs))
	}
	var env Envelope
	if err := sonic.UnmarshalString(q.msgs[0], &env); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if env.Room != "user:u2" || env.Event != UserRemovedFromProject {
		t.Fatalf("unexpected export %+v", env)
	}
}

func TestQueueSinkLogsFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := newQueueSink(&fakeQueue{err: errors.New("queue down")}, logger)

	sink.Emit(ProjectRoom("p1"), TaskCreated, nil)
	sink.Flush()

	entry := hook.LastEntry()
	if entry == nil || entry.Data["event"] != TaskCreated {
		t.Fatalf("expected export failure to be logged, got %+v", entry)
	}
}
