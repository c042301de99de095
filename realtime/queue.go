package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

type messageQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueueSink exports every emitted event to an Azure Storage queue for
// out-of-process consumers such as notification workers.
type QueueSink struct {
	queue   messageQueue
	logger  *log.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

// NewQueueSink connects to queueName using connStr.
func NewQueueSink(connStr, queueName string, logger *log.Logger) (*QueueSink, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    30 * time.Second,
				RetryDelay:    time.Second,
				MaxRetryDelay: 10 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return newQueueSink(q, logger), nil
}

func newQueueSink(q messageQueue, logger *log.Logger) *QueueSink {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &QueueSink{queue: q, logger: logger, timeout: time.Minute}
}

func (s *QueueSink) Emit(room Room, event string, payload any) {
	env, err := NewEnvelope(room, event, payload)
	if err != nil {
		s.logger.WithFields(log.Fields{"room": room, "event": event}).Errorf("encode event: %v", err)
		return
	}
	data, err := sonic.MarshalString(env)
	if err != nil {
		s.logger.WithFields(log.Fields{"room": room, "event": event}).Errorf("encode envelope: %v", err)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.queue.EnqueueMessage(ctx, data, nil); err != nil {
			s.logger.WithFields(log.Fields{"room": room, "event": event}).Errorf("export event: %v", err)
		}
	}()
}

// Flush waits for in-flight exports.
func (s *QueueSink) Flush() { s.wg.Wait() }
