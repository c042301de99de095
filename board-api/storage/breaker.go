package storage

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/mongo"
)

// NewBreaker trips after failures consecutive store errors and probes again
// once timeout has passed. Cancelled requests and missing documents do not
// count as failures.
func NewBreaker(name string, failures uint32, timeout time.Duration, logger *log.Logger) *gobreaker.CircuitBreaker {
	if failures == 0 {
		failures = 5
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, mongo.ErrNoDocuments)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})
}

// execute runs fn through b. A nil breaker runs fn directly.
func execute[T any](b *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	if b == nil {
		return fn()
	}
	v, err := b.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
