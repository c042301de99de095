package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestParseRedisOptions(t *testing.T) {
	opts := ParseRedisOptions("redis://:secret@localhost:6380/2")
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected url options %+v", opts)
	}

	opts = ParseRedisOptions("cache.example.net:6380,password=pw,ssl=True,abortConnect=False")
	if opts.Addr != "cache.example.net:6380" {
		t.Fatalf("unexpected addr %q", opts.Addr)
	}
	if opts.Password != "pw" {
		t.Fatalf("unexpected password %q", opts.Password)
	}
	if opts.TLSConfig == nil {
		t.Fatal("expected tls to be enabled")
	}
}

func TestPublisherAndSubscriberRoundTrip(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()
	logger, _ := test.NewNullLogger()

	var mu sync.Mutex
	var got []Envelope
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Subscribe(ctx, logger, rc, "board-events", func(env Envelope) {
			mu.Lock()
			got = append(got, env)
			mu.Unlock()
		})
		close(done)
	}()
	// wait for subscription to start
	time.Sleep(50 * time.Millisecond)

	pub := NewRedisPublisher(rc, "board-events", logger)
	pub.Emit(ProjectRoom("p1"), TaskMoved, map[string]any{"task": map[string]string{"id": "t1"}})
	pub.Flush()
	if err := rc.Publish(context.Background(), "board-events", `not json`).Err(); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}
	if err := rc.Publish(context.Background(), "board-events", `{"event":"task:moved"}`).Err(); err != nil {
		t.Fatalf("publish roomless: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected exactly one valid envelope, got %d: %+v", len(got), got)
	}
	if got[0].Room != "p1" || got[0].Event != TaskMoved {
		t.Fatalf("unexpected envelope %+v", got[0])
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Subscribe did not exit")
	}
}

func TestPublisherSwallowsRedisFailures(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1})
	defer rc.Close()
	m.Close()

	logger, hook := test.NewNullLogger()
	pub := NewRedisPublisher(rc, "board-events", logger)
	pub.timeout = 200 * time.Millisecond
	pub.Emit(ProjectRoom("p1"), TaskDeleted, map[string]string{"taskId": "t1"})
	pub.Flush()

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected publish failure to be logged")
	}
	if entry.Data["event"] != TaskDeleted {
		t.Fatalf("unexpected log fields %+v", entry.Data)
	}
}
