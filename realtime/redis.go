package realtime

import (
	"context"
	"crypto/tls"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	defaultPublishTimeout = 2 * time.Second
	resubscribeDelay      = time.Second
)

// ParseRedisOptions accepts either a redis:// URL or the comma separated
// "host:port,password=...,ssl=true" form used by Azure Cache for Redis.
func ParseRedisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}

// RedisPublisher forwards events to a Redis channel so every stream-service
// instance can deliver them to its own connections.
type RedisPublisher struct {
	rc      *redis.Client
	channel string
	logger  *log.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

func NewRedisPublisher(rc *redis.Client, channel string, logger *log.Logger) *RedisPublisher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisPublisher{rc: rc, channel: channel, logger: logger, timeout: defaultPublishTimeout}
}

// Emit publishes in the background; failures are logged and dropped.
func (p *RedisPublisher) Emit(room Room, event string, payload any) {
	env, err := NewEnvelope(room, event, payload)
	if err != nil {
		p.logger.WithFields(log.Fields{"room": room, "event": event}).Errorf("encode event: %v", err)
		return
	}
	data, err := sonic.Marshal(env)
	if err != nil {
		p.logger.WithFields(log.Fields{"room": room, "event": event}).Errorf("encode envelope: %v", err)
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.rc.Publish(ctx, p.channel, data).Err(); err != nil {
			p.logger.WithFields(log.Fields{"room": room, "event": event, "channel": p.channel}).Errorf("publish event: %v", err)
		}
	}()
}

// Flush waits for in-flight publishes.
func (p *RedisPublisher) Flush() { p.wg.Wait() }

// Subscribe listens on channel and hands every decoded envelope to deliver
// until ctx is cancelled. A closed subscription is re-established.
func Subscribe(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, deliver func(Envelope)) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				var env Envelope
				if err := sonic.UnmarshalString(msg.Payload, &env); err != nil {
					logger.Errorf("unable to parse event: %v", err)
					continue
				}
				if env.Room == "" || env.Event == "" {
					logger.Warnf("event without room or name on %s - ignoring it", channel)
					continue
				}
				deliver(env)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}
