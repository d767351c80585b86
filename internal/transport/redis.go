// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/toeirei/doorkeeper/internal/logging"
)

// Redis is a Transport over Redis Pub/Sub channels, one channel per topic.
type Redis struct {
	client *redis.Client
	hub    *hub
	log    *clog.Logger

	subMu  sync.Mutex
	pubsub map[string]*redis.PubSub
	closed atomic.Bool
}

var _ Transport = (*Redis)(nil)

// DialRedis connects to cfg.RedisAddr and verifies the server with a PING.
func DialRedis(ctx context.Context, cfg Config) (*Redis, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctxPing, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		_ = client.Close()
		return nil, transportErr("connect", addr, err)
	}
	return NewRedis(client), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	log := logging.With("component", "transport", "backend", "redis")
	return &Redis{client: client, hub: newHub(log), log: log, pubsub: map[string]*redis.PubSub{}}
}

func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if r.closed.Load() {
		return transportErr("publish", topic, errClosed)
	}
	if err := r.client.Publish(ctx, topic, payload).Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return transportErr("publish", topic, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, topic string, buffer int) (*Subscription, error) {
	if r.closed.Load() {
		return nil, transportErr("subscribe", topic, errClosed)
	}
	r.subMu.Lock()
	defer r.subMu.Unlock()
	ch, first, err := r.hub.add(topic, buffer)
	if err != nil {
		return nil, transportErr("subscribe", topic, err)
	}
	if first {
		ps := r.client.Subscribe(ctx, topic)
		// Receive waits for the subscription confirmation so messages
		// published after Subscribe returns are not missed.
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			r.hub.remove(topic, ch)
			return nil, transportErr("subscribe", topic, err)
		}
		r.pubsub[topic] = ps
		go r.pump(ps)
	}
	return newSubscription(topic, ch, func() { r.unsubscribe(topic, ch) }), nil
}

func (r *Redis) pump(ps *redis.PubSub) {
	for m := range ps.Channel() {
		r.hub.deliver(Message{Topic: m.Channel, Payload: []byte(m.Payload)})
	}
}

func (r *Redis) unsubscribe(topic string, ch chan Message) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if !r.hub.remove(topic, ch) {
		return
	}
	if ps, ok := r.pubsub[topic]; ok {
		delete(r.pubsub, topic)
		if err := ps.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			r.log.Warn("closing pubsub failed", "topic", topic, "err", err)
		}
	}
}

// Close closes every Pub/Sub connection, every live subscription and the client.
func (r *Redis) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.subMu.Lock()
	for topic, ps := range r.pubsub {
		_ = ps.Close()
		delete(r.pubsub, topic)
	}
	r.subMu.Unlock()
	r.hub.closeAll()
	return r.client.Close()
}
