// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package transport carries messages between Doorkeeper and the sensor over
// a topic-based publish/subscribe channel. Delivery is at-most-once and
// unordered across topics; messages carry no correlation metadata beyond
// their payload.
package transport // import "github.com/toeirei/doorkeeper/internal/transport"

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/toeirei/doorkeeper/internal/model"
)

// DefaultSubscriberBuffer is used when Subscribe is called with buffer <= 0.
const DefaultSubscriberBuffer = 32

// Message is a single payload received on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Transport is the publish/subscribe surface used by the correlator, the
// sweeper and the access recorder.
type Transport interface {
	// Publish sends payload on topic. Errors wrap model.ErrTransport.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe attaches a new subscriber to topic. Every live subscriber of
	// a topic receives every message delivered on it.
	Subscribe(ctx context.Context, topic string, buffer int) (*Subscription, error)
	Close() error
}

// Subscription is a live stream of messages for one topic. C is closed when
// the subscription or the transport is closed.
type Subscription struct {
	Topic string
	C     <-chan Message

	once    sync.Once
	closeFn func()
}

func newSubscription(topic string, ch <-chan Message, closeFn func()) *Subscription {
	return &Subscription{Topic: topic, C: ch, closeFn: closeFn}
}

// Close detaches the subscriber. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
	return nil
}

// Config selects and parameterizes a backend.
type Config struct {
	Type           string        `mapstructure:"type" yaml:"type"`
	Broker         string        `mapstructure:"broker" yaml:"broker"`
	ClientID       string        `mapstructure:"client_id" yaml:"client_id"`
	Username       string        `mapstructure:"username" yaml:"username"`
	Password       string        `mapstructure:"password" yaml:"password"`
	QoS            byte          `mapstructure:"qos" yaml:"qos"`
	RedisAddr      string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword  string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db" yaml:"redis_db"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// Open dispatches on cfg.Type and returns a connected Transport.
func Open(ctx context.Context, cfg Config) (Transport, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "memory":
		return NewMemory(), nil
	case "mqtt":
		if cfg.ClientID == "" {
			cfg.ClientID = DefaultClientID()
		}
		return DialMQTT(ctx, cfg)
	case "redis":
		return DialRedis(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported transport type: '%s'", cfg.Type)
	}
}

// DefaultClientID returns a broker client id unique to this process.
func DefaultClientID() string {
	return "doorkeeper-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func transportErr(op, topic string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", model.ErrTransport, op, topic, err)
}

var errClosed = fmt.Errorf("transport closed")
