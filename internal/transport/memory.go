// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package transport

import (
	"context"
	"sync/atomic"

	"github.com/toeirei/doorkeeper/internal/logging"
)

// Memory is an in-process Transport. Published messages are delivered
// synchronously to the current subscribers of the topic.
type Memory struct {
	hub    *hub
	closed atomic.Bool
}

var _ Transport = (*Memory)(nil)

// NewMemory returns an empty in-process hub.
func NewMemory() *Memory {
	return &Memory{hub: newHub(logging.With("component", "transport", "backend", "memory"))}
}

func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	if m.closed.Load() {
		return transportErr("publish", topic, errClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	m.hub.deliver(Message{Topic: topic, Payload: buf})
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string, buffer int) (*Subscription, error) {
	if m.closed.Load() {
		return nil, transportErr("subscribe", topic, errClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch, _, err := m.hub.add(topic, buffer)
	if err != nil {
		return nil, transportErr("subscribe", topic, err)
	}
	return newSubscription(topic, ch, func() { m.hub.remove(topic, ch) }), nil
}

// Close closes every live subscription; later calls fail with ErrTransport.
func (m *Memory) Close() error {
	if m.closed.CompareAndSwap(false, true) {
		m.hub.closeAll()
	}
	return nil
}
