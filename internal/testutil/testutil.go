// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil provides test doubles for the sensor side of the device
// protocol.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/toeirei/doorkeeper/internal/model"
	"github.com/toeirei/doorkeeper/internal/transport"
)

// Responder decides how the fake sensor answers a command. Returning false
// leaves the command unanswered.
type Responder func(kind model.CommandKind, id int, payload []byte) (model.DeviceReply, bool)

// AlwaysSucceed acknowledges every command with its echoed id.
func AlwaysSucceed() Responder {
	return func(_ model.CommandKind, id int, _ []byte) (model.DeviceReply, bool) {
		return model.DeviceReply{Status: model.ReplyStatusSuccess, ID: id}, true
	}
}

// AlwaysFail rejects every command with msg.
func AlwaysFail(msg string) Responder {
	return func(_ model.CommandKind, id int, _ []byte) (model.DeviceReply, bool) {
		return model.DeviceReply{Status: model.ReplyStatusFailure, ID: id, Message: msg}, true
	}
}

// Silent never answers.
func Silent() Responder {
	return func(model.CommandKind, int, []byte) (model.DeviceReply, bool) {
		return model.DeviceReply{}, false
	}
}

// FakeDevice listens on the command topics of a transport and answers on the
// reply topics the way the sensor firmware does.
type FakeDevice struct {
	tr transport.Transport

	mu       sync.Mutex
	respond  Responder
	received map[string][][]byte

	subs []*transport.Subscription
	wg   sync.WaitGroup
}

// StartFakeDevice subscribes to every command topic on tr.
func StartFakeDevice(ctx context.Context, tr transport.Transport, respond Responder) (*FakeDevice, error) {
	d := &FakeDevice{tr: tr, respond: respond, received: map[string][][]byte{}}
	topics := []string{model.TopicCreate, model.TopicDelete, model.TopicUnlock, model.TopicCancel, model.TopicExpired}
	for _, topic := range topics {
		sub, err := tr.Subscribe(ctx, topic, 64)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.subs = append(d.subs, sub)
		d.wg.Add(1)
		go d.loop(sub)
	}
	return d, nil
}

func (d *FakeDevice) loop(sub *transport.Subscription) {
	defer d.wg.Done()
	for msg := range sub.C {
		d.mu.Lock()
		d.received[msg.Topic] = append(d.received[msg.Topic], msg.Payload)
		respond := d.respond
		d.mu.Unlock()

		var kind model.CommandKind
		switch msg.Topic {
		case model.TopicCreate:
			kind = model.CommandCreate
		case model.TopicDelete:
			kind = model.CommandDelete
		default:
			continue
		}
		var body struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal(msg.Payload, &body); err != nil || body.ID == 0 {
			// Scan requests carry no id and expect no reply.
			continue
		}
		if reply, ok := respond(kind, body.ID, msg.Payload); ok {
			_ = d.Reply(context.Background(), kind, reply)
		}
	}
}

// SetResponder swaps the answering strategy.
func (d *FakeDevice) SetResponder(r Responder) {
	d.mu.Lock()
	d.respond = r
	d.mu.Unlock()
}

// Reply publishes reply on the reply topic for kind, as a late or duplicate
// answer would arrive.
func (d *FakeDevice) Reply(ctx context.Context, kind model.CommandKind, reply model.DeviceReply) error {
	b, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return d.tr.Publish(ctx, model.ReplyTopic(kind), b)
}

// Received returns a copy of the payloads seen on topic.
func (d *FakeDevice) Received(topic string) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.received[topic]))
	copy(out, d.received[topic])
	return out
}

// Close detaches the device from the transport.
func (d *FakeDevice) Close() {
	for _, sub := range d.subs {
		_ = sub.Close()
	}
	d.wg.Wait()
}

// FlakyTransport wraps a Transport and fails Publish while an error is set.
type FlakyTransport struct {
	transport.Transport

	mu  sync.Mutex
	err error
}

// NewFlakyTransport wraps tr.
func NewFlakyTransport(tr transport.Transport) *FlakyTransport {
	return &FlakyTransport{Transport: tr}
}

// FailPublish makes every Publish return err until it is reset with nil.
func (f *FlakyTransport) FailPublish(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *FlakyTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: publish %s: %v", model.ErrTransport, topic, err)
	}
	return f.Transport.Publish(ctx, topic, payload)
}
