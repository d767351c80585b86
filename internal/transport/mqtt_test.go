// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/toeirei/doorkeeper/internal/model"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	ch := make(chan struct{})
	close(ch)
	return &fakeToken{err: err, done: ch}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeBroker is an mqtt.Client that loops published messages back to its
// own subscriptions.
type fakeBroker struct {
	mu           sync.Mutex
	open         bool
	handlers     map[string]mqtt.MessageHandler
	subscribes   map[string]int
	unsubscribes []string
	subErr       error
	pubErr       error
	disconnected bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{open: true, handlers: map[string]mqtt.MessageHandler{}, subscribes: map[string]int{}}
}

func (f *fakeBroker) IsConnected() bool { return f.IsConnectionOpen() }
func (f *fakeBroker) IsConnectionOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}
func (f *fakeBroker) Connect() mqtt.Token { return doneToken(nil) }
func (f *fakeBroker) Disconnect(uint) {
	f.mu.Lock()
	f.open = false
	f.disconnected = true
	f.mu.Unlock()
}
func (f *fakeBroker) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	err := f.pubErr
	h := f.handlers[topic]
	f.mu.Unlock()
	if err != nil {
		return doneToken(err)
	}
	if h != nil {
		h(f, fakeMessage{topic: topic, payload: payload.([]byte)})
	}
	return doneToken(nil)
}
func (f *fakeBroker) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return doneToken(f.subErr)
	}
	f.handlers[topic] = cb
	f.subscribes[topic]++
	return doneToken(nil)
}
func (f *fakeBroker) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	for topic := range filters {
		f.Subscribe(topic, 0, cb)
	}
	return doneToken(nil)
}
func (f *fakeBroker) Unsubscribe(topics ...string) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		delete(f.handlers, topic)
		f.unsubscribes = append(f.unsubscribes, topic)
	}
	return doneToken(nil)
}
func (f *fakeBroker) AddRoute(string, mqtt.MessageHandler) {}
func (f *fakeBroker) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

func TestMQTTSharedBrokerSubscription(t *testing.T) {
	broker := newFakeBroker()
	tr := newMQTT(broker, 1)
	defer func() { _ = tr.Close() }()
	ctx := context.Background()

	a, err := tr.Subscribe(ctx, model.TopicCreateResponse, 2)
	if err != nil {
		t.Fatalf("Subscribe a: %v", err)
	}
	b, err := tr.Subscribe(ctx, model.TopicCreateResponse, 2)
	if err != nil {
		t.Fatalf("Subscribe b: %v", err)
	}
	if broker.subscribes[model.TopicCreateResponse] != 1 {
		t.Fatalf("expected one broker subscription, got %d", broker.subscribes[model.TopicCreateResponse])
	}

	if err := tr.Publish(ctx, model.TopicCreateResponse, []byte(`{"id":9}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	recv(t, a)
	recv(t, b)

	_ = a.Close()
	if len(broker.unsubscribes) != 0 {
		t.Fatalf("broker unsubscribe must wait for the last local subscriber")
	}
	_ = b.Close()
	if len(broker.unsubscribes) != 1 || broker.unsubscribes[0] != model.TopicCreateResponse {
		t.Fatalf("expected broker unsubscribe, got %v", broker.unsubscribes)
	}
}

func TestMQTTResubscribeOnReconnect(t *testing.T) {
	broker := newFakeBroker()
	tr := newMQTT(broker, 0)
	defer func() { _ = tr.Close() }()
	ctx := context.Background()

	if _, err := tr.Subscribe(ctx, "/a", 1); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := tr.Subscribe(ctx, "/b", 1); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	tr.resubscribe()

	broker.mu.Lock()
	defer broker.mu.Unlock()
	if broker.subscribes["/a"] != 2 || broker.subscribes["/b"] != 2 {
		t.Fatalf("expected every live topic to be resubscribed, got %v", broker.subscribes)
	}
}

func TestMQTTErrors(t *testing.T) {
	broker := newFakeBroker()
	tr := newMQTT(broker, 0)
	ctx := context.Background()

	broker.subErr = errors.New("not authorized")
	if _, err := tr.Subscribe(ctx, "/a", 1); !errors.Is(err, model.ErrTransport) {
		t.Fatalf("expected ErrTransport on subscribe failure, got %v", err)
	}
	if len(tr.hub.topics()) != 0 {
		t.Fatalf("failed subscription must not stay registered")
	}

	broker.pubErr = errors.New("broken pipe")
	if err := tr.Publish(ctx, "/a", nil); !errors.Is(err, model.ErrTransport) {
		t.Fatalf("expected ErrTransport on publish failure, got %v", err)
	}

	broker.pubErr = nil
	broker.mu.Lock()
	broker.open = false
	broker.mu.Unlock()
	if err := tr.Publish(ctx, "/a", nil); !errors.Is(err, model.ErrTransport) {
		t.Fatalf("expected ErrTransport while disconnected, got %v", err)
	}

	_ = tr.Close()
	if !broker.disconnected {
		t.Fatalf("Close should disconnect the client")
	}
	if err := tr.Publish(ctx, "/a", nil); !errors.Is(err, model.ErrTransport) {
		t.Fatalf("expected ErrTransport after Close, got %v", err)
	}
}

func TestDialMQTTValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := DialMQTT(ctx, Config{Broker: "tcp://localhost:1883", QoS: 2}); !errors.Is(err, model.ErrTransport) {
		t.Fatalf("expected qos 2 to be rejected, got %v", err)
	}
	if _, err := DialMQTT(ctx, Config{}); !errors.Is(err, model.ErrTransport) {
		t.Fatalf("expected missing broker to be rejected, got %v", err)
	}
}

func TestSecureBroker(t *testing.T) {
	cases := map[string]bool{
		"mqtts://broker:8883": true,
		"ssl://broker:8883":   true,
		"tcp://broker:1883":   false,
		"mqtt://broker:1883":  false,
	}
	for in, want := range cases {
		if got := secureBroker(in); got != want {
			t.Errorf("secureBroker(%q) = %v, want %v", in, got, want)
		}
	}
}
