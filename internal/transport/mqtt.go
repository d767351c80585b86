// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	clog "github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/toeirei/doorkeeper/internal/logging"
)

// MQTT is a Transport backed by an MQTT broker. Each topic holds a single
// broker subscription shared by every local subscriber.
type MQTT struct {
	client mqtt.Client
	qos    byte
	hub    *hub
	log    *clog.Logger

	subMu  sync.Mutex
	closed atomic.Bool
}

var _ Transport = (*MQTT)(nil)

// DialMQTT connects to cfg.Broker and returns a ready transport. The client
// reconnects on its own and restores every live subscription on reconnect.
func DialMQTT(ctx context.Context, cfg Config) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, transportErr("connect", "", errors.New("mqtt broker address is required"))
	}
	if cfg.QoS > 1 {
		return nil, transportErr("connect", cfg.Broker, errors.New("qos must be 0 or 1"))
	}

	var t *MQTT
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOnConnectHandler(func(mqtt.Client) {
			if t != nil {
				t.resubscribe()
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logging.Warnf("mqtt connection to %s lost: %v", cfg.Broker, err)
		})
	if secureBroker(cfg.Broker) {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	t = newMQTT(mqtt.NewClient(opts), cfg.QoS)
	tok := t.client.Connect()
	if err := waitToken(ctx, tok); err != nil {
		return nil, transportErr("connect", cfg.Broker, err)
	}
	t.log.Info("connected to broker", "broker", cfg.Broker, "client_id", cfg.ClientID)
	return t, nil
}

func newMQTT(client mqtt.Client, qos byte) *MQTT {
	log := logging.With("component", "transport", "backend", "mqtt")
	return &MQTT{client: client, qos: qos, hub: newHub(log), log: log}
}

func secureBroker(broker string) bool {
	u, err := url.Parse(broker)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "mqtts", "ssl", "tls", "wss":
		return true
	}
	return false
}

// waitToken blocks until tok completes or ctx is done.
func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *MQTT) onMessage(_ mqtt.Client, m mqtt.Message) {
	t.hub.deliver(Message{Topic: m.Topic(), Payload: m.Payload()})
}

func (t *MQTT) resubscribe() {
	for _, topic := range t.hub.topics() {
		tok := t.client.Subscribe(topic, t.qos, t.onMessage)
		go func(topic string) {
			<-tok.Done()
			if err := tok.Error(); err != nil {
				t.log.Error("resubscribe failed", "topic", topic, "err", err)
				return
			}
			t.log.Debug("resubscribed", "topic", topic)
		}(topic)
	}
}

func (t *MQTT) Publish(ctx context.Context, topic string, payload []byte) error {
	if t.closed.Load() {
		return transportErr("publish", topic, errClosed)
	}
	if !t.client.IsConnectionOpen() {
		return transportErr("publish", topic, errors.New("not connected"))
	}
	if err := waitToken(ctx, t.client.Publish(topic, t.qos, false, payload)); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return transportErr("publish", topic, err)
	}
	return nil
}

func (t *MQTT) Subscribe(ctx context.Context, topic string, buffer int) (*Subscription, error) {
	if t.closed.Load() {
		return nil, transportErr("subscribe", topic, errClosed)
	}
	t.subMu.Lock()
	defer t.subMu.Unlock()
	ch, first, err := t.hub.add(topic, buffer)
	if err != nil {
		return nil, transportErr("subscribe", topic, err)
	}
	if first {
		if err := waitToken(ctx, t.client.Subscribe(topic, t.qos, t.onMessage)); err != nil {
			t.hub.remove(topic, ch)
			return nil, transportErr("subscribe", topic, err)
		}
	}
	return newSubscription(topic, ch, func() { t.unsubscribe(topic, ch) }), nil
}

func (t *MQTT) unsubscribe(topic string, ch chan Message) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	if t.hub.remove(topic, ch) && !t.closed.Load() {
		// Fire and forget: the local subscriber is already detached.
		t.client.Unsubscribe(topic)
	}
}

// Close disconnects from the broker and closes every live subscription.
func (t *MQTT) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.client.Disconnect(250)
	t.hub.closeAll()
	return nil
}
