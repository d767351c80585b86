// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/toeirei/doorkeeper/internal/logging"
	"github.com/toeirei/doorkeeper/internal/model"
	"github.com/toeirei/doorkeeper/internal/transport"
)

const accessWriteTimeout = 5 * time.Second

// AccessRecorder persists the scan results the sensor reports on the
// access topic.
type AccessRecorder struct {
	store AccessStore
	sub   Subscriber
	now   func() time.Time
	log   *clog.Logger

	mu           sync.Mutex
	subscription *transport.Subscription
	done         chan struct{}
}

// NewAccessRecorder returns a stopped recorder.
func NewAccessRecorder(store AccessStore, sub Subscriber) *AccessRecorder {
	return &AccessRecorder{store: store, sub: sub, now: time.Now, log: logging.With("component", "access")}
}

// Start subscribes to the access topic and records events until Stop.
func (a *AccessRecorder) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.subscription != nil {
		return errors.New("access recorder already started")
	}
	s, err := a.sub.Subscribe(ctx, model.TopicAccessEvent, 128)
	if err != nil {
		return err
	}
	a.subscription = s
	a.done = make(chan struct{})
	go a.loop(ctx, s, a.done)
	return nil
}

func (a *AccessRecorder) loop(ctx context.Context, s *transport.Subscription, done chan struct{}) {
	defer close(done)
	for msg := range s.C {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), accessWriteTimeout)
		if _, err := a.Handle(wctx, msg.Payload); err != nil {
			a.log.Warn("access event not recorded", "err", err)
		}
		cancel()
	}
}

// Stop detaches from the transport and waits for the loop to drain.
func (a *AccessRecorder) Stop() {
	a.mu.Lock()
	s, done := a.subscription, a.done
	a.subscription, a.done = nil, nil
	a.mu.Unlock()
	if s == nil {
		return
	}
	_ = s.Close()
	<-done
}

// Handle decodes one access event and stores it with the owner resolved
// from the credential. Unknown credentials are stored without an owner.
func (a *AccessRecorder) Handle(ctx context.Context, payload []byte) (model.AccessLogEntry, error) {
	var ev model.AccessEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return model.AccessLogEntry{}, model.Validationf("malformed access event: %v", err)
	}
	if ev.FingerID <= 0 {
		return model.AccessLogEntry{}, model.Validationf("access event without fingerId")
	}
	entry := model.AccessLogEntry{
		FingerprintID: ev.FingerID,
		AccessResult:  ev.AccessResult,
		EventType:     ev.EventType,
		AccessTime:    a.now(),
	}
	c, err := a.store.Get(ctx, ev.FingerID)
	switch {
	case err == nil:
		entry.UserID = c.OwnerID
	case errors.Is(err, model.ErrNotFound):
	default:
		return model.AccessLogEntry{}, fmt.Errorf("resolve owner of %d: %w", ev.FingerID, err)
	}
	id, err := a.store.RecordAccess(ctx, entry)
	if err != nil {
		return model.AccessLogEntry{}, fmt.Errorf("record access for %d: %w", ev.FingerID, err)
	}
	entry.ID = id
	a.log.Debug("access recorded", "finger", ev.FingerID, "result", ev.AccessResult, "event", ev.EventType)
	return entry, nil
}
