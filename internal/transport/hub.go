// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package transport

import (
	"sync"

	clog "github.com/charmbracelet/log"
)

// hub fans messages out to the local subscribers of each topic. Backends
// feed it from their broker subscription; the memory backend feeds it
// directly from Publish.
type hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Message]struct{}
	closed bool
	log    *clog.Logger
}

func newHub(log *clog.Logger) *hub {
	return &hub{subs: map[string]map[chan Message]struct{}{}, log: log}
}

// add registers a subscriber and reports whether it is the first for topic.
func (h *hub) add(topic string, buffer int) (chan Message, bool, error) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Message, buffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, false, errClosed
	}
	set, ok := h.subs[topic]
	if !ok {
		set = map[chan Message]struct{}{}
		h.subs[topic] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()
	return ch, !ok, nil
}

// remove detaches ch and reports whether topic has no subscribers left.
func (h *hub) remove(topic string, ch chan Message) bool {
	h.mu.Lock()
	set := h.subs[topic]
	_, exists := set[ch]
	if exists {
		delete(set, ch)
		close(ch)
	}
	empty := exists && len(set) == 0
	if empty {
		delete(h.subs, topic)
	}
	h.mu.Unlock()
	return empty
}

// deliver never blocks: a full subscriber buffer drops the message for that
// subscriber only.
func (h *hub) deliver(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[msg.Topic] {
		select {
		case ch <- msg:
		default:
			h.log.Warn("subscriber buffer full, dropping message", "topic", msg.Topic)
		}
	}
}

func (h *hub) topics() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.subs))
	for t := range h.subs {
		out = append(out, t)
	}
	return out
}

func (h *hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	for topic, set := range h.subs {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, topic)
	}
	h.mu.Unlock()
}
