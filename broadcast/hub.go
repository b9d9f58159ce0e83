// Package broadcast implements the progress broadcaster: a per-task
// publish/subscribe topic that fans ProgressEvents out to transport-layer
// streams. Each subscriber gets its own tunable channel so one slow
// subscriber cannot block the publisher or other subscribers; delivery is
// at-most-once, in publish order per subscriber, and a late subscriber
// receives the topic's current snapshot event immediately on Subscribe.
package broadcast

import (
	"context"
	"sync"

	"github.com/scribeflow/scribeflow/internal/channel"
	"github.com/scribeflow/scribeflow/pipeline"
)

// subscriberBufferConfig caps buffering per subscriber; progress events
// are small and infrequent relative to the tunable channel's defaults, so
// a smaller window is used.
func subscriberBufferConfig() channel.TunableConfig {
	cfg := channel.DefaultTunableConfig()
	cfg.InitialSize = 16
	cfg.MinSize = 4
	cfg.MaxSize = 256
	return cfg
}

type subscriber struct {
	id        int64
	ch        *channel.TunableChannel[pipeline.ProgressEvent]
	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(s.ch.Close)
}

type topic struct {
	mu       sync.Mutex
	subs     map[int64]*subscriber
	nextID   int64
	snapshot pipeline.ProgressEvent
	hasSnap  bool
	closed   bool
}

// Hub is the process-wide Progress Broadcaster. It implements
// pipeline.ProgressPublisher.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*topic
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]*topic)}
}

func (h *Hub) topicFor(taskID string, create bool) *topic {
	h.mu.RLock()
	t, ok := h.topics[taskID]
	h.mu.RUnlock()
	if ok || !create {
		return t
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok = h.topics[taskID]; ok {
		return t
	}
	t = &topic{subs: make(map[int64]*subscriber)}
	h.topics[taskID] = t
	return t
}

// Publish delivers event to every current subscriber of taskID and updates
// the topic's snapshot for future (late) subscribers. Delivery is
// at-most-once: a subscriber whose buffer is full drops the event rather
// than blocking the publisher.
func (h *Hub) Publish(ctx context.Context, taskID string, event pipeline.ProgressEvent) {
	t := h.topicFor(taskID, true)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.snapshot = event
	t.hasSnap = true
	subs := make([]*subscriber, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		s.ch.TrySend(event)
	}

	if event.Type == pipeline.EventCompleted || event.Type == pipeline.EventError {
		h.closeTopic(taskID)
	}
}

// Subscription is a live handle returned by Subscribe.
type Subscription struct {
	Events <-chan pipeline.ProgressEvent
	cancel func()
}

// Close unsubscribes and releases the subscriber's buffer.
func (s *Subscription) Close() { s.cancel() }

// Subscribe registers a new subscriber for taskID. If the topic already has
// a snapshot event (a prior Publish happened before this call), it is
// delivered first so a late subscriber is never left without state.
func (h *Hub) Subscribe(ctx context.Context, taskID string) *Subscription {
	t := h.topicFor(taskID, true)

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	sub := &subscriber{id: id, ch: channel.NewTunableChannel[pipeline.ProgressEvent](subscriberBufferConfig())}
	snap, hasSnap := t.snapshot, t.hasSnap
	if !t.closed {
		t.subs[id] = sub
	}
	t.mu.Unlock()

	if hasSnap {
		sub.ch.TrySend(snap)
	}

	cancel := func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
		sub.close()
	}

	return &Subscription{Events: sub.ch.Chan(), cancel: cancel}
}

func (h *Hub) closeTopic(taskID string) {
	h.mu.Lock()
	t, ok := h.topics[taskID]
	if ok {
		delete(h.topics, taskID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	t.closed = true
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

// SubscriberCount reports the number of live subscribers for taskID, used by
// tests and the progress handler's diagnostics.
func (h *Hub) SubscriberCount(taskID string) int {
	t := h.topicFor(taskID, false)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

var _ pipeline.ProgressPublisher = (*Hub)(nil)
