package agent

import (
	"sync"
)

// Canonical knowledge-bus topics (spec.md §4.13).
const (
	TopicParseComplete      = "parse:complete"
	TopicParseBatchComplete = "parse:batch:complete"
	TopicIndexComplete      = "index:complete"
	TopicSemanticNewEntity  = "semantic:new_entities"
	TopicQueryRequest       = "query:request"
	TopicQueryResponse      = "query:response"
)

// KnowledgeEntry is one message delivered over the bus.
type KnowledgeEntry struct {
	Topic     string
	Data      interface{}
	Source    string
	Timestamp int64
}

// EntryHandler receives delivered entries; a failing handler never blocks other
// subscribers (spec.md §4.13).
type EntryHandler func(entry KnowledgeEntry)

type subscription struct {
	id      int64
	handler EntryHandler
	inbox   chan KnowledgeEntry
	done    chan struct{}

	sendMu sync.Mutex
	closed bool
}

// send delivers entry unless this subscription has already been closed,
// serializing against close() so Publish can never send on a closed inbox.
func (s *subscription) send(entry KnowledgeEntry) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	s.inbox <- entry
}

// close shuts the inbox at most once, safe to call concurrently with send.
func (s *subscription) close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.inbox)
	}
}

// Bus is a topic-based, best-effort, in-process publish/subscribe channel.
// Delivery to a given subscriber is ordered per (topic, publisher): each
// subscription drains its own buffered inbox from a single goroutine, so a
// slow or failing handler stalls only that subscriber, never others.
type Bus struct {
	mu        sync.RWMutex
	nextID    int64
	subs      map[string][]*subscription
	inboxSize int
}

// NewBus constructs an empty knowledge bus. inboxSize bounds the per-
// subscriber buffer; publishes block once it fills, applying backpressure to
// the publisher rather than dropping messages.
func NewBus(inboxSize int) *Bus {
	if inboxSize <= 0 {
		inboxSize = 64
	}
	return &Bus{subs: make(map[string][]*subscription), inboxSize: inboxSize}
}

// Subscription is an opaque handle returned by Subscribe, used to Unsubscribe.
type Subscription struct {
	topic string
	id    int64
}

// Subscribe registers handler to receive every KnowledgeEntry published to
// topic, delivered in publish order on a dedicated goroutine.
func (b *Bus) Subscribe(topic string, handler EntryHandler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{
		id:      b.nextID,
		handler: handler,
		inbox:   make(chan KnowledgeEntry, b.inboxSize),
		done:    make(chan struct{}),
	}
	b.subs[topic] = append(b.subs[topic], sub)

	go func() {
		defer close(sub.done)
		for entry := range sub.inbox {
			deliverSafely(sub.handler, entry)
		}
	}()

	return Subscription{topic: topic, id: sub.id}
}

// deliverSafely runs handler, recovering a panic so one misbehaving
// subscriber cannot take down the bus or other subscribers.
func deliverSafely(handler EntryHandler, entry KnowledgeEntry) {
	defer func() {
		_ = recover()
	}()
	handler(entry)
}

// Unsubscribe removes a subscription and closes its inbox once any entry in
// flight has been delivered.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	subs := b.subs[sub.topic]
	var target *subscription
	kept := subs[:0]
	for _, s := range subs {
		if s.id == sub.id {
			target = s
			continue
		}
		kept = append(kept, s)
	}
	b.subs[sub.topic] = kept
	b.mu.Unlock()

	if target != nil {
		target.close()
	}
}

// Publish delivers entry to every current subscriber of topic. Publish
// returns once the entry has been enqueued on each subscriber's inbox; it
// does not wait for handlers to run.
func (b *Bus) Publish(entry KnowledgeEntry) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[entry.Topic]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.send(entry)
	}
}

// Close stops accepting further deliveries and waits for every subscriber's
// inbox to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	all := make([]*subscription, 0)
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	for _, s := range all {
		<-s.done
	}
}
