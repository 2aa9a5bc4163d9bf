package agent

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	var mu sync.Mutex
	var received []string
	wg := sync.WaitGroup{}
	wg.Add(2)

	bus.Subscribe(TopicIndexComplete, func(entry KnowledgeEntry) {
		mu.Lock()
		received = append(received, "a:"+entry.Topic)
		mu.Unlock()
		wg.Done()
	})
	bus.Subscribe(TopicIndexComplete, func(entry KnowledgeEntry) {
		mu.Lock()
		received = append(received, "b:"+entry.Topic)
		mu.Unlock()
		wg.Done()
	})

	bus.Publish(KnowledgeEntry{Topic: TopicIndexComplete, Source: "indexer"})

	waitOrTimeout(t, &wg, time.Second)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, received, 2)
}

func TestBusPreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	var mu sync.Mutex
	var order []int
	wg := sync.WaitGroup{}
	wg.Add(5)

	bus.Subscribe(TopicParseComplete, func(entry KnowledgeEntry) {
		mu.Lock()
		order = append(order, entry.Data.(int))
		mu.Unlock()
		wg.Done()
	})

	for i := 0; i < 5; i++ {
		bus.Publish(KnowledgeEntry{Topic: TopicParseComplete, Data: i})
	}

	waitOrTimeout(t, &wg, time.Second)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestBusFailingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	wg := sync.WaitGroup{}
	wg.Add(1)

	bus.Subscribe(TopicQueryRequest, func(entry KnowledgeEntry) {
		panic("boom")
	})
	bus.Subscribe(TopicQueryRequest, func(entry KnowledgeEntry) {
		wg.Done()
	})

	bus.Publish(KnowledgeEntry{Topic: TopicQueryRequest})
	waitOrTimeout(t, &wg, time.Second)
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	sub := bus.Subscribe(TopicSemanticNewEntity, func(entry KnowledgeEntry) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(KnowledgeEntry{Topic: TopicSemanticNewEntity})
	time.Sleep(50 * time.Millisecond)
	bus.Unsubscribe(sub)
	bus.Publish(KnowledgeEntry{Topic: TopicSemanticNewEntity})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		require.Fail(t, "timed out waiting for delivery")
	}
}
