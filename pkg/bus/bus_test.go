package bus_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/empathyfine/pkg/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s *bus.Subscription[int]) []int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return slices.Collect(s.All(ctx))
}

func TestTopic_FanOutPreservesOrder(t *testing.T) {
	topic := bus.New[int](16)
	a := topic.Subscribe()
	b := topic.Subscribe()
	assert.Equal(t, 2, topic.Subscribers())

	for i := 1; i <= 10; i++ {
		assert.Zero(t, topic.Publish(i))
	}
	topic.Close()

	want := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, want, drain(t, a))
	assert.Equal(t, want, drain(t, b))
}

func TestTopic_SlowSubscriberDropsOldest(t *testing.T) {
	topic := bus.New[int](3)
	slow := topic.Subscribe()

	dropped := 0
	for i := 1; i <= 5; i++ {
		dropped += topic.Publish(i)
	}
	topic.Close()

	assert.Equal(t, 2, dropped)
	assert.Equal(t, uint64(2), slow.Dropped())
	assert.Equal(t, []int{3, 4, 5}, drain(t, slow), "remaining items keep their order")
}

func TestTopic_PublishNeverBlocksOnIdleSubscriber(t *testing.T) {
	topic := bus.New[int](1)
	_ = topic.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			topic.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a subscriber that never reads")
	}
}

func TestTopic_CloseEndsBlockedReader(t *testing.T) {
	topic := bus.New[int](4)
	sub := topic.Subscribe()

	result := make(chan bool, 1)
	go func() {
		_, ok, err := sub.Next(context.Background())
		assert.NoError(t, err)
		result <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	topic.Close()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestTopic_SubscribeAfterCloseIsClosed(t *testing.T) {
	topic := bus.New[int](4)
	topic.Publish(1)
	topic.Close()
	assert.True(t, topic.Closed())

	late := topic.Subscribe()
	_, ok, err := late.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, topic.Publish(2))
}

func TestSubscription_CloseDetaches(t *testing.T) {
	topic := bus.New[int](4)
	sub := topic.Subscribe()
	sub.Close()
	assert.Zero(t, topic.Subscribers())

	topic.Publish(1)
	_, ok, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscription_NextHonoursContext(t *testing.T) {
	topic := bus.New[int](4)
	sub := topic.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok, err := sub.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTopic_ConcurrentSubscribersSeeSameSequence(t *testing.T) {
	topic := bus.New[int](1000)
	const readers = 8
	subs := make([]*bus.Subscription[int], readers)
	for i := range subs {
		subs[i] = topic.Subscribe()
	}

	results := make([][]int, readers)
	var wg sync.WaitGroup
	for i, s := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = drain(t, s)
		}()
	}
	for i := 0; i < 500; i++ {
		topic.Publish(i)
	}
	topic.Close()
	wg.Wait()

	for i := 1; i < readers; i++ {
		assert.Equal(t, results[0], results[i])
	}
	assert.Len(t, results[0], 500)
}
