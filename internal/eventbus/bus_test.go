// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(ServiceTopic("cell-1"), 4)
	defer sub.Close()

	bus.Publish(ServiceTopic("cell-1"), "hello")

	select {
	case ev := <-sub.Events:
		require.Equal(t, "hello", ev)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishIsPerTopic(t *testing.T) {
	bus := New()
	subA := bus.Subscribe(ServiceTopic("cell-a"), 4)
	subB := bus.Subscribe(ServiceTopic("cell-b"), 4)
	defer subA.Close()
	defer subB.Close()

	bus.Publish(ServiceTopic("cell-a"), "for-a")

	select {
	case ev := <-subA.Events:
		require.Equal(t, "for-a", ev)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case <-subB.Events:
		t.Fatal("subscriber on a different topic should not receive the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDropsOldestOnFullBuffer(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(TimingTopic("cell-1"), 2)
	defer sub.Close()

	bus.Publish(TimingTopic("cell-1"), 1)
	bus.Publish(TimingTopic("cell-1"), 2)
	bus.Publish(TimingTopic("cell-1"), 3)

	require.Equal(t, 1, sub.Dropped())

	first := <-sub.Events
	second := <-sub.Events
	require.Equal(t, 2, first)
	require.Equal(t, 3, second)
}

func TestCloseSubscriptionClosesEventsChannel(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(CellStatusTopic("ws-1"), 4)
	sub.Close()

	_, ok := <-sub.Events
	require.False(t, ok)
}

func TestShutdownClosesAllSubscriptions(t *testing.T) {
	bus := New()
	sub1 := bus.Subscribe(ServiceTopic("cell-1"), 4)
	sub2 := bus.Subscribe(TerminalTopic("sess-1"), 4)

	bus.Shutdown()

	_, ok1 := <-sub1.Events
	_, ok2 := <-sub2.Events
	require.False(t, ok1)
	require.False(t, ok2)

	// Subscribing after shutdown yields an already-closed subscription.
	sub3 := bus.Subscribe(ServiceTopic("cell-1"), 4)
	_, ok3 := <-sub3.Events
	require.False(t, ok3)
}

func TestTopicHelpersFormatConsistently(t *testing.T) {
	require.Equal(t, "cell-status:ws-1", CellStatusTopic("ws-1"))
	require.Equal(t, "cell-timing:cell-1", TimingTopic("cell-1"))
	require.Equal(t, "service:cell-1", ServiceTopic("cell-1"))
	require.Equal(t, "terminal:sess-1", TerminalTopic("sess-1"))
}
