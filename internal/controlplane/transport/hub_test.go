package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudocode/controlplane/internal/events/bus"
)

func TestHubSubscribeFansOutToMatchingExecution(t *testing.T) {
	hub := NewHub(testLogger(t))
	subscriber := &client{send: make(chan []byte, 4)}
	hub.add("exec-1", subscriber)
	defer hub.remove("exec-1", subscriber)

	event := bus.NewEvent("agent_message_complete", "agentsession", map[string]interface{}{
		"executionId": "exec-1",
		"payload":     "done",
	})
	require.NoError(t, hub.Subscribe(context.Background(), event))

	select {
	case msg := <-subscriber.send:
		var decoded bus.Event
		require.NoError(t, json.Unmarshal(msg, &decoded))
		assert.Equal(t, "agent_message_complete", decoded.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestHubSubscribeIgnoresOtherExecutions(t *testing.T) {
	hub := NewHub(testLogger(t))
	subscriber := &client{send: make(chan []byte, 4)}
	hub.add("exec-1", subscriber)
	defer hub.remove("exec-1", subscriber)

	event := bus.NewEvent("agent_message_complete", "agentsession", map[string]interface{}{
		"executionId": "exec-2",
	})
	require.NoError(t, hub.Subscribe(context.Background(), event))

	select {
	case <-subscriber.send:
		t.Fatal("subscriber should not have received an event for a different execution")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRemoveClosesSendChannelAndPrunesEmptyTopics(t *testing.T) {
	hub := NewHub(testLogger(t))
	subscriber := &client{send: make(chan []byte, 4)}
	hub.add("exec-1", subscriber)
	hub.remove("exec-1", subscriber)

	hub.mu.RLock()
	_, exists := hub.subscribers["exec-1"]
	hub.mu.RUnlock()
	assert.False(t, exists)

	_, open := <-subscriber.send
	assert.False(t, open)
}

func TestHubOnLastUnsubscribeFiresImmediatelyWhenAlreadyEmpty(t *testing.T) {
	hub := NewHub(testLogger(t))
	fired := make(chan struct{}, 1)
	hub.OnLastUnsubscribe("exec-1", func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback should fire immediately for an execution with no subscribers")
	}
}

func TestHubOnLastUnsubscribeFiresWhenLastSubscriberLeaves(t *testing.T) {
	hub := NewHub(testLogger(t))
	subscriber := &client{send: make(chan []byte, 4)}
	hub.add("exec-1", subscriber)

	fired := make(chan struct{}, 1)
	hub.OnLastUnsubscribe("exec-1", func() { fired <- struct{}{} })

	select {
	case <-fired:
		t.Fatal("callback should not fire while a subscriber remains")
	case <-time.After(50 * time.Millisecond):
	}

	hub.remove("exec-1", subscriber)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback should fire once the last subscriber leaves")
	}
}
