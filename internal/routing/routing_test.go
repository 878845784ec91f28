package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToMatchingTarget(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(TargetController)
	defer sub.Close()

	bus.Publish(Message{Target: TargetController, Payload: "hello"})

	select {
	case msg := <-sub.C():
		require.Equal(t, "hello", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPublishDoesNotCrossTargets(t *testing.T) {
	bus := New()
	controllerSub := bus.Subscribe(TargetController)
	defer controllerSub.Close()

	bus.Publish(Message{Target: TargetSidecar, Payload: "for sidecar only"})

	select {
	case <-controllerSub.C():
		t.Fatal("controller subscriber received a sidecar-targeted message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishWithNoListenerNeverBlocks(t *testing.T) {
	bus := New()
	done := make(chan struct{})
	go func() {
		bus.Publish(Message{Target: TargetController, Payload: "nobody home"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no listeners")
	}
}

func TestPublishDropsOldestWhenSubscriberQueueFull(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(TargetController)
	defer sub.Close()

	for i := 0; i < subscriberQueueSize+10; i++ {
		bus.Publish(Message{Target: TargetController, Payload: i})
	}

	last := -1
	for {
		select {
		case msg := <-sub.C():
			last = msg.Payload.(int)
		default:
			require.Equal(t, subscriberQueueSize+9, last)
			return
		}
	}
}
