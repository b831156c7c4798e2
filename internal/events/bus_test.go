package events

import (
	"testing"
	"time"
)

func recv(t *testing.T, c <-chan Event) Event {
	t.Helper()
	select {
	case e := <-c:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	sub := bus.Subscribe(ComponentCreated)
	bus.Publish(ComponentCreated, map[string]string{"id": "c1"})

	event := recv(t, sub.C)
	if event.Name != ComponentCreated {
		t.Errorf("got %s, want %s", event.Name, ComponentCreated)
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestNameFiltering(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	tasksOnly := bus.Subscribe(TaskCreated, TaskUpdated)
	everything := bus.Subscribe()

	bus.Publish(ComponentCreated, nil)
	bus.Publish(TaskCreated, nil)

	if got := recv(t, tasksOnly.C); got.Name != TaskCreated {
		t.Errorf("filtered subscriber got %s", got.Name)
	}
	if got := recv(t, everything.C); got.Name != ComponentCreated {
		t.Errorf("catch-all got %s first, want %s", got.Name, ComponentCreated)
	}
	if got := recv(t, everything.C); got.Name != TaskCreated {
		t.Errorf("catch-all got %s second, want %s", got.Name, TaskCreated)
	}
}

func TestFanout(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	subs := []*Subscription{bus.Subscribe(), bus.Subscribe(), bus.Subscribe()}
	bus.Publish(CommandQueued, nil)

	for i, sub := range subs {
		if got := recv(t, sub.C); got.Name != CommandQueued {
			t.Errorf("subscriber %d got %s", i, got.Name)
		}
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	slow := bus.Subscribe()
	fast := bus.Subscribe()

	bus.Publish(TaskCreated, nil) // fills both mailboxes
	if got := recv(t, fast.C); got.Name != TaskCreated {
		t.Fatalf("fast subscriber got %s", got.Name)
	}
	bus.Publish(TaskUpdated, nil) // overflows the undrained slow mailbox

	if bus.SubscriberCount() != 1 {
		t.Fatalf("got %d subscribers, want 1 after drop", bus.SubscriberCount())
	}

	// The slow subscriber still drains its buffered event, then sees the
	// channel close.
	if got := recv(t, slow.C); got.Name != TaskCreated {
		t.Errorf("buffered event = %s", got.Name)
	}
	if _, open := <-slow.C; open {
		t.Error("dropped subscriber's channel should be closed")
	}

	if got := recv(t, fast.C); got.Name != TaskUpdated {
		t.Errorf("fast subscriber got %s", got.Name)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	sub := bus.Subscribe()
	bus.Unsubscribe(sub.ID)
	bus.Unsubscribe(sub.ID)

	if bus.SubscriberCount() != 0 {
		t.Error("subscriber still registered")
	}
	if _, open := <-sub.C; open {
		t.Error("channel should be closed")
	}

	// Publishing after unsubscribe must not panic or block.
	bus.Publish(ComponentDeleted, nil)
}

func TestCloseRejectsNewSubscribers(t *testing.T) {
	bus := NewBus(0)
	sub := bus.Subscribe()
	bus.Close()

	if _, open := <-sub.C; open {
		t.Error("close should close subscriber channels")
	}

	late := bus.Subscribe()
	if _, open := <-late.C; open {
		t.Error("post-close subscription should be closed immediately")
	}
}
