package events

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventTaskProgress)

	bus.Publish(&TaskEvent{
		BaseEvent:   Base(EventTaskProgress),
		JobID:       "job-1",
		RemotePath:  "/data/a.txt",
		Transferred: 512,
		Total:       1024,
	})

	select {
	case received := <-ch:
		te, ok := received.(*TaskEvent)
		if !ok {
			t.Fatalf("expected *TaskEvent, got %T", received)
		}
		if te.RemotePath != "/data/a.txt" {
			t.Errorf("RemotePath = %q, want %q", te.RemotePath, "/data/a.txt")
		}
		if te.Transferred != 512 {
			t.Errorf("Transferred = %d, want 512", te.Transferred)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_SubscribeFiltersByType(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventJobDone)

	bus.Publish(&TaskEvent{BaseEvent: Base(EventTaskStarted)})
	bus.Publish(&JobDoneEvent{BaseEvent: Base(EventJobDone), JobID: "job-2"})

	select {
	case received := <-ch:
		if received.Type() != EventJobDone {
			t.Errorf("received %v, want %v", received.Type(), EventJobDone)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	select {
	case extra := <-ch:
		t.Errorf("unexpected second event: %v", extra.Type())
	default:
	}
}

func TestBus_SubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	ch := bus.SubscribeAll()

	bus.Publish(&PathResolvedEvent{BaseEvent: Base(EventPathResolved), Path: "/home/me"})
	bus.Publish(&JobDoneEvent{BaseEvent: Base(EventJobDone), JobID: "job-3"})

	var got []EventType
	for i := 0; i < 2; i++ {
		select {
		case received := <-ch:
			got = append(got, received.Type())
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout after %d events", i)
		}
	}
	if got[0] != EventPathResolved || got[1] != EventJobDone {
		t.Errorf("got %v, want [%v %v]", got, EventPathResolved, EventJobDone)
	}
}

func TestBus_FullSubscriberDropsNotBlocks(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	bus.Subscribe(EventJobDone)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			bus.Publish(&JobDoneEvent{BaseEvent: Base(EventJobDone)})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if bus.Dropped() == 0 {
		t.Error("expected dropped counter to advance")
	}
}

func TestBus_PublishAfterCloseIsNoop(t *testing.T) {
	bus := NewBus(10)
	ch := bus.SubscribeAll()
	bus.Close()

	bus.Publish(&JobDoneEvent{BaseEvent: Base(EventJobDone)})

	if _, ok := <-ch; ok {
		t.Error("expected channel closed without events")
	}
}
