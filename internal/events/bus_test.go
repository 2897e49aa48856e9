package events

import (
	"testing"
	"time"
)

func TestBus_PublishToSubscriber(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TypeDeviceOffline)

	bus.Publish(Event{Type: TypeDeviceOffline, DeviceID: "dev-1"})

	select {
	case ev := <-ch:
		if ev.DeviceID != "dev-1" {
			t.Errorf("DeviceID = %q, want dev-1", ev.DeviceID)
		}
		if ev.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TypeItemSynced)

	bus.Publish(Event{Type: TypeDeviceOffline, DeviceID: "dev-1"})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()
	ch := bus.SubscribeAll()

	bus.Publish(Event{Type: TypeDeviceOffline})
	bus.Publish(Event{Type: TypeItemSynced})

	got := 0
	for i := 0; i < 2; i++ {
		select {
		case <-ch:
			got++
		case <-time.After(time.Second):
		}
	}
	if got != 2 {
		t.Errorf("received %d events, want 2", got)
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(TypeDeviceOffline) // never drained

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(Event{Type: TypeDeviceOffline})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on full subscriber")
	}
}
