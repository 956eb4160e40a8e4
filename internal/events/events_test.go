package events

import (
	"errors"
	"testing"
	"time"

	"github.com/sacla-sfx/cheetah-dispatch/internal/models"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventStatus)

	bus.PublishStatus("000100-0", 3, models.StatusRecord{Status: "Hitfinding", Indexed: "NA"})

	select {
	case received := <-ch:
		ev, ok := received.(*StatusEvent)
		if !ok {
			t.Fatal("Expected StatusEvent")
		}
		if ev.JobID != "000100-0" {
			t.Errorf("Expected job id '000100-0', got '%s'", ev.JobID)
		}
		if ev.Row != 3 {
			t.Errorf("Expected row 3, got %d", ev.Row)
		}
		if ev.Record.Status != "Hitfinding" {
			t.Errorf("Expected status Hitfinding, got %s", ev.Record.Status)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_TypeFiltering(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	submitted := bus.Subscribe(EventSubmitted)
	all := bus.SubscribeAll()

	bus.PublishKilled("000100-0", "4242")
	bus.PublishSubmitted("000101-0", "4243", 3, false, true)

	select {
	case ev := <-submitted:
		s := ev.(*SubmittedEvent)
		if s.QueueJobID != "4243" || !s.AutoSubmit {
			t.Errorf("unexpected submitted event: %+v", s)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for submitted event")
	}

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("all-events subscriber missed event %d", i)
		}
	}
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	_ = bus.Subscribe(EventError)
	bus.PublishError("000100-0", "submit", errors.New("boom"))
	bus.PublishError("000100-0", "submit", errors.New("boom again"))

	if got := bus.GetDroppedEventCount(); got != 1 {
		t.Errorf("Expected 1 dropped event, got %d", got)
	}
}

func TestEventBus_CloseClosesChannels(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventFollow)
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("Expected channel to be closed")
	}

	// Publishing after close must not panic.
	bus.PublishFollow(true, 100)

	late := bus.SubscribeAll()
	if _, ok := <-late; ok {
		t.Error("Expected subscription after close to be closed")
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventJobRegistered)
	bus.Unsubscribe(EventJobRegistered, ch)
	bus.PublishRegistered("000100-0", 0)

	select {
	case <-ch:
		t.Error("Unsubscribed channel received an event")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestEventBus_NilSafe(t *testing.T) {
	var bus *EventBus
	bus.PublishRegistered("000100-0", 0)
}
