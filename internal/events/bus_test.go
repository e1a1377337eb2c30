package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan SnapshotInstalledEvent, 1)

	unsub := bus.Subscribe(func(e SnapshotInstalledEvent) {
		received <- e
	})
	defer unsub()

	event := SnapshotInstalledEvent{
		Origin:      "remote",
		StreamCount: 4,
		Timestamp:   "2025-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got.Origin != event.Origin {
		t.Errorf("Expected origin %s, got %s", event.Origin, got.Origin)
	}
	if got.StreamCount != event.StreamCount {
		t.Errorf("Expected stream_count %d, got %d", event.StreamCount, got.StreamCount)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan MountAddedEvent, 1)
	received2 := make(chan MountAddedEvent, 1)

	unsub1 := bus.Subscribe(func(e MountAddedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e MountAddedEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(MountAddedEvent{StreamID: "cam-01", Path: "/cam-01"})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan RegistryFetchFailedEvent, 1)

	unsub := bus.Subscribe(func(e RegistryFetchFailedEvent) {
		received <- e
	})

	bus.Publish(RegistryFetchFailedEvent{Error: "connection refused"})
	<-received

	unsub()

	bus.Publish(RegistryFetchFailedEvent{Error: "timeout"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	mountReceived := make(chan bool, 1)
	stateReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ MountAddedEvent) {
		mountReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ SessionStateChangedEvent) {
		stateReceived <- true
	})
	defer unsub2()

	bus.Publish(MountAddedEvent{StreamID: "cam-01"})
	<-mountReceived

	select {
	case <-stateReceived:
		t.Fatal("State subscriber should NOT have received MountAddedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}

	bus.Publish(SessionStateChangedEvent{StreamID: "cam-01", From: "idle", To: "starting"})
	<-stateReceived

	select {
	case <-mountReceived:
		t.Fatal("Mount subscriber should NOT have received SessionStateChangedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ PipelineRestartEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(PipelineRestartEvent{
					StreamID:  "cam-01",
					Reason:    "error",
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"SnapshotInstalled", SnapshotInstalledEvent{Origin: "remote"}},
		{"RegistryFetchFailed", RegistryFetchFailedEvent{Error: "timeout"}},
		{"MountAdded", MountAddedEvent{StreamID: "cam-01"}},
		{"MountRemoved", MountRemovedEvent{StreamID: "cam-01"}},
		{"SessionStateChanged", SessionStateChangedEvent{StreamID: "cam-01", To: "active"}},
		{"PipelineRestart", PipelineRestartEvent{StreamID: "cam-01", Reason: "eos"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case SnapshotInstalledEvent:
				unsub = bus.Subscribe(func(e SnapshotInstalledEvent) { received <- e })
			case RegistryFetchFailedEvent:
				unsub = bus.Subscribe(func(e RegistryFetchFailedEvent) { received <- e })
			case MountAddedEvent:
				unsub = bus.Subscribe(func(e MountAddedEvent) { received <- e })
			case MountRemovedEvent:
				unsub = bus.Subscribe(func(e MountRemovedEvent) { received <- e })
			case SessionStateChangedEvent:
				unsub = bus.Subscribe(func(e SessionStateChangedEvent) { received <- e })
			case PipelineRestartEvent:
				unsub = bus.Subscribe(func(e PipelineRestartEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}
