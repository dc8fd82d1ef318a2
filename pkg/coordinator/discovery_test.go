package coordinator

import "testing"

func TestDiscoveryPublishDeliversToAllSubscribers(t *testing.T) {
	d := NewDiscovery()
	chA, cancelA := d.Subscribe()
	chB, cancelB := d.Subscribe()
	defer cancelA()
	defer cancelB()

	d.Publish(Message{Type: LeaderAnnounce, ReplicaID: "r1"})

	for _, ch := range []<-chan Message{chA, chB} {
		select {
		case msg := <-ch:
			if msg.Type != LeaderAnnounce || msg.ReplicaID != "r1" {
				t.Fatalf("unexpected message: %+v", msg)
			}
		default:
			t.Fatal("expected message to be buffered and immediately available")
		}
	}
}

func TestDiscoveryCancelIsIdempotent(t *testing.T) {
	d := NewDiscovery()
	_, cancel := d.Subscribe()
	cancel()
	cancel() // must not panic on double-close
}

func TestDiscoveryCanceledSubscriberStopsReceiving(t *testing.T) {
	d := NewDiscovery()
	ch, cancel := d.Subscribe()
	cancel()

	d.Publish(Message{Type: FollowerConnect, ReplicaID: "r2"})
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cancel")
	}
}
