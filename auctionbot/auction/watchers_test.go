package auction

import "testing"

func TestWatchRegistryConsumeOnce(t *testing.T) {
	w := NewWatchRegistry()

	w.Watch("auction-1", "alice")

	if !w.Consume("auction-1", "alice") {
		t.Fatal("expected first consume to report the watch")
	}
	if w.Consume("auction-1", "alice") {
		t.Fatal("watch must be gone after being consumed once")
	}
}

func TestWatchRegistryIdempotentWatch(t *testing.T) {
	w := NewWatchRegistry()

	w.Watch("auction-1", "alice")
	w.Watch("auction-1", "alice")

	if !w.Consume("auction-1", "alice") {
		t.Fatal("expected consume to report the watch")
	}
	if w.Consume("auction-1", "alice") {
		t.Fatal("watching twice must not create a second watch")
	}
}

func TestWatchRegistryConsumeAbsent(t *testing.T) {
	w := NewWatchRegistry()

	if w.Consume("auction-1", "alice") {
		t.Fatal("consume on an empty registry must report false")
	}

	w.Watch("auction-1", "alice")
	if w.Consume("auction-1", "bob") {
		t.Fatal("consume must not match a different user")
	}
	if w.Consume("auction-2", "alice") {
		t.Fatal("consume must not match a different auction")
	}
	if !w.Consume("auction-1", "alice") {
		t.Fatal("the original watch must still be intact")
	}
}

func TestWatchRegistryIsolatesAuctions(t *testing.T) {
	w := NewWatchRegistry()

	w.Watch("auction-1", "alice")
	w.Watch("auction-2", "alice")

	if !w.Consume("auction-1", "alice") {
		t.Fatal("expected watch on auction-1")
	}
	if !w.Consume("auction-2", "alice") {
		t.Fatal("consuming auction-1 must not touch auction-2")
	}
}
