package usecase

import "testing"

func TestProgressMonotone(t *testing.T) {
	tracker := NewProgressTracker()

	tracker.Update("f1", 0.5)
	tracker.Update("f1", 0.2)
	if got := tracker.Fraction("f1"); got != 0.5 {
		t.Fatalf("expected fraction to stay at 0.5, got %f", got)
	}

	tracker.Update("f1", 1.7)
	if got := tracker.Fraction("f1"); got != 1 {
		t.Fatalf("expected fraction capped at 1, got %f", got)
	}
}

func TestProgressSubscribeStream(t *testing.T) {
	tracker := NewProgressTracker()
	ch, cancel := tracker.Subscribe("f1")
	defer cancel()

	tracker.Update("f1", 0.25)
	tracker.Update("f1", 0.75)
	tracker.Complete("f1")

	var updates []ProgressUpdate
	for update := range ch {
		updates = append(updates, update)
	}
	if len(updates) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(updates))
	}
	last := updates[len(updates)-1]
	if !last.Done || last.Aborted || last.Fraction != 1 {
		t.Fatalf("unexpected terminal update %+v", last)
	}
	for i := 1; i < len(updates); i++ {
		if updates[i].Fraction < updates[i-1].Fraction {
			t.Fatalf("stream regressed at %d: %+v", i, updates)
		}
	}
}

func TestProgressAbortSignalsCancellation(t *testing.T) {
	tracker := NewProgressTracker()
	ch, cancel := tracker.Subscribe("f1")
	defer cancel()

	tracker.Update("f1", 0.5)
	tracker.Abort("f1")

	var last ProgressUpdate
	for update := range ch {
		last = update
	}
	if !last.Done || !last.Aborted {
		t.Fatalf("expected aborted terminal update, got %+v", last)
	}
	if last.Fraction != 0.5 {
		t.Fatalf("abort must not inflate progress, got %f", last.Fraction)
	}
}

func TestProgressCancelUnsubscribes(t *testing.T) {
	tracker := NewProgressTracker()
	ch, cancel := tracker.Subscribe("f1")

	cancel()
	if _, open := <-ch; open {
		t.Fatalf("expected closed channel after cancel")
	}

	// Publishing after cancel must not panic.
	tracker.Update("f1", 0.9)
	tracker.Complete("f1")
}
