package admission

import (
	"context"
	"sync"
	"testing"
)

func TestAdmitIsExclusive(t *testing.T) {
	store := NewMemoryStore()

	admitted, _, err := store.Admit(context.Background(), "fp-1", "owner-a")
	if err != nil || !admitted {
		t.Fatalf("expected first admission, admitted=%v err=%v", admitted, err)
	}
	admitted, holder, err := store.Admit(context.Background(), "fp-1", "owner-b")
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if admitted {
		t.Fatalf("expected second admission rejected")
	}
	if holder != "owner-a" {
		t.Fatalf("expected holder owner-a, got %s", holder)
	}
}

func TestAdmitExactlyOneWinnerUnderConcurrency(t *testing.T) {
	store := NewMemoryStore()

	const n = 32
	var wg sync.WaitGroup
	wins := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		owner := string(rune('a' + i%26))
		go func(owner string) {
			defer wg.Done()
			if admitted, _, _ := store.Admit(context.Background(), "fp-1", owner); admitted {
				wins <- owner
			}
		}(owner)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 admission, got %d", count)
	}
}

func TestReleaseRequiresOwner(t *testing.T) {
	store := NewMemoryStore()
	_, _, _ = store.Admit(context.Background(), "fp-1", "owner-a")

	if err := store.Release(context.Background(), "fp-1", "owner-b"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, held, _ := store.Holder(context.Background(), "fp-1"); !held {
		t.Fatalf("foreign release must not evict the holder")
	}

	if err := store.Release(context.Background(), "fp-1", "owner-a"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, held, _ := store.Holder(context.Background(), "fp-1"); held {
		t.Fatalf("expected admission released")
	}
}
