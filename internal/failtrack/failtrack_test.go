package failtrack

import (
	"testing"

	"github.com/feedrelay/feedrelay/internal/hashid"
	"github.com/feedrelay/feedrelay/internal/store"
)

func oneFailure() []store.Failure {
	return []store.Failure{{URLsHash: hashid.HashString("group-a"), FailCount: 2, Error: "503"}}
}

func TestDebounceFiresOnFifthIdenticalTick(t *testing.T) {
	tr := New([]string{"ops@example.com"})
	var results []Action
	for i := 0; i < 6; i++ {
		results = append(results, tr.Tick(oneFailure()).Action)
	}
	for i, a := range results[:4] {
		if a != ActionNone {
			t.Fatalf("tick %d: expected no action before the threshold, got %v", i, a)
		}
	}
	if results[4] != ActionReport {
		t.Fatalf("expected report action on the 5th tick, got %v", results[4])
	}
	if results[5] != ActionNone {
		t.Fatalf("expected no repeat report on a 6th identical tick, got %v", results[5])
	}
}

func TestChangedSetResetsDebounce(t *testing.T) {
	tr := New(nil)
	for i := 0; i < 4; i++ {
		tr.Tick(oneFailure())
	}
	other := []store.Failure{{URLsHash: hashid.HashString("group-b"), FailCount: 2, Error: "timeout"}}
	if a := tr.Tick(other).Action; a != ActionNone {
		t.Fatalf("expected no action immediately after a set change, got %v", a)
	}
	// Should now take 4 more identical ticks before reporting again
	// (the reset tick plus 3 non-firing decrements, then the 4th fires).
	var fired bool
	for i := 0; i < 3; i++ {
		if tr.Tick(other).Action == ActionReport {
			fired = true
		}
	}
	if fired {
		t.Fatalf("expected no report before the new debounce window elapses")
	}
	if tr.Tick(other).Action != ActionReport {
		t.Fatalf("expected report once the new debounce window elapses")
	}
}

func TestRecoveryFiresImmediately(t *testing.T) {
	tr := New(nil)
	for i := 0; i < 5; i++ {
		tr.Tick(oneFailure())
	}
	if a := tr.Tick(nil).Action; a != ActionRecovery {
		t.Fatalf("expected immediate recovery action on first empty tick, got %v", a)
	}
	if a := tr.Tick(nil).Action; a != ActionNone {
		t.Fatalf("expected no repeat recovery on continued-empty ticks, got %v", a)
	}
}
