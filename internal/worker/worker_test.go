package worker

import (
	"testing"
	"time"

	"github.com/feedrelay/feedrelay/internal/store"
)

func TestBackoffExtensionDoubles(t *testing.T) {
	if backoffExtension(1) != 2*time.Minute {
		t.Fatalf("got %v", backoffExtension(1))
	}
	if backoffExtension(3) != 8*time.Minute {
		t.Fatalf("got %v", backoffExtension(3))
	}
}

func TestBackoffExtensionCapsAtTwelve(t *testing.T) {
	if backoffExtension(12) != backoffExtension(20) {
		t.Fatalf("expected cap at fail_count=12")
	}
}

func TestPrefixSubjectNewFeed(t *testing.T) {
	if got := prefixSubject("Update", store.StatusNew); got != "[New Feed] Update" {
		t.Fatalf("got %q", got)
	}
}

func TestPrefixSubjectNewCriteria(t *testing.T) {
	if got := prefixSubject("Update", store.StatusNewCriteria); got != "[New Criteria] Update" {
		t.Fatalf("got %q", got)
	}
}

func TestPrefixSubjectUnchangedOnUpdate(t *testing.T) {
	if got := prefixSubject("Update", store.StatusUpdate); got != "Update" {
		t.Fatalf("expected unprefixed subject on a plain update, got %q", got)
	}
}

func TestReverseStringsRoundTrips(t *testing.T) {
	in := []string{"a", "b", "c"}
	rev := reverseStrings(in)
	if rev[0] != "c" || rev[2] != "a" {
		t.Fatalf("unexpected reversal: %v", rev)
	}
	back := reverseStrings(rev)
	for i, v := range in {
		if back[i] != v {
			t.Fatalf("round trip mismatch at %d: got %q want %q", i, back[i], v)
		}
	}
}
