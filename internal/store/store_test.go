package store

import (
	"testing"
	"time"
)

func TestSaturatingSubClampsToEpoch(t *testing.T) {
	now := time.Unix(100, 0).UTC()
	got := SaturatingSub(now, 1000*time.Second)
	if got != time.Unix(0, 0).UTC() {
		t.Fatalf("expected clamp to epoch, got %v", got)
	}
}

func TestSaturatingSubNormal(t *testing.T) {
	now := time.Unix(10000, 0).UTC()
	got := SaturatingSub(now, 1000*time.Second)
	want := time.Unix(9000, 0).UTC()
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestClaimStatusDigestTrigger(t *testing.T) {
	if !StatusNew.IsDigestTrigger() {
		t.Fatalf("expected new to trigger digest mode")
	}
	if !StatusNewCriteria.IsDigestTrigger() {
		t.Fatalf("expected new-criteria to trigger digest mode")
	}
	if StatusUpdate.IsDigestTrigger() {
		t.Fatalf("expected update to not trigger digest mode on its own")
	}
	if StatusWait.IsDigestTrigger() {
		t.Fatalf("expected wait to not trigger digest mode")
	}
}

func TestClaimStatusString(t *testing.T) {
	cases := map[ClaimStatus]string{
		StatusNew: "new", StatusUpdate: "update",
		StatusNewCriteria: "new-criteria", StatusWait: "wait",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("status %d: got %q want %q", status, got, want)
		}
	}
}
