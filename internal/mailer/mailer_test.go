package mailer

import "testing"

func TestHasRecipients(t *testing.T) {
	if HasRecipients(nil, nil, nil) {
		t.Fatalf("expected no recipients to report false")
	}
	if !HasRecipients(nil, nil, []string{"ops@example.com"}) {
		t.Fatalf("expected bcc-only recipients to count")
	}
}

func TestBuildMessageOmitsBccHeader(t *testing.T) {
	msg := string(buildMessage("from@example.com", []string{"to@example.com"}, nil, []string{"secret@example.com"}, "Subject", "<p>body</p>"))
	if !contains(msg, "To: to@example.com") {
		t.Fatalf("expected To header, got %q", msg)
	}
	if contains(msg, "secret@example.com") {
		t.Fatalf("bcc address must not appear in headers: %q", msg)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
