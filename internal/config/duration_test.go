package config

import (
	"testing"
	"time"
)

func TestParseDurationDelegatesToStdlib(t *testing.T) {
	d, err := ParseDuration("90m")
	if err != nil || d != 90*time.Minute {
		t.Fatalf("got %v, %v", d, err)
	}
}

func TestParseDurationDays(t *testing.T) {
	d, err := ParseDuration("7d")
	if err != nil || d != 7*24*time.Hour {
		t.Fatalf("got %v, %v", d, err)
	}
}

func TestParseDurationWeeks(t *testing.T) {
	d, err := ParseDuration("2w")
	if err != nil || d != 14*24*time.Hour {
		t.Fatalf("got %v, %v", d, err)
	}
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	if _, err := ParseDuration("soon"); err == nil {
		t.Fatalf("expected an error")
	}
}
