package core

import (
	"testing"
	"time"
)

func TestClampDurationDefaultsWhenZero(t *testing.T) {
	if got := ClampDuration(0); got != DefaultBanDuration {
		t.Fatalf("expected zero duration to default to %v, got %v", DefaultBanDuration, got)
	}
}

func TestClampDurationCapsAtMax(t *testing.T) {
	if got := ClampDuration(30 * 24 * time.Hour); got != MaxBanDuration {
		t.Fatalf("expected duration to be capped at %v, got %v", MaxBanDuration, got)
	}
}

func TestClampDurationPassesThroughValidDuration(t *testing.T) {
	d := 10 * time.Minute
	if got := ClampDuration(d); got != d {
		t.Fatalf("expected %v to pass through unchanged, got %v", d, got)
	}
}

func TestBanActiveScoping(t *testing.T) {
	now := time.Now()
	b := Ban{ChannelID: "room1", Expiry: now.Add(time.Minute)}
	if !b.Active("room1", now) {
		t.Fatal("expected ban to be active for its own channel before expiry")
	}
	if b.Active("room2", now) {
		t.Fatal("expected ban to be inactive for a different channel")
	}
	if b.Active("room1", now.Add(2*time.Minute)) {
		t.Fatal("expected ban to be inactive after expiry")
	}
}
