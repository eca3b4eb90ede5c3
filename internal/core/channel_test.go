package core

import (
	"testing"

	"pianorelay/server/internal/protocol"
)

func TestJoinRefusesAtCapacity(t *testing.T) {
	ch := NewChannel("room1", 0, "creator")
	for i := 0; i < Capacity; i++ {
		p := protocol.Participant{ID: string(rune('a' + i))}
		if _, ok := ch.Join(p, p.ID, 0); !ok {
			t.Fatalf("expected join %d to succeed", i)
		}
	}
	overflow := protocol.Participant{ID: "overflow"}
	if _, ok := ch.Join(overflow, "overflow", 0); ok {
		t.Fatal("expected the 21st joiner to a 20-capacity room to be refused")
	}
	if ch.ParticipantCount() != Capacity {
		t.Fatalf("expected participant count to remain %d, got %d", Capacity, ch.ParticipantCount())
	}
}

func TestCrownClaimedByFirstJoiner(t *testing.T) {
	// The joiner is the channel's creator, as when joinChannel creates it.
	ch := NewChannel("room1", 0, "alice-user")
	p := protocol.Participant{ID: "alice"}
	crownView, ok := ch.Join(p, "alice-user", 1000)
	if !ok {
		t.Fatal("expected join to succeed")
	}
	if crownView == nil || crownView.ParticipantID != "alice" {
		t.Fatalf("expected alice to claim the crown, got %#v", crownView)
	}
}

func TestCrownDroppedOnHolderLeaveIsReclaimableBySameUser(t *testing.T) {
	ch := NewChannel("room1", 0, "alice-user")
	p := protocol.Participant{ID: "alice"}
	ch.Join(p, "alice-user", 1000)

	ch.Leave("alice", 1000)
	if cv := ch.CrownView(); cv == nil || cv.ParticipantID != "" || cv.UserID != "alice-user" {
		t.Fatalf("expected a dropped crown to report no holder and keep alice-user, got %#v", cv)
	}

	// Same user id reconnecting as a new participant can reclaim immediately,
	// even within the grace window.
	p2 := protocol.Participant{ID: "alice-2"}
	crownView, _ := ch.Join(p2, "alice-user", 1500)
	if crownView == nil || crownView.ParticipantID != "alice-2" {
		t.Fatalf("expected the same user to reclaim the dropped crown, got %#v", crownView)
	}
}

func TestCrownNotClaimableByOtherUserWithinGraceWindow(t *testing.T) {
	ch := NewChannel("room1", 0, "alice-user")
	ch.Join(protocol.Participant{ID: "alice"}, "alice-user", 1000)
	ch.Leave("alice", 1000)

	crownView, _ := ch.Join(protocol.Participant{ID: "bob"}, "bob-user", 1000+CrownGraceWindow-1)
	if crownView == nil || crownView.ParticipantID != "" {
		t.Fatalf("expected bob to be refused the crown within the grace window, got %#v", crownView)
	}

	crownView, _ = ch.Join(protocol.Participant{ID: "carol"}, "carol-user", 1000+CrownGraceWindow)
	if crownView == nil || crownView.ParticipantID != "carol" {
		t.Fatalf("expected carol to claim the crown once the grace window elapsed, got %#v", crownView)
	}
}

func TestSpecialChannelHasNoCrown(t *testing.T) {
	ch := NewChannel("lobby", 0, "")
	crownView, ok := ch.Join(protocol.Participant{ID: "alice"}, "alice-user", 0)
	if !ok {
		t.Fatal("expected join to lobby to succeed")
	}
	if crownView != nil {
		t.Fatalf("expected lobby to never assign a crown, got %#v", crownView)
	}
}

func TestChatHistoryEvictsOldest(t *testing.T) {
	ch := NewChannel("room1", 0, "creator")
	for i := 0; i < 33; i++ {
		ch.AppendChat(protocol.ChatEntry{A: string(rune('a' + i%26))})
	}
	hist := ch.ChatHistory()
	if len(hist) != MaxChatHistory {
		t.Fatalf("expected %d retained messages, got %d", MaxChatHistory, len(hist))
	}
	if hist[0].A != "b" {
		t.Fatalf("expected the 1st message to be evicted and the 2nd to be oldest, got %q", hist[0].A)
	}
}

func TestApplySettingsRejectsBadColor(t *testing.T) {
	ch := NewChannel("room1", 0, "creator")
	if err := ch.ApplySettings(map[string]any{"color": "not-a-color"}); err == nil {
		t.Fatal("expected an invalid color to be rejected")
	}
	if err := ch.ApplySettings(map[string]any{"color": "#abc123"}); err != nil {
		t.Fatalf("expected a valid hex color to be accepted: %v", err)
	}
	if ch.Settings().Color != "#abc123" {
		t.Fatalf("expected color to be applied, got %q", ch.Settings().Color)
	}
}

func TestApplySettingsRejectsWrongType(t *testing.T) {
	ch := NewChannel("room1", 0, "creator")
	if err := ch.ApplySettings(map[string]any{"chat": "yes"}); err == nil {
		t.Fatal("expected a non-boolean chat value to be rejected")
	}
}

func TestValidChannelID(t *testing.T) {
	if !ValidChannelID("room1") {
		t.Fatal("expected a normal id to be valid")
	}
	if ValidChannelID("") {
		t.Fatal("expected an empty id to be invalid")
	}
	if ValidChannelID("bad\x00id") {
		t.Fatal("expected a control character to invalidate the id")
	}
}

func TestIsSpecialID(t *testing.T) {
	cases := map[string]bool{
		"lobby":      true,
		"test/foo":   true,
		"room1":      false,
		"testing123": false,
	}
	for id, want := range cases {
		if got := IsSpecialID(id); got != want {
			t.Fatalf("IsSpecialID(%q) = %v, want %v", id, got, want)
		}
	}
}
