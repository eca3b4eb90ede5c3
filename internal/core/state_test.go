package core

import (
	"testing"
	"time"

	"pianorelay/server/internal/protocol"
)

func TestNewStateSeedsLobby(t *testing.T) {
	s := NewState()
	ch, ok := s.Channel("lobby")
	if !ok {
		t.Fatal("expected lobby to pre-exist")
	}
	if !ch.IsSpecial() {
		t.Fatal("expected lobby to be special")
	}
}

func TestDeleteChannelIfEmptyLeavesSpecialChannels(t *testing.T) {
	s := NewState()
	lobby, _ := s.Channel("lobby")
	s.DeleteChannelIfEmpty(lobby)
	if _, ok := s.Channel("lobby"); !ok {
		t.Fatal("expected lobby to survive deletion attempts")
	}
}

func TestDeleteChannelIfEmptyRemovesEmptyNonSpecialChannel(t *testing.T) {
	s := NewState()
	ch, created := s.GetOrCreateChannel("rehearsal", "creator")
	if !created {
		t.Fatal("expected rehearsal to be freshly created")
	}
	ch.Join(protocol.Participant{ID: "alice"}, "alice-user", 0)
	s.DeleteChannelIfEmpty(ch)
	if _, ok := s.Channel("rehearsal"); !ok {
		t.Fatal("expected a channel with participants not to be deleted")
	}

	ch.Leave("alice", 0)
	s.DeleteChannelIfEmpty(ch)
	if _, ok := s.Channel("rehearsal"); ok {
		t.Fatal("expected the now-empty channel to be garbage collected")
	}
}

func TestVisibleChannelsExcludesHidden(t *testing.T) {
	s := NewState()
	ch, _ := s.GetOrCreateChannel("hidden", "creator")
	ch.ApplySettings(map[string]any{"visible": false})

	found := false
	for _, c := range s.VisibleChannels() {
		if c.ID == "hidden" {
			found = true
		}
	}
	if found {
		t.Fatal("expected a channel with visible=false to be excluded from the ls snapshot")
	}
}

func TestBanLifecycle(t *testing.T) {
	s := NewState()
	now := time.Now()
	s.SetBan("alice", Ban{ChannelID: "room1", Expiry: now.Add(time.Minute)})

	if !s.IsBanned("alice", "room1", now) {
		t.Fatal("expected alice to be banned from room1")
	}
	if s.IsBanned("alice", "room2", now) {
		t.Fatal("expected the ban to be scoped to room1 only")
	}
	if s.IsBanned("alice", "room1", now.Add(2*time.Minute)) {
		t.Fatal("expected the ban to lazily expire")
	}

	if !s.ClearBan("alice", "room1") {
		t.Fatal("expected ClearBan to remove the matching ban")
	}
	if s.IsBanned("alice", "room1", now) {
		t.Fatal("expected the ban to be gone after ClearBan")
	}
}

func TestAddRemoveClient(t *testing.T) {
	s := NewState()
	rec, q := s.AddClient("alice")
	if rec.UserID != "alice" {
		t.Fatalf("expected record for alice, got %q", rec.UserID)
	}
	if _, ok := s.Queue("alice"); !ok {
		t.Fatal("expected a queue to exist for a live client")
	}
	q.Enqueue([]byte("hello"))

	s.RemoveClient("alice")
	if _, ok := s.Client("alice"); ok {
		t.Fatal("expected client record to be gone after RemoveClient")
	}
	if _, ok := s.Queue("alice"); ok {
		t.Fatal("expected queue to be gone after RemoveClient")
	}
}
