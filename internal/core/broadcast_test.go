package core

import (
	"testing"

	"pianorelay/server/internal/protocol"
)

func TestBroadcastToChannelExcludesSender(t *testing.T) {
	s := NewState()
	ch, _ := s.GetOrCreateChannel("room1", "creator")

	_, aliceQ := s.AddClient("alice")
	_, bobQ := s.AddClient("bob")
	ch.Join(protocol.Participant{ID: "alice"}, "alice", 0)
	ch.Join(protocol.Participant{ID: "bob"}, "bob", 0)

	s.BroadcastToChannel(ch, protocol.Message{M: protocol.TypeMove, PID: "alice"}, "alice")

	select {
	case <-aliceQ.Recv():
		t.Fatal("expected the excluded sender not to receive the broadcast")
	default:
	}

	select {
	case data := <-bobQ.Recv():
		if len(data) == 0 {
			t.Fatal("expected a non-empty frame")
		}
	default:
		t.Fatal("expected bob to receive the broadcast")
	}
}

func TestSendToClientDropsWhenQueueAbsent(t *testing.T) {
	s := NewState()
	// No client registered: this must not panic.
	s.SendToClient("ghost", protocol.Message{M: protocol.TypeHi})
}

func TestBroadcastToLSReachesSubscribersOnly(t *testing.T) {
	s := NewState()
	_, aliceQ := s.AddClient("alice")
	_, bobQ := s.AddClient("bob")
	s.SubscribeLS("alice")

	s.BroadcastToLS(protocol.Message{M: protocol.TypeChannelList})

	select {
	case <-aliceQ.Recv():
	default:
		t.Fatal("expected the ls subscriber to receive the snapshot")
	}
	select {
	case <-bobQ.Recv():
		t.Fatal("expected a non-subscriber not to receive the snapshot")
	default:
	}
}
