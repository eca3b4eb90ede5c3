package core

import (
	"encoding/json"
	"log/slog"

	"pianorelay/server/internal/protocol"
)

// marshalFrame serializes msg once so the same bytes can be fanned out to
// every recipient of a broadcast (§4.D: marshal once, send many).
func marshalFrame(msg protocol.Message) ([]byte, error) {
	return json.Marshal(msg)
}

// SendToClient enqueues msg on userID's outbound queue. An absent queue
// is a silent drop. A full queue is logged and closed, which makes the
// connection loop close that slow consumer's socket and disconnect it.
func (s *State) SendToClient(userID string, msg protocol.Message) {
	data, err := marshalFrame(msg)
	if err != nil {
		slog.Error("marshal outbound frame", "err", err, "type", msg.M)
		return
	}
	s.sendRaw(userID, data)
}

func (s *State) sendRaw(userID string, data []byte) {
	q, ok := s.Queue(userID)
	if !ok {
		return
	}
	if !q.Enqueue(data) {
		slog.Warn("outbound queue full, disconnecting slow consumer", "user", userID)
		q.Close()
	}
}

// BroadcastToChannel sends msg to every participant currently in ch,
// except excludeClientID (empty to exclude no one). It snapshots
// participant ids under ch's read lock, then releases the lock before
// doing any I/O, so a slow or closing client can never stall the
// broadcaster (§4.D snapshot-then-broadcast).
func (s *State) BroadcastToChannel(ch *Channel, msg protocol.Message, excludeClientID string) {
	data, err := marshalFrame(msg)
	if err != nil {
		slog.Error("marshal outbound frame", "err", err, "type", msg.M)
		return
	}
	for _, id := range ch.ParticipantIDs() {
		if id == excludeClientID {
			continue
		}
		s.sendRaw(id, data)
	}
}

// BroadcastToLS sends msg to every client subscribed to channel-list
// updates (§4.F "+ls"/"-ls").
func (s *State) BroadcastToLS(msg protocol.Message) {
	data, err := marshalFrame(msg)
	if err != nil {
		slog.Error("marshal outbound frame", "err", err, "type", msg.M)
		return
	}
	for _, id := range s.lsSubscriberIDs() {
		s.sendRaw(id, data)
	}
}
