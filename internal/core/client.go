package core

import (
	"sync"
	"time"

	"pianorelay/server/internal/protocol"
	"pianorelay/server/internal/quota"
)

// ClientRecord exists from WebSocket accept to close. Participant and
// ChannelID are populated after the first "hi" and "ch". Only Participant
// is ever sent over the wire; the rest stays server-side.
type ClientRecord struct {
	UserID string
	Quota  *quota.Quota

	mu           sync.Mutex
	participant  *protocol.Participant
	channelID    string
	lastMoveTime time.Time
}

func newClientRecord(userID string) *ClientRecord {
	return &ClientRecord{UserID: userID, Quota: quota.Default()}
}

// SetParticipant installs the client's public projection, typically on "hi".
func (c *ClientRecord) SetParticipant(p protocol.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participant = &p
}

// Participant returns the client's current projection, if any.
func (c *ClientRecord) Participant() (protocol.Participant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.participant == nil {
		return protocol.Participant{}, false
	}
	return *c.participant, true
}

// ChannelID returns the channel this client currently belongs to ("" if none).
func (c *ClientRecord) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// SetChannelID records the channel this client currently belongs to.
func (c *ClientRecord) SetChannelID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channelID = id
}

// ShouldMove applies the 50ms cursor throttle (§4.F "m"): returns true (and
// records now) if at least 50ms elapsed since the last accepted move.
func (c *ClientRecord) ShouldMove(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastMoveTime) < 50*time.Millisecond {
		return false
	}
	c.lastMoveTime = now
	return true
}
