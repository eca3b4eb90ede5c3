// Package core implements the connection & channel runtime: the
// concurrent entity store (channels, clients, outbound queues, ls
// subscribers, bans) and the broadcast router built on top of it. It is
// the Go-native reshaping of the teacher's internal/core ChannelState,
// generalized from Discord-style servers/voice-channels to piano
// channels/crown/quota/bans.
package core

import (
	"sort"
	"sync"
	"time"

	"pianorelay/server/internal/protocol"
)

// State holds the five concurrent mappings described in §4.C. The
// top-level maps are guarded by one RWMutex for quick, non-blocking
// lookups; mutation of a single channel or client is then serialized by
// that entity's own lock (Channel.mu, ClientRecord.mu), so no lock is ever
// held across the I/O of a broadcast.
type State struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	clients  map[string]*ClientRecord
	outbound map[string]*Queue
	lsSubs   map[string]struct{}
	bans     map[string]Ban
}

// NewState returns a State pre-seeded with the special "lobby" channel
// (§3: special channels are never deleted and may pre-exist before any
// join).
func NewState() *State {
	s := &State{
		channels: make(map[string]*Channel),
		clients:  make(map[string]*ClientRecord),
		outbound: make(map[string]*Queue),
		lsSubs:   make(map[string]struct{}),
		bans:     make(map[string]Ban),
	}
	s.channels["lobby"] = NewChannel("lobby", nowMS(), "")
	return s
}

func nowMS() int64 { return time.Now().UnixMilli() }

// AddClient registers a new client record and its outbound queue,
// satisfying invariant 6 (the queue exists iff the socket is open).
func (s *State) AddClient(userID string) (*ClientRecord, *Queue) {
	rec := newClientRecord(userID)
	q := newQueue()

	s.mu.Lock()
	s.clients[userID] = rec
	s.outbound[userID] = q
	s.mu.Unlock()

	return rec, q
}

// RemoveClient drops a client's record, queue, and ls subscription. Bans
// are left untouched — they outlive sessions and expire lazily (§4.H).
func (s *State) RemoveClient(userID string) (*ClientRecord, bool) {
	s.mu.Lock()
	rec, ok := s.clients[userID]
	delete(s.clients, userID)
	if q, exists := s.outbound[userID]; exists {
		q.Close()
		delete(s.outbound, userID)
	}
	delete(s.lsSubs, userID)
	s.mu.Unlock()
	return rec, ok
}

// Client looks up a client record.
func (s *State) Client(userID string) (*ClientRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.clients[userID]
	return rec, ok
}

// Queue looks up a client's outbound queue.
func (s *State) Queue(userID string) (*Queue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.outbound[userID]
	return q, ok
}

// ClientCount returns the number of live client records.
func (s *State) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// SubscribeLS adds userID to the ls subscriber set. Idempotent: two +ls
// calls from the same client net to one subscription.
func (s *State) SubscribeLS(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lsSubs[userID] = struct{}{}
}

// UnsubscribeLS removes userID from the ls subscriber set.
func (s *State) UnsubscribeLS(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lsSubs, userID)
}

// lsSubscriberIDs snapshots the current subscriber set.
func (s *State) lsSubscriberIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.lsSubs))
	for id := range s.lsSubs {
		out = append(out, id)
	}
	return out
}

// Channel looks up a channel by id.
func (s *State) Channel(id string) (*Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	return ch, ok
}

// ChannelCount returns the number of live channels.
func (s *State) ChannelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels)
}

// GetOrCreateChannel returns the channel for id, creating it (with
// defaults, or frozen special settings) if absent.
func (s *State) GetOrCreateChannel(id, creatorUserID string) (*Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[id]; ok {
		return ch, false
	}
	ch := NewChannel(id, nowMS(), creatorUserID)
	s.channels[id] = ch
	return ch, true
}

// DeleteChannelIfEmpty removes a non-special, empty channel from the
// store (invariant 3). Special channels are never deleted.
func (s *State) DeleteChannelIfEmpty(ch *Channel) {
	if ch.IsSpecial() {
		return
	}
	if ch.ParticipantCount() > 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.channels[ch.ID()]; ok && existing == ch && ch.ParticipantCount() == 0 {
		delete(s.channels, ch.ID())
	}
}

// VisibleChannels returns a stable-ordered summary of every visible
// channel, for the "ls" snapshot.
func (s *State) VisibleChannels() []protocol.ChannelSummary {
	s.mu.RLock()
	snap := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		snap = append(snap, ch)
	}
	s.mu.RUnlock()

	out := make([]protocol.ChannelSummary, 0, len(snap))
	for _, ch := range snap {
		settings := ch.Settings()
		if !settings.Visible {
			continue
		}
		out = append(out, protocol.ChannelSummary{ID: ch.ID(), Count: ch.ParticipantCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ban returns the stored ban record for userID, if any. The record may
// already have expired; IsBanned applies the expiry check.
func (s *State) Ban(userID string) (Ban, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bans[userID]
	return b, ok
}

// SetBan records (replacing any prior) ban for userID.
func (s *State) SetBan(userID string, ban Ban) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bans[userID] = ban
}

// ClearBan removes userID's ban if it targets channelID, reporting
// whether a ban was actually removed.
func (s *State) ClearBan(userID, channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bans[userID]
	if !ok || b.ChannelID != channelID {
		return false
	}
	delete(s.bans, userID)
	return true
}

// TickAllQuotas advances every live client's note quota by one tick
// (§4.G Tick Scheduler). It snapshots the client list under the
// top-level lock, then ticks each outside of it.
func (s *State) TickAllQuotas() {
	s.mu.RLock()
	recs := make([]*ClientRecord, 0, len(s.clients))
	for _, rec := range s.clients {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	for _, rec := range recs {
		rec.Quota.Tick()
	}
}

// IsBanned reports whether userID is currently banned from channelID,
// lazily treating expired bans as gone (§9 Design Notes: no sweep).
func (s *State) IsBanned(userID, channelID string, now time.Time) bool {
	b, ok := s.Ban(userID)
	return ok && b.Active(channelID, now)
}
