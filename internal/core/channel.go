package core

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"pianorelay/server/internal/protocol"
)

// Capacity is the maximum number of participants a channel may hold.
const Capacity = 20

// MaxChatHistory is the number of chat messages retained per channel.
const MaxChatHistory = 32

// MaxChannelIDLen is the channel id length policy (§6).
const MaxChannelIDLen = 512

// CrownGraceWindow is how long a dropped crown stays claimable only by its
// previous holder before any joiner may claim it. The value is the spec's
// documented convention (§9 Open Questions).
const CrownGraceWindow = 15000 // ms

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{3}(?:[0-9a-fA-F]{3})?$`)

// IsSpecialID reports whether id names a special channel: frozen settings,
// no crown, never garbage collected.
func IsSpecialID(id string) bool {
	return id == "lobby" || strings.HasPrefix(id, "test/")
}

// ValidChannelID applies the channel id policy (§6): non-empty, bounded
// length, no control characters.
func ValidChannelID(id string) bool {
	if id == "" || utf8.RuneCountInString(id) > MaxChannelIDLen {
		return false
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// DefaultSettings returns the settings a freshly created non-special
// channel starts with.
func DefaultSettings() protocol.Settings {
	return protocol.Settings{
		Color:     "#3b82f6",
		Chat:      true,
		CrownSolo: false,
		Visible:   true,
		Lobby:     false,
	}
}

// crown is the tagged ownership state described in §9: Held(participant) |
// Dropped(user, since) | Absent (special channels only, terminal).
type crown struct {
	absent        bool
	participantID string // non-empty => Held
	userID        string
	time          int64
}

func (c *crown) view() *protocol.CrownView {
	if c == nil || c.absent {
		return nil
	}
	return &protocol.CrownView{ParticipantID: c.participantID, UserID: c.userID, Time: c.time}
}

func (c *crown) heldBy(participantID string) bool {
	return c != nil && !c.absent && c.participantID != "" && c.participantID == participantID
}

// claimable reports whether joinerUserID may take a dropped crown at now.
func (c *crown) claimable(joinerUserID string, now int64) bool {
	if c == nil || c.absent {
		return false
	}
	if c.participantID != "" {
		return false // already held
	}
	if joinerUserID == c.userID {
		return true
	}
	return now-c.time >= CrownGraceWindow
}

// Channel is a named room: settings, an optional crown, participants, and
// a bounded chat history. Mutation is guarded by mu; callers never hold mu
// across a broadcast or other I/O.
type Channel struct {
	id      string
	special bool

	mu           sync.RWMutex
	settings     protocol.Settings
	crown        *crown
	participants map[string]protocol.Participant
	chat         []protocol.ChatEntry
}

// NewChannel constructs a channel. creatorUserID/now seed the crown's
// Dropped state for non-special channels; special channels get no crown.
func NewChannel(id string, now int64, creatorUserID string) *Channel {
	special := IsSpecialID(id)
	settings := DefaultSettings()
	if id == "lobby" {
		settings.Lobby = true
	}

	var cr *crown
	if special {
		cr = &crown{absent: true}
	} else {
		cr = &crown{userID: creatorUserID, time: now}
	}

	return &Channel{
		id:           id,
		special:      special,
		settings:     settings,
		crown:        cr,
		participants: make(map[string]protocol.Participant),
	}
}

// ID returns the channel's id.
func (c *Channel) ID() string { return c.id }

// IsSpecial reports whether this channel is frozen/never-deleted.
func (c *Channel) IsSpecial() bool { return c.special }

// Settings returns a copy of the current settings.
func (c *Channel) Settings() protocol.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// ParticipantCount returns the number of participants currently joined.
func (c *Channel) ParticipantCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.participants)
}

// Participants returns a snapshot of all participants.
func (c *Channel) Participants() []protocol.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p)
	}
	return out
}

// ParticipantIDs returns a snapshot of participant client ids, for
// broadcast fan-out (the snapshot-then-send pattern in §4.D).
func (c *Channel) ParticipantIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.participants))
	for id := range c.participants {
		out = append(out, id)
	}
	return out
}

// Has reports whether clientID is currently a participant.
func (c *Channel) Has(clientID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.participants[clientID]
	return ok
}

// Get returns one participant by client id.
func (c *Channel) Get(clientID string) (protocol.Participant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.participants[clientID]
	return p, ok
}

// Join inserts a new participant if the channel has room, and assigns the
// crown per §4.F's claim rule when eligible. now is the server timestamp.
// Returns the crown view to send the joiner, and ok=false if the channel
// was full (no state change in that case).
func (c *Channel) Join(p protocol.Participant, userID string, now int64) (crownView *protocol.CrownView, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.participants) >= Capacity {
		return nil, false
	}
	c.participants[p.ID] = p

	if !c.special && c.crown.claimable(userID, now) {
		c.crown.participantID = p.ID
		c.crown.userID = userID
		c.crown.time = now
	}
	return c.crown.view(), true
}

// Leave removes a participant. If they held the crown it is dropped
// (kept claimable by the same user within the grace window). Returns the
// removed participant and whether the channel is now empty.
func (c *Channel) Leave(clientID string, now int64) (p protocol.Participant, empty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.participants[clientID]
	if !ok {
		return protocol.Participant{}, len(c.participants) == 0
	}
	delete(c.participants, clientID)

	if !c.special && c.crown.heldBy(clientID) {
		c.crown.participantID = ""
		c.crown.time = now
	}
	return p, len(c.participants) == 0
}

// UpdateParticipant mutates one participant in place (cursor moves,
// userset) and returns the updated value.
func (c *Channel) UpdateParticipant(clientID string, mutate func(*protocol.Participant)) (protocol.Participant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.participants[clientID]
	if !ok {
		return protocol.Participant{}, false
	}
	mutate(&p)
	c.participants[clientID] = p
	return p, true
}

// CrownView returns the current crown projection (nil for special
// channels). A dropped crown has an empty ParticipantID and still names
// the user who may reclaim it during the grace window.
func (c *Channel) CrownView() *protocol.CrownView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.crown.view()
}

// CrownHeldBy reports whether participantID currently holds the crown.
func (c *Channel) CrownHeldBy(participantID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.crown.heldBy(participantID)
}

// DropCrown releases the crown (chown with no target), keeping it
// claimable by the same user during the grace window.
func (c *Channel) DropCrown(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.special {
		return
	}
	c.crown.participantID = ""
	c.crown.time = now
}

// TransferCrown assigns the crown directly to targetClientID/targetUserID.
func (c *Channel) TransferCrown(targetClientID, targetUserID string, now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.special {
		return
	}
	c.crown.participantID = targetClientID
	c.crown.userID = targetUserID
	c.crown.time = now
}

// ApplySettings validates and merges settings updates (§4.F chset).
// Unknown keys are ignored; type mismatches reject the whole update.
func (c *Channel) ApplySettings(update map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.settings
	if v, ok := update["color"]; ok {
		s, isStr := v.(string)
		if !isStr || !hexColorPattern.MatchString(s) {
			return fmt.Errorf("invalid color")
		}
		next.Color = s
	}
	if v, ok := update["chat"]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return fmt.Errorf("chat must be a boolean")
		}
		next.Chat = b
	}
	if v, ok := update["crownsolo"]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return fmt.Errorf("crownsolo must be a boolean")
		}
		next.CrownSolo = b
	}
	if v, ok := update["visible"]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return fmt.Errorf("visible must be a boolean")
		}
		next.Visible = b
	}
	c.settings = next
	return nil
}

// ChatHistory returns a snapshot of the retained chat messages.
func (c *Channel) ChatHistory() []protocol.ChatEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.ChatEntry, len(c.chat))
	copy(out, c.chat)
	return out
}

// AppendChat appends a message, evicting the oldest once the history
// exceeds MaxChatHistory (invariant 5, §8 boundary: 33rd evicts the 1st).
func (c *Channel) AppendChat(entry protocol.ChatEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chat = append(c.chat, entry)
	if len(c.chat) > MaxChatHistory {
		c.chat = c.chat[len(c.chat)-MaxChatHistory:]
	}
}

// ValidHexColor reports whether s is an acceptable CSS-style hex color.
func ValidHexColor(s string) bool {
	return hexColorPattern.MatchString(s)
}
