// Package protocol defines the JSON wire format exchanged over the
// websocket: each direction carries an array of message objects, each
// selecting a verb via its "m" field.
package protocol

// Verbs accepted from the client.
const (
	TypeHi       = "hi"
	TypeBye      = "bye"
	TypeLSAdd    = "+ls"
	TypeLSRemove = "-ls"
	TypeTime     = "t"
	TypeChat     = "a"
	TypeNotes    = "n"
	TypeMove     = "m"
	TypeUserSet  = "userset"
	TypeJoin     = "ch"
	TypeChanSet  = "chset"
	TypeChanOwn  = "chown"
	TypeKickBan  = "kickban"
	TypeUnban    = "unban"
	TypeDevices  = "devices"
)

// Verbs emitted to the client. Several are shared with the inbound set
// ("hi", "t", "a", "n", "m", "ch", "bye") since those verbs are replied
// to, echoed or broadcast under the same name rather than a distinct one.
const (
	TypeQuota        = "nq"
	TypeChannelList  = "ls"
	TypeChatHistory  = "c"
	TypeParticipant  = "p"
	TypeNotification = "notification"
)

// Message is the envelope for every object inside an inbound or outbound
// JSON array frame. Only the fields relevant to a given "m" are populated;
// everything else is the zero value and omitted on the wire.
type Message struct {
	M string `json:"m"`

	// Identifiers.
	ID  string `json:"_id,omitempty"`
	P   string `json:"p,omitempty"`
	PID string `json:"id,omitempty"`

	// hi / ch / userset / p.
	Participant *Participant `json:"participant,omitempty"`

	// ch / c.
	Channel  *ChannelView `json:"ch,omitempty"`
	Chat     []ChatEntry  `json:"c,omitempty"`
	Settings *Settings    `json:"settings,omitempty"`

	// chset.
	Set map[string]any `json:"set,omitempty"`

	// t (time sync).
	T int64  `json:"t,omitempty"`
	E string `json:"e,omitempty"`

	// ls.
	Channels []ChannelSummary `json:"channels,omitempty"`

	// m (cursor).
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`

	// n (notes).
	Notes []Note `json:"n,omitempty"`

	// a (chat).
	A string `json:"a,omitempty"`

	// kickban / unban.
	MS int64 `json:"ms,omitempty"`

	// nq (note quota parameters).
	Quota *QuotaParams `json:"quota,omitempty"`

	// notification.
	Notification string `json:"notification,omitempty"`
}

// Participant is the public per-channel projection of a client.
type Participant struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Color string  `json:"color"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// ParticipantRef is the compact id+name+color triple carried on chat
// messages, distinct from Participant because it never carries a cursor.
type ParticipantRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Settings is a channel's configurable behavior.
type Settings struct {
	Color     string `json:"color"`
	Chat      bool   `json:"chat"`
	CrownSolo bool   `json:"crownsolo"`
	Visible   bool   `json:"visible"`
	Lobby     bool   `json:"lobby"`
}

// CrownView is the wire projection of crown ownership.
type CrownView struct {
	ParticipantID string `json:"participant_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	Time          int64  `json:"time"`
}

// ChannelView is the full channel snapshot sent to a joiner.
type ChannelView struct {
	ID           string        `json:"_id"`
	Settings     Settings      `json:"settings"`
	Crown        *CrownView    `json:"crown,omitempty"`
	Participants []Participant `json:"participants"`
}

// ChannelSummary is the brief per-channel entry in an "ls" snapshot.
type ChannelSummary struct {
	ID    string `json:"_id"`
	Count int    `json:"count"`
}

// ChatEntry is one retained chat message.
type ChatEntry struct {
	Participant ParticipantRef `json:"participant"`
	A           string         `json:"a"`
	T           int64          `json:"t"`
}

// Note is one inbound note event.
type Note struct {
	N string  `json:"n"`
	V float64 `json:"v"`
	D int64   `json:"d,omitempty"`
	S bool    `json:"s,omitempty"`
}

// QuotaParams mirrors the parameters reported to the client in "nq".
type QuotaParams struct {
	Points     int `json:"points"`
	Allowance  int `json:"allowance"`
	Max        int `json:"max"`
	MaxHistLen int `json:"max_hist_len"`
}
