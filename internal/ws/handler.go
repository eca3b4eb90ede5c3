package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"pianorelay/server/internal/core"
	"pianorelay/server/internal/identity"
	"pianorelay/server/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const writeTimeout = 5 * time.Second

const (
	maxChatRunes = 512
	maxNameLen   = 40
)

// Handler owns websocket transport: connection accept, the per-socket
// inbound/outbound task pair, and dispatch of the 15 inbound protocol verbs
// against the shared entity store.
type Handler struct {
	state      *core.State
	upgrader   websocket.Upgrader
	production bool
	salt1      string
	salt2      string
}

// NewHandler binds a websocket handler to state. production/salt1/salt2
// parameterize identity derivation (§4.A).
func NewHandler(state *core.State, production bool, salt1, salt2 string) *Handler {
	return &Handler{
		state:      state,
		production: production,
		salt1:      salt1,
		salt2:      salt2,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds the websocket route on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	remoteAddr := c.RealIP()
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("ws upgrade failed", "remote", remoteAddr, "err", err)
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn, remoteAddr)
	return nil
}

func (h *Handler) serveConn(conn *websocket.Conn, remoteAddr string) {
	defer conn.Close()
	conn.SetReadLimit(1 << 20)

	userID := identity.Derive(remoteAddr, h.salt1, h.salt2, h.production)
	rec, queue := h.state.AddClient(userID)
	slog.Info("ws connected", "user_id", userID, "remote", remoteAddr)

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		// Closing the socket when the queue is closed (slow consumer) or a
		// write fails ends the read loop below, which runs disconnect.
		defer conn.Close()
		for data := range queue.Recv() {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("ws write error", "user_id", userID, "err", err)
				return
			}
		}
	}()

	defer func() {
		h.disconnect(userID, rec)
		<-pumpDone
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws unexpected close", "user_id", userID, "err", err)
			}
			return
		}
		if h.dispatchFrame(userID, rec, data) {
			return
		}
	}
}

// dispatchFrame decodes one text frame as a JSON array of message objects
// and dispatches each in order. A malformed frame or element is dropped
// silently (§4.E); the connection stays open. Returns true if the batch
// contained a "bye", signaling the caller to close the connection.
func (h *Handler) dispatchFrame(userID string, rec *core.ClientRecord, data []byte) bool {
	var batch []json.RawMessage
	if err := json.Unmarshal(data, &batch); err != nil {
		slog.Debug("ws malformed frame", "user_id", userID, "err", err)
		return false
	}

	bye := false
	for _, raw := range batch {
		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil || msg.M == "" {
			continue
		}
		if msg.M == protocol.TypeBye {
			bye = true
			continue
		}
		h.handleMessage(userID, rec, msg)
	}
	return bye
}

func (h *Handler) handleMessage(userID string, rec *core.ClientRecord, msg protocol.Message) {
	switch msg.M {
	case protocol.TypeHi:
		h.handleHi(userID, rec)
	case protocol.TypeLSAdd:
		h.handleLSAdd(userID)
	case protocol.TypeLSRemove:
		h.state.UnsubscribeLS(userID)
	case protocol.TypeTime:
		h.handleTime(userID, msg)
	case protocol.TypeJoin:
		h.joinChannel(userID, rec, msg.ID)
	case protocol.TypeChanSet:
		h.handleChanSet(userID, rec, msg)
	case protocol.TypeChanOwn:
		h.handleChanOwn(userID, rec, msg)
	case protocol.TypeKickBan:
		h.handleKickBan(userID, rec, msg)
	case protocol.TypeUnban:
		h.handleUnban(userID, rec, msg)
	case protocol.TypeUserSet:
		h.handleUserSet(userID, rec, msg)
	case protocol.TypeMove:
		h.handleMove(userID, rec, msg)
	case protocol.TypeNotes:
		h.handleNotes(userID, rec, msg)
	case protocol.TypeChat:
		h.handleChat(userID, rec, msg)
	case protocol.TypeDevices:
		// accepted, currently inert (§9 open question: not established
		// whether it should be echoed).
	default:
		slog.Debug("ws unknown verb", "user_id", userID, "m", msg.M)
	}
}

func nowMS() int64 { return time.Now().UnixMilli() }

// currentParticipant returns the client's participant projection,
// minting a default one (keyed by userID, since this implementation
// uses a single id namespace for client/participant/user) on first use.
func (h *Handler) currentParticipant(rec *core.ClientRecord, userID string) protocol.Participant {
	if p, ok := rec.Participant(); ok {
		return p
	}
	p := protocol.Participant{ID: userID, Name: userID, Color: core.DefaultSettings().Color}
	rec.SetParticipant(p)
	return p
}

func (h *Handler) currentChannel(rec *core.ClientRecord) (*core.Channel, bool) {
	id := rec.ChannelID()
	if id == "" {
		return nil, false
	}
	return h.state.Channel(id)
}

func (h *Handler) broadcastChannelList() {
	h.state.BroadcastToLS(protocol.Message{M: protocol.TypeChannelList, Channels: h.state.VisibleChannels()})
}

func (h *Handler) broadcastChannelState(ch *core.Channel) {
	h.state.BroadcastToChannel(ch, protocol.Message{
		M: protocol.TypeJoin,
		Channel: &protocol.ChannelView{
			ID:           ch.ID(),
			Settings:     ch.Settings(),
			Crown:        ch.CrownView(),
			Participants: ch.Participants(),
		},
	}, "")
}

// handleHi replies with the participant projection and quota parameters.
// It does not require a prior channel (§4.F "hi").
func (h *Handler) handleHi(userID string, rec *core.ClientRecord) {
	p := h.currentParticipant(rec, userID)
	h.state.SendToClient(userID, protocol.Message{M: protocol.TypeHi, Participant: &p})

	points, allowance, max, maxHist := rec.Quota.Params()
	h.state.SendToClient(userID, protocol.Message{M: protocol.TypeQuota, Quota: &protocol.QuotaParams{
		Points:     points,
		Allowance:  allowance,
		Max:        max,
		MaxHistLen: maxHist,
	}})
}

func (h *Handler) handleLSAdd(userID string) {
	h.state.SubscribeLS(userID)
	h.state.SendToClient(userID, protocol.Message{M: protocol.TypeChannelList, Channels: h.state.VisibleChannels()})
}

func (h *Handler) handleTime(userID string, msg protocol.Message) {
	h.state.SendToClient(userID, protocol.Message{M: protocol.TypeTime, T: nowMS(), E: msg.E})
}

// joinChannel implements "ch" (§4.F): ban check, leave any current
// channel, create-or-get the target, insert the participant, and fan out
// the resulting state. It also backs the forced relocation a kickban
// performs against its target.
func (h *Handler) joinChannel(userID string, rec *core.ClientRecord, targetID string) {
	if !core.ValidChannelID(targetID) {
		return
	}

	now := time.Now()
	if h.state.IsBanned(userID, targetID, now) {
		targetID = core.AwkwardChannel
	}

	if existing, ok := h.state.Channel(targetID); ok && existing.ParticipantCount() >= core.Capacity {
		return // channel at capacity: silent refusal, no state change
	}

	if cur := rec.ChannelID(); cur != "" {
		h.leaveChannel(userID, rec, cur)
	}

	ch, _ := h.state.GetOrCreateChannel(targetID, userID)

	p := h.currentParticipant(rec, userID)
	crownView, ok := ch.Join(p, userID, now.UnixMilli())
	if !ok {
		return // channel filled up after the check above: refused, previous channel already left
	}
	rec.SetChannelID(targetID)

	h.state.SendToClient(userID, protocol.Message{
		M: protocol.TypeJoin,
		Channel: &protocol.ChannelView{
			ID:           ch.ID(),
			Settings:     ch.Settings(),
			Crown:        crownView,
			Participants: ch.Participants(),
		},
	})
	h.state.SendToClient(userID, protocol.Message{M: protocol.TypeChatHistory, Chat: ch.ChatHistory()})
	h.state.BroadcastToChannel(ch, protocol.Message{M: protocol.TypeParticipant, Participant: &p}, userID)
	h.broadcastChannelList()
}

// leaveChannel removes userID from channelID, handling crown succession,
// the "bye" broadcast, empty-channel GC, and the ls snapshot refresh.
func (h *Handler) leaveChannel(userID string, rec *core.ClientRecord, channelID string) {
	ch, ok := h.state.Channel(channelID)
	if !ok {
		rec.SetChannelID("")
		return
	}
	_, empty := ch.Leave(userID, nowMS())
	rec.SetChannelID("")
	h.state.BroadcastToChannel(ch, protocol.Message{M: protocol.TypeBye, PID: userID}, "")
	if empty {
		h.state.DeleteChannelIfEmpty(ch)
	}
	h.broadcastChannelList()
}

func (h *Handler) handleChanSet(userID string, rec *core.ClientRecord, msg protocol.Message) {
	ch, ok := h.currentChannel(rec)
	if !ok || ch.IsSpecial() || !ch.CrownHeldBy(userID) {
		return
	}
	if err := ch.ApplySettings(msg.Set); err != nil {
		slog.Debug("chset rejected", "user_id", userID, "err", err)
		return
	}
	h.broadcastChannelState(ch)
}

func (h *Handler) handleChanOwn(userID string, rec *core.ClientRecord, msg protocol.Message) {
	ch, ok := h.currentChannel(rec)
	if !ok || ch.IsSpecial() || !ch.CrownHeldBy(userID) {
		return
	}
	now := nowMS()
	if msg.ID == "" {
		ch.DropCrown(now)
	} else {
		if !ch.Has(msg.ID) {
			return
		}
		ch.TransferCrown(msg.ID, msg.ID, now)
	}
	h.broadcastChannelState(ch)
}

func (h *Handler) handleKickBan(userID string, rec *core.ClientRecord, msg protocol.Message) {
	ch, ok := h.currentChannel(rec)
	if !ok || ch.IsSpecial() || !ch.CrownHeldBy(userID) {
		return
	}
	targetID := msg.ID
	if targetID == "" || !ch.Has(targetID) {
		return
	}

	duration := core.ClampDuration(time.Duration(msg.MS) * time.Millisecond)
	h.state.SetBan(targetID, core.Ban{ChannelID: ch.ID(), Expiry: time.Now().Add(duration)})

	if targetRec, ok := h.state.Client(targetID); ok {
		h.joinChannel(targetID, targetRec, core.AwkwardChannel)
	}
	h.state.BroadcastToChannel(ch, protocol.Message{
		M:            protocol.TypeNotification,
		Notification: fmt.Sprintf("%s was banned", targetID),
	}, "")
}

func (h *Handler) handleUnban(userID string, rec *core.ClientRecord, msg protocol.Message) {
	ch, ok := h.currentChannel(rec)
	if !ok || ch.IsSpecial() || !ch.CrownHeldBy(userID) {
		return
	}
	if !h.state.ClearBan(msg.ID, ch.ID()) {
		return
	}
	h.state.BroadcastToChannel(ch, protocol.Message{
		M:            protocol.TypeNotification,
		Notification: fmt.Sprintf("%s was unbanned", msg.ID),
	}, "")
}

func (h *Handler) handleUserSet(userID string, rec *core.ClientRecord, msg protocol.Message) {
	name, hasName := msg.Set["name"].(string)
	color, hasColor := msg.Set["color"].(string)
	if hasName && utf8.RuneCountInString(name) > maxNameLen {
		return
	}
	if hasColor && !core.ValidHexColor(color) {
		return
	}
	if !hasName && !hasColor {
		return
	}

	p := h.currentParticipant(rec, userID)
	if hasName {
		p.Name = name
	}
	if hasColor {
		p.Color = color
	}
	rec.SetParticipant(p)

	chID := rec.ChannelID()
	if chID == "" {
		return
	}
	ch, ok := h.state.Channel(chID)
	if !ok {
		return
	}
	ch.UpdateParticipant(userID, func(pp *protocol.Participant) {
		if hasName {
			pp.Name = name
		}
		if hasColor {
			pp.Color = color
		}
	})
	h.state.BroadcastToChannel(ch, protocol.Message{M: protocol.TypeParticipant, Participant: &p}, "")
}

func (h *Handler) handleMove(userID string, rec *core.ClientRecord, msg protocol.Message) {
	if msg.X == nil || msg.Y == nil {
		return
	}
	if !rec.ShouldMove(time.Now()) {
		return
	}
	chID := rec.ChannelID()
	if chID == "" {
		return
	}
	ch, ok := h.state.Channel(chID)
	if !ok {
		return
	}
	x, y := *msg.X, *msg.Y
	ch.UpdateParticipant(userID, func(p *protocol.Participant) {
		p.X = x
		p.Y = y
	})
	h.state.BroadcastToChannel(ch, protocol.Message{M: protocol.TypeMove, PID: userID, X: msg.X, Y: msg.Y}, userID)
}

func (h *Handler) handleNotes(userID string, rec *core.ClientRecord, msg protocol.Message) {
	chID := rec.ChannelID()
	if chID == "" {
		return
	}
	ch, ok := h.state.Channel(chID)
	if !ok {
		return
	}
	cost := len(msg.Notes)
	if !rec.Quota.Spend(cost) {
		h.state.SendToClient(userID, protocol.Message{M: protocol.TypeNotification, Notification: "note quota exceeded"})
		return
	}
	h.state.BroadcastToChannel(ch, protocol.Message{
		M:     protocol.TypeNotes,
		P:     userID,
		T:     nowMS(),
		Notes: msg.Notes,
	}, userID)
}

func (h *Handler) handleChat(userID string, rec *core.ClientRecord, msg protocol.Message) {
	chID := rec.ChannelID()
	if chID == "" {
		return
	}
	ch, ok := h.state.Channel(chID)
	if !ok || !ch.Settings().Chat {
		return
	}
	text := trimToRunes(strings.TrimSpace(msg.A), maxChatRunes)
	if text == "" {
		return
	}

	p := h.currentParticipant(rec, userID)
	ts := nowMS()
	ch.AppendChat(protocol.ChatEntry{
		Participant: protocol.ParticipantRef{ID: p.ID, Name: p.Name, Color: p.Color},
		A:           text,
		T:           ts,
	})
	h.state.BroadcastToChannel(ch, protocol.Message{M: protocol.TypeChat, A: text, Participant: &p, T: ts}, "")
}

func trimToRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// disconnect runs the full lifecycle teardown for a closing connection
// (§4.H): leave any channel, close the outbound queue, and drop the
// client record. Bans are left untouched.
func (h *Handler) disconnect(userID string, rec *core.ClientRecord) {
	if chID := rec.ChannelID(); chID != "" {
		h.leaveChannel(userID, rec, chID)
	}
	h.state.RemoveClient(userID)
	slog.Info("ws disconnected", "user_id", userID)
}
