package delivery

import (
	"context"

	"go.uber.org/zap"

	"coachconnect-chat/internal/broker"
	"coachconnect-chat/internal/models"
	"coachconnect-chat/internal/ws"
)

// Dispatch applies a bus event to the live connections held by this node.
func (r *Router) Dispatch(_ context.Context, ev broker.Event) {
	switch ev.Kind {
	case broker.KindMessageCreated:
		if ev.Message != nil {
			r.dispatchMessage(*ev.Message, ev.OriginConnID)
		}
	case broker.KindConversationRead:
		if ev.Read != nil {
			r.dispatchRead(*ev.Read, ev.OriginConnID)
		}
	default:
		r.log.Warn("unknown event kind", zap.String("kind", string(ev.Kind)))
	}
}

func (r *Router) dispatchMessage(msg models.Message, originConnID string) {
	r.summaries.OnMessageSent(msg)

	event := models.ChatEvent{Type: models.EventNewMessage, Message: &msg}

	var viewer *ws.Conn
	for _, h := range r.registry.HandlesFor(msg.ReceiverID) {
		r.push(h, event)
		r.pushUnread(h)
		r.pushChat(h, msg.SenderID)
		if viewer == nil && h.ActivePeer() == msg.SenderID {
			viewer = h
		}
	}
	if viewer != nil {
		r.markSeen(viewer, msg.ReceiverID, msg.SenderID)
	}
	// The origin already has the message through its send_ack.
	for _, h := range r.registry.HandlesFor(msg.SenderID) {
		if h.ID() != originConnID {
			r.push(h, event)
		}
		r.pushChat(h, msg.ReceiverID)
	}
}

func (r *Router) dispatchRead(read broker.ReadEvent, originConnID string) {
	syncAll := r.cfg.CrossDeviceReadSync || originConnID == ""
	if syncAll {
		r.summaries.SyncRead(read.UserID, read.PeerID)
	} else {
		r.summaries.OnMarkRead(read.UserID, read.PeerID, originConnID)
	}

	for _, h := range r.registry.HandlesFor(read.UserID) {
		if syncAll || h.ID() == originConnID {
			r.pushUnread(h)
			r.pushChat(h, read.PeerID)
		}
	}

	if read.Count == 0 {
		return
	}
	receipt := models.ChatEvent{
		Type:    models.EventMessagesRead,
		Receipt: &models.ReadReceipt{ReaderID: read.UserID, PeerID: read.PeerID, Count: read.Count},
	}
	for _, h := range r.registry.HandlesFor(read.PeerID) {
		r.push(h, receipt)
	}
}

// markSeen stores the read state of a message shown on a device that has
// the conversation open, so the next resync agrees with the flat badge.
func (r *Router) markSeen(h *ws.Conn, userID, peerID string) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		if _, err := r.MarkRead(context.Background(), userID, peerID, h); err != nil {
			r.log.Warn("seen message not marked read",
				zap.String("user_id", userID),
				zap.String("peer_id", peerID),
				zap.String("conn_id", h.ID()),
				zap.Error(err),
			)
		}
	}()
}

func (r *Router) pushUnread(h *ws.Conn) {
	r.push(h, models.UnreadEvent(r.summaries.DeviceUnread(h)))
}

// pushChat sends the device's current summary for peerID as a chat list
// refresh hint.
func (r *Router) pushChat(h *ws.Conn, peerID string) {
	cs, ok := r.summaries.DeviceSummary(h, peerID)
	if !ok {
		return
	}
	r.push(h, models.ChatEvent{Type: models.EventChatUpdated, Chat: &cs})
}
