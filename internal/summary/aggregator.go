// Package summary keeps per-user and per-device chat list projections up to
// date as messages arrive and are read, without re-reading history.
//
// A user's state exists only while at least one of their devices is
// attached. Each device has its own view because unread counts are only
// guaranteed consistent per device: a conversation open on one device keeps
// that device's counter flat while the user's other devices still count.
package summary

import (
	"hash/fnv"
	"sync"

	"coachconnect-chat/internal/models"
)

const shardCount = 64

// Device is a live connection whose view the aggregator maintains.
type Device interface {
	ID() string
	UserID() string
	ActivePeer() string
}

type view struct {
	device    Device
	summaries map[string]*models.ChatSummary
	syncing   bool
	dirty     bool
}

type userState struct {
	summaries map[string]*models.ChatSummary
	views     map[string]*view
}

type shard struct {
	mu    sync.Mutex
	users map[string]*userState
}

type Aggregator struct {
	shards [shardCount]*shard
}

func New() *Aggregator {
	a := &Aggregator{}
	for i := range a.shards {
		a.shards[i] = &shard{users: make(map[string]*userState)}
	}
	return a
}

func (a *Aggregator) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return a.shards[h.Sum32()%shardCount]
}

// BeginSync attaches d with an empty view that records whether any event
// touched it before CompleteSync installs the snapshot.
func (a *Aggregator) BeginSync(d Device) {
	s := a.shardFor(d.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.users[d.UserID()]
	if !ok {
		st = &userState{
			summaries: make(map[string]*models.ChatSummary),
			views:     make(map[string]*view),
		}
		s.users[d.UserID()] = st
	}
	v, ok := st.views[d.ID()]
	if !ok {
		v = &view{device: d, summaries: make(map[string]*models.ChatSummary)}
		st.views[d.ID()] = v
	}
	v.syncing = true
	v.dirty = false
}

// CompleteSync installs a store snapshot for d and the user projection. It
// returns false when events arrived during the load, in which case the
// snapshot may be stale and the caller should load again.
func (a *Aggregator) CompleteSync(d Device, snapshot []models.ChatSummary) bool {
	s := a.shardFor(d.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.users[d.UserID()]
	if !ok {
		return true
	}
	v, ok := st.views[d.ID()]
	if !ok {
		return true
	}
	v.summaries = fromSnapshot(snapshot)
	st.summaries = fromSnapshot(snapshot)
	clean := !v.dirty
	v.syncing = false
	v.dirty = false
	return clean
}

// Seed attaches d with a snapshot in one step.
func (a *Aggregator) Seed(d Device, snapshot []models.ChatSummary) {
	a.BeginSync(d)
	a.CompleteSync(d, snapshot)
}

// Detach drops d's view; the user's state goes with their last device.
func (a *Aggregator) Detach(d Device) {
	s := a.shardFor(d.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.users[d.UserID()]
	if !ok {
		return
	}
	delete(st.views, d.ID())
	if len(st.views) == 0 {
		delete(s.users, d.UserID())
	}
}

// OnMessageSent applies msg to both parties. The two updates are independent
// and take separate locks.
func (a *Aggregator) OnMessageSent(msg models.Message) {
	a.apply(msg.SenderID, func(st *userState) {
		upsert(st.summaries, msg.ReceiverID, msg, false)
		for _, v := range st.views {
			upsert(v.summaries, msg.ReceiverID, msg, false)
			v.touch()
		}
	})
	a.apply(msg.ReceiverID, func(st *userState) {
		upsert(st.summaries, msg.SenderID, msg, true)
		for _, v := range st.views {
			upsert(v.summaries, msg.SenderID, msg, v.device.ActivePeer() != msg.SenderID)
			v.touch()
		}
	})
}

// OnMarkRead zeroes the unread count of one summary in the user projection
// and in deviceID's view. Other devices are untouched.
func (a *Aggregator) OnMarkRead(userID, peerID, deviceID string) {
	a.apply(userID, func(st *userState) {
		if cs, ok := st.summaries[peerID]; ok {
			cs.UnreadCount = 0
		}
		if v, ok := st.views[deviceID]; ok {
			if cs, ok := v.summaries[peerID]; ok {
				cs.UnreadCount = 0
			}
			v.touch()
		}
	})
}

// SyncRead zeroes peerID's unread count on every device of userID.
func (a *Aggregator) SyncRead(userID, peerID string) {
	a.apply(userID, func(st *userState) {
		if cs, ok := st.summaries[peerID]; ok {
			cs.UnreadCount = 0
		}
		for _, v := range st.views {
			if cs, ok := v.summaries[peerID]; ok {
				cs.UnreadCount = 0
			}
			v.touch()
		}
	})
}

// TotalUnread sums the user projection.
func (a *Aggregator) TotalUnread(userID string) int {
	total := 0
	a.apply(userID, func(st *userState) {
		total = sumUnread(st.summaries)
	})
	return total
}

// DeviceUnread sums d's view.
func (a *Aggregator) DeviceUnread(d Device) int {
	total := 0
	a.applyView(d, func(v *view) {
		total = sumUnread(v.summaries)
	})
	return total
}

// Summaries returns an unordered copy of the user projection.
func (a *Aggregator) Summaries(userID string) []models.ChatSummary {
	var out []models.ChatSummary
	a.apply(userID, func(st *userState) {
		out = copyAll(st.summaries)
	})
	return out
}

// DeviceSummaries returns an unordered copy of d's view.
func (a *Aggregator) DeviceSummaries(d Device) []models.ChatSummary {
	var out []models.ChatSummary
	a.applyView(d, func(v *view) {
		out = copyAll(v.summaries)
	})
	return out
}

// DeviceSummary returns d's summary for peerID.
func (a *Aggregator) DeviceSummary(d Device, peerID string) (models.ChatSummary, bool) {
	var (
		out   models.ChatSummary
		found bool
	)
	a.applyView(d, func(v *view) {
		if cs, ok := v.summaries[peerID]; ok {
			out, found = *cs, true
		}
	})
	return out, found
}

func (a *Aggregator) apply(userID string, fn func(*userState)) {
	s := a.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.users[userID]; ok {
		fn(st)
	}
}

func (a *Aggregator) applyView(d Device, fn func(*view)) {
	a.apply(d.UserID(), func(st *userState) {
		if v, ok := st.views[d.ID()]; ok {
			fn(v)
		}
	})
}

func (v *view) touch() {
	if v.syncing {
		v.dirty = true
	}
}

func upsert(summaries map[string]*models.ChatSummary, peerID string, msg models.Message, countUnread bool) {
	cs, ok := summaries[peerID]
	if !ok {
		cs = &models.ChatSummary{PeerID: peerID}
		summaries[peerID] = cs
	}
	if cs.LastMessageTime == nil || !msg.CreatedAt.Before(*cs.LastMessageTime) {
		ts := msg.CreatedAt
		cs.LastMessageTime = &ts
		cs.LastMessagePreview = models.Preview(msg.Content)
	}
	cs.HasMessages = true
	if countUnread {
		cs.UnreadCount++
	}
}

func fromSnapshot(snapshot []models.ChatSummary) map[string]*models.ChatSummary {
	out := make(map[string]*models.ChatSummary, len(snapshot))
	for _, cs := range snapshot {
		c := cs
		if cs.LastMessageTime != nil {
			ts := *cs.LastMessageTime
			c.LastMessageTime = &ts
		}
		out[cs.PeerID] = &c
	}
	return out
}

func copyAll(summaries map[string]*models.ChatSummary) []models.ChatSummary {
	out := make([]models.ChatSummary, 0, len(summaries))
	for _, cs := range summaries {
		c := *cs
		if cs.LastMessageTime != nil {
			ts := *cs.LastMessageTime
			c.LastMessageTime = &ts
		}
		out = append(out, c)
	}
	return out
}

func sumUnread(summaries map[string]*models.ChatSummary) int {
	n := 0
	for _, cs := range summaries {
		n += cs.UnreadCount
	}
	return n
}
