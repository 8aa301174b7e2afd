package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"coachconnect-chat/internal/models"
)

// MemoryStore is an in-process MessageStore used when no database is
// configured and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	messages  []models.Message
	byClient  map[string]int
	names     map[string]string
	relations map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byClient:  make(map[string]int),
		names:     make(map[string]string),
		relations: make(map[string]map[string]struct{}),
	}
}

// SetDisplayName seeds a user profile name.
func (s *MemoryStore) SetDisplayName(userID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[userID] = name
}

// AddRelationship links a trainer and a client so they appear in each other's chat list.
func (s *MemoryStore) AddRelationship(trainerID, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.link(trainerID, clientID)
	s.link(clientID, trainerID)
}

func (s *MemoryStore) link(a, b string) {
	if _, ok := s.relations[a]; !ok {
		s.relations[a] = make(map[string]struct{})
	}
	s.relations[a][b] = struct{}{}
}

func (s *MemoryStore) Append(ctx context.Context, msg models.Message) (models.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, false, err
	}
	if err := validateForAppend(msg); err != nil {
		return models.Message{}, false, err
	}

	key := clientKey(msg.SenderID, msg.ClientID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ClientID != "" {
		if idx, ok := s.byClient[key]; ok {
			return s.messages[idx], false, nil
		}
	}
	s.nextID++
	stored := msg
	stored.ID = models.DurableID(s.nextID)
	stored.Read = false
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, stored)
	if msg.ClientID != "" {
		s.byClient[key] = len(s.messages) - 1
	}
	return stored, true, nil
}

func clientKey(senderID, clientID string) string {
	return senderID + "\x00" + clientID
}

func (s *MemoryStore) ListConversation(ctx context.Context, userA, userB string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.Involves(userA) && m.PeerOf(userA) == userB {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, userID, peerID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.ReceiverID == userID && m.SenderID == peerID && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if m.ReceiverID == userID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	byPeer := make(map[string]*models.ChatSummary)
	get := func(peerID string) *models.ChatSummary {
		if cs, ok := byPeer[peerID]; ok {
			return cs
		}
		cs := &models.ChatSummary{PeerID: peerID, PeerName: s.names[peerID]}
		byPeer[peerID] = cs
		return cs
	}

	for peerID := range s.relations[userID] {
		get(peerID)
	}
	for _, m := range s.messages {
		if !m.Involves(userID) {
			continue
		}
		cs := get(m.PeerOf(userID))
		if cs.LastMessageTime == nil || !m.CreatedAt.Before(*cs.LastMessageTime) {
			ts := m.CreatedAt
			cs.LastMessageTime = &ts
			cs.LastMessagePreview = models.Preview(m.Content)
		}
		cs.HasMessages = true
		if m.ReceiverID == userID && !m.Read {
			cs.UnreadCount++
		}
	}

	out := make([]models.ChatSummary, 0, len(byPeer))
	for _, cs := range byPeer {
		out = append(out, *cs)
	}
	SortByRecency(out)
	return out, nil
}

// SortByRecency orders summaries newest first; peers without messages go last.
func SortByRecency(chats []models.ChatSummary) {
	sort.SliceStable(chats, func(i, j int) bool {
		a, b := chats[i].LastMessageTime, chats[j].LastMessageTime
		switch {
		case a == nil && b == nil:
			return chats[i].PeerID < chats[j].PeerID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return chats[i].PeerID < chats[j].PeerID
		default:
			return a.After(*b)
		}
	})
}
