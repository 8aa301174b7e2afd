package models

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

type idKind uint8

const (
	idUnset idKind = iota
	idProvisional
	idDurable
)

// MessageID identifies a message either by the client-generated provisional id
// used before the store confirms persistence, or by the durable id the store assigned.
type MessageID struct {
	kind    idKind
	local   string
	durable int64
}

// ProvisionalID wraps a client-generated id.
func ProvisionalID(local string) MessageID {
	return MessageID{kind: idProvisional, local: local}
}

// DurableID wraps a store-assigned id.
func DurableID(id int64) MessageID {
	return MessageID{kind: idDurable, durable: id}
}

func (id MessageID) IsProvisional() bool { return id.kind == idProvisional }
func (id MessageID) IsDurable() bool     { return id.kind == idDurable }
func (id MessageID) IsZero() bool        { return id.kind == idUnset }

// Local returns the provisional id, or "" for durable ids.
func (id MessageID) Local() string {
	if id.kind != idProvisional {
		return ""
	}
	return id.local
}

// Durable returns the store id and whether the id is durable.
func (id MessageID) Durable() (int64, bool) {
	if id.kind != idDurable {
		return 0, false
	}
	return id.durable, true
}

func (id MessageID) String() string {
	switch id.kind {
	case idProvisional:
		return "provisional:" + id.local
	case idDurable:
		return "durable:" + strconv.FormatInt(id.durable, 10)
	default:
		return ""
	}
}

type messageIDJSON struct {
	Provisional string `json:"provisional,omitempty"`
	Durable     int64  `json:"durable,omitempty"`
}

func (id MessageID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idProvisional:
		return json.Marshal(messageIDJSON{Provisional: id.local})
	case idDurable:
		return json.Marshal(messageIDJSON{Durable: id.durable})
	default:
		return []byte("null"), nil
	}
}

func (id *MessageID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = MessageID{}
		return nil
	}
	var raw messageIDJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Durable != 0 && raw.Provisional != "":
		return errors.New("message id cannot be both provisional and durable")
	case raw.Durable != 0:
		*id = DurableID(raw.Durable)
	case raw.Provisional != "":
		*id = ProvisionalID(raw.Provisional)
	default:
		*id = MessageID{}
	}
	return nil
}

// Message is a chat message between exactly two users.
type Message struct {
	ID         MessageID `json:"id"`
	ClientID   string    `json:"client_id,omitempty"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Read       bool      `json:"read"`
}

// PeerOf returns the other party of the conversation as seen by userID.
func (m Message) PeerOf(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether userID is one of the two parties.
func (m Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}
