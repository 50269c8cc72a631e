package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"expensesync/internal/feed"
)

// ChangeMessage is the wire form of a feed event. It names the user and the
// operation only; consumers refetch the rows themselves.
type ChangeMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Op        string    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChangeMessage wraps a feed event for publishing
func NewChangeMessage(e feed.Event) *ChangeMessage {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &ChangeMessage{
		ID:        e.ID,
		UserID:    e.UserID,
		Op:        string(e.Op),
		Timestamp: ts,
	}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON creates a message from JSON bytes
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" {
		return nil, errors.New("change message without user_id")
	}
	return &msg, nil
}

// Event converts the message back to a feed event.
func (m *ChangeMessage) Event() feed.Event {
	return feed.Event{
		ID:        m.ID,
		UserID:    m.UserID,
		Op:        feed.Op(m.Op),
		Timestamp: m.Timestamp,
	}
}
