// Package feed defines the per-user change feed: events announcing that a
// user's ledger rows changed, and the ports used to publish and subscribe to
// them. Events carry no row data; a subscriber reacts by refetching.
package feed

import (
	"time"

	"github.com/google/uuid"
)

// Op names the row-level write that produced an event.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event announces that something changed for UserID.
type Event struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Op        Op        `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps a fresh event for userID.
func NewEvent(userID string, op Op) Event {
	return Event{
		ID:        uuid.NewString(),
		UserID:    userID,
		Op:        op,
		Timestamp: time.Now().UTC(),
	}
}

// ChannelName is the logical channel carrying userID's events.
func ChannelName(userID string) string {
	return "expenses:" + userID
}
