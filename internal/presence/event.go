package presence

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrChannelClosed is returned by Send on a closed channel
var ErrChannelClosed = errors.New("channel closed")

// Event is a named payload pushed to live clients
type Event struct {
	Name string `json:"event"`
	// ID identifies the underlying record when there is one, e.g. the notification id
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}

// NewEvent encodes data into an event
func NewEvent(name, id string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s event: %w", name, err)
	}
	return Event{Name: name, ID: id, Data: raw}, nil
}

// Channel is one live connection able to receive events
type Channel interface {
	ID() string
	Send(ev Event) error
	Close() error
}

// UserAddress is the personal address of a user
func UserAddress(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// ChatAddress is the shared address of a conversation
func ChatAddress(chatID uuid.UUID) string {
	return "chat:" + chatID.String()
}
