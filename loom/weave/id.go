package weave

import "github.com/google/uuid"

// ConversationID identifies a conversation. BaseKey must be stable and unique;
// equality between identities is equality of their keys.
type ConversationID interface {
	BaseKey() string
}

// StringID is the simplest ConversationID.
type StringID string

func (id StringID) BaseKey() string { return string(id) }
func (id StringID) String() string  { return string(id) }

// CompositeID scopes a conversation under a parent identity, e.g. a guild and a channel.
type CompositeID struct {
	ID    string
	SubID string
}

func (id CompositeID) BaseKey() string {
	if id.SubID == "" {
		return id.ID
	}
	return id.ID + ":" + id.SubID
}

func (id CompositeID) String() string { return id.BaseKey() }

// NewConversationID returns a fresh random identity.
func NewConversationID() StringID {
	return StringID(uuid.NewString())
}
