package weaveports

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRole is returned when a role falls outside the closed set of chat roles.
var ErrInvalidRole = errors.New("invalid role")

// Role identifies who produced a message.
type Role uint8

const (
	RoleSystem Role = iota
	RoleUser
	RoleAssistant
	RoleFunction
)

var roleNames = [...]string{
	RoleSystem:    "system",
	RoleUser:      "user",
	RoleAssistant: "assistant",
	RoleFunction:  "function",
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return int(r) < len(roleNames) }

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("role(%d)", uint8(r))
	}
	return roleNames[r]
}

// ParseRole maps a lowercase role name to a Role.
func ParseRole(s string) (Role, error) {
	for i, name := range roleNames {
		if name == s {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, uint8(r))
	}
	return []byte(roleNames[r]), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Message is a single immutable turn stored in a fragment.
type Message struct {
	Role      Role      `json:"role"`
	Author    string    `json:"author,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestMessage is the provider-facing shape of a message.
type RequestMessage struct {
	Role    Role
	Name    string // only set for user and assistant messages
	Content string
}

// SamplingParams are the fixed generation settings sent with every completion.
type SamplingParams struct {
	Model            string
	Temperature      float32
	PresencePenalty  float32
	FrequencyPenalty float32
}
