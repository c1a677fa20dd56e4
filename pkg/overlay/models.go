package overlay

import (
	"time"

	"github.com/google/uuid"
)

// Status is the live availability state of a connected identity.
type Status string

const (
	StatusOnline  Status = "online"
	StatusPlaying Status = "playing"
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
)

// Valid reports whether s is one of the recognized status values.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusPlaying, StatusIdle, StatusOffline:
		return true
	}
	return false
}

// PushFunc delivers an encoded message envelope to one transport connection.
// Implementations must be safe for concurrent use and must not block.
type PushFunc func(message []byte)

// PresenceRecord is the live presence state for one connected identity.
// One record exists per identity with at least one open connection.
type PresenceRecord struct {
	Identity     string
	Status       Status
	Detail       string
	ExperienceID string    // empty when not in an experience
	MostRecent   uuid.UUID // most recently registered connection handle
	ConnectedAt  time.Time
	UpdatedAt    time.Time
}

// TargetType selects how a message send resolves its recipients.
type TargetType string

const (
	TargetUser       TargetType = "user"
	TargetExperience TargetType = "experience"
	TargetGlobal     TargetType = "global"
)

// Target addresses a message at send time. It is never persisted.
type Target struct {
	Type TargetType `json:"type"`
	ID   string     `json:"id,omitempty"`
}

// MessageKind tags the outbound envelope so clients can dispatch on it.
type MessageKind string

const (
	KindAchievementUnlock MessageKind = "achievement_unlock"
	KindToast             MessageKind = "toast"
	KindCommand           MessageKind = "command"
)

// Receipt summarizes one send. Recipients counts identities, not raw
// connections; an identity with several clients still counts once.
type Receipt struct {
	Delivered  bool `json:"delivered"`
	Recipients int  `json:"recipients"`
}

// Snapshot is the terminal presence state written through to durable storage
// when an identity's last connection closes.
type Snapshot struct {
	Identity           string
	LastStatus         Status
	LastDetail         string
	LastExperienceID   string
	LastSeen           time.Time
	TotalOnlineSeconds int64
}

// Stats is the aggregate view served to dashboard endpoints.
type Stats struct {
	ConnectedIdentities int            `json:"connectedIdentities"`
	OpenConnections     int            `json:"openConnections"`
	Experiences         map[string]int `json:"experiences"`
}
