package overlay

import (
	"encoding/json"
	"fmt"
)

// Envelope is the single outbound message shape pushed to clients, delivered
// verbatim to every resolved connection.
type Envelope struct {
	Type    MessageKind `json:"type"`
	Payload any         `json:"payload"`
}

// AchievementUnlockPayload notifies a client that it earned an achievement.
type AchievementUnlockPayload struct {
	AchievementID string `json:"achievementId"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Points        int    `json:"points,omitempty"`
}

// ToastPayload is a transient on-screen notification.
type ToastPayload struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// CommandPayload instructs the client to run a named remote command.
type CommandPayload struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// The three envelope constructors are pure payload shaping over Hub.Send.

func AchievementUnlockEnvelope(p AchievementUnlockPayload) Envelope {
	return Envelope{Type: KindAchievementUnlock, Payload: p}
}

func ToastEnvelope(title, body string) Envelope {
	return Envelope{Type: KindToast, Payload: ToastPayload{Title: title, Body: body}}
}

func CommandEnvelope(command string, args json.RawMessage) Envelope {
	return Envelope{Type: KindCommand, Payload: CommandPayload{Command: command, Args: args}}
}

func encodeEnvelope(env Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return body, nil
}

// messageRouter resolves logical targets into live connections. It owns no
// state of its own; it only reads the registry, presence, and membership
// structures, and it looks connection handles up at send time rather than
// caching them, so a handle that has been unregistered is never resolved.
type messageRouter struct {
	registry *connectionRegistry
	presence *presenceStore
	index    *experienceIndex
}

// resolution is the outcome of resolving one target: the push functions for
// every live connection plus the logical recipient count. Recipients counts
// identities, so a user with two clients is one recipient pushed to twice.
type resolution struct {
	pushers    []PushFunc
	recipients int
}

func (r *messageRouter) resolve(target Target) (resolution, error) {
	switch target.Type {
	case TargetUser:
		if target.ID == "" {
			return resolution{}, ErrMissingTargetID
		}
		pushers := r.registry.pushersFor(target.ID)
		res := resolution{pushers: pushers}
		if len(pushers) > 0 {
			res.recipients = 1
		}
		return res, nil

	case TargetExperience:
		if target.ID == "" {
			return resolution{}, ErrMissingTargetID
		}
		var res resolution
		for _, member := range r.index.membersOf(target.ID) {
			pushers := r.registry.pushersFor(member)
			if len(pushers) == 0 {
				continue
			}
			res.pushers = append(res.pushers, pushers...)
			res.recipients++
		}
		return res, nil

	case TargetGlobal:
		var res resolution
		for _, rec := range r.presence.getAll() {
			pushers := r.registry.pushersFor(rec.Identity)
			if len(pushers) == 0 {
				continue
			}
			res.pushers = append(res.pushers, pushers...)
			res.recipients++
		}
		return res, nil
	}
	return resolution{}, ErrUnknownTargetType
}
