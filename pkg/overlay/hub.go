package overlay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const snapshotWriteTimeout = 5 * time.Second

// Hub is the single entry point to the overlay core. It owns the connection
// registry, the presence store, and the experience membership index, and it
// serializes every mutation under one lock so each operation is atomic with
// respect to the others: a presence record exists exactly while its identity
// has an open connection, and an identity is in at most one experience at any
// observable instant.
//
// The Hub never touches the transport package; delivery happens through the
// PushFunc registered with each connection.
type Hub struct {
	mu       sync.RWMutex
	registry *connectionRegistry
	presence *presenceStore
	index    *experienceIndex
	router   *messageRouter

	bridge SnapshotWriter
	logger *slog.Logger

	// detached snapshot writes, awaited only on Close
	writes sync.WaitGroup
}

func NewHub(logger *slog.Logger, bridge SnapshotWriter) *Hub {
	if bridge == nil {
		bridge = NopSnapshotWriter{}
	}
	registry := newConnectionRegistry()
	presence := newPresenceStore()
	index := newExperienceIndex(presence)
	return &Hub{
		registry: registry,
		presence: presence,
		index:    index,
		router:   &messageRouter{registry: registry, presence: presence, index: index},
		bridge:   bridge,
		logger:   logger.With(slog.String("component", "overlay_hub")),
	}
}

// Connect registers an authenticated connection and brings the identity's
// presence record into existence (or refreshes it). Idempotent per handle.
func (h *Hub) Connect(handle uuid.UUID, identity string, push PushFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.registry.register(handle, identity, push)
	h.presence.onConnect(identity, handle)
	h.logger.Debug("connection registered",
		slog.String("connID", handle.String()),
		slog.String("identity", identity))
}

// Disconnect removes a connection. When it was the identity's last one, the
// presence record is finalized: the terminal snapshot goes to the persistence
// bridge on a detached goroutine, the experience membership is dropped, and
// the record is removed. Unknown handles are ignored.
func (h *Hub) Disconnect(handle uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	identity, last := h.registry.unregister(handle)
	if identity == "" {
		return
	}
	h.logger.Debug("connection deregistered",
		slog.String("connID", handle.String()),
		slog.String("identity", identity),
		slog.Bool("last", last))
	if !last {
		return
	}

	snap, ok := h.presence.finalize(identity)
	if !ok {
		return
	}
	if snap.LastExperienceID != "" {
		h.index.removeMember(snap.LastExperienceID, identity)
	}
	h.writeThrough(snap)
}

// writeThrough hands the terminal snapshot to the bridge without awaiting it.
// Failures are logged and never block or fail the teardown path.
func (h *Hub) writeThrough(snap Snapshot) {
	h.writes.Add(1)
	go func() {
		defer h.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), snapshotWriteTimeout)
		defer cancel()
		if err := h.bridge.WriteSnapshot(ctx, snap); err != nil {
			h.logger.Warn("presence snapshot write failed",
				slog.String("identity", snap.Identity),
				slog.Any("error", err))
		}
	}()
}

// UpdatePresence sets status and detail, and, when experienceID is non-nil
// and differs from the current value, performs the implied experience
// join/leave. A nil experienceID leaves membership untouched; a pointer to
// the empty string leaves the current experience.
func (h *Hub) UpdatePresence(identity string, status Status, detail string, experienceID *string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.presence.setStatus(identity, status, detail); err != nil {
		return err
	}
	if experienceID == nil {
		return nil
	}
	if *experienceID == "" {
		h.index.leave(identity)
		return nil
	}
	return h.index.join(identity, *experienceID)
}

// JoinExperience moves the identity into experienceID, leaving any previous
// experience in the same step.
func (h *Hub) JoinExperience(identity, experienceID string) error {
	if experienceID == "" {
		return ErrMissingTargetID
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.index.join(identity, experienceID)
}

// LeaveExperience removes the identity from its current experience. Not being
// in one is a normal outcome, not an error.
func (h *Hub) LeaveExperience(identity string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.index.leave(identity)
}

// Send resolves the target and pushes the envelope to every live connection
// of every resolved identity. Zero recipients is a normal outcome reported in
// the receipt, not an error. Push failures on individual connections are the
// transport's to log; they never abort the remaining fan-out.
func (h *Hub) Send(target Target, env Envelope) (Receipt, error) {
	body, err := encodeEnvelope(env)
	if err != nil {
		return Receipt{}, err
	}

	h.mu.RLock()
	res, err := h.router.resolve(target)
	h.mu.RUnlock()
	if err != nil {
		return Receipt{}, err
	}

	for _, push := range res.pushers {
		push(body)
	}
	h.logger.Debug("message fanned out",
		slog.String("targetType", string(target.Type)),
		slog.String("targetID", target.ID),
		slog.String("kind", string(env.Type)),
		slog.Int("recipients", res.recipients),
		slog.Int("connections", len(res.pushers)))
	return Receipt{Delivered: res.recipients > 0, Recipients: res.recipients}, nil
}

// --- read-only surface (status/dashboard endpoints) ---

func (h *Hub) GetPresence(identity string) (PresenceRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.presence.get(identity)
}

func (h *Hub) GetAllPresences() []PresenceRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.presence.getAll()
}

func (h *Hub) GetExperienceMembers(experienceID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.index.membersOf(experienceID)
}

func (h *Hub) GetAllExperiences() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.index.allExperiences()
}

func (h *Hub) ExperienceOf(identity string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.index.experienceOf(identity)
}

func (h *Hub) ConnectionsFor(identity string) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry.connectionsFor(identity)
}

func (h *Hub) IdentityFor(handle uuid.UUID) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry.identityFor(handle)
}

func (h *Hub) ConnectionCount(identity string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry.connectionCount(identity)
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		ConnectedIdentities: h.presence.count(),
		OpenConnections:     h.registry.totalConnections(),
		Experiences:         h.index.allExperiences(),
	}
}

// Close waits for in-flight snapshot writes to finish. Called during graceful
// shutdown, after the transport layer has closed its connections.
func (h *Hub) Close() {
	h.writes.Wait()
}
