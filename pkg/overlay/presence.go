package overlay

import (
	"time"

	"github.com/google/uuid"
)

// presenceStore owns the PresenceRecord values. A record exists exactly while
// its identity has at least one open connection; the Hub enforces that by
// pairing every registry mutation with the matching call here.
//
// Lock-free by itself; serialized by the owning Hub.
type presenceStore struct {
	records map[string]*PresenceRecord
}

func newPresenceStore() *presenceStore {
	return &presenceStore{records: make(map[string]*PresenceRecord)}
}

// onConnect creates the record on an identity's first connection and refreshes
// the most-recent pointer on subsequent ones. Idempotent.
func (p *presenceStore) onConnect(identity string, handle uuid.UUID) *PresenceRecord {
	now := time.Now()
	rec, ok := p.records[identity]
	if !ok {
		rec = &PresenceRecord{
			Identity:    identity,
			Status:      StatusOnline,
			MostRecent:  handle,
			ConnectedAt: now,
			UpdatedAt:   now,
		}
		p.records[identity] = rec
		return rec
	}
	rec.MostRecent = handle
	rec.UpdatedAt = now
	return rec
}

// setStatus updates status and detail only. Experience transitions are the
// membership index's job; the Hub composes the two (see Hub.UpdatePresence).
func (p *presenceStore) setStatus(identity string, status Status, detail string) error {
	rec, ok := p.records[identity]
	if !ok {
		return ErrNotConnected
	}
	if !status.Valid() {
		return ErrInvalidStatus
	}
	rec.Status = status
	rec.Detail = detail
	rec.UpdatedAt = time.Now()
	return nil
}

// setExperience records the identity's current experience id. Called only by
// the membership index so the record and the reverse index move together.
func (p *presenceStore) setExperience(identity, experienceID string) {
	rec, ok := p.records[identity]
	if !ok {
		return
	}
	rec.ExperienceID = experienceID
	rec.UpdatedAt = time.Now()
}

func (p *presenceStore) get(identity string) (PresenceRecord, bool) {
	rec, ok := p.records[identity]
	if !ok {
		return PresenceRecord{}, false
	}
	return *rec, true
}

func (p *presenceStore) getAll() []PresenceRecord {
	all := make([]PresenceRecord, 0, len(p.records))
	for _, rec := range p.records {
		all = append(all, *rec)
	}
	return all
}

func (p *presenceStore) count() int {
	return len(p.records)
}

// finalize removes the record and returns the terminal snapshot for
// write-through. Returns false when no record exists.
func (p *presenceStore) finalize(identity string) (Snapshot, bool) {
	rec, ok := p.records[identity]
	if !ok {
		return Snapshot{}, false
	}
	delete(p.records, identity)

	now := time.Now()
	return Snapshot{
		Identity:           rec.Identity,
		LastStatus:         rec.Status,
		LastDetail:         rec.Detail,
		LastExperienceID:   rec.ExperienceID,
		LastSeen:           now,
		TotalOnlineSeconds: int64(now.Sub(rec.ConnectedAt) / time.Second),
	}, true
}
