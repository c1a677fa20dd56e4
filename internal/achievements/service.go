package achievements

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/HynixCorp/reach-backend-sub000/pkg/overlay"
)

// ErrUnknownAchievement is returned when the catalog has no definition for
// the requested achievement id.
var ErrUnknownAchievement = errors.New("unknown achievement")

// Achievement is one catalog definition.
type Achievement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Points      int    `json:"points,omitempty"`
}

// Unlock is one recorded (identity, achievement) pair.
type Unlock struct {
	Identity      string    `json:"identity"`
	AchievementID string    `json:"achievementId"`
	UnlockedAt    time.Time `json:"unlockedAt"`
}

// Catalog is the achievement definition store.
type Catalog interface {
	GetAchievement(ctx context.Context, id string) (Achievement, error)
	PutAchievement(ctx context.Context, a Achievement) error
	ListAchievements(ctx context.Context) ([]Achievement, error)
}

// UnlockStore records per-identity unlocks. RecordUnlock is an idempotent
// check-and-insert: inserting an existing pair reports inserted=false with no
// error.
type UnlockStore interface {
	RecordUnlock(ctx context.Context, identity, achievementID string, at time.Time) (inserted bool, err error)
	ListUnlocks(ctx context.Context, identity string) ([]Unlock, error)
}

// Sender is the slice of the overlay hub the unlock flow needs.
type Sender interface {
	Send(target overlay.Target, env overlay.Envelope) (overlay.Receipt, error)
}

// Result reports the outcome of one unlock attempt. Both a duplicate unlock
// and an offline target are normal outcomes, not errors.
type Result struct {
	AlreadyUnlocked bool `json:"alreadyUnlocked"`
	Notified        bool `json:"notified"`
}

// Service implements the unlock flow: check-and-record in the unlock store,
// then, on a first-time unlock, push an achievement notification to the
// identity's connected clients. The unlock persists whether or not the
// identity is reachable; there is no retry or queued delivery.
type Service struct {
	catalog Catalog
	unlocks UnlockStore
	sender  Sender
	logger  *slog.Logger
}

func NewService(logger *slog.Logger, catalog Catalog, unlocks UnlockStore, sender Sender) *Service {
	return &Service{
		catalog: catalog,
		unlocks: unlocks,
		sender:  sender,
		logger:  logger.With(slog.String("component", "achievements")),
	}
}

func (s *Service) Unlock(ctx context.Context, identity, achievementID string) (Result, error) {
	def, err := s.catalog.GetAchievement(ctx, achievementID)
	if err != nil {
		return Result{}, err
	}

	inserted, err := s.unlocks.RecordUnlock(ctx, identity, achievementID, time.Now())
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		return Result{AlreadyUnlocked: true}, nil
	}

	receipt, err := s.sender.Send(
		overlay.Target{Type: overlay.TargetUser, ID: identity},
		overlay.AchievementUnlockEnvelope(overlay.AchievementUnlockPayload{
			AchievementID: def.ID,
			Name:          def.Name,
			Description:   def.Description,
			Points:        def.Points,
		}),
	)
	if err != nil {
		// The unlock is already recorded; a delivery problem is logged only.
		s.logger.Warn("unlock notification failed",
			slog.String("identity", identity),
			slog.String("achievementID", achievementID),
			slog.Any("error", err))
		return Result{}, nil
	}
	return Result{Notified: receipt.Delivered}, nil
}

func (s *Service) Get(ctx context.Context, id string) (Achievement, error) {
	return s.catalog.GetAchievement(ctx, id)
}

func (s *Service) Put(ctx context.Context, a Achievement) error {
	return s.catalog.PutAchievement(ctx, a)
}

func (s *Service) List(ctx context.Context) ([]Achievement, error) {
	return s.catalog.ListAchievements(ctx)
}

func (s *Service) UnlocksFor(ctx context.Context, identity string) ([]Unlock, error) {
	return s.unlocks.ListUnlocks(ctx, identity)
}
