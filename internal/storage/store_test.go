package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/HynixCorp/reach-backend-sub000/internal/achievements"
	"github.com/HynixCorp/reach-backend-sub000/internal/storage"
	"github.com/HynixCorp/reach-backend-sub000/pkg/overlay"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "overlay-test.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return store
}

func TestWriteSnapshotUpsertAccumulates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := overlay.Snapshot{
		Identity:           "u1",
		LastStatus:         overlay.StatusPlaying,
		LastDetail:         "dungeon",
		LastExperienceID:   "e1",
		LastSeen:           time.Now(),
		TotalOnlineSeconds: 120,
	}
	if err := store.WriteSnapshot(ctx, first); err != nil {
		t.Fatalf("first WriteSnapshot failed: %v", err)
	}

	second := first
	second.LastStatus = overlay.StatusOffline
	second.LastExperienceID = ""
	second.TotalOnlineSeconds = 30
	if err := store.WriteSnapshot(ctx, second); err != nil {
		t.Fatalf("second WriteSnapshot failed: %v", err)
	}

	got, err := store.GetSnapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if got.LastStatus != overlay.StatusOffline {
		t.Errorf("LastStatus = %q, want offline", got.LastStatus)
	}
	if got.LastExperienceID != "" {
		t.Errorf("LastExperienceID = %q, want empty", got.LastExperienceID)
	}
	// online time accumulates across sessions
	if got.TotalOnlineSeconds != 150 {
		t.Errorf("TotalOnlineSeconds = %d, want 150", got.TotalOnlineSeconds)
	}
}

func TestCatalogRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	def := achievements.Achievement{ID: "a1", Name: "First Steps", Description: "Log in", Points: 5}
	if err := store.PutAchievement(ctx, def); err != nil {
		t.Fatalf("PutAchievement failed: %v", err)
	}

	got, err := store.GetAchievement(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAchievement failed: %v", err)
	}
	if got != def {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, def)
	}

	// update in place
	def.Points = 10
	if err := store.PutAchievement(ctx, def); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, err = store.GetAchievement(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAchievement after update failed: %v", err)
	}
	if got.Points != 10 {
		t.Fatalf("Points = %d after update, want 10", got.Points)
	}

	list, err := store.ListAchievements(ctx)
	if err != nil {
		t.Fatalf("ListAchievements failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("list length = %d, want 1", len(list))
	}
}

func TestGetUnknownAchievement(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetAchievement(context.Background(), "missing")
	if !errors.Is(err, achievements.ErrUnknownAchievement) {
		t.Fatalf("expected ErrUnknownAchievement, got %v", err)
	}
}

func TestRecordUnlockIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutAchievement(ctx, achievements.Achievement{ID: "a1", Name: "A1"}); err != nil {
		t.Fatalf("PutAchievement failed: %v", err)
	}

	inserted, err := store.RecordUnlock(ctx, "u1", "a1", time.Now())
	if err != nil {
		t.Fatalf("first RecordUnlock failed: %v", err)
	}
	if !inserted {
		t.Fatal("first RecordUnlock reported duplicate")
	}

	inserted, err = store.RecordUnlock(ctx, "u1", "a1", time.Now())
	if err != nil {
		t.Fatalf("duplicate RecordUnlock errored: %v", err)
	}
	if inserted {
		t.Fatal("duplicate RecordUnlock reported inserted")
	}

	unlocks, err := store.ListUnlocks(ctx, "u1")
	if err != nil {
		t.Fatalf("ListUnlocks failed: %v", err)
	}
	if len(unlocks) != 1 {
		t.Fatalf("unlock count = %d, want 1", len(unlocks))
	}
	if unlocks[0].AchievementID != "a1" || unlocks[0].Identity != "u1" {
		t.Fatalf("unexpected unlock row %+v", unlocks[0])
	}
}
