package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/HynixCorp/reach-backend-sub000/internal/achievements"
	"github.com/HynixCorp/reach-backend-sub000/pkg/overlay"
)

const defaultBusyTimeout = 5000

// Store wraps the SQLite handle backing the presence snapshot write-through,
// the achievement catalog, and the per-identity unlock records.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "overlay.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS presence_snapshots (
			identity TEXT PRIMARY KEY,
			last_status TEXT NOT NULL,
			last_detail TEXT NOT NULL DEFAULT '',
			last_experience_id TEXT NOT NULL DEFAULT '',
			last_seen DATETIME NOT NULL,
			total_online_seconds INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS achievements (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			points INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS achievement_unlocks (
			identity TEXT NOT NULL,
			achievement_id TEXT NOT NULL,
			unlocked_at DATETIME NOT NULL,
			PRIMARY KEY (identity, achievement_id),
			FOREIGN KEY(achievement_id) REFERENCES achievements(id) ON DELETE CASCADE
		);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// --- overlay.SnapshotWriter ---

// WriteSnapshot upserts the terminal presence state for an identity,
// accumulating total online time across sessions.
func (s *Store) WriteSnapshot(ctx context.Context, snap overlay.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO presence_snapshots
			(identity, last_status, last_detail, last_experience_id, last_seen, total_online_seconds)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			last_status = excluded.last_status,
			last_detail = excluded.last_detail,
			last_experience_id = excluded.last_experience_id,
			last_seen = excluded.last_seen,
			total_online_seconds = presence_snapshots.total_online_seconds + excluded.total_online_seconds;`,
		snap.Identity, string(snap.LastStatus), snap.LastDetail,
		snap.LastExperienceID, snap.LastSeen.UTC(), snap.TotalOnlineSeconds)
	return err
}

// GetSnapshot reads back the last persisted presence state for an identity.
func (s *Store) GetSnapshot(ctx context.Context, identity string) (overlay.Snapshot, error) {
	var snap overlay.Snapshot
	var status string
	row := s.db.QueryRowContext(ctx, `
		SELECT identity, last_status, last_detail, last_experience_id, last_seen, total_online_seconds
		FROM presence_snapshots WHERE identity = ?;`, identity)
	if err := row.Scan(&snap.Identity, &status, &snap.LastDetail,
		&snap.LastExperienceID, &snap.LastSeen, &snap.TotalOnlineSeconds); err != nil {
		return overlay.Snapshot{}, err
	}
	snap.LastStatus = overlay.Status(status)
	return snap, nil
}

var _ overlay.SnapshotWriter = (*Store)(nil)

// --- achievements.Catalog ---

func (s *Store) GetAchievement(ctx context.Context, id string) (achievements.Achievement, error) {
	var a achievements.Achievement
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, points FROM achievements WHERE id = ?;`, id)
	if err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Points); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return achievements.Achievement{}, achievements.ErrUnknownAchievement
		}
		return achievements.Achievement{}, err
	}
	return a, nil
}

func (s *Store) PutAchievement(ctx context.Context, a achievements.Achievement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO achievements (id, name, description, points)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			points = excluded.points;`,
		a.ID, a.Name, a.Description, a.Points)
	return err
}

func (s *Store) ListAchievements(ctx context.Context) ([]achievements.Achievement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, points FROM achievements ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []achievements.Achievement
	for rows.Next() {
		var a achievements.Achievement
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.Points); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var _ achievements.Catalog = (*Store)(nil)

// --- achievements.UnlockStore ---

// RecordUnlock is the idempotent check-and-insert: a duplicate pair reports
// inserted=false without error.
func (s *Store) RecordUnlock(ctx context.Context, identity, achievementID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO achievement_unlocks (identity, achievement_id, unlocked_at)
		VALUES (?, ?, ?)
		ON CONFLICT(identity, achievement_id) DO NOTHING;`,
		identity, achievementID, at.UTC())
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ListUnlocks(ctx context.Context, identity string) ([]achievements.Unlock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, achievement_id, unlocked_at
		FROM achievement_unlocks WHERE identity = ? ORDER BY unlocked_at;`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []achievements.Unlock
	for rows.Next() {
		var u achievements.Unlock
		if err := rows.Scan(&u.Identity, &u.AchievementID, &u.UnlockedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

var _ achievements.UnlockStore = (*Store)(nil)
