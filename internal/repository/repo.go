package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) UpsertPlayerSettings(ctx context.Context, playerID string) (*PlayerSettings, error) {
	_, _ = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO player_settings(player_id) VALUES (?)`, playerID,
	)
	return r.GetPlayerSettings(ctx, playerID)
}

func (r *Repo) GetPlayerSettings(ctx context.Context, playerID string) (*PlayerSettings, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT player_id, sync_adjust_ms FROM player_settings WHERE player_id = ?`, playerID)

	var s PlayerSettings
	if err := row.Scan(&s.PlayerID, &s.SyncAdjustMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	return &s, nil
}

func (r *Repo) SetSyncAdjust(ctx context.Context, playerID string, adjustMS int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO player_settings(player_id, sync_adjust_ms) VALUES (?,?)
		ON CONFLICT(player_id) DO UPDATE SET sync_adjust_ms=excluded.sync_adjust_ms`,
		playerID, adjustMS,
	)
	return err
}

func (r *Repo) StateGet(ctx context.Context, key string) (string, error) {
	row := r.db.QueryRowContext(ctx, `SELECT value FROM state_cache WHERE key=?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		return "", err
	}
	return v, nil
}

func (r *Repo) StateSet(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO state_cache(key, value, updated_at) VALUES (?,?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().Unix(),
	)
	return err
}

func (r *Repo) StateRemove(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM state_cache WHERE key=?`, key)
	return err
}
