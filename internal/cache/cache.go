// Package cache provides a small key/value store backed by the sqlite
// state_cache table, used to remember per-player state (last power and
// volume) across restarts.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/ensemble-audio/ensemble/internal/repository"
)

type Store struct {
	repo *repository.Repo
}

func NewStore(repo *repository.Repo) *Store {
	return &Store{repo: repo}
}

// Get unmarshals the cached value for key into dest. The second return is
// false when the key is absent.
func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := s.repo.StateGet(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Set(ctx context.Context, key string, val any) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return s.repo.StateSet(ctx, key, string(raw))
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return s.repo.StateRemove(ctx, key)
}
