package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// CacheStore keeps content cache entries. Rows are never updated.
type CacheStore struct {
	db *DB
}

var _ ports.CacheStore = (*CacheStore)(nil)

// NewCacheStore wires the cache table.
func NewCacheStore(db *DB) *CacheStore {
	return &CacheStore{db: db}
}

// Lookup returns the entry stored under key.
func (s *CacheStore) Lookup(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	query, args, err := s.db.sb.
		Select("stage", "artifact_ref", "cost", "created_at").
		From("cache_entries").
		Where(sq.Eq{"cache_key": key}).
		ToSql()
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("build cache lookup: %w", err)
	}

	var (
		stage     string
		createdAt string
		entry     = domain.CacheEntry{Key: key}
	)
	err = s.db.db.QueryRowContext(ctx, query, args...).Scan(&stage, &entry.ArtifactRef, &entry.Cost, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("query cache entry: %w", err)
	}

	entry.Stage = domain.Stage(stage)
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.CacheEntry{}, false, err
	}
	return entry, true, nil
}

// Insert appends entry; an existing key keeps its original artifact.
func (s *CacheStore) Insert(ctx context.Context, entry domain.CacheEntry) error {
	query, args, err := s.db.sb.
		Insert("cache_entries").
		Columns("cache_key", "stage", "artifact_ref", "cost", "created_at").
		Values(entry.Key, string(entry.Stage), entry.ArtifactRef, entry.Cost, formatTime(entry.CreatedAt)).
		Suffix("ON CONFLICT (cache_key) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build cache insert: %w", err)
	}
	if err := s.db.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return nil
}
