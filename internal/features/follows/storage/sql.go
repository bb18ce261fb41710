package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"feedkeeper/internal/core"
)

// SQLStore is a Backend on sqlite or postgres
type SQLStore struct {
	db *core.Database
}

var _ Backend = (*SQLStore)(nil)

// NewSQLStore wraps a migrated database
func NewSQLStore(db *core.Database) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return s.getValue(ctx, "follow_files", "path", "content", path)
}

func (s *SQLStore) WriteFile(ctx context.Context, path string, data []byte) error {
	return s.upsert(ctx, s.db.Builder.
		Insert("follow_files").
		Columns("path", "content", "updated_at").
		Values(path, string(data), time.Now().UTC()).
		Suffix("ON CONFLICT (path) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at"))
}

func (s *SQLStore) DeleteFile(ctx context.Context, path string) error {
	_, err := s.db.ExecBuilder(ctx, s.db.Builder.
		Delete("follow_files").
		Where(sq.Eq{"path": path}))
	if err != nil {
		return core.NewDatabaseError(fmt.Sprintf("failed to delete %s", path), err)
	}
	return nil
}

func (s *SQLStore) LocalGet(ctx context.Context, key string) ([]byte, error) {
	return s.getValue(ctx, "follow_local", "key", "value", key)
}

func (s *SQLStore) LocalSet(ctx context.Context, key string, value []byte) error {
	return s.upsert(ctx, s.db.Builder.
		Insert("follow_local").
		Columns("key", "value").
		Values(key, string(value)).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = excluded.value"))
}

func (s *SQLStore) SyncItems(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryBuilder(ctx, s.db.Builder.
		Select("key", "value").
		From("follow_sync_items"))
	if err != nil {
		return nil, core.NewDatabaseError("failed to read sync items", err)
	}
	defer rows.Close()

	items := map[string]json.RawMessage{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, core.NewDatabaseError("failed to scan sync item", err)
		}
		items[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewDatabaseError("failed to read sync items", err)
	}
	return items, nil
}

// SetSyncItems writes every item in one transaction
func (s *SQLStore) SetSyncItems(ctx context.Context, items map[string]json.RawMessage) error {
	now := time.Now().UTC()
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		for key, value := range items {
			query, args, err := s.db.Builder.
				Insert("follow_sync_items").
				Columns("key", "value", "updated_at").
				Values(key, string(value), now).
				Suffix("ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
				ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return core.NewDatabaseError(fmt.Sprintf("failed to write sync item %s", key), err)
			}
		}
		return nil
	})
}

func (s *SQLStore) getValue(ctx context.Context, table, keyCol, valueCol, key string) ([]byte, error) {
	query, args, err := s.db.Builder.
		Select(valueCol).
		From(table).
		Where(sq.Eq{keyCol: key}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var value string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, core.NewDatabaseError(fmt.Sprintf("failed to read %s %s", table, key), err)
	}
	return []byte(value), nil
}

func (s *SQLStore) upsert(ctx context.Context, b sq.InsertBuilder) error {
	if _, err := s.db.ExecBuilder(ctx, b); err != nil {
		return core.NewDatabaseError("failed to write", err)
	}
	return nil
}
