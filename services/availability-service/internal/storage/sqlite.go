package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/availability"

	_ "modernc.org/sqlite"
)

// SQLite is the single-node Repository used for local runs and tests. It has
// no outbox; events passed to it are dropped.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path in WAL mode and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) migrate(ctx context.Context) error {
	scripts, err := migrationScripts("sqlite")
	if err != nil {
		return err
	}
	for _, script := range scripts {
		if _, err := s.db.ExecContext(ctx, script); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) GetEntity(ctx context.Context, kind, id string) (Entity, error) {
	var (
		e       Entity
		ttl     int
		updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT kind, id, timezone, cache_ttl_seconds, updated_at
		FROM availability_entities
		WHERE kind = ? AND id = ?
	`, kind, id).Scan(&e.Kind, &e.ID, &e.Timezone, &ttl, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, err
	}
	e.CacheTTL = time.Duration(ttl) * time.Second
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return Entity{}, fmt.Errorf("entity %s:%s: updated_at: %w", kind, id, err)
	}
	return e, nil
}

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLite) ListWindows(ctx context.Context, kind, id string) ([]StoredWindow, error) {
	return listWindowsSQLite(ctx, s.db, kind, id)
}

func listWindowsSQLite(ctx context.Context, q sqlQuerier, kind, id string) ([]StoredWindow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, days_of_week, start_time, end_time, timezone, date_exceptions, recurrence_rule
		FROM availability_windows
		WHERE entity_kind = ? AND entity_id = ?
		ORDER BY seq, id
	`, kind, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredWindow
	for rows.Next() {
		var (
			w          StoredWindow
			days       string
			exceptions sql.NullString
			rule       sql.NullString
		)
		if err := rows.Scan(&w.ID, &days, &w.Spec.StartTime, &w.Spec.EndTime, &w.Spec.Timezone, &exceptions, &rule); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(days), &w.Spec.DaysOfWeek); err != nil {
			return nil, fmt.Errorf("window %s: days_of_week: %w", w.ID, err)
		}
		if exceptions.Valid {
			if w.Spec.DateExceptions, err = decodeExceptions([]byte(exceptions.String)); err != nil {
				return nil, fmt.Errorf("window %s: date_exceptions: %w", w.ID, err)
			}
		}
		if rule.Valid && rule.String != "" {
			w.Spec.RecurrenceRule = json.RawMessage(rule.String)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLite) ReplaceWindows(ctx context.Context, e Entity, specs []availability.WindowSpec, _ Event) (Diff, error) {
	var diff Diff
	err := retryOnContention(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO availability_entities (kind, id, timezone, cache_ttl_seconds, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (kind, id) DO UPDATE
			SET timezone = excluded.timezone,
				cache_ttl_seconds = excluded.cache_ttl_seconds,
				updated_at = excluded.updated_at
		`, e.Kind, e.ID, e.Timezone, ttlSeconds(e.CacheTTL), now, now); err != nil {
			return err
		}

		existing, err := listWindowsSQLite(ctx, tx, e.Kind, e.ID)
		if err != nil {
			return err
		}
		kept, added, removed := diffWindows(existing, specs)

		for _, id := range removed {
			if _, err := tx.ExecContext(ctx, `DELETE FROM availability_windows WHERE id = ?`, id); err != nil {
				return err
			}
		}
		seq := 0
		for _, w := range kept {
			days, exceptions, rule, err := encodeSQLiteSpec(w.Spec)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE availability_windows
				SET seq = ?, days_of_week = ?, date_exceptions = ?, recurrence_rule = ?
				WHERE id = ?
			`, seq, days, exceptions, rule, w.ID); err != nil {
				return err
			}
			seq++
		}
		for _, spec := range added {
			days, exceptions, rule, err := encodeSQLiteSpec(spec)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO availability_windows (id, entity_kind, entity_id, seq, days_of_week, start_time, end_time, timezone, date_exceptions, recurrence_rule)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, uuid.NewString(), e.Kind, e.ID, seq, days, spec.StartTime, spec.EndTime, spec.Timezone, exceptions, rule); err != nil {
				return err
			}
			seq++
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		diff = Diff{Added: len(added), Removed: len(removed), Kept: len(kept)}
		return nil
	})
	return diff, err
}

func (s *SQLite) DeleteEntity(ctx context.Context, kind, id string, _ Event) (bool, error) {
	var deleted bool
	err := retryOnContention(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM availability_windows WHERE entity_kind = ? AND entity_id = ?`, kind, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM availability_entities WHERE kind = ? AND id = ?`, kind, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

func encodeSQLiteSpec(spec availability.WindowSpec) (days string, exceptions, rule sql.NullString, err error) {
	b, err := json.Marshal(spec.DaysOfWeek)
	if err != nil {
		return "", exceptions, rule, err
	}
	ex, err := encodeExceptions(spec.DateExceptions)
	if err != nil {
		return "", exceptions, rule, err
	}
	if ex != nil {
		exceptions = sql.NullString{String: string(ex), Valid: true}
	}
	if len(spec.RecurrenceRule) > 0 {
		rule = sql.NullString{String: string(spec.RecurrenceRule), Valid: true}
	}
	return string(b), exceptions, rule, nil
}
