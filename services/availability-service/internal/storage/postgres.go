package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/openhours/libs/db"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/availability"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres is the production Repository. Mutations record their outbox event
// in the same transaction.
type Postgres struct {
	pool   *db.Pool
	outbox *Outbox
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool, outbox: NewOutbox(pool)}
}

func (r *Postgres) Outbox() *Outbox { return r.outbox }

func (r *Postgres) Migrate(ctx context.Context) error {
	scripts, err := migrationScripts("postgres")
	if err != nil {
		return err
	}
	for i, script := range scripts {
		if _, err := r.pool.Exec(ctx, script); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (r *Postgres) Ping(ctx context.Context) error {
	return db.ReadyCheck(r.pool)(ctx)
}

func (r *Postgres) GetEntity(ctx context.Context, kind, id string) (Entity, error) {
	var (
		e   Entity
		ttl int
	)
	err := r.pool.QueryRow(ctx, `
		SELECT kind, id, timezone, cache_ttl_seconds, updated_at
		FROM availability_entities
		WHERE kind = $1 AND id = $2
	`, kind, id).Scan(&e.Kind, &e.ID, &e.Timezone, &ttl, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, err
	}
	e.CacheTTL = time.Duration(ttl) * time.Second
	return e, nil
}

func (r *Postgres) ListWindows(ctx context.Context, kind, id string) ([]StoredWindow, error) {
	return listWindowsPG(ctx, r.pool, kind, id, false)
}

func listWindowsPG(ctx context.Context, q querier, kind, id string, forUpdate bool) ([]StoredWindow, error) {
	sql := `
		SELECT id::text, days_of_week, start_time, end_time, timezone, date_exceptions, recurrence_rule
		FROM availability_windows
		WHERE entity_kind = $1 AND entity_id = $2
		ORDER BY created_at, id`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, kind, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredWindow
	for rows.Next() {
		var (
			w          StoredWindow
			exceptions []byte
			rule       []byte
		)
		if err := rows.Scan(&w.ID, &w.Spec.DaysOfWeek, &w.Spec.StartTime, &w.Spec.EndTime, &w.Spec.Timezone, &exceptions, &rule); err != nil {
			return nil, err
		}
		if w.Spec.DateExceptions, err = decodeExceptions(exceptions); err != nil {
			return nil, fmt.Errorf("window %s: date_exceptions: %w", w.ID, err)
		}
		if len(rule) > 0 {
			w.Spec.RecurrenceRule = rule
		}
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Postgres) ReplaceWindows(ctx context.Context, e Entity, specs []availability.WindowSpec, evt Event) (Diff, error) {
	var diff Diff
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO availability_entities (kind, id, timezone, cache_ttl_seconds)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (kind, id) DO UPDATE
			SET timezone = EXCLUDED.timezone,
				cache_ttl_seconds = EXCLUDED.cache_ttl_seconds,
				updated_at = now()
		`, e.Kind, e.ID, e.Timezone, ttlSeconds(e.CacheTTL)); err != nil {
			return err
		}

		existing, err := listWindowsPG(ctx, tx, e.Kind, e.ID, true)
		if err != nil {
			return err
		}
		kept, added, removed := diffWindows(existing, specs)

		if len(removed) > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM availability_windows WHERE id = ANY($1)`, removed); err != nil {
				return err
			}
		}
		for _, w := range kept {
			exceptions, err := encodeExceptions(w.Spec.DateExceptions)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				UPDATE availability_windows
				SET days_of_week = $2, date_exceptions = $3, recurrence_rule = $4
				WHERE id = $1
			`, w.ID, w.Spec.DaysOfWeek, exceptions, []byte(w.Spec.RecurrenceRule)); err != nil {
				return err
			}
		}
		for _, spec := range added {
			exceptions, err := encodeExceptions(spec.DateExceptions)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO availability_windows (id, entity_kind, entity_id, days_of_week, start_time, end_time, timezone, date_exceptions, recurrence_rule)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, uuid.NewString(), e.Kind, e.ID, spec.DaysOfWeek, spec.StartTime, spec.EndTime, spec.Timezone, exceptions, []byte(spec.RecurrenceRule)); err != nil {
				return err
			}
		}

		diff = Diff{Added: len(added), Removed: len(removed), Kept: len(kept)}
		return r.outbox.Insert(ctx, tx, evt)
	})
	return diff, err
}

func (r *Postgres) DeleteEntity(ctx context.Context, kind, id string, evt Event) (bool, error) {
	var deleted bool
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM availability_windows WHERE entity_kind = $1 AND entity_id = $2`, kind, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM availability_entities WHERE kind = $1 AND id = $2`, kind, id)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected() > 0
		if !deleted {
			return nil
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
	return deleted, err
}
