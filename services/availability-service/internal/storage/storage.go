package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"path"
	"slices"
	"time"

	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/availability"
)

var ErrNotFound = errors.New("storage: entity not found")

const (
	KindStore   = "store"
	KindProduct = "product"
)

// Entity owns a window set. Kind and ID together identify it.
type Entity struct {
	Kind      string
	ID        string
	Timezone  string
	CacheTTL  time.Duration
	UpdatedAt time.Time
}

// StoredWindow is a persisted WindowSpec with its surrogate id.
type StoredWindow struct {
	ID   string
	Spec availability.WindowSpec
}

// Diff counts what a ReplaceWindows call did to the stored set.
type Diff struct {
	Added   int
	Removed int
	Kept    int
}

func (d Diff) Changed() bool { return d.Added > 0 || d.Removed > 0 }

// Repository persists entities and their windows. ReplaceWindows swaps the
// whole set atomically; evt is recorded in the same transaction when the
// backend carries an outbox.
type Repository interface {
	GetEntity(ctx context.Context, kind, id string) (Entity, error)
	ListWindows(ctx context.Context, kind, id string) ([]StoredWindow, error)
	ReplaceWindows(ctx context.Context, e Entity, specs []availability.WindowSpec, evt Event) (Diff, error)
	DeleteEntity(ctx context.Context, kind, id string, evt Event) (bool, error)
	Ping(ctx context.Context) error
}

// diffWindows matches next against existing by Identity. Matched rows keep
// their id and take the new spec so exception or rule edits are not lost.
func diffWindows(existing []StoredWindow, next []availability.WindowSpec) (kept []StoredWindow, added []availability.WindowSpec, removed []string) {
	byIdentity := make(map[string][]StoredWindow, len(existing))
	for _, w := range existing {
		key := w.Spec.Identity()
		byIdentity[key] = append(byIdentity[key], w)
	}
	for _, spec := range next {
		key := spec.Identity()
		if queue := byIdentity[key]; len(queue) > 0 {
			w := queue[0]
			byIdentity[key] = queue[1:]
			w.Spec = spec
			kept = append(kept, w)
			continue
		}
		added = append(added, spec)
	}
	for _, queue := range byIdentity {
		for _, w := range queue {
			removed = append(removed, w.ID)
		}
	}
	slices.Sort(removed)
	return kept, added, removed
}

func encodeExceptions(m map[string]bool) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func decodeExceptions(raw []byte) (map[string]bool, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]bool
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func ttlSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

//go:embed migrations
var migrations embed.FS

// migrationScripts returns the scripts for one backend in file name order.
func migrationScripts(backend string) ([]string, error) {
	dir := path.Join("migrations", backend)
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		b, err := fs.ReadFile(migrations, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}
	return out, nil
}
