package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/cache"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/events"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/storage"
)

type fakeRepo struct {
	mu        sync.Mutex
	entities  map[string]storage.Entity
	windows   map[string][]storage.StoredWindow
	events    []storage.Event
	listCalls int
	failWrite error
	nextID    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{entities: map[string]storage.Entity{}, windows: map[string][]storage.StoredWindow{}}
}

func refKey(kind, id string) string { return kind + "/" + id }

func (r *fakeRepo) GetEntity(_ context.Context, kind, id string) (storage.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[refKey(kind, id)]
	if !ok {
		return storage.Entity{}, storage.ErrNotFound
	}
	return e, nil
}

func (r *fakeRepo) ListWindows(_ context.Context, kind, id string) ([]storage.StoredWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	return r.windows[refKey(kind, id)], nil
}

func (r *fakeRepo) ReplaceWindows(_ context.Context, e storage.Entity, specs []availability.WindowSpec, evt storage.Event) (storage.Diff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrite != nil {
		return storage.Diff{}, r.failWrite
	}
	key := refKey(e.Kind, e.ID)
	removed := len(r.windows[key])
	r.entities[key] = e
	stored := make([]storage.StoredWindow, 0, len(specs))
	for _, spec := range specs {
		r.nextID++
		stored = append(stored, storage.StoredWindow{ID: strconv.Itoa(r.nextID), Spec: spec})
	}
	r.windows[key] = stored
	r.events = append(r.events, evt)
	return storage.Diff{Added: len(specs), Removed: removed}, nil
}

func (r *fakeRepo) DeleteEntity(_ context.Context, kind, id string, evt storage.Event) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := refKey(kind, id)
	if _, ok := r.entities[key]; !ok {
		return false, nil
	}
	delete(r.entities, key)
	delete(r.windows, key)
	r.events = append(r.events, evt)
	return true, nil
}

func (r *fakeRepo) Ping(context.Context) error { return nil }

func (r *fakeRepo) lists() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls
}

// refMonday is 2025-03-17 11:04 in New York (EDT).
var refMonday = time.Date(2025, 3, 17, 15, 4, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *fakeRepo, *cache.Memory) {
	t.Helper()
	repo := newFakeRepo()
	c, err := cache.NewMemory(100)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(repo, c, logger, WithClock(func() time.Time { return refMonday })), repo, c
}

func mondayNineToFive() []availability.WindowInput {
	return []availability.WindowInput{{DaysOfWeek: []int{1}, StartTime: "09:00", EndTime: "17:00"}}
}

func TestReplaceThenEvaluate_NewYork(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.ReplaceWindows(ctx, ReplaceRequest{
		Kind: "store", ID: "42", Timezone: "America/New_York", Windows: mondayNineToFive(),
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if len(res.Windows) != 1 || res.Windows[0].Timezone != "America/New_York" {
		t.Fatalf("expected window to inherit entity timezone, got %+v", res.Windows)
	}
	if len(repo.events) != 1 || repo.events[0].EventType != events.TopicWindowsChanged {
		t.Fatalf("expected one windows changed event, got %+v", repo.events)
	}

	open, err := svc.Evaluate(ctx, "store", "42", time.Date(2025, 3, 17, 14, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !open.IsOpenNow || open.Status != availability.StatusAvailable {
		t.Fatalf("expected open at Mon 10:00 New York, got %+v", open)
	}

	closed, err := svc.Evaluate(ctx, "store", "42", time.Date(2025, 3, 18, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	want := time.Date(2025, 3, 24, 13, 0, 0, 0, time.UTC)
	if closed.IsOpenNow || closed.NextOpenInstant == nil || !closed.NextOpenInstant.Equal(want) {
		t.Fatalf("expected closed with next open %v, got %+v", want, closed)
	}
}

func TestReplaceWindows_ConflictNotPersisted(t *testing.T) {
	svc, repo, _ := newTestService(t)

	res, err := svc.ReplaceWindows(context.Background(), ReplaceRequest{
		Kind: "product", ID: "p1",
		Windows: []availability.WindowInput{
			{DaysOfWeek: []int{1}, StartTime: "09:00", EndTime: "12:00"},
			{DaysOfWeek: []int{1}, StartTime: "11:00", EndTime: "13:00"},
		},
	})
	var conflict *availability.ConflictError
	if !errors.As(err, &conflict) || !errors.Is(err, availability.ErrConflictDetected) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if len(conflict.Report.Overlaps) != 1 || len(res.Conflicts.Overlaps) != 1 {
		t.Fatalf("expected exactly one overlap, got %+v", conflict.Report)
	}
	if _, err := repo.GetEntity(context.Background(), "product", "p1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected nothing persisted")
	}
}

func TestReplaceWindows_ValidationErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  ReplaceRequest
		want error
	}{
		{"bad kind", ReplaceRequest{Kind: "warehouse", ID: "1"}, availability.ErrInvalidField},
		{"missing id", ReplaceRequest{Kind: "store", ID: " "}, availability.ErrMissingField},
		{"id with separator", ReplaceRequest{Kind: "store", ID: "4:2"}, availability.ErrInvalidField},
		{"bad entity timezone", ReplaceRequest{Kind: "store", ID: "1", Timezone: "Mars/Olympus"}, availability.ErrInvalidTimezone},
		{"negative ttl", ReplaceRequest{Kind: "store", ID: "1", CacheTTL: -time.Second}, availability.ErrInvalidField},
		{"missing start", ReplaceRequest{Kind: "store", ID: "1", Windows: []availability.WindowInput{
			{DaysOfWeek: []int{1}, EndTime: "17:00"},
		}}, availability.ErrMissingField},
	}
	for _, tc := range cases {
		_, err := svc.ReplaceWindows(ctx, tc.req)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestEvaluate_UsesCache(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.ReplaceWindows(ctx, ReplaceRequest{Kind: "store", ID: "1", Windows: mondayNineToFive()}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	at := time.Date(2025, 3, 17, 10, 0, 5, 0, time.UTC)
	first, err := svc.Evaluate(ctx, "store", "1", at)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	second, err := svc.Evaluate(ctx, "store", "1", at.Add(30*time.Second))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if repo.lists() != 1 {
		t.Fatalf("expected second evaluation in the same minute served from cache, got %d loads", repo.lists())
	}
	if first != second {
		t.Fatalf("expected identical cached result")
	}

	if _, err := svc.Evaluate(ctx, "store", "1", at.Add(time.Minute)); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if repo.lists() != 2 {
		t.Fatalf("expected next minute to miss, got %d loads", repo.lists())
	}
}

func TestReplaceWindows_InvalidatesCache(t *testing.T) {
	svc, _, c := newTestService(t)
	ctx := context.Background()
	if _, err := svc.ReplaceWindows(ctx, ReplaceRequest{Kind: "store", ID: "1", Windows: mondayNineToFive()}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	at := time.Date(2025, 3, 17, 10, 0, 0, 0, time.UTC)
	if _, err := svc.Evaluate(ctx, "store", "1", at); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	c.Set(ctx, cache.Key("store", "2", at), availability.Result{}, time.Minute)

	if _, err := svc.ReplaceWindows(ctx, ReplaceRequest{Kind: "store", ID: "1", Windows: []availability.WindowInput{
		{DaysOfWeek: []int{2}, StartTime: "09:00", EndTime: "17:00"},
	}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if _, ok := c.Get(ctx, cache.Key("store", "1", at)); ok {
		t.Fatalf("expected entity cache invalidated")
	}
	if _, ok := c.Get(ctx, cache.Key("store", "2", at)); !ok {
		t.Fatalf("expected other entity cache intact")
	}

	res, err := svc.Evaluate(ctx, "store", "1", at)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.IsOpenNow || res.Status != availability.StatusClosedToday {
		t.Fatalf("expected new window set to apply, got %+v", res)
	}
}

func TestReplaceWindows_PersistFailure(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.failWrite = errors.New("db down")
	_, err := svc.ReplaceWindows(context.Background(), ReplaceRequest{Kind: "store", ID: "1", Windows: mondayNineToFive()})
	if err == nil || errors.Is(err, availability.ErrConflictDetected) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestEvaluate_UnknownEntity(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Evaluate(context.Background(), "store", "missing", refMonday)
	if !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestEvaluate_DefaultsToClock(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.ReplaceWindows(ctx, ReplaceRequest{Kind: "store", ID: "1", Windows: mondayNineToFive()}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	res, err := svc.Evaluate(ctx, "store", "1", time.Time{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.EvaluatedAt.Equal(refMonday) || !res.IsOpenNow {
		t.Fatalf("expected evaluation at service clock, got %+v", res)
	}
}

func TestEvaluate_EmptyWindowSetIsUnavailable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.ReplaceWindows(ctx, ReplaceRequest{Kind: "product", ID: "p1"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	res, err := svc.Evaluate(ctx, "product", "p1", refMonday)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Status != availability.StatusUnavailable || res.NextOpenInstant != nil {
		t.Fatalf("expected Unavailable, got %+v", res)
	}
}

func TestCheckConflicts(t *testing.T) {
	svc, repo, _ := newTestService(t)
	_, report, err := svc.CheckConflicts(context.Background(), "", []availability.WindowInput{
		{DaysOfWeek: []int{1}, StartTime: "09:00", EndTime: "12:00"},
		{DaysOfWeek: []int{1}, StartTime: "12:00", EndTime: "15:00"},
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.HasConflicts() || report.Gaps == nil {
		t.Fatalf("expected clean report with empty gaps, got %+v", report)
	}
	if len(repo.events) != 0 {
		t.Fatalf("expected nothing written")
	}
}

func TestDeleteEntity(t *testing.T) {
	svc, repo, c := newTestService(t)
	ctx := context.Background()
	if _, err := svc.ReplaceWindows(ctx, ReplaceRequest{Kind: "store", ID: "1", Windows: mondayNineToFive()}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if _, err := svc.Evaluate(ctx, "store", "1", refMonday); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if err := svc.DeleteEntity(ctx, "store", "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected cache emptied, len=%d", c.Len())
	}
	if _, err := svc.Evaluate(ctx, "store", "1", refMonday); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound after delete, got %v", err)
	}
	if err := svc.DeleteEntity(ctx, "store", "1"); err != nil {
		t.Fatalf("expected repeated delete to succeed, got %v", err)
	}
	if len(repo.events) != 2 {
		t.Fatalf("expected replace and delete events only, got %d", len(repo.events))
	}
}

func TestGetWindows(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.ReplaceWindows(ctx, ReplaceRequest{Kind: "store", ID: "1", Timezone: "Europe/Berlin", CacheTTL: 5 * time.Second, Windows: mondayNineToFive()}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := svc.GetWindows(ctx, "store", "1")
	if err != nil {
		t.Fatalf("get windows: %v", err)
	}
	if got.Entity.Timezone != "Europe/Berlin" || got.Entity.CacheTTL != 5*time.Second || len(got.Windows) != 1 {
		t.Fatalf("unexpected entity windows %+v", got)
	}
	if _, err := svc.GetWindows(ctx, "store", "2"); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}
