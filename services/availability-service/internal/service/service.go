package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/cache"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/events"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/storage"
)

var ErrEntityNotFound = errors.New("availability entity not found")

const maxIDLen = 128

type Service struct {
	repo       storage.Repository
	cache      cache.Cache
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	defaultTTL time.Duration
}

type Option func(*Service)

// WithClock sets the clock used when a caller gives no evaluation instant and
// for the reference day of writes.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDefaultTTL applies to entities stored without their own cache TTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) { s.defaultTTL = ttl }
}

func New(repo storage.Repository, c cache.Cache, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		cache:      c,
		logger:     logger,
		tracer:     otel.Tracer("availability-service/service"),
		now:        time.Now,
		defaultTTL: cache.DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ReplaceRequest struct {
	Kind     string
	ID       string
	Timezone string // entity default for windows that name none
	CacheTTL time.Duration
	Windows  []availability.WindowInput
}

type ReplaceResult struct {
	Windows   []availability.Window
	Conflicts availability.ConflictReport
	Diff      storage.Diff
}

// ReplaceWindows validates, normalizes and conflict-checks the full window
// set, then swaps it in. Overlaps return *availability.ConflictError with the
// report also set on the result; nothing is persisted in that case.
func (s *Service) ReplaceWindows(ctx context.Context, req ReplaceRequest) (res ReplaceResult, err error) {
	ctx, span := s.tracer.Start(ctx, "availability.replace_windows", trace.WithAttributes(
		attribute.String("entity.kind", req.Kind),
		attribute.String("entity.id", req.ID),
		attribute.Int("windows.count", len(req.Windows)),
	))
	defer func() { endSpan(span, err) }()

	if err := validateEntityRef(req.Kind, req.ID); err != nil {
		return ReplaceResult{}, err
	}
	tz, err := entityTimezone(req.Timezone)
	if err != nil {
		return ReplaceResult{}, err
	}
	if req.CacheTTL < 0 {
		return ReplaceResult{}, fmt.Errorf("cache_ttl_seconds: %w: must not be negative", availability.ErrInvalidField)
	}

	now := s.now()
	windows, report, err := s.prepare(req.Windows, tz, now)
	if err != nil {
		return ReplaceResult{}, err
	}
	res = ReplaceResult{Windows: windows, Conflicts: report}
	if report.HasConflicts() {
		span.SetAttributes(attribute.Int("conflicts.count", len(report.Overlaps)))
		return res, &availability.ConflictError{Report: report}
	}

	evt, err := events.OutboxEvent(req.Kind, req.ID, now)
	if err != nil {
		return ReplaceResult{}, err
	}
	specs := make([]availability.WindowSpec, 0, len(windows))
	for _, w := range windows {
		specs = append(specs, w.WindowSpec)
	}
	entity := storage.Entity{Kind: req.Kind, ID: req.ID, Timezone: tz, CacheTTL: req.CacheTTL}

	prefix := cache.EntityPrefix(req.Kind, req.ID)
	s.cache.InvalidatePrefix(ctx, prefix)
	res.Diff, err = s.repo.ReplaceWindows(ctx, entity, specs, evt)
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("persist windows: %w", err)
	}
	s.cache.InvalidatePrefix(ctx, prefix)

	s.logger.InfoContext(ctx, "availability windows replaced",
		"entity_kind", req.Kind,
		"entity_id", req.ID,
		"added", res.Diff.Added,
		"removed", res.Diff.Removed,
		"kept", res.Diff.Kept,
	)
	return res, nil
}

// CheckConflicts runs the write path's validation and conflict detection
// without persisting anything.
func (s *Service) CheckConflicts(ctx context.Context, timezone string, inputs []availability.WindowInput) ([]availability.Window, availability.ConflictReport, error) {
	_, span := s.tracer.Start(ctx, "availability.check_conflicts", trace.WithAttributes(
		attribute.Int("windows.count", len(inputs)),
	))
	defer span.End()

	tz, err := entityTimezone(timezone)
	if err != nil {
		return nil, availability.ConflictReport{}, err
	}
	return s.prepare(inputs, tz, s.now())
}

func (s *Service) prepare(inputs []availability.WindowInput, tz string, reference time.Time) ([]availability.Window, availability.ConflictReport, error) {
	withDefaults := make([]availability.WindowInput, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in.Timezone) == "" {
			in.Timezone = tz
		}
		withDefaults[i] = in
	}
	specs, err := availability.ParseWindowInputs(withDefaults)
	if err != nil {
		return nil, availability.ConflictReport{}, err
	}
	windows, err := availability.NormalizeAll(specs, reference)
	if err != nil {
		return nil, availability.ConflictReport{}, err
	}
	return windows, availability.DetectConflicts(windows), nil
}

// Evaluate answers for one entity at the given instant, or at the service
// clock when at is zero. Results are cached per minute bucket; windows are
// minute-granular so state cannot change inside a bucket.
func (s *Service) Evaluate(ctx context.Context, kind, id string, at time.Time) (res availability.Result, err error) {
	ctx, span := s.tracer.Start(ctx, "availability.evaluate", trace.WithAttributes(
		attribute.String("entity.kind", kind),
		attribute.String("entity.id", id),
	))
	defer func() { endSpan(span, err) }()

	if err := validateEntityRef(kind, id); err != nil {
		return availability.Result{}, err
	}
	if at.IsZero() {
		at = s.now()
	}

	key := cache.Key(kind, id, at)
	if cached, ok := s.cache.Get(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	entity, err := s.repo.GetEntity(ctx, kind, id)
	if errors.Is(err, storage.ErrNotFound) {
		return availability.Result{}, ErrEntityNotFound
	}
	if err != nil {
		return availability.Result{}, fmt.Errorf("load entity: %w", err)
	}
	stored, err := s.repo.ListWindows(ctx, kind, id)
	if err != nil {
		return availability.Result{}, fmt.Errorf("load windows: %w", err)
	}

	windows := make([]availability.Window, 0, len(stored))
	for _, sw := range stored {
		ws, err := availability.Normalize(sw.Spec, at)
		if err != nil {
			s.logger.WarnContext(ctx, "stored window skipped", "window_id", sw.ID, "err", err)
			continue
		}
		windows = append(windows, ws...)
	}

	res = availability.Evaluate(windows, at)
	ttl := entity.CacheTTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.cache.Set(ctx, key, res, ttl)
	return res, nil
}

type EntityWindows struct {
	Entity  storage.Entity
	Windows []storage.StoredWindow
}

func (s *Service) GetWindows(ctx context.Context, kind, id string) (EntityWindows, error) {
	if err := validateEntityRef(kind, id); err != nil {
		return EntityWindows{}, err
	}
	entity, err := s.repo.GetEntity(ctx, kind, id)
	if errors.Is(err, storage.ErrNotFound) {
		return EntityWindows{}, ErrEntityNotFound
	}
	if err != nil {
		return EntityWindows{}, fmt.Errorf("load entity: %w", err)
	}
	windows, err := s.repo.ListWindows(ctx, kind, id)
	if err != nil {
		return EntityWindows{}, fmt.Errorf("load windows: %w", err)
	}
	return EntityWindows{Entity: entity, Windows: windows}, nil
}

// DeleteEntity removes the entity with its windows. Deleting an unknown
// entity is not an error.
func (s *Service) DeleteEntity(ctx context.Context, kind, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "availability.delete_entity", trace.WithAttributes(
		attribute.String("entity.kind", kind),
		attribute.String("entity.id", id),
	))
	defer func() { endSpan(span, err) }()

	if err := validateEntityRef(kind, id); err != nil {
		return err
	}
	evt, err := events.OutboxEvent(kind, id, s.now())
	if err != nil {
		return err
	}

	prefix := cache.EntityPrefix(kind, id)
	s.cache.InvalidatePrefix(ctx, prefix)
	deleted, err := s.repo.DeleteEntity(ctx, kind, id, evt)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	s.cache.InvalidatePrefix(ctx, prefix)

	if deleted {
		s.logger.InfoContext(ctx, "availability entity deleted", "entity_kind", kind, "entity_id", id)
	}
	return nil
}

func validateEntityRef(kind, id string) error {
	if kind != storage.KindStore && kind != storage.KindProduct {
		return fmt.Errorf("kind: %w: %q is not store or product", availability.ErrInvalidField, kind)
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("id: %w", availability.ErrMissingField)
	}
	if len(id) > maxIDLen || strings.ContainsAny(id, ":*?[]\\") {
		return fmt.Errorf("id: %w: %q", availability.ErrInvalidField, id)
	}
	return nil
}

func entityTimezone(tz string) (string, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return availability.DefaultTimezone, nil
	}
	if _, err := availability.LoadLocation(tz); err != nil {
		return "", fmt.Errorf("timezone: %w", err)
	}
	return tz, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, availability.ErrConflictDetected) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
