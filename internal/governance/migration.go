package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/artpar/templategov/internal/core/datapath"
	"github.com/artpar/templategov/internal/core/semver"
)

// Span attribute keys for migration tracing.
const (
	AttrTemplateID  = "template.id"
	AttrFromVersion = "migration.from"
	AttrToVersion   = "migration.to"
	AttrMigrationID = "migration.id"
	AttrDryRun      = "migration.dry_run"
	AttrBreaking    = "migration.breaking"
	AttrStepCount   = "migration.steps"
)

// =============================================================================
// Types
// =============================================================================

// MigrationContext accompanies a single migration step. Steps may append to
// Warnings and Errors; the entries are merged into the run once the step returns.
type MigrationContext struct {
	TemplateID  string
	FromVersion string
	ToVersion   string
	DryRun      bool
	Warnings    []string
	Errors      []string
}

// Warn records a warning for the current run.
func (mc *MigrationContext) Warn(format string, args ...any) {
	mc.Warnings = append(mc.Warnings, fmt.Sprintf(format, args...))
}

// MigrateFunc transforms a data payload. It may mutate data in place and must
// return the payload the next step should see.
type MigrateFunc func(ctx context.Context, data any, mc *MigrationContext) (any, error)

// Migration moves a data payload from one template version to another.
type Migration struct {
	ID          string
	From        string
	To          string
	Description string
	Breaking    bool
	Migrate     MigrateFunc

	from semver.Version
	to   semver.Version
}

// MigrateOptions tunes a migration run.
type MigrateOptions struct {
	DryRun bool
}

// MigrationResult reports the outcome of a run. On failure Data is the
// caller's original payload and Version is the starting version.
type MigrationResult struct {
	RunID             string   `json:"runId"`
	Success           bool     `json:"success"`
	Data              any      `json:"data"`
	Version           string   `json:"version"`
	DryRun            bool     `json:"dryRun"`
	MigrationsApplied []string `json:"migrationsApplied"`
	Warnings          []string `json:"warnings,omitempty"`
	Errors            []string `json:"errors,omitempty"`
}

// MigrationObserver is notified after every run.
type MigrationObserver func(templateID string, result *MigrationResult, elapsed time.Duration)

// MigrationOption configures a MigrationRegistry.
type MigrationOption func(*MigrationRegistry)

// WithTracer sets the tracer used for run and step spans.
func WithTracer(tracer trace.Tracer) MigrationOption {
	return func(r *MigrationRegistry) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithMigrationTimeout bounds every run. Zero disables the timeout.
func WithMigrationTimeout(d time.Duration) MigrationOption {
	return func(r *MigrationRegistry) {
		r.timeout = d
	}
}

// WithMigrationObserver registers an observer for completed runs.
func WithMigrationObserver(obs MigrationObserver) MigrationOption {
	return func(r *MigrationRegistry) {
		r.observers = append(r.observers, obs)
	}
}

// =============================================================================
// Registry
// =============================================================================

// MigrationRegistry stores migrations per template, sorted by From version.
type MigrationRegistry struct {
	logger    *slog.Logger
	tracer    trace.Tracer
	timeout   time.Duration
	observers []MigrationObserver

	mu         sync.RWMutex
	migrations map[string][]Migration
	running    map[string]*sync.Mutex
}

// NewMigrationRegistry creates an empty migration registry.
func NewMigrationRegistry(logger *slog.Logger, opts ...MigrationOption) *MigrationRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &MigrationRegistry{
		logger:     logger.With("component", "migrations"),
		tracer:     noop.NewTracerProvider().Tracer("templategov/migrations"),
		migrations: make(map[string][]Migration),
		running:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends m to the template's list and re-sorts it by From version.
// Malformed versions or a missing id/function are rejected.
func (r *MigrationRegistry) Register(templateID string, m Migration) error {
	if m.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidMigration)
	}
	if m.Migrate == nil {
		return fmt.Errorf("%w: %s: migrate function is required", ErrInvalidMigration, m.ID)
	}
	from, err := semver.Parse(m.From)
	if err != nil {
		return fmt.Errorf("migration %s: from: %w", m.ID, err)
	}
	to, err := semver.Parse(m.To)
	if err != nil {
		return fmt.Errorf("migration %s: to: %w", m.ID, err)
	}
	m.from, m.to = from, to

	r.mu.Lock()
	defer r.mu.Unlock()

	list := append(r.migrations[templateID], m)
	slices.SortStableFunc(list, func(a, b Migration) int {
		return int(semver.Compare(a.from, b.from))
	})
	r.migrations[templateID] = list

	r.logger.Debug("migration registered", "template_id", templateID, "migration_id", m.ID, "from", m.From, "to", m.To)
	return nil
}

// ListMigrations returns every migration registered for the template, in run order.
func (r *MigrationRegistry) ListMigrations(templateID string) []Migration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.migrations[templateID])
}

// GetMigrations selects every migration with From >= from and To <= to, in
// list order. The selection is an inclusive range filter: it does not check
// that the steps form a contiguous chain, so overlapping registrations all run.
func (r *MigrationRegistry) GetMigrations(templateID, from, to string) ([]Migration, error) {
	fromV, err := semver.Parse(from)
	if err != nil {
		return nil, err
	}
	toV, err := semver.Parse(to)
	if err != nil {
		return nil, err
	}
	return r.selectRange(templateID, fromV, toV), nil
}

func (r *MigrationRegistry) selectRange(templateID string, from, to semver.Version) []Migration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var selected []Migration
	for _, m := range r.migrations[templateID] {
		if semver.Compare(m.from, from) != semver.Less && semver.Compare(m.to, to) != semver.Greater {
			selected = append(selected, m)
		}
	}
	return selected
}

// HasMigrationPath reports whether the selected migrations form a contiguous
// chain that starts at from and ends at to. Equal versions trivially have a path.
func (r *MigrationRegistry) HasMigrationPath(templateID, from, to string) bool {
	fromV, err := semver.Parse(from)
	if err != nil {
		return false
	}
	toV, err := semver.Parse(to)
	if err != nil {
		return false
	}
	if semver.Compare(fromV, toV) == semver.Equal {
		return true
	}

	cursor := fromV
	for _, m := range r.selectRange(templateID, fromV, toV) {
		if semver.Compare(m.from, cursor) != semver.Equal {
			return false
		}
		cursor = m.to
	}
	return semver.Compare(cursor, toV) == semver.Equal
}

// Clear removes every registered migration. Intended for test harnesses.
func (r *MigrationRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.migrations = make(map[string][]Migration)
}

func (r *MigrationRegistry) runLock(templateID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.running[templateID]
	if !ok {
		l = &sync.Mutex{}
		r.running[templateID] = l
	}
	return l
}

// =============================================================================
// Running
// =============================================================================

// Migrate runs the selected migrations over a deep copy of data. The caller's
// payload is never modified: payloads that are not generic JSON trees are first
// converted to one through their JSON encoding. Runs for the same template are
// serialized, and a step abandoned on timeout keeps the template's run lock
// until it returns.
//
// Dry runs skip every step but still list it in MigrationsApplied. Breaking
// steps add a warning in both modes. The first failing step stops the run; the
// result then carries the original data and version.
//
// An error is returned only for malformed version strings.
func (r *MigrationRegistry) Migrate(ctx context.Context, templateID string, data any, from, to string, opts MigrateOptions) (*MigrationResult, error) {
	fromV, err := semver.Parse(from)
	if err != nil {
		return nil, err
	}
	toV, err := semver.Parse(to)
	if err != nil {
		return nil, err
	}

	lock := r.runLock(templateID)
	lock.Lock()
	var abandoned <-chan struct{}
	defer func() {
		if abandoned == nil {
			lock.Unlock()
			return
		}
		r.logger.Warn("migration step still running after timeout, holding run lock", "template_id", templateID)
		go func() {
			<-abandoned
			lock.Unlock()
		}()
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	steps := r.selectRange(templateID, fromV, toV)

	ctx, span := r.tracer.Start(ctx, "migration.run", trace.WithAttributes(
		attribute.String(AttrTemplateID, templateID),
		attribute.String(AttrFromVersion, from),
		attribute.String(AttrToVersion, to),
		attribute.Bool(AttrDryRun, opts.DryRun),
		attribute.Int(AttrStepCount, len(steps)),
	))
	defer span.End()

	started := time.Now()
	mc := &MigrationContext{
		TemplateID:  templateID,
		FromVersion: from,
		ToVersion:   to,
		DryRun:      opts.DryRun,
	}
	result := &MigrationResult{
		RunID:             uuid.New().String(),
		DryRun:            opts.DryRun,
		MigrationsApplied: []string{},
	}

	work, runErr := datapath.Normalize(data)
	if runErr != nil {
		mc.Errors = append(mc.Errors, runErr.Error())
		steps = nil
	}
	for _, m := range steps {
		if m.Breaking {
			mc.Warn("migration %s (%s -> %s) contains breaking changes", m.ID, m.From, m.To)
		}
		if !opts.DryRun {
			work, abandoned, runErr = r.runStep(ctx, m, work, mc)
			if runErr != nil {
				mc.Errors = append(mc.Errors, fmt.Sprintf("migration %s failed: %v", m.ID, runErr))
				break
			}
		}
		result.MigrationsApplied = append(result.MigrationsApplied, m.ID)
	}

	result.Warnings = slices.Clone(mc.Warnings)
	result.Errors = slices.Clone(mc.Errors)
	switch {
	case runErr != nil:
		result.Data = data
		result.Version = from
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		r.logger.Error("migration run failed",
			"template_id", templateID, "from", from, "to", to,
			"applied", result.MigrationsApplied, "error", runErr)
	case opts.DryRun:
		result.Success = true
		result.Data = data
		result.Version = from
		r.logger.Info("migration dry run completed", "template_id", templateID, "from", from, "to", to, "steps", len(steps))
	default:
		result.Success = true
		result.Data = work
		result.Version = to
		r.logger.Info("migration run completed", "template_id", templateID, "from", from, "to", to, "steps", len(steps))
	}

	elapsed := time.Since(started)
	for _, obs := range r.observers {
		obs(templateID, result, elapsed)
	}
	return result, nil
}

// errStepTimeout wraps context errors raised while a step was still running.
var errStepTimeout = errors.New("migration step did not finish")

// runStep runs m in its own goroutine against a private copy of mc. When ctx
// ends first, the returned channel closes once the abandoned step returns.
func (r *MigrationRegistry) runStep(ctx context.Context, m Migration, data any, mc *MigrationContext) (any, <-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	ctx, span := r.tracer.Start(ctx, "migration.step", trace.WithAttributes(
		attribute.String(AttrMigrationID, m.ID),
		attribute.String(AttrFromVersion, m.From),
		attribute.String(AttrToVersion, m.To),
		attribute.Bool(AttrBreaking, m.Breaking),
	))
	defer span.End()

	type outcome struct {
		data any
		err  error
	}
	step := &MigrationContext{
		TemplateID:  mc.TemplateID,
		FromVersion: mc.FromVersion,
		ToVersion:   mc.ToVersion,
		DryRun:      mc.DryRun,
	}
	done := make(chan outcome, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		out, err := m.Migrate(ctx, data, step)
		done <- outcome{data: out, err: err}
	}()

	select {
	case o := <-done:
		mc.Warnings = append(mc.Warnings, step.Warnings...)
		mc.Errors = append(mc.Errors, step.Errors...)
		if o.err != nil {
			span.RecordError(o.err)
			span.SetStatus(codes.Error, o.err.Error())
		}
		return o.data, nil, o.err
	case <-ctx.Done():
		err := fmt.Errorf("%w: %w", errStepTimeout, ctx.Err())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, finished, err
	}
}
