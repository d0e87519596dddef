package governance

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/artpar/templategov/internal/core/slug"
)

// DefaultInitialVersion is the version given to templates created without one.
const DefaultInitialVersion = "0.1.0"

// Workflows composes the governance services into the create, publish and
// health-check flows. It holds references only; every service keeps its own state.
type Workflows struct {
	Governance   *Governance
	Migrations   *MigrationRegistry
	Deprecations *DeprecationRegistry
	Validator    *Validator

	logger *slog.Logger
	now    func() time.Time
}

// NewWorkflows wires the services together. Nil services are created empty.
func NewWorkflows(gov *Governance, migrations *MigrationRegistry, deprecations *DeprecationRegistry, validator *Validator, logger *slog.Logger) *Workflows {
	if logger == nil {
		logger = slog.Default()
	}
	if gov == nil {
		gov = NewGovernance(logger)
	}
	if migrations == nil {
		migrations = NewMigrationRegistry(logger)
	}
	if deprecations == nil {
		deprecations = NewDeprecationRegistry(logger)
	}
	if validator == nil {
		validator = NewValidator(logger)
	}
	return &Workflows{
		Governance:   gov,
		Migrations:   migrations,
		Deprecations: deprecations,
		Validator:    validator,
		logger:       logger.With("component", "workflows"),
		now:          gov.now,
	}
}

// Reset clears every service. Intended for test harnesses.
func (w *Workflows) Reset() {
	w.Governance.Reset()
	w.Migrations.Clear()
	w.Deprecations.Clear()
	w.Validator.Reset()
}

// =============================================================================
// Create
// =============================================================================

// CreateOptions customizes CreateTemplate.
type CreateOptions struct {
	Version string
	Author  string
	License string
	Tags    []string
}

// CreateTemplate registers a new draft template. The version defaults to 0.1.0.
func (w *Workflows) CreateTemplate(id, name string, opts CreateOptions) (VersionedTemplateMetadata, error) {
	if id == "" {
		return VersionedTemplateMetadata{}, ErrTemplateIDRequired
	}
	if opts.Version == "" {
		opts.Version = DefaultInitialVersion
	}
	version, err := NewTemplateVersion(opts.Version, w.now())
	if err != nil {
		return VersionedTemplateMetadata{}, err
	}
	if !slug.IsKebab(id) {
		w.logger.Warn("template id is not kebab-case", "template_id", id, "suggestion", slug.Kebab(id))
	}

	meta := VersionedTemplateMetadata{
		ID:      id,
		Name:    name,
		Version: version,
		Status:  StatusDraft,
		Author:  opts.Author,
		License: opts.License,
		Tags:    slices.Clone(opts.Tags),
	}
	if err := w.Governance.Register(meta); err != nil {
		return VersionedTemplateMetadata{}, err
	}

	w.logger.Info("template created", "template_id", id, "version", version.VersionString)
	created, _ := w.Governance.Get(id)
	return created, nil
}

// =============================================================================
// Publish
// =============================================================================

// PublishOptions carries the release notes recorded on publish.
type PublishOptions struct {
	Changelog       []string
	BreakingChanges []string
	MigrationGuide  string
	Author          string
}

// PublishResult reports the outcome of PrepareForPublish.
type PublishResult struct {
	Success    bool                      `json:"success"`
	Metadata   VersionedTemplateMetadata `json:"metadata"`
	Validation ValidationResult          `json:"validation"`
	Errors     []string                  `json:"errors,omitempty"`
}

func (r PublishResult) fail(format string, args ...any) PublishResult {
	r.Success = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	return r
}

// PrepareForPublish validates the template as it would look once published
// with the given release notes, records the notes, moves a draft through
// preview and publishes it. Any failing step stops the flow and is reported in
// the result; a template that fails validation keeps its previous notes.
func (w *Workflows) PrepareForPublish(id string, opts PublishOptions) PublishResult {
	var result PublishResult

	if err := w.Governance.GuardModification(id); err != nil {
		return result.fail("%v", err)
	}
	current, ok := w.Governance.Get(id)
	if !ok {
		return result.fail("%v: %s", ErrTemplateNotFound, id)
	}

	deprecations := w.Deprecations.GetNotices(id)
	releaseDate := w.now()
	recordRelease := func(m *VersionedTemplateMetadata) {
		if len(opts.Changelog) > 0 {
			m.Version.Changelog = slices.Clone(opts.Changelog)
		}
		if len(opts.BreakingChanges) > 0 {
			m.Version.BreakingChanges = slices.Clone(opts.BreakingChanges)
		}
		if opts.MigrationGuide != "" {
			m.Version.MigrationGuide = opts.MigrationGuide
		}
		m.Version.Deprecations = slices.Clone(deprecations)
		m.Version.ReleaseDate = releaseDate
	}

	staged := current.clone()
	recordRelease(&staged)
	result.Metadata = staged

	candidate := staged.clone()
	candidate.Status = StatusPublished
	candidate.Locked = true
	validation, err := w.Validator.ValidateMetadata(candidate)
	if err != nil {
		return result.fail("validate: %v", err)
	}
	result.Validation = validation
	if !validation.Valid {
		for _, issue := range validation.Errors {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s (%s)", issue.RuleID, issue.Message, issue.Path))
		}
		w.logger.Warn("publish blocked by validation", "template_id", id, "errors", len(validation.Errors))
		return result.fail("template %q failed validation", id)
	}

	updated, err := w.Governance.Update(id, recordRelease)
	if err != nil {
		return result.fail("%v", err)
	}
	result.Metadata = updated

	if updated.Status == StatusDraft {
		t := w.Governance.Transition(id, StatusPreview, TransitionOptions{Author: opts.Author, Reason: "prepare for publish"})
		if !t.Success {
			return result.fail("%s", t.Message)
		}
	}

	published := w.Governance.PublishTemplate(id, opts.Author)
	if !published.Success {
		return result.fail("%s", published.Message)
	}

	result.Success = true
	result.Metadata, _ = w.Governance.Get(id)
	w.logger.Info("template published", "template_id", id, "version", result.Metadata.Version.VersionString)
	return result
}

// =============================================================================
// Health
// =============================================================================

// HealthReport summarizes the governance state of one template.
type HealthReport struct {
	TemplateID      string              `json:"templateId"`
	Healthy         bool                `json:"healthy"`
	Status          TemplateStatus      `json:"status"`
	Locked          bool                `json:"locked"`
	Version         string              `json:"version"`
	Validation      ValidationResult    `json:"validation"`
	Deprecations    []DeprecationNotice `json:"deprecations"`
	PendingRemovals []string            `json:"pendingRemovals,omitempty"`
	Migrations      int                 `json:"migrations"`
	Issues          []string            `json:"issues,omitempty"`
}

// CheckHealth validates the template and reports deprecations that are due for
// removal at its current version. A template is healthy when it validates and
// nothing is overdue.
func (w *Workflows) CheckHealth(id string) (HealthReport, error) {
	meta, ok := w.Governance.Get(id)
	if !ok {
		return HealthReport{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}

	validation, err := w.Validator.ValidateMetadata(meta)
	if err != nil {
		return HealthReport{}, err
	}

	version := meta.Version.VersionString
	report := HealthReport{
		TemplateID:   id,
		Status:       meta.Status,
		Locked:       meta.Locked,
		Version:      version,
		Validation:   validation,
		Deprecations: w.Deprecations.GetNotices(id),
		Migrations:   len(w.Migrations.ListMigrations(id)),
	}

	for _, issue := range validation.Errors {
		report.Issues = append(report.Issues, fmt.Sprintf("%s: %s", issue.RuleID, issue.Message))
	}
	for _, n := range report.Deprecations {
		if !slices.Contains(report.PendingRemovals, n.Path) && w.Deprecations.ShouldRemove(id, n.Path, version) {
			report.PendingRemovals = append(report.PendingRemovals, n.Path)
			report.Issues = append(report.Issues, fmt.Sprintf("deprecated path %q was due for removal in %s", n.Path, n.RemoveIn))
		}
	}
	if meta.Status == StatusPublished && !meta.Locked {
		report.Issues = append(report.Issues, "published template is not locked")
	}

	report.Healthy = len(report.Issues) == 0
	return report, nil
}

// IsModificationError reports whether err came from the modification gate.
func IsModificationError(err error) bool {
	var me *ModificationError
	return errors.As(err, &me)
}
