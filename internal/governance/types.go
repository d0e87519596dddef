// Package governance tracks the lifecycle of versioned templates: status
// transitions and locking, data migrations between versions, deprecation
// notices and metadata validation.
//
// Each service (Governance, MigrationRegistry, DeprecationRegistry, Validator)
// is an independent store constructed once per process and shared by
// reference. Services only refer to each other through the template id string.
// All services are safe for concurrent use.
package governance

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/artpar/templategov/internal/core/semver"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrTemplateNotFound is returned when a template id is unknown.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrTemplateIDRequired is returned when registering metadata without an id.
	ErrTemplateIDRequired = errors.New("template id is required")

	// ErrTemplateExists is returned when registering a template id twice.
	ErrTemplateExists = errors.New("template already registered")

	// ErrInvalidTransition is returned when a status change is not an edge of the status graph.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidStatus is returned for a status outside the closed set.
	ErrInvalidStatus = errors.New("invalid template status")

	// ErrModificationNotAllowed is returned by GuardModification for locked or released templates.
	ErrModificationNotAllowed = errors.New("template cannot be modified")

	// ErrInvalidMigration is returned when a migration is missing an id or function.
	ErrInvalidMigration = errors.New("invalid migration")

	// ErrInvalidNotice is returned when a deprecation notice is malformed.
	ErrInvalidNotice = errors.New("invalid deprecation notice")

	// ErrInvalidRule is returned when adding a validation rule without an id or check.
	ErrInvalidRule = errors.New("invalid validation rule")

	// ErrDuplicateRule is returned when adding a validation rule whose id is taken.
	ErrDuplicateRule = errors.New("validation rule already registered")
)

// ModificationError explains why a template may not be modified.
type ModificationError struct {
	ID     string
	Status TemplateStatus
	Locked bool
}

func (e *ModificationError) Error() string {
	return fmt.Sprintf("template %q cannot be modified (status: %s, locked: %t)", e.ID, e.Status, e.Locked)
}

func (e *ModificationError) Unwrap() error {
	return ErrModificationNotAllowed
}

// =============================================================================
// Template Status
// =============================================================================

// TemplateStatus is the lifecycle stage of a governed template.
type TemplateStatus string

const (
	StatusDraft      TemplateStatus = "draft"
	StatusPreview    TemplateStatus = "preview"
	StatusPublished  TemplateStatus = "published"
	StatusDeprecated TemplateStatus = "deprecated"
	StatusArchived   TemplateStatus = "archived"
)

// IsValid checks if the template status is valid.
func (s TemplateStatus) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsEditable reports whether templates in this status may be modified when unlocked.
func (s TemplateStatus) IsEditable() bool {
	return s == StatusDraft || s == StatusPreview
}

// validTransitions defines the allowed state transitions.
var validTransitions = map[TemplateStatus][]TemplateStatus{
	StatusDraft:      {StatusPreview, StatusArchived},
	StatusPreview:    {StatusDraft, StatusPublished, StatusArchived},
	StatusPublished:  {StatusDeprecated, StatusArchived},
	StatusDeprecated: {StatusArchived},
	StatusArchived:   {}, // Terminal state
}

// ValidateTransition checks if a status transition is valid.
func ValidateTransition(from, to TemplateStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, from)
	}
	if slices.Contains(allowed, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// AllowedTransitions returns the statuses reachable from s in one step.
func AllowedTransitions(s TemplateStatus) []TemplateStatus {
	return slices.Clone(validTransitions[s])
}

// =============================================================================
// Versions & Metadata
// =============================================================================

// Severity classifies deprecation notices and validation issues.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// DeprecationNotice declares a data path discouraged since a version.
type DeprecationNotice struct {
	// Path is a dot-delimited path into template data payloads.
	Path        string   `json:"path" yaml:"path"`
	Since       string   `json:"since" yaml:"since"`
	RemoveIn    string   `json:"removeIn" yaml:"removeIn"`
	Reason      string   `json:"reason" yaml:"reason"`
	Replacement string   `json:"replacement,omitempty" yaml:"replacement,omitempty"`
	Severity    Severity `json:"severity" yaml:"severity"`
}

// TemplateVersion describes one release of a template.
type TemplateVersion struct {
	Version         semver.Version      `json:"version" yaml:"version"`
	VersionString   string              `json:"versionString" yaml:"versionString"`
	ReleaseDate     time.Time           `json:"releaseDate" yaml:"releaseDate"`
	Changelog       []string            `json:"changelog,omitempty" yaml:"changelog,omitempty"`
	BreakingChanges []string            `json:"breakingChanges,omitempty" yaml:"breakingChanges,omitempty"`
	Deprecations    []DeprecationNotice `json:"deprecations,omitempty" yaml:"deprecations,omitempty"`
	MigrationGuide  string              `json:"migrationGuide,omitempty" yaml:"migrationGuide,omitempty"`
}

// NewTemplateVersion builds a TemplateVersion from a version string.
func NewTemplateVersion(version string, releaseDate time.Time) (TemplateVersion, error) {
	v, err := semver.Parse(version)
	if err != nil {
		return TemplateVersion{}, err
	}
	return TemplateVersion{
		Version:       v,
		VersionString: v.String(),
		ReleaseDate:   releaseDate,
	}, nil
}

func (v TemplateVersion) clone() TemplateVersion {
	v.Changelog = slices.Clone(v.Changelog)
	v.BreakingChanges = slices.Clone(v.BreakingChanges)
	v.Deprecations = slices.Clone(v.Deprecations)
	return v
}

// VersionedTemplateMetadata is the governed definition of one template across releases.
type VersionedTemplateMetadata struct {
	ID       string            `json:"id" yaml:"id"`
	Name     string            `json:"name" yaml:"name"`
	Version  TemplateVersion   `json:"version" yaml:"version"`
	Status   TemplateStatus    `json:"status" yaml:"status"`
	Locked   bool              `json:"locked" yaml:"locked"`
	Versions []TemplateVersion `json:"versions,omitempty" yaml:"versions,omitempty"`
	Author   string            `json:"author,omitempty" yaml:"author,omitempty"`
	License  string            `json:"license,omitempty" yaml:"license,omitempty"`
	Tags     []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
}

func (m VersionedTemplateMetadata) clone() VersionedTemplateMetadata {
	m.Version = m.Version.clone()
	if m.Versions != nil {
		versions := make([]TemplateVersion, len(m.Versions))
		for i, v := range m.Versions {
			versions[i] = v.clone()
		}
		m.Versions = versions
	}
	m.Tags = slices.Clone(m.Tags)
	return m
}

// =============================================================================
// Lock & History
// =============================================================================

// LockInfo records why and when a template was locked.
type LockInfo struct {
	Reason   string    `json:"reason,omitempty"`
	LockedBy string    `json:"lockedBy,omitempty"`
	LockedAt time.Time `json:"lockedAt"`
}

// LockResult reports the outcome of Lock or Unlock.
type LockResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HistoryEntry is one successful status transition.
type HistoryEntry struct {
	ID        string         `json:"id"`
	From      TemplateStatus `json:"from"`
	To        TemplateStatus `json:"to"`
	Timestamp time.Time      `json:"timestamp"`
	Author    string         `json:"author,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// TransitionOptions annotates a status transition.
type TransitionOptions struct {
	Author string
	Reason string
}

// TransitionResult reports the outcome of a status transition.
type TransitionResult struct {
	Success bool           `json:"success"`
	From    TemplateStatus `json:"from,omitempty"`
	To      TemplateStatus `json:"to,omitempty"`
	Message string         `json:"message,omitempty"`
}
