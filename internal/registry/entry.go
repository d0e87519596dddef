// Package registry provides in-memory, type-parametrized stores for
// reusable UI resources (templates, sections, page sections, website templates).
//
// Each registry exclusively owns its entry map and is safe for concurrent use.
// Entries are keyed by metadata id; the id string is the only link between a
// registry entry and the governance subsystem.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/artpar/templategov/internal/core/datapath"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrDuplicateID is returned when registering an id that already exists.
	ErrDuplicateID = errors.New("entry with this id already exists")

	// ErrNotFound is returned when an entry does not exist.
	ErrNotFound = errors.New("entry not found")

	// ErrValidation is returned (wrapped in *ValidationError) when an entry is malformed.
	ErrValidation = errors.New("entry validation failed")
)

// FieldError describes a single structural problem with an entry.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field problem found on an entry.
type ValidationError struct {
	ID       string
	Problems []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Field + ": " + p.Message
	}
	if e.ID != "" {
		return fmt.Sprintf("entry %q: %s", e.ID, strings.Join(msgs, "; "))
	}
	return strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// =============================================================================
// Entry Status
// =============================================================================

// EntryStatus is the availability of a registry entry.
type EntryStatus string

const (
	StatusActive     EntryStatus = "active"
	StatusBeta       EntryStatus = "beta"
	StatusDeprecated EntryStatus = "deprecated"
	StatusArchived   EntryStatus = "archived"
)

// IsValid checks if the entry status is valid.
func (s EntryStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusBeta, StatusDeprecated, StatusArchived:
		return true
	default:
		return false
	}
}

// =============================================================================
// Entry
// =============================================================================

// TemplateMetadata describes a registered resource instance.
// Version is a plain semver string, independent of governance versioning.
type TemplateMetadata struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Category    string    `json:"category" yaml:"category"`
	Version     string    `json:"version" yaml:"version"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Author      string    `json:"author,omitempty" yaml:"author,omitempty"`
	CreatedAt   time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"-"`
}

// Dependency names another entry this one needs, optionally constrained by a version range.
type Dependency struct {
	ID           string `json:"id" yaml:"id"`
	VersionRange string `json:"versionRange,omitempty" yaml:"versionRange,omitempty"`
}

// Compatibility restricts which host versions an entry works with.
type Compatibility struct {
	// VersionRange is a single-operator range (e.g. "^2.0.0") the host version must satisfy.
	VersionRange string   `json:"versionRange,omitempty" yaml:"versionRange,omitempty"`
	Providers    []string `json:"providers,omitempty" yaml:"providers,omitempty"`
}

// Entry is one registered resource.
type Entry[T any] struct {
	Metadata      TemplateMetadata `json:"metadata" yaml:"metadata"`
	Status        EntryStatus      `json:"status" yaml:"status"`
	Content       T                `json:"content" yaml:"content"`
	Dependencies  []Dependency     `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Compatibility *Compatibility   `json:"compatibility,omitempty" yaml:"compatibility,omitempty"`
}

// ID returns the entry's metadata id.
func (e Entry[T]) ID() string {
	return e.Metadata.ID
}

// HasTag reports whether the entry carries tag.
func (e Entry[T]) HasTag(tag string) bool {
	return slices.Contains(e.Metadata.Tags, tag)
}

// clone copies the entry so the caller and the registry never share memory.
// Content is deep-copied when T provides a Clone method.
func (e Entry[T]) clone() Entry[T] {
	if c, ok := any(e.Content).(interface{ Clone() T }); ok {
		e.Content = c.Clone()
	}
	e.Metadata.Tags = slices.Clone(e.Metadata.Tags)
	e.Dependencies = slices.Clone(e.Dependencies)
	if e.Compatibility != nil {
		c := *e.Compatibility
		c.Providers = slices.Clone(c.Providers)
		e.Compatibility = &c
	}
	return e
}

// =============================================================================
// Patches
// =============================================================================

// MetadataPatch holds the metadata fields Update may change. Nil fields are left alone.
type MetadataPatch struct {
	Name        *string
	Category    *string
	Version     *string
	Description *string
	Author      *string
	Tags        []string
}

// Patch is a shallow, top-level update of an entry. Nil fields are left alone.
type Patch[T any] struct {
	Metadata      *MetadataPatch
	Status        *EntryStatus
	Content       *T
	Dependencies  []Dependency
	Compatibility *Compatibility
}

func (p Patch[T]) apply(e Entry[T]) Entry[T] {
	if m := p.Metadata; m != nil {
		if m.Name != nil {
			e.Metadata.Name = *m.Name
		}
		if m.Category != nil {
			e.Metadata.Category = *m.Category
		}
		if m.Version != nil {
			e.Metadata.Version = *m.Version
		}
		if m.Description != nil {
			e.Metadata.Description = *m.Description
		}
		if m.Author != nil {
			e.Metadata.Author = *m.Author
		}
		if m.Tags != nil {
			e.Metadata.Tags = slices.Clone(m.Tags)
		}
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Content != nil {
		e.Content = *p.Content
	}
	if p.Dependencies != nil {
		e.Dependencies = slices.Clone(p.Dependencies)
	}
	if p.Compatibility != nil {
		c := *p.Compatibility
		e.Compatibility = &c
	}
	return e
}

// =============================================================================
// Structural Validation (Pure)
// =============================================================================

var versionPrefixRegex = regexp.MustCompile(`^\d+\.\d+\.\d+`)

// ValidateEntry checks the structural invariants every registry entry must hold.
// Returns nil when the entry is well formed.
func ValidateEntry[T any](e Entry[T]) []FieldError {
	var problems []FieldError

	if strings.TrimSpace(e.Metadata.ID) == "" {
		problems = append(problems, FieldError{Field: "metadata.id", Message: "is required"})
	}
	if strings.TrimSpace(e.Metadata.Name) == "" {
		problems = append(problems, FieldError{Field: "metadata.name", Message: "is required"})
	}
	if strings.TrimSpace(e.Metadata.Category) == "" {
		problems = append(problems, FieldError{Field: "metadata.category", Message: "is required"})
	}
	switch {
	case e.Metadata.Version == "":
		problems = append(problems, FieldError{Field: "metadata.version", Message: "is required"})
	case !versionPrefixRegex.MatchString(e.Metadata.Version):
		problems = append(problems, FieldError{Field: "metadata.version", Message: "must start with MAJOR.MINOR.PATCH"})
	}
	if !e.Status.IsValid() {
		problems = append(problems, FieldError{
			Field:   "status",
			Message: fmt.Sprintf("must be one of active, beta, deprecated, archived (got %q)", e.Status),
		})
	}
	if isNil(e.Content) {
		problems = append(problems, FieldError{Field: "content", Message: "is required"})
	}

	return problems
}

func cloneTree(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return datapath.Clone(m).(map[string]any)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
