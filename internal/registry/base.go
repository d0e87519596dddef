package registry

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/artpar/templategov/internal/core/semver"
	modsemver "golang.org/x/mod/semver"
)

// Hook runs extra validation for a specialized registry. It returns the
// problems found, or nil when the entry is acceptable.
type Hook[T any] func(Entry[T]) []FieldError

// Option configures a Registry.
type Option[T any] func(*Registry[T])

// WithAllowDuplicates lets Register replace an existing entry with the same id.
func WithAllowDuplicates[T any](allow bool) Option[T] {
	return func(r *Registry[T]) {
		r.allowDuplicates = allow
	}
}

// WithValidateOnRegister toggles structural validation in Register and Update (default: on).
func WithValidateOnRegister[T any](validate bool) Option[T] {
	return func(r *Registry[T]) {
		r.validateOnRegister = validate
	}
}

// WithHook adds a validation hook that runs after the structural checks.
func WithHook[T any](hook Hook[T]) Option[T] {
	return func(r *Registry[T]) {
		r.hooks = append(r.hooks, hook)
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(r *Registry[T]) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Registry is a generic in-memory store keyed by entry id.
type Registry[T any] struct {
	name               string
	allowDuplicates    bool
	validateOnRegister bool
	hooks              []Hook[T]
	logger             *slog.Logger
	now                func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry[T]
	order   []string
}

// New creates an empty registry. name is used in log lines and error messages.
func New[T any](name string, opts ...Option[T]) *Registry[T] {
	r := &Registry[T]{
		name:               name,
		validateOnRegister: true,
		logger:             slog.Default(),
		now:                func() time.Time { return time.Now().UTC() },
		entries:            make(map[string]Entry[T]),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("registry", name)
	return r
}

// Name returns the registry name.
func (r *Registry[T]) Name() string {
	return r.name
}

// =============================================================================
// Mutation
// =============================================================================

// Register adds an entry. It is all-or-nothing: a duplicate id or a failed
// validation leaves the registry untouched.
func (r *Registry[T]) Register(entry Entry[T]) error {
	if err := r.validate(entry); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := entry.Metadata.ID
	_, exists := r.entries[id]
	if exists && !r.allowDuplicates {
		return fmt.Errorf("%s: %w: %s", r.name, ErrDuplicateID, id)
	}

	now := r.now()
	if entry.Metadata.CreatedAt.IsZero() {
		entry.Metadata.CreatedAt = now
	}
	entry.Metadata.UpdatedAt = now

	r.entries[id] = entry.clone()
	if !exists {
		r.order = append(r.order, id)
	}

	r.logger.Debug("entry registered", "id", id, "version", entry.Metadata.Version, "replaced", exists)
	return nil
}

// Update shallow-merges patch into the entry with the given id and returns the result.
func (r *Registry[T]) Update(id string, patch Patch[T]) (Entry[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.entries[id]
	if !ok {
		return Entry[T]{}, fmt.Errorf("%s: %w: %s", r.name, ErrNotFound, id)
	}

	updated := patch.apply(current.clone())
	if err := r.validate(updated); err != nil {
		return Entry[T]{}, err
	}
	updated.Metadata.UpdatedAt = r.now()

	r.entries[id] = updated.clone()
	r.logger.Debug("entry updated", "id", id)
	return updated.clone(), nil
}

// Remove deletes the entry with the given id. Returns true if an entry was deleted.
func (r *Registry[T]) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })

	r.logger.Debug("entry removed", "id", id)
	return true
}

// Clear removes every entry. Intended for test harnesses and reloads.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]Entry[T])
	r.order = nil
}

func (r *Registry[T]) validate(entry Entry[T]) error {
	if !r.validateOnRegister {
		return nil
	}
	problems := ValidateEntry(entry)
	for _, hook := range r.hooks {
		problems = append(problems, hook(entry)...)
	}
	if len(problems) > 0 {
		return &ValidationError{ID: entry.Metadata.ID, Problems: problems}
	}
	return nil
}

// =============================================================================
// Lookup
// =============================================================================

// Get returns the entry with the given id.
func (r *Registry[T]) Get(id string) (Entry[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Entry[T]{}, false
	}
	return e.clone(), true
}

// GetVersion returns the entry when its version satisfies versionRange.
// An empty range matches any version.
func (r *Registry[T]) GetVersion(id, versionRange string) (Entry[T], bool) {
	e, ok := r.Get(id)
	if !ok {
		return Entry[T]{}, false
	}
	if versionRange != "" && !semver.SatisfiesString(e.Metadata.Version, versionRange) {
		return Entry[T]{}, false
	}
	return e, true
}

// Has reports whether an entry with the given id exists.
func (r *Registry[T]) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[id]
	return ok
}

// List returns every entry in registration order, regardless of status.
func (r *Registry[T]) List() []Entry[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry[T], 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].clone())
	}
	return out
}

// Count returns the number of entries, regardless of status.
func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// =============================================================================
// Query
// =============================================================================

// QueryOptions filters a query. Deprecated and archived entries are excluded
// unless explicitly included, even when Status names them.
type QueryOptions struct {
	Status            EntryStatus
	Category          string
	Tags              []string
	Search            string
	IncludeDeprecated bool
	IncludeArchived   bool

	// Limit <= 0 returns every match.
	Limit  int
	Offset int
}

// QueryResult holds one page of matches and the total match count.
type QueryResult[T any] struct {
	Entries []Entry[T]
	Total   int
}

// Query returns the entries matching opts in registration order.
func (r *Registry[T]) Query(opts QueryOptions) QueryResult[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(opts.Search))

	var matches []Entry[T]
	for _, id := range r.order {
		e := r.entries[id]
		if !opts.matches(e.Status, e.Metadata, search) {
			continue
		}
		matches = append(matches, e.clone())
	}

	result := QueryResult[T]{Total: len(matches)}
	result.Entries = paginate(matches, opts.Offset, opts.Limit)
	return result
}

func (o QueryOptions) matches(status EntryStatus, m TemplateMetadata, search string) bool {
	if status == StatusDeprecated && !o.IncludeDeprecated {
		return false
	}
	if status == StatusArchived && !o.IncludeArchived {
		return false
	}
	if o.Status != "" && status != o.Status {
		return false
	}
	if o.Category != "" && m.Category != o.Category {
		return false
	}
	for _, tag := range o.Tags {
		if !slices.Contains(m.Tags, tag) {
			return false
		}
	}
	if search != "" {
		haystack := strings.ToLower(m.Name + " " + m.Description)
		if !strings.Contains(haystack, search) {
			return false
		}
	}
	return true
}

func paginate[E any](items []E, offset, limit int) []E {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []E{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// =============================================================================
// Stats
// =============================================================================

// Stats aggregates the current entries.
type Stats struct {
	Total      int                 `json:"total"`
	ByStatus   map[EntryStatus]int `json:"byStatus"`
	ByCategory map[string]int      `json:"byCategory"`
	// Versions is the distinct set of version strings, in semver order.
	Versions []string `json:"versions"`
}

// Stats recomputes aggregate counts over every entry.
func (r *Registry[T]) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Total:      len(r.entries),
		ByStatus:   make(map[EntryStatus]int),
		ByCategory: make(map[string]int),
	}

	seen := make(map[string]bool)
	var prefixed []string
	for _, e := range r.entries {
		stats.ByStatus[e.Status]++
		stats.ByCategory[e.Metadata.Category]++
		if !seen[e.Metadata.Version] {
			seen[e.Metadata.Version] = true
			prefixed = append(prefixed, "v"+e.Metadata.Version)
		}
	}

	modsemver.Sort(prefixed)
	stats.Versions = make([]string, len(prefixed))
	for i, v := range prefixed {
		stats.Versions[i] = strings.TrimPrefix(v, "v")
	}
	return stats
}

// =============================================================================
// Dependencies & Compatibility
// =============================================================================

// MissingDependencies lists the dependencies of id that are absent from this
// registry or whose registered version falls outside the requested range.
func (r *Registry[T]) MissingDependencies(id string) ([]Dependency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", r.name, ErrNotFound, id)
	}

	var missing []Dependency
	for _, dep := range e.Dependencies {
		target, ok := r.entries[dep.ID]
		if !ok {
			missing = append(missing, dep)
			continue
		}
		if dep.VersionRange != "" && !semver.SatisfiesString(target.Metadata.Version, dep.VersionRange) {
			missing = append(missing, dep)
		}
	}
	return missing, nil
}

// CheckCompatibility reports whether the entry works with the given host version.
// Entries without a compatibility range are compatible with everything.
func (r *Registry[T]) CheckCompatibility(id, hostVersion string) (bool, error) {
	e, ok := r.Get(id)
	if !ok {
		return false, fmt.Errorf("%s: %w: %s", r.name, ErrNotFound, id)
	}
	if e.Compatibility == nil || e.Compatibility.VersionRange == "" {
		return true, nil
	}
	host, err := semver.Parse(hostVersion)
	if err != nil {
		return false, err
	}
	return semver.Satisfies(host, e.Compatibility.VersionRange), nil
}
