package governance

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/patrickmn/go-cache"

	"github.com/artpar/templategov/internal/core/datapath"
	"github.com/artpar/templategov/internal/core/semver"
)

// Handler receives every emitted deprecation warning.
type Handler func(templateID string, notice DeprecationNotice)

// LogHandler writes notices to logger: Error for error severity, Warn otherwise.
func LogHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(templateID string, n DeprecationNotice) {
		attrs := []any{
			"template_id", templateID,
			"path", n.Path,
			"since", n.Since,
			"remove_in", n.RemoveIn,
			"reason", n.Reason,
		}
		if n.Replacement != "" {
			attrs = append(attrs, "replacement", n.Replacement)
		}
		if n.Severity == SeverityError {
			logger.Error("deprecated path in use", attrs...)
			return
		}
		logger.Warn("deprecated path in use", attrs...)
	}
}

// DeprecationOption configures a DeprecationRegistry.
type DeprecationOption func(*DeprecationRegistry)

// WithoutDefaultHandler skips subscribing the log handler at construction.
func WithoutDefaultHandler() DeprecationOption {
	return func(r *DeprecationRegistry) {
		r.defaultHandler = false
	}
}

// WithHandler subscribes h at construction.
func WithHandler(h Handler) DeprecationOption {
	return func(r *DeprecationRegistry) {
		r.subscribeLocked(h)
	}
}

// CheckOptions tunes Check.
type CheckOptions struct {
	// Once suppresses repeat dispatch for a templateID:path pair until ClearCache.
	Once bool
}

type subscription struct {
	id      uint64
	handler Handler
}

// DeprecationRegistry stores deprecation notices per template and dispatches
// warnings to subscribed handlers when a payload touches a deprecated path.
type DeprecationRegistry struct {
	logger         *slog.Logger
	defaultHandler bool

	mu       sync.RWMutex
	notices  map[string][]DeprecationNotice
	handlers []subscription
	nextID   uint64

	// emitted never expires and has no janitor; only ClearCache resets it.
	emitted *cache.Cache
}

// NewDeprecationRegistry creates a registry with the log handler subscribed
// unless WithoutDefaultHandler is given.
func NewDeprecationRegistry(logger *slog.Logger, opts ...DeprecationOption) *DeprecationRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &DeprecationRegistry{
		logger:         logger.With("component", "deprecations"),
		defaultHandler: true,
		notices:        make(map[string][]DeprecationNotice),
		emitted:        cache.New(cache.NoExpiration, 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.defaultHandler {
		r.subscribeLocked(LogHandler(r.logger))
	}
	return r
}

// Register appends a notice. The same path may be registered more than once.
func (r *DeprecationRegistry) Register(templateID string, n DeprecationNotice) error {
	if n.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidNotice)
	}
	if _, err := semver.Parse(n.Since); err != nil {
		return fmt.Errorf("%w: since: %w", ErrInvalidNotice, err)
	}
	if n.RemoveIn != "" {
		if _, err := semver.Parse(n.RemoveIn); err != nil {
			return fmt.Errorf("%w: removeIn: %w", ErrInvalidNotice, err)
		}
	}
	switch n.Severity {
	case "":
		n.Severity = SeverityWarning
	case SeverityWarning, SeverityError:
	default:
		return fmt.Errorf("%w: severity %q", ErrInvalidNotice, n.Severity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.notices[templateID] = append(r.notices[templateID], n)
	r.logger.Debug("deprecation registered", "template_id", templateID, "path", n.Path, "since", n.Since)
	return nil
}

// Subscribe adds a handler and returns a function that removes it.
func (r *DeprecationRegistry) Subscribe(h Handler) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.subscribeLocked(h)
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.handlers = slices.DeleteFunc(r.handlers, func(s subscription) bool { return s.id == id })
		})
	}
}

func (r *DeprecationRegistry) subscribeLocked(h Handler) uint64 {
	r.nextID++
	r.handlers = append(r.handlers, subscription{id: r.nextID, handler: h})
	return r.nextID
}

// GetNotices returns every notice registered for the template, in registration order.
func (r *DeprecationRegistry) GetNotices(templateID string) []DeprecationNotice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.notices[templateID])
}

// Check returns every notice active at version (since <= version) whose path
// is present in data, and dispatches each to the subscribed handlers. With
// Once set, a templateID:path pair is dispatched at most once until
// ClearCache; it is still included in the returned list.
func (r *DeprecationRegistry) Check(templateID, version string, data any, opts CheckOptions) ([]DeprecationNotice, error) {
	current, err := semver.Parse(version)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	notices := slices.Clone(r.notices[templateID])
	handlers := make([]Handler, len(r.handlers))
	for i, s := range r.handlers {
		handlers[i] = s.handler
	}
	r.mu.RUnlock()

	var found []DeprecationNotice
	for _, n := range notices {
		if !activeAt(n, current) || !datapath.Has(data, n.Path) {
			continue
		}
		found = append(found, n)

		if opts.Once {
			// Add fails when the key is already present.
			if err := r.emitted.Add(templateID+":"+n.Path, struct{}{}, cache.NoExpiration); err != nil {
				continue
			}
		}
		for _, h := range handlers {
			h(templateID, n)
		}
	}
	return found, nil
}

func activeAt(n DeprecationNotice, v semver.Version) bool {
	since, err := semver.Parse(n.Since)
	if err != nil {
		return false
	}
	return semver.Compare(since, v) != semver.Greater
}

// IsDeprecated reports whether any notice for path is active at version.
func (r *DeprecationRegistry) IsDeprecated(templateID, path, version string) bool {
	v, err := semver.Parse(version)
	if err != nil {
		return false
	}
	for _, n := range r.GetNotices(templateID) {
		if n.Path == path && activeAt(n, v) {
			return true
		}
	}
	return false
}

// ShouldRemove reports whether any notice for path is due for removal at
// version (removeIn <= version).
func (r *DeprecationRegistry) ShouldRemove(templateID, path, version string) bool {
	v, err := semver.Parse(version)
	if err != nil {
		return false
	}
	for _, n := range r.GetNotices(templateID) {
		if n.Path != path || n.RemoveIn == "" {
			continue
		}
		removeIn, err := semver.Parse(n.RemoveIn)
		if err != nil {
			continue
		}
		if semver.Compare(removeIn, v) != semver.Greater {
			return true
		}
	}
	return false
}

// ClearCache forgets which notices were already emitted in once mode.
func (r *DeprecationRegistry) ClearCache() {
	r.emitted.Flush()
}

// Clear removes every notice and resets the emitted cache. Handlers stay subscribed.
func (r *DeprecationRegistry) Clear() {
	r.mu.Lock()
	r.notices = make(map[string][]DeprecationNotice)
	r.mu.Unlock()

	r.emitted.Flush()
}

// WithDeprecationWarning wraps fn so every call logs notice through logger
// before delegating.
func WithDeprecationWarning[A, R any](logger *slog.Logger, name string, notice DeprecationNotice, fn func(A) R) func(A) R {
	handler := LogHandler(logger)
	return func(arg A) R {
		handler(name, notice)
		return fn(arg)
	}
}
