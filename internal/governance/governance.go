package governance

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TransitionObserver is notified after every successful status transition.
type TransitionObserver func(templateID string, entry HistoryEntry)

// GovernanceOption configures a Governance service.
type GovernanceOption func(*Governance)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) GovernanceOption {
	return func(g *Governance) {
		g.now = now
	}
}

// WithTransitionObserver registers an observer for successful transitions.
func WithTransitionObserver(obs TransitionObserver) GovernanceOption {
	return func(g *Governance) {
		g.observers = append(g.observers, obs)
	}
}

type record struct {
	meta    VersionedTemplateMetadata
	lock    *LockInfo
	history []HistoryEntry
}

// Governance owns the status state machine and lock flag of every template.
// CanModify is the single gate every mutation path consults.
type Governance struct {
	logger    *slog.Logger
	now       func() time.Time
	observers []TransitionObserver

	mu        sync.RWMutex
	templates map[string]*record
}

// NewGovernance creates an empty governance service.
func NewGovernance(logger *slog.Logger, opts ...GovernanceOption) *Governance {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Governance{
		logger:    logger.With("component", "governance"),
		now:       func() time.Time { return time.Now().UTC() },
		templates: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// =============================================================================
// Registration
// =============================================================================

// Register starts governing meta. Templates registered as locked or already
// published get a lock record.
func (g *Governance) Register(meta VersionedTemplateMetadata) error {
	if meta.ID == "" {
		return ErrTemplateIDRequired
	}
	if meta.Status == "" {
		meta.Status = StatusDraft
	}
	if !meta.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, meta.Status)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.templates[meta.ID]; exists {
		return fmt.Errorf("%w: %s", ErrTemplateExists, meta.ID)
	}

	rec := &record{meta: meta.clone()}
	if meta.Locked || meta.Status == StatusPublished {
		rec.lock = &LockInfo{Reason: "registered locked", LockedAt: g.now()}
		rec.meta.Locked = true
	}
	g.templates[meta.ID] = rec

	g.logger.Debug("template registered", "template_id", meta.ID, "status", meta.Status, "version", meta.Version.VersionString)
	return nil
}

// Get returns a copy of the governed metadata.
func (g *Governance) Get(id string) (VersionedTemplateMetadata, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.templates[id]
	if !ok {
		return VersionedTemplateMetadata{}, false
	}
	return rec.meta.clone(), true
}

// IDs returns every governed template id, sorted.
func (g *Governance) IDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.templates))
	for id := range g.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset forgets every template. Intended for test harnesses.
func (g *Governance) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.templates = make(map[string]*record)
}

// =============================================================================
// Locking
// =============================================================================

// Lock marks the template immutable. Locking an already locked template fails.
func (g *Governance) Lock(id, reason string) LockResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.lockLocked(id, reason, "")
}

func (g *Governance) lockLocked(id, reason, by string) LockResult {
	rec, ok := g.templates[id]
	if !ok {
		return LockResult{Message: fmt.Sprintf("template %q not found", id)}
	}
	if rec.lock != nil {
		return LockResult{Message: fmt.Sprintf("template %q is already locked", id)}
	}

	rec.lock = &LockInfo{Reason: reason, LockedBy: by, LockedAt: g.now()}
	rec.meta.Locked = true

	g.logger.Info("template locked", "template_id", id, "reason", reason)
	return LockResult{Success: true, Message: fmt.Sprintf("template %q locked", id)}
}

// Unlock clears the lock. Published templates stay locked unless force is set.
func (g *Governance) Unlock(id string, force bool) LockResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.templates[id]
	if !ok {
		return LockResult{Message: fmt.Sprintf("template %q not found", id)}
	}
	if rec.lock == nil {
		return LockResult{Message: fmt.Sprintf("template %q is not locked", id)}
	}
	if rec.meta.Status == StatusPublished && !force {
		return LockResult{Message: fmt.Sprintf("template %q is published; use force to unlock", id)}
	}

	rec.lock = nil
	rec.meta.Locked = false

	if force {
		g.logger.Warn("template force-unlocked", "template_id", id, "status", rec.meta.Status)
	} else {
		g.logger.Info("template unlocked", "template_id", id)
	}
	return LockResult{Success: true, Message: fmt.Sprintf("template %q unlocked", id)}
}

// IsLocked reports whether the template is locked. Unknown ids are not locked.
func (g *Governance) IsLocked(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.templates[id]
	return ok && rec.lock != nil
}

// GetLockInfo returns the lock record of a locked template.
func (g *Governance) GetLockInfo(id string) (LockInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.templates[id]
	if !ok || rec.lock == nil {
		return LockInfo{}, false
	}
	return *rec.lock, true
}

// =============================================================================
// Status Transitions
// =============================================================================

// Status returns the current status of a template.
func (g *Governance) Status(id string) (TemplateStatus, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.templates[id]
	if !ok {
		return "", false
	}
	return rec.meta.Status, true
}

// Transition moves the template along one edge of the status graph. Invalid
// edges leave the template untouched. Entering published locks the template
// and records the current version in its release list.
func (g *Governance) Transition(id string, to TemplateStatus, opts TransitionOptions) TransitionResult {
	g.mu.Lock()
	result, entry := g.transitionLocked(id, to, opts)
	g.mu.Unlock()

	if result.Success {
		for _, obs := range g.observers {
			obs(id, entry)
		}
	}
	return result
}

func (g *Governance) transitionLocked(id string, to TemplateStatus, opts TransitionOptions) (TransitionResult, HistoryEntry) {
	rec, ok := g.templates[id]
	if !ok {
		return TransitionResult{To: to, Message: fmt.Sprintf("template %q not found", id)}, HistoryEntry{}
	}

	from := rec.meta.Status
	if err := ValidateTransition(from, to); err != nil {
		return TransitionResult{
			From:    from,
			To:      to,
			Message: fmt.Sprintf("cannot transition template %q from %s to %s (allowed: %v)", id, from, to, validTransitions[from]),
		}, HistoryEntry{}
	}

	entry := HistoryEntry{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Timestamp: g.now(),
		Author:    opts.Author,
		Reason:    opts.Reason,
	}
	rec.meta.Status = to
	rec.history = append(rec.history, entry)

	if to == StatusPublished {
		if rec.lock == nil {
			rec.lock = &LockInfo{Reason: "auto-locked on publish", LockedBy: opts.Author, LockedAt: entry.Timestamp}
			rec.meta.Locked = true
		}
		rec.meta.Versions = append(rec.meta.Versions, rec.meta.Version.clone())
	}

	g.logger.Info("template transitioned", "template_id", id, "from", from, "to", to, "author", opts.Author)
	return TransitionResult{
		Success: true,
		From:    from,
		To:      to,
		Message: fmt.Sprintf("template %q transitioned from %s to %s", id, from, to),
	}, entry
}

// GetHistory returns the transition log of a template, oldest first.
func (g *Governance) GetHistory(id string) []HistoryEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.templates[id]
	if !ok {
		return nil
	}
	return slices.Clone(rec.history)
}

// PublishTemplate transitions the template to published and makes sure it is
// locked. A failed transition is returned as-is without attempting the lock.
func (g *Governance) PublishTemplate(id, author string) TransitionResult {
	result := g.Transition(id, StatusPublished, TransitionOptions{Author: author, Reason: "publish"})
	if !result.Success {
		return result
	}
	if !g.IsLocked(id) {
		if lock := g.Lock(id, "published"); !lock.Success {
			return TransitionResult{From: result.From, To: result.To, Message: lock.Message}
		}
	}
	return result
}

// =============================================================================
// Modification Gate
// =============================================================================

// CanModify reports whether the template is unlocked and still a draft or preview.
func (g *Governance) CanModify(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.templates[id]
	return ok && canModify(rec)
}

func canModify(rec *record) bool {
	return rec.lock == nil && rec.meta.Status.IsEditable()
}

// GuardModification returns a *ModificationError when CanModify is false.
func (g *Governance) GuardModification(id string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.guardLocked(id)
}

func (g *Governance) guardLocked(id string) error {
	rec, ok := g.templates[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	if !canModify(rec) {
		return &ModificationError{ID: id, Status: rec.meta.Status, Locked: rec.lock != nil}
	}
	return nil
}

// Update applies fn to a copy of the metadata and stores the result. It goes
// through the modification gate; id, status, lock flag and release list are
// owned by Governance and cannot be changed by fn.
func (g *Governance) Update(id string, fn func(*VersionedTemplateMetadata)) (VersionedTemplateMetadata, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.guardLocked(id); err != nil {
		return VersionedTemplateMetadata{}, err
	}

	rec := g.templates[id]
	updated := rec.meta.clone()
	fn(&updated)

	updated.ID = rec.meta.ID
	updated.Status = rec.meta.Status
	updated.Locked = rec.meta.Locked
	updated.Versions = rec.meta.clone().Versions

	rec.meta = updated
	g.logger.Debug("template updated", "template_id", id)
	return updated.clone(), nil
}
