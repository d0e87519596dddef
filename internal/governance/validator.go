package governance

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/artpar/templategov/internal/core/datapath"
	"github.com/artpar/templategov/internal/core/semver"
	"github.com/artpar/templategov/internal/core/slug"
)

// =============================================================================
// Types
// =============================================================================

// Issue is one finding produced by a rule.
type Issue struct {
	RuleID     string   `json:"ruleId"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Path       string   `json:"path"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// RuleContext locates the node a rule is looking at.
type RuleContext struct {
	// Path is the dot path of the node; empty at the root.
	Path string
	// Key is the last path segment; empty at the root.
	Key   string
	Root  any
	Depth int
}

// IsRoot reports whether the rule is looking at the root object.
func (rc RuleContext) IsRoot() bool {
	return rc.Depth == 0
}

// Rule inspects a single node. Check may return any number of issues; rules
// fill in Path, RuleID and Severity only when they want to override them.
type Rule struct {
	ID          string
	Severity    Severity
	Description string
	Check       func(node any, rc RuleContext) []Issue
}

// ValidationResult partitions issues by severity. Valid is true iff there are no errors.
type ValidationResult struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
	Info     []Issue `json:"info"`
}

// All returns every issue: errors, then warnings, then info.
func (r ValidationResult) All() []Issue {
	all := make([]Issue, 0, len(r.Errors)+len(r.Warnings)+len(r.Info))
	all = append(all, r.Errors...)
	all = append(all, r.Warnings...)
	return append(all, r.Info...)
}

// HasRule reports whether any issue was produced by ruleID.
func (r ValidationResult) HasRule(ruleID string) bool {
	return slices.ContainsFunc(r.All(), func(i Issue) bool { return i.RuleID == ruleID })
}

// =============================================================================
// Validator
// =============================================================================

// Validator runs an ordered list of rules over every node of a data tree.
// Rules are independent; their order only affects the order of reported issues.
type Validator struct {
	logger *slog.Logger

	mu    sync.RWMutex
	rules []Rule
}

// NewValidator creates a validator loaded with DefaultRules.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		logger: logger.With("component", "validator"),
		rules:  DefaultRules(),
	}
}

// AddRule appends a rule. Rule ids must be unique.
func (v *Validator) AddRule(rule Rule) error {
	if rule.ID == "" || rule.Check == nil {
		return fmt.Errorf("%w: id and check are required", ErrInvalidRule)
	}
	if rule.Severity == "" {
		rule.Severity = SeverityError
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if slices.ContainsFunc(v.rules, func(r Rule) bool { return r.ID == rule.ID }) {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
	}
	v.rules = append(v.rules, rule)
	return nil
}

// RemoveRule drops a rule by id. Returns false if no such rule exists.
func (v *Validator) RemoveRule(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	n := len(v.rules)
	v.rules = slices.DeleteFunc(v.rules, func(r Rule) bool { return r.ID == id })
	return len(v.rules) != n
}

// Rules returns the registered rules in evaluation order.
func (v *Validator) Rules() []Rule {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return slices.Clone(v.rules)
}

// Reset restores the default rule set.
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.rules = DefaultRules()
}

// Validate runs every rule at the root, then at each nested object and array
// element. Object keys are visited in sorted order; array elements use their
// index as path segment.
func (v *Validator) Validate(data any) ValidationResult {
	rules := v.Rules()

	result := ValidationResult{Errors: []Issue{}, Warnings: []Issue{}, Info: []Issue{}}
	walk(data, RuleContext{Root: data}, func(node any, rc RuleContext) {
		for _, rule := range rules {
			for _, issue := range rule.Check(node, rc) {
				if issue.RuleID == "" {
					issue.RuleID = rule.ID
				}
				if issue.Severity == "" {
					issue.Severity = rule.Severity
				}
				if issue.Path == "" {
					issue.Path = rc.Path
				}
				switch issue.Severity {
				case SeverityError:
					result.Errors = append(result.Errors, issue)
				case SeverityWarning:
					result.Warnings = append(result.Warnings, issue)
				default:
					result.Info = append(result.Info, issue)
				}
			}
		}
	})
	result.Valid = len(result.Errors) == 0

	v.logger.Debug("validation completed",
		"errors", len(result.Errors), "warnings", len(result.Warnings), "info", len(result.Info))
	return result
}

// ValidateMetadata validates the JSON form of meta.
func (v *Validator) ValidateMetadata(meta VersionedTemplateMetadata) (ValidationResult, error) {
	tree, err := datapath.Normalize(meta)
	if err != nil {
		return ValidationResult{}, err
	}
	return v.Validate(tree), nil
}

func walk(node any, rc RuleContext, visit func(any, RuleContext)) {
	visit(node, rc)

	descend := func(key string, child any) {
		walk(child, RuleContext{
			Path:  datapath.Join(rc.Path, key),
			Key:   key,
			Root:  rc.Root,
			Depth: rc.Depth + 1,
		}, visit)
	}

	switch n := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			descend(k, n[k])
		}
	case []any:
		for i, child := range n {
			descend(strconv.Itoa(i), child)
		}
	}
}

// =============================================================================
// Built-in Rules
// =============================================================================

// Built-in rule ids.
const (
	RuleRequiredFields            = "required-fields"
	RuleSemverFormat              = "semver-format"
	RuleKebabCaseID               = "kebab-case-id"
	RuleNoEmptyStrings            = "no-empty-strings"
	RuleChangelogRequired         = "changelog-required"
	RuleBreakingChangesDocumented = "breaking-changes-documented"
)

// DefaultRules returns a fresh copy of the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          RuleRequiredFields,
			Severity:    SeverityError,
			Description: "root object must have id, name and version",
			Check:       checkRequiredFields,
		},
		{
			ID:          RuleSemverFormat,
			Severity:    SeverityError,
			Description: "versionString fields must be valid semantic versions",
			Check:       checkSemverFormat,
		},
		{
			ID:          RuleKebabCaseID,
			Severity:    SeverityWarning,
			Description: "id fields should be kebab-case",
			Check:       checkKebabCaseID,
		},
		{
			ID:          RuleNoEmptyStrings,
			Severity:    SeverityWarning,
			Description: "string values should not be empty",
			Check:       checkNoEmptyStrings,
		},
		{
			ID:          RuleChangelogRequired,
			Severity:    SeverityError,
			Description: "published templates must carry a changelog",
			Check:       checkChangelogRequired,
		},
		{
			ID:          RuleBreakingChangesDocumented,
			Severity:    SeverityError,
			Description: "major versions must document their breaking changes",
			Check:       checkBreakingChangesDocumented,
		},
	}
}

func checkRequiredFields(node any, rc RuleContext) []Issue {
	if !rc.IsRoot() {
		return nil
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return []Issue{{Message: "metadata must be an object"}}
	}
	var issues []Issue
	for _, field := range []string{"id", "name", "version"} {
		if v, ok := obj[field]; !ok || v == nil {
			issues = append(issues, Issue{
				Message: fmt.Sprintf("missing required field %q", field),
				Path:    field,
			})
		}
	}
	return issues
}

func checkSemverFormat(node any, rc RuleContext) []Issue {
	if rc.Key != "versionString" {
		return nil
	}
	s, ok := node.(string)
	if ok && semver.IsValid(s) {
		return nil
	}
	return []Issue{{
		Message:    fmt.Sprintf("invalid semantic version %v", node),
		Suggestion: "use MAJOR.MINOR.PATCH, e.g. 1.0.0",
	}}
}

func checkKebabCaseID(node any, rc RuleContext) []Issue {
	if rc.Key != "id" {
		return nil
	}
	s, ok := node.(string)
	if !ok || s == "" || slug.IsKebab(s) {
		return nil
	}
	return []Issue{{
		Message:    fmt.Sprintf("id %q is not kebab-case", s),
		Suggestion: slug.Kebab(s),
	}}
}

func checkNoEmptyStrings(node any, _ RuleContext) []Issue {
	s, ok := node.(string)
	if !ok || strings.TrimSpace(s) != "" {
		return nil
	}
	return []Issue{{Message: "empty string value"}}
}

func checkChangelogRequired(node any, rc RuleContext) []Issue {
	if !rc.IsRoot() {
		return nil
	}
	status, _ := datapath.Get(node, "status")
	if status != string(StatusPublished) {
		return nil
	}
	changelog, _ := datapath.Get(node, "version.changelog")
	if list, ok := changelog.([]any); ok && len(list) > 0 {
		return nil
	}
	return []Issue{{
		Message:    "published templates require a changelog",
		Path:       "version.changelog",
		Suggestion: "describe what changed in this release",
	}}
}

func checkBreakingChangesDocumented(node any, rc RuleContext) []Issue {
	if !rc.IsRoot() {
		return nil
	}
	major, _ := datapath.Get(node, "version.version.major")
	if toInt(major) <= 0 {
		return nil
	}
	breaking, _ := datapath.Get(node, "version.breakingChanges")
	if list, ok := breaking.([]any); ok && len(list) > 0 {
		return nil
	}
	return []Issue{{
		Message:    "major version releases must document breaking changes",
		Path:       "version.breakingChanges",
		Suggestion: "list the breaking changes, or document that there are none",
	}}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
