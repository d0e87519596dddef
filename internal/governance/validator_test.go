package governance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMetadata() map[string]any {
	return map[string]any{
		"id":   "saas-landing",
		"name": "SaaS Landing",
		"version": map[string]any{
			"versionString": "0.3.0",
			"version":       map[string]any{"major": 0.0, "minor": 3.0, "patch": 0.0},
		},
		"status": "draft",
	}
}

func ruleIDs(issues []Issue) []string {
	ids := make([]string, len(issues))
	for i, is := range issues {
		ids[i] = is.RuleID
	}
	return ids
}

// =============================================================================
// Built-in Rule Tests
// =============================================================================

func TestValidator_ValidMetadata(t *testing.T) {
	res := NewValidator(nil).Validate(validMetadata())
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestValidator_RequiredFields(t *testing.T) {
	res := NewValidator(nil).Validate(map[string]any{"name": "x"})
	assert.False(t, res.Valid)

	var paths []string
	for _, is := range res.Errors {
		if is.RuleID == RuleRequiredFields {
			paths = append(paths, is.Path)
		}
	}
	assert.ElementsMatch(t, []string{"id", "version"}, paths)

	res = NewValidator(nil).Validate("not an object")
	assert.True(t, res.HasRule(RuleRequiredFields))
}

func TestValidator_SemverFormat(t *testing.T) {
	data := validMetadata()
	data["version"].(map[string]any)["versionString"] = "1.0"

	res := NewValidator(nil).Validate(data)
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, RuleSemverFormat, res.Errors[0].RuleID)
	assert.Equal(t, "version.versionString", res.Errors[0].Path)
}

func TestValidator_KebabCaseID(t *testing.T) {
	data := validMetadata()
	data["id"] = "SaasLanding"
	data["sections"] = []any{map[string]any{"id": "Hero Block"}}

	res := NewValidator(nil).Validate(data)
	assert.True(t, res.Valid, "kebab-case is only a warning")

	var got []Issue
	for _, is := range res.Warnings {
		if is.RuleID == RuleKebabCaseID {
			got = append(got, is)
		}
	}
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"id", "sections.0.id"}, []string{got[0].Path, got[1].Path})
	assert.ElementsMatch(t, []string{"saas-landing", "hero-block"}, []string{got[0].Suggestion, got[1].Suggestion})
}

func TestValidator_NoEmptyStrings(t *testing.T) {
	data := validMetadata()
	data["tags"] = []any{"ok", "  "}
	data["author"] = ""

	res := NewValidator(nil).Validate(data)
	assert.True(t, res.Valid)
	assert.ElementsMatch(t, []string{"author", "tags.1"}, []string{res.Warnings[0].Path, res.Warnings[1].Path})
	assert.ElementsMatch(t, []string{RuleNoEmptyStrings, RuleNoEmptyStrings}, ruleIDs(res.Warnings))
}

func TestValidator_ChangelogRequired(t *testing.T) {
	data := validMetadata()
	data["status"] = "published"

	res := NewValidator(nil).Validate(data)
	assert.False(t, res.Valid)
	assert.True(t, res.HasRule(RuleChangelogRequired))

	data["version"].(map[string]any)["changelog"] = []any{"Initial release"}
	res = NewValidator(nil).Validate(data)
	assert.True(t, res.Valid)
}

func TestValidator_BreakingChangesDocumented(t *testing.T) {
	data := validMetadata()
	data["version"].(map[string]any)["version"].(map[string]any)["major"] = 1.0

	res := NewValidator(nil).Validate(data)
	require.False(t, res.Valid)
	assert.Equal(t, []string{RuleBreakingChangesDocumented}, ruleIDs(res.Errors))

	data["version"].(map[string]any)["breakingChanges"] = []any{"renamed layout.grid"}
	res = NewValidator(nil).Validate(data)
	assert.True(t, res.Valid)
	assert.False(t, res.HasRule(RuleBreakingChangesDocumented))
}

func TestValidator_ValidateMetadata(t *testing.T) {
	v, err := NewTemplateVersion("1.0.0", fixedTime)
	require.NoError(t, err)

	meta := VersionedTemplateMetadata{ID: "blog", Name: "Blog", Version: v, Status: StatusPublished}
	res, err := NewValidator(nil).ValidateMetadata(meta)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{RuleChangelogRequired, RuleBreakingChangesDocumented}, ruleIDs(res.Errors))

	meta.Version.Changelog = []string{"First"}
	meta.Version.BreakingChanges = []string{"None"}
	res, err = NewValidator(nil).ValidateMetadata(meta)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

// =============================================================================
// Rule Management Tests
// =============================================================================

func TestValidator_AddRule(t *testing.T) {
	v := NewValidator(nil)

	require.NoError(t, v.AddRule(Rule{
		ID:       "license-required",
		Severity: SeverityInfo,
		Check: func(node any, rc RuleContext) []Issue {
			if !rc.IsRoot() {
				return nil
			}
			if _, ok := node.(map[string]any)["license"]; ok {
				return nil
			}
			return []Issue{{Message: "no license", Path: "license"}}
		},
	}))
	assert.ErrorIs(t, v.AddRule(Rule{ID: "license-required", Check: checkNoEmptyStrings}), ErrDuplicateRule)
	assert.ErrorIs(t, v.AddRule(Rule{ID: "no-check"}), ErrInvalidRule)

	res := v.Validate(validMetadata())
	assert.True(t, res.Valid, "info never blocks validity")
	require.Len(t, res.Info, 1)
	assert.Equal(t, "license-required", res.Info[0].RuleID)
	assert.Equal(t, SeverityInfo, res.Info[0].Severity)
}

func TestValidator_RuleRunsAtEveryNode(t *testing.T) {
	v := NewValidator(nil)
	for _, r := range DefaultRules() {
		require.True(t, v.RemoveRule(r.ID))
	}
	assert.Empty(t, v.Rules())
	assert.False(t, v.RemoveRule("missing"))

	var paths []string
	require.NoError(t, v.AddRule(Rule{ID: "visit", Check: func(_ any, rc RuleContext) []Issue {
		paths = append(paths, rc.Path)
		return nil
	}}))

	v.Validate(map[string]any{"b": []any{1.0, map[string]any{"c": true}}, "a": "x"})
	assert.Equal(t, []string{"", "a", "b", "b.0", "b.1", "b.1.c"}, paths)

	v.Reset()
	assert.Len(t, v.Rules(), len(DefaultRules()))
}

func TestValidator_MultipleIssuesPerNode(t *testing.T) {
	data := validMetadata()
	data["version"].(map[string]any)["versionString"] = ""

	res := NewValidator(nil).Validate(data)
	assert.True(t, res.HasRule(RuleSemverFormat))
	assert.True(t, res.HasRule(RuleNoEmptyStrings))
	assert.Len(t, res.All(), 2)
}
