package governance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkflows(t *testing.T) *Workflows {
	t.Helper()
	gov := NewGovernance(nil, WithClock(func() time.Time { return fixedTime }))
	deps := NewDeprecationRegistry(nil, WithoutDefaultHandler())
	return NewWorkflows(gov, nil, deps, nil, nil)
}

// =============================================================================
// Create Tests
// =============================================================================

func TestWorkflows_CreateTemplate(t *testing.T) {
	w := newTestWorkflows(t)

	meta, err := w.CreateTemplate("x", "X", CreateOptions{Author: "ana", Tags: []string{"landing"}})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, meta.Status)
	assert.False(t, meta.Locked)
	assert.Equal(t, "0.1.0", meta.Version.VersionString)
	assert.Equal(t, 1, meta.Version.Version.Minor)
	assert.Equal(t, fixedTime, meta.Version.ReleaseDate)
	assert.Equal(t, "ana", meta.Author)

	_, err = w.CreateTemplate("x", "X", CreateOptions{})
	assert.ErrorIs(t, err, ErrTemplateExists)

	_, err = w.CreateTemplate("y", "Y", CreateOptions{Version: "one"})
	assert.Error(t, err)

	_, err = w.CreateTemplate("", "Y", CreateOptions{})
	assert.ErrorIs(t, err, ErrTemplateIDRequired)
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestWorkflows_EndToEnd(t *testing.T) {
	w := newTestWorkflows(t)
	ctx := context.Background()

	meta, err := w.CreateTemplate("x", "X", CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, meta.Status)
	assert.Equal(t, "0.1.0", meta.Version.VersionString)

	require.NoError(t, w.Migrations.Register("x", Migration{
		ID: "grid-to-flex", From: "0.1.0", To: "1.0.0",
		Migrate: Rename("layout.grid", "layout.flex"),
	}))
	require.NoError(t, w.Deprecations.Register("x", DeprecationNotice{
		Path: "layout.grid", Since: "0.1.0", RemoveIn: "1.0.0", Reason: "use layout.flex",
	}))

	res := w.PrepareForPublish("x", PublishOptions{Changelog: []string{"Initial release"}, Author: "ana"})
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, StatusPublished, res.Metadata.Status)
	assert.True(t, res.Metadata.Locked)
	assert.Equal(t, []string{"Initial release"}, res.Metadata.Version.Changelog)
	require.Len(t, res.Metadata.Version.Deprecations, 1)
	require.Len(t, res.Metadata.Versions, 1)

	assert.True(t, w.Governance.IsLocked("x"))
	assert.False(t, w.Governance.CanModify("x"))

	history := w.Governance.GetHistory("x")
	require.Len(t, history, 2)
	assert.Equal(t, StatusPreview, history[0].To)
	assert.Equal(t, StatusPublished, history[1].To)

	data := map[string]any{"layout": map[string]any{"grid": map[string]any{"cols": 12.0}}}
	found, err := w.Deprecations.Check("x", "0.1.0", data, CheckOptions{})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	migrated, err := w.Migrations.Migrate(ctx, "x", data, "0.1.0", "1.0.0", MigrateOptions{})
	require.NoError(t, err)
	require.True(t, migrated.Success)
	assert.Equal(t, map[string]any{"layout": map[string]any{"flex": map[string]any{"cols": 12.0}}}, migrated.Data)

	found, err = w.Deprecations.Check("x", "1.0.0", migrated.Data, CheckOptions{})
	require.NoError(t, err)
	assert.Empty(t, found)

	again := w.PrepareForPublish("x", PublishOptions{Changelog: []string{"again"}})
	assert.False(t, again.Success)
	assert.Contains(t, again.Errors[0], "cannot be modified")
}

func TestWorkflows_PrepareForPublish_FromPreview(t *testing.T) {
	w := newTestWorkflows(t)
	_, err := w.CreateTemplate("x", "X", CreateOptions{})
	require.NoError(t, err)
	require.True(t, w.Governance.Transition("x", StatusPreview, TransitionOptions{}).Success)

	res := w.PrepareForPublish("x", PublishOptions{Changelog: []string{"Initial"}})
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Len(t, w.Governance.GetHistory("x"), 2)
}

func TestWorkflows_PrepareForPublish_BlockedByValidation(t *testing.T) {
	w := newTestWorkflows(t)
	_, err := w.CreateTemplate("x", "X", CreateOptions{Version: "2.0.0"})
	require.NoError(t, err)

	res := w.PrepareForPublish("x", PublishOptions{})
	assert.False(t, res.Success)
	assert.False(t, res.Validation.Valid)
	assert.ElementsMatch(t,
		[]string{RuleChangelogRequired, RuleBreakingChangesDocumented},
		ruleIDs(res.Validation.Errors))

	status, _ := w.Governance.Status("x")
	assert.Equal(t, StatusDraft, status, "no transition on failed validation")
	assert.False(t, w.Governance.IsLocked("x"))

	res = w.PrepareForPublish("x", PublishOptions{
		Changelog:       []string{"Rewrite"},
		BreakingChanges: []string{"layout.grid removed"},
		MigrationGuide:  "Run the grid-to-flex migration.",
	})
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, "Run the grid-to-flex migration.", res.Metadata.Version.MigrationGuide)
}

func TestWorkflows_PrepareForPublish_BlockedKeepsPreviousNotes(t *testing.T) {
	w := newTestWorkflows(t)
	_, err := w.CreateTemplate("x", "X", CreateOptions{Version: "2.0.0"})
	require.NoError(t, err)
	before, ok := w.Governance.Get("x")
	require.True(t, ok)

	res := w.PrepareForPublish("x", PublishOptions{Changelog: []string{"Rewrite"}})
	require.False(t, res.Success)
	assert.True(t, res.Validation.HasRule(RuleBreakingChangesDocumented))
	assert.Equal(t, []string{"Rewrite"}, res.Metadata.Version.Changelog, "result shows the staged notes")

	after, ok := w.Governance.Get("x")
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Empty(t, after.Version.Changelog)
}

func TestWorkflows_PrepareForPublish_Unknown(t *testing.T) {
	w := newTestWorkflows(t)
	res := w.PrepareForPublish("ghost", PublishOptions{Changelog: []string{"x"}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Errors[0], "not found")
}

// =============================================================================
// Health Tests
// =============================================================================

func TestWorkflows_CheckHealth(t *testing.T) {
	w := newTestWorkflows(t)
	_, err := w.CreateTemplate("x", "X", CreateOptions{Version: "1.2.0"})
	require.NoError(t, err)
	require.NoError(t, w.Deprecations.Register("x", DeprecationNotice{Path: "old", Since: "1.0.0", RemoveIn: "1.1.0", Reason: "gone"}))
	require.NoError(t, w.Deprecations.Register("x", DeprecationNotice{Path: "old", Since: "1.0.0", RemoveIn: "1.1.0", Reason: "dup"}))
	require.NoError(t, w.Deprecations.Register("x", DeprecationNotice{Path: "soon", Since: "1.0.0", RemoveIn: "2.0.0", Reason: "later"}))
	require.NoError(t, w.Migrations.Register("x", Migration{ID: "m", From: "1.0.0", To: "1.2.0", Migrate: Delete("old")}))

	report, err := w.CheckHealth("x")
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.Equal(t, StatusDraft, report.Status)
	assert.Equal(t, "1.2.0", report.Version)
	assert.Equal(t, []string{"old"}, report.PendingRemovals)
	assert.Len(t, report.Deprecations, 3)
	assert.Equal(t, 1, report.Migrations)
	// 1.2.0 has major > 0 without documented breaking changes.
	assert.True(t, report.Validation.HasRule(RuleBreakingChangesDocumented))
	assert.Len(t, report.Issues, 2)

	_, err = w.CheckHealth("missing")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestWorkflows_CheckHealth_Healthy(t *testing.T) {
	w := newTestWorkflows(t)
	_, err := w.CreateTemplate("x", "X", CreateOptions{})
	require.NoError(t, err)

	report, err := w.CheckHealth("x")
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Issues)
}

func TestWorkflows_Reset(t *testing.T) {
	w := newTestWorkflows(t)
	_, err := w.CreateTemplate("x", "X", CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Validator.AddRule(Rule{ID: "extra", Check: checkNoEmptyStrings}))

	w.Reset()
	_, ok := w.Governance.Get("x")
	assert.False(t, ok)
	assert.Len(t, w.Validator.Rules(), len(DefaultRules()))
}
