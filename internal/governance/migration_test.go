package governance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func appendStep(tag string) MigrateFunc {
	return func(_ context.Context, data any, _ *MigrationContext) (any, error) {
		m := data.(map[string]any)
		steps, _ := m["steps"].([]any)
		m["steps"] = append(steps, tag)
		return m, nil
	}
}

func chainRegistry(t *testing.T, opts ...MigrationOption) *MigrationRegistry {
	t.Helper()
	r := NewMigrationRegistry(nil, opts...)
	// Registered out of order on purpose.
	require.NoError(t, r.Register("site", Migration{ID: "m2", From: "1.1.0", To: "2.0.0", Breaking: true, Migrate: appendStep("m2")}))
	require.NoError(t, r.Register("site", Migration{ID: "m1", From: "1.0.0", To: "1.1.0", Migrate: appendStep("m1")}))
	require.NoError(t, r.Register("site", Migration{ID: "m3", From: "2.0.0", To: "2.1.0", Migrate: appendStep("m3")}))
	return r
}

func migrationIDs(ms []Migration) []string {
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
	}
	return ids
}

// =============================================================================
// Registration & Selection Tests
// =============================================================================

func TestMigrationRegistry_Register_Validation(t *testing.T) {
	r := NewMigrationRegistry(nil)
	noop := appendStep("x")

	assert.ErrorIs(t, r.Register("t", Migration{From: "1.0.0", To: "1.1.0", Migrate: noop}), ErrInvalidMigration)
	assert.ErrorIs(t, r.Register("t", Migration{ID: "a", From: "1.0.0", To: "1.1.0"}), ErrInvalidMigration)
	assert.Error(t, r.Register("t", Migration{ID: "a", From: "1.0", To: "1.1.0", Migrate: noop}))
	assert.Error(t, r.Register("t", Migration{ID: "a", From: "1.0.0", To: "next", Migrate: noop}))
	assert.Empty(t, r.ListMigrations("t"))
}

func TestMigrationRegistry_SortedByFrom(t *testing.T) {
	r := chainRegistry(t)
	assert.Equal(t, []string{"m1", "m2", "m3"}, migrationIDs(r.ListMigrations("site")))
}

func TestMigrationRegistry_GetMigrations(t *testing.T) {
	r := chainRegistry(t)

	tests := []struct {
		name     string
		from, to string
		want     []string
	}{
		{"full chain", "1.0.0", "2.1.0", []string{"m1", "m2", "m3"}},
		{"inclusive upper bound", "1.0.0", "2.0.0", []string{"m1", "m2"}},
		{"inclusive lower bound", "1.1.0", "2.1.0", []string{"m2", "m3"}},
		{"single step", "2.0.0", "2.1.0", []string{"m3"}},
		{"nothing in range", "3.0.0", "4.0.0", nil},
		{"to below from", "2.0.0", "1.0.0", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.GetMigrations("site", tt.from, tt.to)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, migrationIDs(got))
		})
	}

	_, err := r.GetMigrations("site", "one", "2.0.0")
	assert.Error(t, err)
}

func TestMigrationRegistry_HasMigrationPath(t *testing.T) {
	r := chainRegistry(t)

	assert.True(t, r.HasMigrationPath("site", "1.0.0", "2.1.0"))
	assert.True(t, r.HasMigrationPath("site", "1.1.0", "2.0.0"))
	assert.True(t, r.HasMigrationPath("site", "2.1.0", "2.1.0"))
	assert.False(t, r.HasMigrationPath("site", "1.0.0", "3.0.0"))
	assert.False(t, r.HasMigrationPath("site", "0.9.0", "1.1.0"))
	assert.False(t, r.HasMigrationPath("other", "1.0.0", "1.1.0"))
	assert.False(t, r.HasMigrationPath("site", "bad", "1.1.0"))
}

// =============================================================================
// Migrate Tests
// =============================================================================

func TestMigrationRegistry_Migrate_WellFormedChain(t *testing.T) {
	r := chainRegistry(t)
	input := map[string]any{"title": "Home"}

	res, err := r.Migrate(context.Background(), "site", input, "1.0.0", "2.1.0", MigrateOptions{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "2.1.0", res.Version)
	assert.Equal(t, []string{"m1", "m2", "m3"}, res.MigrationsApplied)
	assert.Equal(t, []any{"m1", "m2", "m3"}, res.Data.(map[string]any)["steps"])
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "m2")
	assert.Empty(t, res.Errors)

	assert.Equal(t, map[string]any{"title": "Home"}, input, "caller payload untouched")
}

func TestMigrationRegistry_Migrate_OverlappingStepsAllRun(t *testing.T) {
	r := NewMigrationRegistry(nil)
	require.NoError(t, r.Register("t", Migration{ID: "a", From: "1.0.0", To: "2.0.0", Migrate: appendStep("a")}))
	require.NoError(t, r.Register("t", Migration{ID: "b", From: "1.0.0", To: "1.5.0", Migrate: appendStep("b")}))
	require.NoError(t, r.Register("t", Migration{ID: "c", From: "1.5.0", To: "2.0.0", Migrate: appendStep("c")}))

	res, err := r.Migrate(context.Background(), "t", map[string]any{}, "1.0.0", "2.0.0", MigrateOptions{})
	require.NoError(t, err)

	// The range filter selects every step inside the window, so both the
	// direct hop and the two-step path run, in list order.
	assert.True(t, res.Success)
	assert.Equal(t, []string{"a", "b", "c"}, res.MigrationsApplied)
	assert.Equal(t, []any{"a", "b", "c"}, res.Data.(map[string]any)["steps"])
	assert.False(t, r.HasMigrationPath("t", "1.0.0", "2.0.0"), "overlap is not a clean chain")
}

func TestMigrationRegistry_Migrate_DryRun(t *testing.T) {
	r := chainRegistry(t)
	input := map[string]any{"title": "Home", "nested": map[string]any{"k": "v"}}

	dry, err := r.Migrate(context.Background(), "site", input, "1.0.0", "2.1.0", MigrateOptions{DryRun: true})
	require.NoError(t, err)
	applied, err := r.Migrate(context.Background(), "site", input, "1.0.0", "2.1.0", MigrateOptions{})
	require.NoError(t, err)

	assert.True(t, dry.Success)
	assert.True(t, dry.DryRun)
	assert.Equal(t, applied.MigrationsApplied, dry.MigrationsApplied)
	assert.Equal(t, map[string]any{"title": "Home", "nested": map[string]any{"k": "v"}}, dry.Data)
	assert.Equal(t, "1.0.0", dry.Version)
	require.Len(t, dry.Warnings, 1, "breaking steps warn even in dry run")
	assert.Equal(t, map[string]any{"title": "Home", "nested": map[string]any{"k": "v"}}, input)
}

func TestMigrationRegistry_Migrate_FailureStopsAndKeepsOriginal(t *testing.T) {
	r := NewMigrationRegistry(nil)
	mutateThenFail := func(_ context.Context, data any, _ *MigrationContext) (any, error) {
		data.(map[string]any)["title"] = "half-migrated"
		return nil, errors.New("boom")
	}
	require.NoError(t, r.Register("t", Migration{ID: "ok", From: "1.0.0", To: "1.1.0", Migrate: appendStep("ok")}))
	require.NoError(t, r.Register("t", Migration{ID: "bad", From: "1.1.0", To: "1.2.0", Migrate: mutateThenFail}))
	require.NoError(t, r.Register("t", Migration{ID: "never", From: "1.2.0", To: "1.3.0", Migrate: appendStep("never")}))

	input := map[string]any{"title": "Home"}
	res, err := r.Migrate(context.Background(), "t", input, "1.0.0", "1.3.0", MigrateOptions{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "1.0.0", res.Version)
	assert.Equal(t, []string{"ok"}, res.MigrationsApplied)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "bad")
	assert.Contains(t, res.Errors[0], "boom")
	assert.Equal(t, map[string]any{"title": "Home"}, res.Data)
	assert.Equal(t, map[string]any{"title": "Home"}, input, "failed chain must not corrupt the caller's object")
}

func TestMigrationRegistry_Migrate_PanicIsRecorded(t *testing.T) {
	r := NewMigrationRegistry(nil)
	require.NoError(t, r.Register("t", Migration{ID: "p", From: "1.0.0", To: "1.1.0", Migrate: func(context.Context, any, *MigrationContext) (any, error) {
		panic("nil map")
	}}))

	res, err := r.Migrate(context.Background(), "t", map[string]any{}, "1.0.0", "1.1.0", MigrateOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Errors[0], "panic")
}

func TestMigrationRegistry_Migrate_Timeout(t *testing.T) {
	r := NewMigrationRegistry(nil, WithMigrationTimeout(20*time.Millisecond))
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, r.Register("t", Migration{ID: "hang", From: "1.0.0", To: "1.1.0", Migrate: func(context.Context, any, *MigrationContext) (any, error) {
		<-release
		return nil, nil
	}}))

	res, err := r.Migrate(context.Background(), "t", map[string]any{}, "1.0.0", "1.1.0", MigrateOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Errors[0], "deadline exceeded")
}

func TestMigrationRegistry_Migrate_TimedOutStepHoldsRunLock(t *testing.T) {
	r := NewMigrationRegistry(nil, WithMigrationTimeout(10*time.Millisecond))
	release := make(chan struct{})
	var calls atomic.Int32
	var lateDone atomic.Bool
	require.NoError(t, r.Register("t", Migration{ID: "late", From: "1.0.0", To: "1.1.0", Migrate: func(_ context.Context, data any, mc *MigrationContext) (any, error) {
		if calls.Add(1) == 1 {
			<-release
			for i := range 100 {
				mc.Warn("late warning %d", i)
			}
			lateDone.Store(true)
		}
		return data, nil
	}}))

	first, err := r.Migrate(context.Background(), "t", map[string]any{}, "1.0.0", "1.1.0", MigrateOptions{})
	require.NoError(t, err)
	assert.False(t, first.Success)

	second := make(chan *MigrationResult, 1)
	go func() {
		res, _ := r.Migrate(context.Background(), "t", map[string]any{}, "1.0.0", "1.1.0", MigrateOptions{})
		second <- res
	}()

	select {
	case <-second:
		t.Fatal("second run started while the timed-out step was still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case res := <-second:
		require.NotNil(t, res)
		assert.True(t, lateDone.Load())
		assert.True(t, res.Success)
		assert.Empty(t, res.Warnings)
	case <-time.After(time.Second):
		t.Fatal("second run never acquired the run lock")
	}

	assert.Empty(t, first.Warnings, "late writes from the abandoned step stay out of the result")
}

func TestMigrationRegistry_Migrate_StepWarningsMerged(t *testing.T) {
	r := NewMigrationRegistry(nil)
	require.NoError(t, r.Register("t", Migration{ID: "w", From: "1.0.0", To: "1.1.0", Migrate: func(_ context.Context, data any, mc *MigrationContext) (any, error) {
		assert.Equal(t, "t", mc.TemplateID)
		assert.Equal(t, "1.1.0", mc.ToVersion)
		mc.Warn("dropped %s", "banner")
		mc.Errors = append(mc.Errors, "soft error")
		return data, nil
	}}))

	res, err := r.Migrate(context.Background(), "t", map[string]any{}, "1.0.0", "1.1.0", MigrateOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"dropped banner"}, res.Warnings)
	assert.Equal(t, []string{"soft error"}, res.Errors)
}

func TestMigrationRegistry_Migrate_TypedPayloadUntouched(t *testing.T) {
	type page struct {
		Title string            `json:"title"`
		Meta  map[string]string `json:"meta"`
	}

	r := NewMigrationRegistry(nil)
	require.NoError(t, r.Register("t", Migration{ID: "retitle", From: "1.0.0", To: "1.1.0", Migrate: func(_ context.Context, data any, _ *MigrationContext) (any, error) {
		m := data.(map[string]any)
		m["title"] = "Migrated"
		m["meta"].(map[string]any)["robots"] = "noindex"
		return m, nil
	}}))
	require.NoError(t, r.Register("t", Migration{ID: "fail", From: "1.1.0", To: "1.2.0", Migrate: func(_ context.Context, data any, _ *MigrationContext) (any, error) {
		data.(map[string]any)["meta"].(map[string]any)["robots"] = "half"
		return nil, errors.New("boom")
	}}))

	input := &page{Title: "Home", Meta: map[string]string{"robots": "index"}}
	res, err := r.Migrate(context.Background(), "t", input, "1.0.0", "1.1.0", MigrateOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"title": "Migrated", "meta": map[string]any{"robots": "noindex"}}, res.Data)

	nested := map[string]any{"meta": map[string]string{"robots": "index"}}
	res, err = r.Migrate(context.Background(), "t", nested, "1.1.0", "1.2.0", MigrateOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, nested, res.Data)

	assert.Equal(t, &page{Title: "Home", Meta: map[string]string{"robots": "index"}}, input)
	assert.Equal(t, map[string]string{"robots": "index"}, nested["meta"])
}

func TestMigrationRegistry_Migrate_UnencodablePayload(t *testing.T) {
	r := chainRegistry(t)
	res, err := r.Migrate(context.Background(), "site", map[string]any{"fn": func() {}}, "1.0.0", "1.1.0", MigrateOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.MigrationsApplied)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "normalize")
}

func TestMigrationRegistry_Migrate_CancelledContext(t *testing.T) {
	r := chainRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := r.Migrate(ctx, "site", map[string]any{}, "1.0.0", "2.1.0", MigrateOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.MigrationsApplied)
}

func TestMigrationRegistry_Migrate_InvalidVersions(t *testing.T) {
	r := chainRegistry(t)
	_, err := r.Migrate(context.Background(), "site", nil, "1", "2.0.0", MigrateOptions{})
	assert.Error(t, err)
}

func TestMigrationRegistry_Migrate_SerializedPerTemplate(t *testing.T) {
	r := NewMigrationRegistry(nil)
	var mu sync.Mutex
	active, peak := 0, 0
	require.NoError(t, r.Register("t", Migration{ID: "slow", From: "1.0.0", To: "1.1.0", Migrate: func(_ context.Context, data any, _ *MigrationContext) (any, error) {
		mu.Lock()
		active++
		peak = max(peak, active)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return data, nil
	}}))

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Migrate(context.Background(), "t", map[string]any{}, "1.0.0", "1.1.0", MigrateOptions{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, peak)
}

func TestMigrationRegistry_Migrate_ObserverAndSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	var observed []*MigrationResult
	r := chainRegistry(t,
		WithTracer(provider.Tracer("test")),
		WithMigrationObserver(func(id string, res *MigrationResult, _ time.Duration) {
			assert.Equal(t, "site", id)
			observed = append(observed, res)
		}),
	)

	res, err := r.Migrate(context.Background(), "site", map[string]any{}, "1.0.0", "2.0.0", MigrateOptions{})
	require.NoError(t, err)
	require.Len(t, observed, 1)
	assert.Same(t, res, observed[0])

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "migration.step", spans[0].Name())
	assert.Equal(t, "migration.step", spans[1].Name())
	assert.Equal(t, "migration.run", spans[2].Name())
	assert.Equal(t, codes.Unset, spans[2].Status().Code)
	assert.Equal(t, spans[2].SpanContext().SpanID(), spans[0].Parent().SpanID())
}

func TestMigrationRegistry_Clear(t *testing.T) {
	r := chainRegistry(t)
	r.Clear()
	assert.Empty(t, r.ListMigrations("site"))
}

// =============================================================================
// Declarative Op Tests
// =============================================================================

func TestMigrationOps(t *testing.T) {
	r := NewMigrationRegistry(nil)
	require.NoError(t, r.Register("t", Migration{
		ID: "reshape", From: "1.0.0", To: "2.0.0",
		Migrate: Chain(
			Rename("layout.grid", "layout.flex"),
			Set("layout.gap", 8.0),
			Copy("title", "seo.title"),
			Delete("legacy"),
			Delete("absent"),
			Rename("absent", "other"),
		),
	}))

	input := map[string]any{
		"title":  "Home",
		"legacy": true,
		"layout": map[string]any{"grid": map[string]any{"cols": 3.0}},
	}
	res, err := r.Migrate(context.Background(), "t", input, "1.0.0", "2.0.0", MigrateOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, map[string]any{
		"title":  "Home",
		"seo":    map[string]any{"title": "Home"},
		"layout": map[string]any{"flex": map[string]any{"cols": 3.0}, "gap": 8.0},
	}, res.Data)
	assert.Len(t, res.Warnings, 2, "missing paths warn")
}

func TestMigrationOps_SetIntoScalarFails(t *testing.T) {
	r := NewMigrationRegistry(nil)
	require.NoError(t, r.Register("t", Migration{ID: "s", From: "1.0.0", To: "1.1.0", Migrate: Set("title.text", "x")}))

	res, err := r.Migrate(context.Background(), "t", map[string]any{"title": "Home"}, "1.0.0", "1.1.0", MigrateOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
}
