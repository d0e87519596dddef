package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sectionEntry(id, category, version string, status EntryStatus) Entry[SectionDefinition] {
	return Entry[SectionDefinition]{
		Metadata: TemplateMetadata{ID: id, Name: id, Category: category, Version: version},
		Status:   status,
		Content: SectionDefinition{
			Component:    "components/" + id,
			DefaultProps: map[string]any{"align": "center", "dense": false},
		},
	}
}

// =============================================================================
// Template Registry Tests
// =============================================================================

func TestTemplateRegistry_Lookups(t *testing.T) {
	r := NewTemplateRegistry(nil)
	require.NoError(t, r.Register(Entry[TemplateDefinition]{
		Metadata: TemplateMetadata{ID: "saas-landing", Name: "SaaS Landing", Category: CategoryLanding, Version: "2.1.0", Tags: []string{"saas"}},
		Status:   StatusActive,
		Content:  TemplateDefinition{Component: "layouts/SaasLanding"},
	}))
	require.NoError(t, r.Register(Entry[TemplateDefinition]{
		Metadata: TemplateMetadata{ID: "admin", Name: "Admin Dashboard", Category: CategoryDashboard, Version: "1.0.0"},
		Status:   StatusBeta,
		Content:  TemplateDefinition{Component: "layouts/Admin"},
	}))

	assert.Equal(t, "layouts/SaasLanding", r.GetTemplate("saas-landing", ""))
	assert.Equal(t, "layouts/SaasLanding", r.GetTemplate("saas-landing", "^2.0.0"))
	assert.Nil(t, r.GetTemplate("saas-landing", "^3.0.0"))
	assert.Nil(t, r.GetTemplate("nope", ""))

	assert.Len(t, r.GetLandingTemplates(), 1)
	assert.Len(t, r.GetDashboardTemplates(), 1)
	assert.Empty(t, r.GetAuthTemplates())
	assert.Empty(t, r.GetBlogTemplates())
	assert.Len(t, r.GetByTags("saas"), 1)
	assert.Len(t, r.Search("dashboard"), 1)
}

func TestTemplateRegistry_RequiresComponent(t *testing.T) {
	r := NewTemplateRegistry(nil)
	err := r.Register(Entry[TemplateDefinition]{
		Metadata: TemplateMetadata{ID: "x", Name: "X", Category: CategoryLanding, Version: "1.0.0"},
		Status:   StatusActive,
	})
	require.ErrorIs(t, err, ErrValidation)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "content.component", vErr.Problems[0].Field)
}

// =============================================================================
// Section Registry Tests
// =============================================================================

func TestSectionRegistry_CategoryQueries(t *testing.T) {
	r := NewSectionRegistry(nil)
	for _, e := range []Entry[SectionDefinition]{
		sectionEntry("hero-split", SectionHero, "1.0.0", StatusActive),
		sectionEntry("hero-video", SectionHero, "1.0.0", StatusDeprecated),
		sectionEntry("feature-grid", SectionFeatures, "1.0.0", StatusActive),
		sectionEntry("pricing-table", SectionPricing, "1.0.0", StatusActive),
		sectionEntry("quotes", SectionTestimonials, "1.0.0", StatusActive),
		sectionEntry("signup", SectionCTA, "1.0.0", StatusActive),
		sectionEntry("nav", SectionHeader, "1.0.0", StatusActive),
		sectionEntry("links", SectionFooter, "1.0.0", StatusArchived),
	} {
		require.NoError(t, r.Register(e))
	}

	hero := r.GetHeroSections()
	require.Len(t, hero, 1)
	assert.Equal(t, "hero-split", hero[0].ID())

	assert.Len(t, r.GetFeatureSections(), 1)
	assert.Len(t, r.GetPricingSections(), 1)
	assert.Len(t, r.GetTestimonialSections(), 1)
	assert.Len(t, r.GetCTASections(), 1)
	assert.Len(t, r.GetHeaderSections(), 1)
	assert.Empty(t, r.GetFooterSections())
	assert.Len(t, r.Search("grid"), 1)

	assert.Equal(t, "components/hero-video", r.GetSection("hero-video", ""))
}

// =============================================================================
// Page Section Registry Tests
// =============================================================================

func TestPageSectionRegistry_MissingRequiredProps(t *testing.T) {
	r := NewPageSectionRegistry(nil)
	require.NoError(t, r.Register(Entry[PageSectionDefinition]{
		Metadata: TemplateMetadata{ID: "hero", Name: "Hero", Category: SectionHero, Version: "1.0.0"},
		Status:   StatusActive,
		Content: PageSectionDefinition{
			Component: "sections/Hero",
			Props: map[string]PropSpec{
				"headline": {Type: "string", Required: true},
				"image":    {Type: "string", Required: true},
				"align":    {Type: "string", Required: true},
				"subtitle": {Type: "string"},
			},
			DefaultProps: map[string]any{"align": "left"},
		},
	}))

	assert.Equal(t, []string{"headline", "image"}, r.MissingRequiredProps("hero", nil))
	assert.Empty(t, r.MissingRequiredProps("hero", map[string]any{"headline": "Hi", "image": "x.png"}))
	assert.Nil(t, r.MissingRequiredProps("missing", nil))

	assert.Equal(t, "sections/Hero", r.GetPageSection("hero", "1.0.0"))
	assert.Len(t, r.GetHeroSections(), 1)
}

// =============================================================================
// Layout Resolver Tests
// =============================================================================

func TestLayoutResolver_Resolve(t *testing.T) {
	templates := NewTemplateRegistry(nil)
	sections := NewSectionRegistry(nil)
	require.NoError(t, templates.Register(Entry[TemplateDefinition]{
		Metadata: TemplateMetadata{ID: "landing", Name: "Landing", Category: CategoryLanding, Version: "1.0.0"},
		Status:   StatusActive,
		Content:  TemplateDefinition{Component: "layouts/Landing"},
	}))
	require.NoError(t, sections.Register(sectionEntry("hero-split", SectionHero, "1.4.0", StatusActive)))

	resolver := NewLayoutResolver(templates, sections)
	result := resolver.Resolve(LayoutConfig{
		Template: &LayoutRef{ID: "landing"},
		Sections: []LayoutRef{
			{ID: "hero-split", Version: "^1.0.0", Props: map[string]any{"align": "left"}},
			{ID: "ghost"},
			{ID: "hero-split", Version: "^2.0.0"},
		},
		Metadata: map[string]any{"title": "Home"},
	})

	assert.Equal(t, "layouts/Landing", result.Template)
	require.Len(t, result.Sections, 1)
	assert.Equal(t, map[string]any{"align": "left", "dense": false}, result.Sections[0].Props)
	assert.Equal(t, map[string]any{"title": "Home"}, result.Metadata)

	require.Len(t, result.Errors, 2)
	assert.Equal(t, LayoutError{Type: LayoutErrorSection, ID: "ghost", Message: `section "ghost" not found`}, result.Errors[0])
	assert.Equal(t, LayoutErrorSection, result.Errors[1].Type)
	assert.Contains(t, result.Errors[1].Message, "^2.0.0")
}

func TestLayoutResolver_MissingTemplateIsData(t *testing.T) {
	resolver := NewLayoutResolver(NewTemplateRegistry(nil), NewSectionRegistry(nil))
	result := resolver.Resolve(LayoutConfig{Template: &LayoutRef{ID: "nope"}})

	assert.Nil(t, result.Template)
	assert.Empty(t, result.Sections)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, LayoutErrorTemplate, result.Errors[0].Type)
}
