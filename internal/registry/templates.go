package registry

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/artpar/templategov/internal/core/datapath"
)

// ComponentRef is an opaque handle the rendering layer resolves to a UI component.
// The registry never inspects it.
type ComponentRef any

// =============================================================================
// Template Registry
// =============================================================================

// Template categories.
const (
	CategoryLanding       = "landing"
	CategoryDashboard     = "dashboard"
	CategoryAuth          = "auth"
	CategoryBlog          = "blog"
	CategoryEcommerce     = "ecommerce"
	CategoryDocumentation = "documentation"
	CategoryPortfolio     = "portfolio"
)

// TemplateDefinition is a full page layout.
type TemplateDefinition struct {
	Component    ComponentRef   `json:"component" yaml:"component"`
	Slots        []string       `json:"slots,omitempty" yaml:"slots,omitempty"`
	DefaultProps map[string]any `json:"defaultProps,omitempty" yaml:"defaultProps,omitempty"`
	Preview      string         `json:"preview,omitempty" yaml:"preview,omitempty"`
}

// Clone returns a deep copy of d.
func (d TemplateDefinition) Clone() TemplateDefinition {
	d.Component = datapath.Clone(d.Component)
	d.Slots = slices.Clone(d.Slots)
	d.DefaultProps = cloneTree(d.DefaultProps)
	return d
}

// TemplateRegistry stores page layout templates.
type TemplateRegistry struct {
	*Registry[TemplateDefinition]
}

// NewTemplateRegistry creates a template registry.
func NewTemplateRegistry(logger *slog.Logger, opts ...Option[TemplateDefinition]) *TemplateRegistry {
	opts = append([]Option[TemplateDefinition]{
		WithLogger[TemplateDefinition](logger),
		WithHook(requireComponent(func(d TemplateDefinition) ComponentRef { return d.Component })),
	}, opts...)
	return &TemplateRegistry{Registry: New("templates", opts...)}
}

// GetTemplate returns the component for id, or nil when no entry matches.
// versionRange may be empty.
func (r *TemplateRegistry) GetTemplate(id, versionRange string) ComponentRef {
	e, ok := r.GetVersion(id, versionRange)
	if !ok {
		return nil
	}
	return e.Content.Component
}

// GetByCategory returns the visible templates in category.
func (r *TemplateRegistry) GetByCategory(category string) []Entry[TemplateDefinition] {
	return r.Query(QueryOptions{Category: category}).Entries
}

// GetByTags returns the visible templates carrying every tag.
func (r *TemplateRegistry) GetByTags(tags ...string) []Entry[TemplateDefinition] {
	return r.Query(QueryOptions{Tags: tags}).Entries
}

// Search returns the visible templates whose name or description contains text.
func (r *TemplateRegistry) Search(text string) []Entry[TemplateDefinition] {
	return r.Query(QueryOptions{Search: text}).Entries
}

func (r *TemplateRegistry) GetLandingTemplates() []Entry[TemplateDefinition] {
	return r.GetByCategory(CategoryLanding)
}

func (r *TemplateRegistry) GetDashboardTemplates() []Entry[TemplateDefinition] {
	return r.GetByCategory(CategoryDashboard)
}

func (r *TemplateRegistry) GetAuthTemplates() []Entry[TemplateDefinition] {
	return r.GetByCategory(CategoryAuth)
}

func (r *TemplateRegistry) GetBlogTemplates() []Entry[TemplateDefinition] {
	return r.GetByCategory(CategoryBlog)
}

// =============================================================================
// Section Registry
// =============================================================================

// Section categories.
const (
	SectionHero         = "hero"
	SectionFeatures     = "features"
	SectionPricing      = "pricing"
	SectionTestimonials = "testimonials"
	SectionCTA          = "cta"
	SectionContent      = "content"
	SectionHeader       = "header"
	SectionFooter       = "footer"
	SectionFAQ          = "faq"
	SectionContact      = "contact"
)

// SectionDefinition is a composable block placed inside a template.
type SectionDefinition struct {
	Component    ComponentRef   `json:"component" yaml:"component"`
	Variants     []string       `json:"variants,omitempty" yaml:"variants,omitempty"`
	DefaultProps map[string]any `json:"defaultProps,omitempty" yaml:"defaultProps,omitempty"`
}

func (d SectionDefinition) Clone() SectionDefinition {
	d.Component = datapath.Clone(d.Component)
	d.Variants = slices.Clone(d.Variants)
	d.DefaultProps = cloneTree(d.DefaultProps)
	return d
}

// SectionRegistry stores composable sections.
type SectionRegistry struct {
	*Registry[SectionDefinition]
}

// NewSectionRegistry creates a section registry.
func NewSectionRegistry(logger *slog.Logger, opts ...Option[SectionDefinition]) *SectionRegistry {
	opts = append([]Option[SectionDefinition]{
		WithLogger[SectionDefinition](logger),
		WithHook(requireComponent(func(d SectionDefinition) ComponentRef { return d.Component })),
	}, opts...)
	return &SectionRegistry{Registry: New("sections", opts...)}
}

// GetSection returns the component for id, or nil when no entry matches.
func (r *SectionRegistry) GetSection(id, versionRange string) ComponentRef {
	e, ok := r.GetVersion(id, versionRange)
	if !ok {
		return nil
	}
	return e.Content.Component
}

// GetByCategory returns the visible sections in category.
func (r *SectionRegistry) GetByCategory(category string) []Entry[SectionDefinition] {
	return r.Query(QueryOptions{Category: category}).Entries
}

// Search returns the visible sections whose name or description contains text.
func (r *SectionRegistry) Search(text string) []Entry[SectionDefinition] {
	return r.Query(QueryOptions{Search: text}).Entries
}

func (r *SectionRegistry) GetHeroSections() []Entry[SectionDefinition] {
	return r.GetByCategory(SectionHero)
}

func (r *SectionRegistry) GetFeatureSections() []Entry[SectionDefinition] {
	return r.GetByCategory(SectionFeatures)
}

func (r *SectionRegistry) GetPricingSections() []Entry[SectionDefinition] {
	return r.GetByCategory(SectionPricing)
}

func (r *SectionRegistry) GetTestimonialSections() []Entry[SectionDefinition] {
	return r.GetByCategory(SectionTestimonials)
}

func (r *SectionRegistry) GetCTASections() []Entry[SectionDefinition] {
	return r.GetByCategory(SectionCTA)
}

func (r *SectionRegistry) GetHeaderSections() []Entry[SectionDefinition] {
	return r.GetByCategory(SectionHeader)
}

func (r *SectionRegistry) GetFooterSections() []Entry[SectionDefinition] {
	return r.GetByCategory(SectionFooter)
}

// =============================================================================
// Page Section Registry
// =============================================================================

// PropSpec documents one configurable prop of a page section.
type PropSpec struct {
	Type        string `json:"type" yaml:"type"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// PageSectionDefinition is a section that website templates place on pages.
type PageSectionDefinition struct {
	Component    ComponentRef        `json:"component" yaml:"component"`
	Props        map[string]PropSpec `json:"props,omitempty" yaml:"props,omitempty"`
	DefaultProps map[string]any      `json:"defaultProps,omitempty" yaml:"defaultProps,omitempty"`
}

func (d PageSectionDefinition) Clone() PageSectionDefinition {
	d.Component = datapath.Clone(d.Component)
	d.Props = maps.Clone(d.Props)
	d.DefaultProps = cloneTree(d.DefaultProps)
	return d
}

// PageSectionRegistry stores page sections used by website templates.
type PageSectionRegistry struct {
	*Registry[PageSectionDefinition]
}

// NewPageSectionRegistry creates a page section registry.
func NewPageSectionRegistry(logger *slog.Logger, opts ...Option[PageSectionDefinition]) *PageSectionRegistry {
	opts = append([]Option[PageSectionDefinition]{
		WithLogger[PageSectionDefinition](logger),
		WithHook(requireComponent(func(d PageSectionDefinition) ComponentRef { return d.Component })),
	}, opts...)
	return &PageSectionRegistry{Registry: New("page-sections", opts...)}
}

// GetPageSection returns the component for id, or nil when no entry matches.
func (r *PageSectionRegistry) GetPageSection(id, versionRange string) ComponentRef {
	e, ok := r.GetVersion(id, versionRange)
	if !ok {
		return nil
	}
	return e.Content.Component
}

// GetByCategory returns the visible page sections in category.
func (r *PageSectionRegistry) GetByCategory(category string) []Entry[PageSectionDefinition] {
	return r.Query(QueryOptions{Category: category}).Entries
}

func (r *PageSectionRegistry) GetHeroSections() []Entry[PageSectionDefinition] {
	return r.GetByCategory(SectionHero)
}

// MissingRequiredProps lists required props of id that props does not set.
func (r *PageSectionRegistry) MissingRequiredProps(id string, props map[string]any) []string {
	e, ok := r.Get(id)
	if !ok {
		return nil
	}
	var missing []string
	for name, spec := range e.Content.Props {
		if !spec.Required {
			continue
		}
		if _, set := props[name]; set {
			continue
		}
		if _, def := e.Content.DefaultProps[name]; def {
			continue
		}
		missing = append(missing, name)
	}
	slices.Sort(missing)
	return missing
}

// =============================================================================
// Hooks
// =============================================================================

func requireComponent[T any](component func(T) ComponentRef) Hook[T] {
	return func(e Entry[T]) []FieldError {
		if isNil(component(e.Content)) {
			return []FieldError{{Field: "content.component", Message: "is required"}}
		}
		return nil
	}
}
