package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// ErrVersionMismatch is returned when a tenant pins a template version range the registered entry does not satisfy.
var ErrVersionMismatch = errors.New("registered version does not satisfy the requested range")

// =============================================================================
// Website Template Types
// =============================================================================

// SectionInstance places a page section on a page.
type SectionInstance struct {
	ID        string         `json:"id" yaml:"id"`
	SectionID string         `json:"sectionId" yaml:"sectionId"`
	Props     map[string]any `json:"props,omitempty" yaml:"props,omitempty"`
}

func cloneSections(in []SectionInstance) []SectionInstance {
	if in == nil {
		return nil
	}
	out := make([]SectionInstance, len(in))
	for i, s := range in {
		s.Props = cloneTree(s.Props)
		out[i] = s
	}
	return out
}

// PageDefinition is one page of a website template.
type PageDefinition struct {
	ID       string            `json:"id" yaml:"id"`
	Path     string            `json:"path" yaml:"path"`
	Title    string            `json:"title" yaml:"title"`
	Layout   string            `json:"layout,omitempty" yaml:"layout,omitempty"`
	Sections []SectionInstance `json:"sections" yaml:"sections"`
	Meta     map[string]any    `json:"meta,omitempty" yaml:"meta,omitempty"`
}

func (p PageDefinition) clone() PageDefinition {
	p.Sections = cloneSections(p.Sections)
	p.Meta = cloneTree(p.Meta)
	return p
}

// WebsiteTemplateDefinition is a multi-page site.
type WebsiteTemplateDefinition struct {
	Pages      []PageDefinition `json:"pages" yaml:"pages"`
	Navigation map[string]any   `json:"navigation,omitempty" yaml:"navigation,omitempty"`
	Footer     map[string]any   `json:"footer,omitempty" yaml:"footer,omitempty"`
	SEO        map[string]any   `json:"seo,omitempty" yaml:"seo,omitempty"`
	Theme      string           `json:"theme,omitempty" yaml:"theme,omitempty"`
}

// Clone returns a deep copy of d.
func (d WebsiteTemplateDefinition) Clone() WebsiteTemplateDefinition {
	if d.Pages != nil {
		pages := make([]PageDefinition, len(d.Pages))
		for i, p := range d.Pages {
			pages[i] = p.clone()
		}
		d.Pages = pages
	}
	d.Navigation = cloneTree(d.Navigation)
	d.Footer = cloneTree(d.Footer)
	d.SEO = cloneTree(d.SEO)
	return d
}

// Page returns the page with the given id.
func (d WebsiteTemplateDefinition) Page(id string) (PageDefinition, bool) {
	for _, p := range d.Pages {
		if p.ID == id {
			return p, true
		}
	}
	return PageDefinition{}, false
}

// PageOverride customizes one page. Nil fields are left alone; a non-nil
// Sections replaces the whole list and Meta is merged key by key.
type PageOverride struct {
	Path     *string           `json:"path,omitempty" yaml:"path,omitempty"`
	Title    *string           `json:"title,omitempty" yaml:"title,omitempty"`
	Layout   *string           `json:"layout,omitempty" yaml:"layout,omitempty"`
	Sections []SectionInstance `json:"sections,omitempty" yaml:"sections,omitempty"`
	Meta     map[string]any    `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// TenantOverrides is a tenant's partial customization of a website template.
type TenantOverrides struct {
	HiddenPages []string                `json:"hiddenPages,omitempty" yaml:"hiddenPages,omitempty"`
	Pages       map[string]PageOverride `json:"pages,omitempty" yaml:"pages,omitempty"`
	CustomPages []PageDefinition        `json:"customPages,omitempty" yaml:"customPages,omitempty"`
	Navigation  map[string]any          `json:"navigation,omitempty" yaml:"navigation,omitempty"`
	Footer      map[string]any          `json:"footer,omitempty" yaml:"footer,omitempty"`
	SEO         map[string]any          `json:"seo,omitempty" yaml:"seo,omitempty"`
}

// TenantInstance binds a tenant to a website template.
type TenantInstance struct {
	TenantID   string `json:"tenantId" yaml:"tenantId"`
	TemplateID string `json:"templateId" yaml:"templateId"`
	// VersionRange optionally pins the template version (e.g. "^1.0.0").
	VersionRange string          `json:"versionRange,omitempty" yaml:"versionRange,omitempty"`
	Overrides    TenantOverrides `json:"overrides" yaml:"overrides"`
}

// =============================================================================
// Website Template Registry
// =============================================================================

// WebsiteTemplateRegistry stores multi-page website templates.
type WebsiteTemplateRegistry struct {
	*Registry[WebsiteTemplateDefinition]
}

// NewWebsiteTemplateRegistry creates a website template registry.
func NewWebsiteTemplateRegistry(logger *slog.Logger, opts ...Option[WebsiteTemplateDefinition]) *WebsiteTemplateRegistry {
	opts = append([]Option[WebsiteTemplateDefinition]{
		WithLogger[WebsiteTemplateDefinition](logger),
		WithHook(validatePages),
	}, opts...)
	return &WebsiteTemplateRegistry{Registry: New("website-templates", opts...)}
}

// GetByCategory returns the visible website templates in category.
func (r *WebsiteTemplateRegistry) GetByCategory(category string) []Entry[WebsiteTemplateDefinition] {
	return r.Query(QueryOptions{Category: category}).Entries
}

// ResolveForTenant merges the tenant's overrides over the registered template.
// The registered entry is never modified.
func (r *WebsiteTemplateRegistry) ResolveForTenant(tenant TenantInstance) (WebsiteTemplateDefinition, error) {
	e, ok := r.Get(tenant.TemplateID)
	if !ok {
		return WebsiteTemplateDefinition{}, fmt.Errorf("%s: %w: %s", r.Name(), ErrNotFound, tenant.TemplateID)
	}
	if tenant.VersionRange != "" {
		if _, ok := r.GetVersion(tenant.TemplateID, tenant.VersionRange); !ok {
			return WebsiteTemplateDefinition{}, fmt.Errorf("%s: %w: %s@%s wanted %s",
				r.Name(), ErrVersionMismatch, tenant.TemplateID, e.Metadata.Version, tenant.VersionRange)
		}
	}
	return ResolveOverrides(e.Content, tenant.Overrides), nil
}

// ResolveOverrides applies overrides to base and returns a new definition:
// hidden pages are dropped, per-page overrides are merged, custom pages are
// appended and navigation/footer/seo are merged key by key. The result shares
// no memory with base or o.
func ResolveOverrides(base WebsiteTemplateDefinition, o TenantOverrides) WebsiteTemplateDefinition {
	out := WebsiteTemplateDefinition{
		Theme:      base.Theme,
		Navigation: mergeShallow(base.Navigation, o.Navigation),
		Footer:     mergeShallow(base.Footer, o.Footer),
		SEO:        mergeShallow(base.SEO, o.SEO),
		Pages:      make([]PageDefinition, 0, len(base.Pages)+len(o.CustomPages)),
	}

	for _, page := range base.Pages {
		if slices.Contains(o.HiddenPages, page.ID) {
			continue
		}
		resolved := page.clone()
		if po, ok := o.Pages[page.ID]; ok {
			resolved = applyPageOverride(resolved, po)
		}
		out.Pages = append(out.Pages, resolved)
	}

	for _, page := range o.CustomPages {
		out.Pages = append(out.Pages, page.clone())
	}
	return out
}

func applyPageOverride(p PageDefinition, o PageOverride) PageDefinition {
	if o.Path != nil {
		p.Path = *o.Path
	}
	if o.Title != nil {
		p.Title = *o.Title
	}
	if o.Layout != nil {
		p.Layout = *o.Layout
	}
	if o.Sections != nil {
		p.Sections = cloneSections(o.Sections)
	}
	if o.Meta != nil {
		p.Meta = mergeShallow(p.Meta, o.Meta)
	}
	return p
}

func mergeShallow(base, override map[string]any) map[string]any {
	if base == nil && override == nil {
		return nil
	}
	out := cloneTree(base)
	if out == nil {
		out = make(map[string]any, len(override))
	}
	maps.Copy(out, cloneTree(override))
	return out
}

func validatePages(e Entry[WebsiteTemplateDefinition]) []FieldError {
	var problems []FieldError
	seen := make(map[string]bool, len(e.Content.Pages))
	for i, p := range e.Content.Pages {
		if p.ID == "" {
			problems = append(problems, FieldError{Field: fmt.Sprintf("content.pages[%d].id", i), Message: "is required"})
			continue
		}
		if seen[p.ID] {
			problems = append(problems, FieldError{Field: fmt.Sprintf("content.pages[%d].id", i), Message: "duplicate page id " + p.ID})
		}
		seen[p.ID] = true
	}
	return problems
}
