package registry

import (
	"fmt"
	"maps"
)

// =============================================================================
// Layout Resolution
// =============================================================================

// LayoutErrorType names what kind of reference failed to resolve.
type LayoutErrorType string

const (
	LayoutErrorTemplate LayoutErrorType = "template"
	LayoutErrorSection  LayoutErrorType = "section"
)

// LayoutRef points at a registered template or section.
type LayoutRef struct {
	ID      string         `json:"id" yaml:"id"`
	Version string         `json:"version,omitempty" yaml:"version,omitempty"`
	Props   map[string]any `json:"props,omitempty" yaml:"props,omitempty"`
}

// LayoutConfig is a JSON layout description supplied by a consumer.
type LayoutConfig struct {
	Template *LayoutRef     `json:"template,omitempty" yaml:"template,omitempty"`
	Sections []LayoutRef    `json:"sections" yaml:"sections"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ResolvedSection is a section ready to render.
type ResolvedSection struct {
	ID        string         `json:"id"`
	Component ComponentRef   `json:"component"`
	Props     map[string]any `json:"props,omitempty"`
}

// LayoutError reports an unresolved reference.
type LayoutError struct {
	Type    LayoutErrorType `json:"type"`
	ID      string          `json:"id"`
	Message string          `json:"message"`
}

// LayoutRendererResult is what the rendering layer receives.
type LayoutRendererResult struct {
	Template ComponentRef      `json:"template"`
	Sections []ResolvedSection `json:"sections"`
	Metadata map[string]any    `json:"metadata,omitempty"`
	Errors   []LayoutError     `json:"errors"`
}

// LayoutResolver turns a LayoutConfig into renderable components.
type LayoutResolver struct {
	templates *TemplateRegistry
	sections  *SectionRegistry
}

// NewLayoutResolver creates a resolver over the given registries.
func NewLayoutResolver(templates *TemplateRegistry, sections *SectionRegistry) *LayoutResolver {
	return &LayoutResolver{templates: templates, sections: sections}
}

// Resolve looks up every reference in cfg. Lookup failures are reported in
// Errors and the remaining references are still resolved.
func (r *LayoutResolver) Resolve(cfg LayoutConfig) LayoutRendererResult {
	result := LayoutRendererResult{
		Sections: make([]ResolvedSection, 0, len(cfg.Sections)),
		Metadata: maps.Clone(cfg.Metadata),
		Errors:   []LayoutError{},
	}

	if cfg.Template != nil {
		e, ok := r.templates.GetVersion(cfg.Template.ID, cfg.Template.Version)
		if ok {
			result.Template = e.Content.Component
		} else {
			result.Errors = append(result.Errors, LayoutError{
				Type:    LayoutErrorTemplate,
				ID:      cfg.Template.ID,
				Message: notFoundMessage("template", *cfg.Template),
			})
		}
	}

	for _, ref := range cfg.Sections {
		e, ok := r.sections.GetVersion(ref.ID, ref.Version)
		if !ok {
			result.Errors = append(result.Errors, LayoutError{
				Type:    LayoutErrorSection,
				ID:      ref.ID,
				Message: notFoundMessage("section", ref),
			})
			continue
		}
		result.Sections = append(result.Sections, ResolvedSection{
			ID:        ref.ID,
			Component: e.Content.Component,
			Props:     mergeShallow(e.Content.DefaultProps, ref.Props),
		})
	}

	return result
}

func notFoundMessage(kind string, ref LayoutRef) string {
	if ref.Version != "" {
		return fmt.Sprintf("%s %q matching %q not found", kind, ref.ID, ref.Version)
	}
	return fmt.Sprintf("%s %q not found", kind, ref.ID)
}
