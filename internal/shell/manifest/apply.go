package manifest

import (
	"errors"
	"fmt"
	"time"

	"github.com/artpar/templategov/internal/governance"
	"github.com/artpar/templategov/internal/registry"
)

// Targets are the services a manifest is applied to. Nil targets are skipped.
type Targets struct {
	Governance   *governance.Governance
	Migrations   *governance.MigrationRegistry
	Deprecations *governance.DeprecationRegistry

	Templates    *registry.TemplateRegistry
	Sections     *registry.SectionRegistry
	PageSections *registry.PageSectionRegistry
	Websites     *registry.WebsiteTemplateRegistry

	// Now stamps release dates. Default: time.Now
	Now func() time.Time
}

// Report counts what Apply registered.
type Report struct {
	Templates    int `json:"templates"`
	Migrations   int `json:"migrations"`
	Deprecations int `json:"deprecations"`
	Entries      int `json:"entries"`
}

// Apply registers everything in m. It keeps going after a failure and returns
// every error joined, so one bad record does not hide the rest.
func Apply(m *Manifest, t Targets) (Report, error) {
	now := t.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	var report Report
	var errs []error

	if t.Governance != nil {
		for _, def := range m.Templates {
			meta, err := def.Metadata(now())
			if err == nil {
				err = t.Governance.Register(meta)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("template %s: %w", def.ID, err))
				continue
			}
			report.Templates++
		}
	}

	if t.Migrations != nil {
		for _, def := range m.Migrations {
			if err := t.Migrations.Register(def.Template, def.Migration()); err != nil {
				errs = append(errs, fmt.Errorf("migration %s/%s: %w", def.Template, def.ID, err))
				continue
			}
			report.Migrations++
		}
	}

	if t.Deprecations != nil {
		for _, def := range m.Deprecations {
			if err := t.Deprecations.Register(def.Template, def.DeprecationNotice); err != nil {
				errs = append(errs, fmt.Errorf("deprecation %s/%s: %w", def.Template, def.Path, err))
				continue
			}
			report.Deprecations++
		}
	}

	seed := m.Registry
	if t.Templates != nil {
		report.Entries += registerAll(t.Templates.Registry, seed.Templates, &errs)
	}
	if t.Sections != nil {
		report.Entries += registerAll(t.Sections.Registry, seed.Sections, &errs)
	}
	if t.PageSections != nil {
		report.Entries += registerAll(t.PageSections.Registry, seed.PageSections, &errs)
	}
	if t.Websites != nil {
		report.Entries += registerAll(t.Websites.Registry, seed.Websites, &errs)
	}

	return report, errors.Join(errs...)
}

func registerAll[T any](r *registry.Registry[T], entries []registry.Entry[T], errs *[]error) int {
	n := 0
	for _, e := range entries {
		if err := r.Register(e); err != nil {
			*errs = append(*errs, fmt.Errorf("%s %s: %w", r.Name(), e.ID(), err))
			continue
		}
		n++
	}
	return n
}
