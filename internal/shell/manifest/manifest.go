// Package manifest loads governance manifests: templates, declarative
// migrations, deprecation notices and registry seed data in one YAML (or
// JSON) document, and applies them to the in-memory services.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/templategov/internal/governance"
	"github.com/artpar/templategov/internal/registry"
)

// ErrInvalidManifest is returned when a manifest parses but is inconsistent.
var ErrInvalidManifest = errors.New("invalid manifest")

// =============================================================================
// Manifest Types
// =============================================================================

// Manifest is the root document.
type Manifest struct {
	Templates    []TemplateDef    `yaml:"templates"`
	Migrations   []MigrationDef   `yaml:"migrations"`
	Deprecations []DeprecationDef `yaml:"deprecations"`
	Registry     RegistrySeed     `yaml:"registry"`
}

// TemplateDef declares one governed template.
type TemplateDef struct {
	ID              string                    `yaml:"id"`
	Name            string                    `yaml:"name"`
	Version         string                    `yaml:"version"`
	Status          governance.TemplateStatus `yaml:"status"`
	Locked          bool                      `yaml:"locked"`
	Author          string                    `yaml:"author"`
	License         string                    `yaml:"license"`
	Tags            []string                  `yaml:"tags"`
	Changelog       []string                  `yaml:"changelog"`
	BreakingChanges []string                  `yaml:"breakingChanges"`
	MigrationGuide  string                    `yaml:"migrationGuide"`
}

// MigrationDef declares a migration as a list of path operations.
type MigrationDef struct {
	Template    string  `yaml:"template"`
	ID          string  `yaml:"id"`
	From        string  `yaml:"from"`
	To          string  `yaml:"to"`
	Description string  `yaml:"description"`
	Breaking    bool    `yaml:"breaking"`
	Ops         []OpDef `yaml:"ops"`
}

// OpDef is one path operation. Exactly one field must be set.
type OpDef struct {
	Rename *PathPair `yaml:"rename"`
	Copy   *PathPair `yaml:"copy"`
	Set    *SetDef   `yaml:"set"`
	Delete string    `yaml:"delete"`
}

// PathPair names a source and destination path.
type PathPair struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// SetDef writes a literal value.
type SetDef struct {
	Path  string `yaml:"path"`
	Value any    `yaml:"value"`
}

// DeprecationDef attaches a notice to a template.
type DeprecationDef struct {
	Template                     string `yaml:"template"`
	governance.DeprecationNotice `yaml:",inline"`
}

// RegistrySeed holds entries for the resource registries.
type RegistrySeed struct {
	Templates    []registry.Entry[registry.TemplateDefinition]        `yaml:"templates"`
	Sections     []registry.Entry[registry.SectionDefinition]         `yaml:"sections"`
	PageSections []registry.Entry[registry.PageSectionDefinition]     `yaml:"pageSections"`
	Websites     []registry.Entry[registry.WebsiteTemplateDefinition] `yaml:"websites"`
	Tenants      []registry.TenantInstance                            `yaml:"tenants"`
}

// =============================================================================
// Loading
// =============================================================================

// Parse decodes a manifest. Unknown fields are rejected.
func Parse(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return &m, nil
		}
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadFile reads and parses the manifest at path.
func LoadFile(path string) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	m, err := Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// LoadFS reads and parses the manifest name from fsys.
func LoadFS(fsys fs.FS, name string) (*Manifest, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	m, err := Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m, nil
}

// LoadData reads a YAML or JSON data payload into a generic value tree.
func LoadData(path string) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()

	data, err := ParseData(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

// ParseData decodes a YAML or JSON document into a generic value tree.
// An empty document yields nil.
func ParseData(r io.Reader) (any, error) {
	var data any
	if err := yaml.NewDecoder(r).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse data: %w", err)
	}
	return data, nil
}

// LoadLayout reads a layout description for the layout resolver.
func LoadLayout(path string) (registry.LayoutConfig, error) {
	var cfg registry.LayoutConfig

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-references and operation shapes. All problems are
// reported together.
func (m *Manifest) Validate() error {
	var errs []error
	for i, mig := range m.Migrations {
		if mig.Template == "" {
			errs = append(errs, fmt.Errorf("migrations[%d]: template is required", i))
		}
		for j, op := range mig.Ops {
			if n := op.count(); n != 1 {
				errs = append(errs, fmt.Errorf("migrations[%d].ops[%d]: expected exactly one operation, got %d", i, j, n))
			}
		}
	}
	for i, d := range m.Deprecations {
		if d.Template == "" {
			errs = append(errs, fmt.Errorf("deprecations[%d]: template is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, errors.Join(errs...))
	}
	return nil
}

func (op OpDef) count() int {
	n := 0
	if op.Rename != nil {
		n++
	}
	if op.Copy != nil {
		n++
	}
	if op.Set != nil {
		n++
	}
	if op.Delete != "" {
		n++
	}
	return n
}

// =============================================================================
// Building
// =============================================================================

// Metadata converts the definition into governed metadata.
func (d TemplateDef) Metadata(releaseDate time.Time) (governance.VersionedTemplateMetadata, error) {
	version := d.Version
	if version == "" {
		version = governance.DefaultInitialVersion
	}
	v, err := governance.NewTemplateVersion(version, releaseDate)
	if err != nil {
		return governance.VersionedTemplateMetadata{}, fmt.Errorf("template %s: %w", d.ID, err)
	}
	v.Changelog = d.Changelog
	v.BreakingChanges = d.BreakingChanges
	v.MigrationGuide = d.MigrationGuide

	return governance.VersionedTemplateMetadata{
		ID:      d.ID,
		Name:    d.Name,
		Version: v,
		Status:  d.Status,
		Locked:  d.Locked,
		Author:  d.Author,
		License: d.License,
		Tags:    d.Tags,
	}, nil
}

// Migration compiles the operations into a migration.
func (d MigrationDef) Migration() governance.Migration {
	steps := make([]governance.MigrateFunc, 0, len(d.Ops))
	for _, op := range d.Ops {
		switch {
		case op.Rename != nil:
			steps = append(steps, governance.Rename(op.Rename.From, op.Rename.To))
		case op.Copy != nil:
			steps = append(steps, governance.Copy(op.Copy.From, op.Copy.To))
		case op.Set != nil:
			steps = append(steps, governance.Set(op.Set.Path, op.Set.Value))
		case op.Delete != "":
			steps = append(steps, governance.Delete(op.Delete))
		}
	}
	return governance.Migration{
		ID:          d.ID,
		From:        d.From,
		To:          d.To,
		Description: d.Description,
		Breaking:    d.Breaking,
		Migrate:     governance.Chain(steps...),
	}
}
