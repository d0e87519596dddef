package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/artpar/templategov/internal/governance"
	"github.com/artpar/templategov/internal/registry"
	"github.com/artpar/templategov/internal/shell/manifest"
	"github.com/artpar/templategov/internal/shell/telemetry"
	"github.com/artpar/templategov/internal/shell/tracing"
)

// =============================================================================
// Services
// =============================================================================

// Services is the wired set of governance and registry services one command
// works against.
type Services struct {
	Workflows *governance.Workflows

	Templates    *registry.TemplateRegistry
	Sections     *registry.SectionRegistry
	PageSections *registry.PageSectionRegistry
	Websites     *registry.WebsiteTemplateRegistry

	Metrics *telemetry.Metrics
	Tracing *tracing.Provider

	logger *slog.Logger
}

// NewServices builds the services from cfg. Metrics and tracing hook in
// through the governance options when enabled.
func NewServices(cfg *Config, logger *slog.Logger, traceOut io.Writer) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tcfg := cfg.Tracing
	tcfg.Writer = traceOut
	tp, err := tracing.NewProvider(tcfg)
	if err != nil {
		return nil, &CommandError{Op: "tracing", Err: err, ExitCode: ExitConfigError}
	}

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		metrics = telemetry.New(telemetry.Config{Namespace: cfg.Metrics.Namespace})
	}

	var govOpts []governance.GovernanceOption
	migOpts := []governance.MigrationOption{
		governance.WithTracer(tp.Tracer()),
		governance.WithMigrationTimeout(cfg.Governance.MigrationTimeout),
	}
	var depOpts []governance.DeprecationOption
	if metrics != nil {
		govOpts = append(govOpts, governance.WithTransitionObserver(metrics.TransitionObserver()))
		migOpts = append(migOpts, governance.WithMigrationObserver(metrics.MigrationObserver()))
		depOpts = append(depOpts, governance.WithHandler(metrics.DeprecationHandler()))
	}

	workflows := governance.NewWorkflows(
		governance.NewGovernance(logger, govOpts...),
		governance.NewMigrationRegistry(logger, migOpts...),
		governance.NewDeprecationRegistry(logger, depOpts...),
		governance.NewValidator(logger),
		logger,
	)

	rc := cfg.Registry
	return &Services{
		Workflows: workflows,
		Templates: registry.NewTemplateRegistry(logger,
			registry.WithAllowDuplicates[registry.TemplateDefinition](rc.AllowDuplicates),
			registry.WithValidateOnRegister[registry.TemplateDefinition](rc.ValidateOnRegister)),
		Sections: registry.NewSectionRegistry(logger,
			registry.WithAllowDuplicates[registry.SectionDefinition](rc.AllowDuplicates),
			registry.WithValidateOnRegister[registry.SectionDefinition](rc.ValidateOnRegister)),
		PageSections: registry.NewPageSectionRegistry(logger,
			registry.WithAllowDuplicates[registry.PageSectionDefinition](rc.AllowDuplicates),
			registry.WithValidateOnRegister[registry.PageSectionDefinition](rc.ValidateOnRegister)),
		Websites: registry.NewWebsiteTemplateRegistry(logger,
			registry.WithAllowDuplicates[registry.WebsiteTemplateDefinition](rc.AllowDuplicates),
			registry.WithValidateOnRegister[registry.WebsiteTemplateDefinition](rc.ValidateOnRegister)),
		Metrics: metrics,
		Tracing: tp,
		logger:  logger,
	}, nil
}

// Load reads the manifest at path and applies it to the services.
func (s *Services) Load(path string) (*manifest.Manifest, error) {
	m, err := manifest.LoadFile(path)
	if err != nil {
		return nil, &CommandError{Op: "load manifest", Err: err, ExitCode: ExitManifestError}
	}

	report, err := manifest.Apply(m, manifest.Targets{
		Governance:   s.Workflows.Governance,
		Migrations:   s.Workflows.Migrations,
		Deprecations: s.Workflows.Deprecations,
		Templates:    s.Templates,
		Sections:     s.Sections,
		PageSections: s.PageSections,
		Websites:     s.Websites,
	})
	if err != nil {
		return nil, &CommandError{Op: "apply manifest", Err: err, ExitCode: ExitManifestError}
	}

	s.logger.Debug("manifest applied",
		"path", path,
		"templates", report.Templates,
		"migrations", report.Migrations,
		"deprecations", report.Deprecations,
		"entries", report.Entries,
	)
	return m, nil
}

// Close flushes traces and, when metrics are enabled, writes them to w.
func (s *Services) Close(ctx context.Context, w io.Writer) error {
	if err := s.Tracing.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracing: %w", err)
	}
	if s.Metrics != nil {
		if err := s.Metrics.WriteText(w); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
