package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/templategov/internal/governance"
	"github.com/artpar/templategov/internal/registry"
	"github.com/artpar/templategov/internal/shell/manifest"
)

var (
	errValidationFailed = errors.New("validation failed")
	errUnhealthy        = errors.New("one or more templates are unhealthy")
	errPublishFailed    = errors.New("publish failed")
	errMigrationFailed  = errors.New("migration failed")
	errDeprecatedPaths  = errors.New("deprecated paths in use")
	errUnresolved       = errors.New("layout has unresolved references")
)

// readData loads a payload from path, or from stdin when path is "-".
func readData(cmd *cobra.Command, path string) (any, error) {
	var (
		data any
		err  error
	)
	if path == "-" {
		data, err = manifest.ParseData(cmd.InOrStdin())
	} else {
		data, err = manifest.LoadData(path)
	}
	if err != nil {
		return nil, &CommandError{Op: "read data", Err: err, ExitCode: ExitUsageError}
	}
	return data, nil
}

// templateVersion returns explicit, or the governed version of id when empty.
func templateVersion(s *Services, id, explicit, flag string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	meta, ok := s.Workflows.Governance.Get(id)
	if !ok {
		return "", &CommandError{
			Op:       flag,
			Err:      fmt.Errorf("%w: %s (pass --%s)", governance.ErrTemplateNotFound, id, flag),
			ExitCode: ExitUsageError,
		}
	}
	return meta.Version.VersionString, nil
}

// =============================================================================
// validate
// =============================================================================

type validateOutput struct {
	Valid     bool                                   `json:"valid"`
	Templates map[string]governance.ValidationResult `json:"templates"`
	Data      *governance.ValidationResult           `json:"data,omitempty"`
}

func (a *app) validateCmd() *cobra.Command {
	var dataPath string

	cmd := &cobra.Command{
		Use:   "validate <manifest>",
		Short: "Run the validation rules over every governed template",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&dataPath, "data", "", "also validate this YAML/JSON document (- for stdin)")

	cmd.RunE = a.withServices(func(cmd *cobra.Command, args []string, s *Services) error {
		if _, err := s.Load(args[0]); err != nil {
			return err
		}

		out := validateOutput{Valid: true, Templates: make(map[string]governance.ValidationResult)}
		for _, id := range s.Workflows.Governance.IDs() {
			meta, _ := s.Workflows.Governance.Get(id)
			res, err := s.Workflows.Validator.ValidateMetadata(meta)
			if err != nil {
				return &CommandError{Op: "validate " + id, Err: err, ExitCode: ExitValidationFailed}
			}
			out.Templates[id] = res
			out.Valid = out.Valid && res.Valid
		}

		if dataPath != "" {
			data, err := readData(cmd, dataPath)
			if err != nil {
				return err
			}
			res := s.Workflows.Validator.Validate(data)
			out.Data = &res
			out.Valid = out.Valid && res.Valid
		}

		if err := writeJSON(a.stdout, out); err != nil {
			return err
		}
		if !out.Valid {
			return &CommandError{Op: "validate", Err: errValidationFailed, ExitCode: ExitValidationFailed}
		}
		return nil
	})
	return cmd
}

// =============================================================================
// health
// =============================================================================

func (a *app) healthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health <manifest> [template-id...]",
		Short: "Report governance health for templates (all when none are named)",
		Args:  cobra.MinimumNArgs(1),
	}

	cmd.RunE = a.withServices(func(cmd *cobra.Command, args []string, s *Services) error {
		if _, err := s.Load(args[0]); err != nil {
			return err
		}

		ids := args[1:]
		if len(ids) == 0 {
			ids = s.Workflows.Governance.IDs()
		}

		reports := make([]governance.HealthReport, 0, len(ids))
		healthy := true
		for _, id := range ids {
			report, err := s.Workflows.CheckHealth(id)
			if err != nil {
				return &CommandError{Op: "health", Err: err, ExitCode: ExitUsageError}
			}
			reports = append(reports, report)
			healthy = healthy && report.Healthy
		}

		if err := writeJSON(a.stdout, reports); err != nil {
			return err
		}
		if !healthy {
			return &CommandError{Op: "health", Err: errUnhealthy, ExitCode: ExitValidationFailed}
		}
		return nil
	})
	return cmd
}

// =============================================================================
// publish
// =============================================================================

func (a *app) publishCmd() *cobra.Command {
	var (
		templateID string
		opts       governance.PublishOptions
	)

	cmd := &cobra.Command{
		Use:   "publish <manifest>",
		Short: "Validate, record release notes and publish a template",
		Long: `publish runs the publish workflow against a manifest template: release notes
are recorded, the template is validated as it would look once published, a
draft is moved through preview and the template is published and locked.

Nothing is written back to the manifest; the resulting metadata is printed.`,
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().StringVarP(&templateID, "template", "t", "", "template id")
	cmd.Flags().StringArrayVar(&opts.Changelog, "changelog", nil, "changelog line (repeatable)")
	cmd.Flags().StringArrayVar(&opts.BreakingChanges, "breaking", nil, "breaking change line (repeatable)")
	cmd.Flags().StringVar(&opts.MigrationGuide, "migration-guide", "", "migration guide for this release")
	cmd.Flags().StringVar(&opts.Author, "author", "", "who is publishing")
	_ = cmd.MarkFlagRequired("template")

	cmd.RunE = a.withServices(func(cmd *cobra.Command, args []string, s *Services) error {
		if _, err := s.Load(args[0]); err != nil {
			return err
		}

		result := s.Workflows.PrepareForPublish(templateID, opts)
		if err := writeJSON(a.stdout, result); err != nil {
			return err
		}
		if !result.Success {
			return &CommandError{Op: "publish " + templateID, Err: errPublishFailed, ExitCode: ExitValidationFailed}
		}
		return nil
	})
	return cmd
}

// =============================================================================
// migrate
// =============================================================================

func (a *app) migrateCmd() *cobra.Command {
	var (
		templateID string
		from, to   string
		dataPath   string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "migrate <manifest>",
		Short: "Run the registered migrations over a data document",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVarP(&templateID, "template", "t", "", "template id")
	cmd.Flags().StringVar(&from, "from", "", "version the data is at (default: the template's governed version)")
	cmd.Flags().StringVar(&to, "to", "", "target version")
	cmd.Flags().StringVar(&dataPath, "data", "", "YAML/JSON document to migrate (- for stdin)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the migrations that would run without running them")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("data")

	cmd.RunE = a.withServices(func(cmd *cobra.Command, args []string, s *Services) error {
		if _, err := s.Load(args[0]); err != nil {
			return err
		}

		fromVersion, err := templateVersion(s, templateID, from, "from")
		if err != nil {
			return err
		}
		data, err := readData(cmd, dataPath)
		if err != nil {
			return err
		}

		result, err := s.Workflows.Migrations.Migrate(cmd.Context(), templateID, data, fromVersion, to,
			governance.MigrateOptions{DryRun: dryRun})
		if err != nil {
			return &CommandError{Op: "migrate", Err: err, ExitCode: ExitUsageError}
		}

		if err := writeJSON(a.stdout, result); err != nil {
			return err
		}
		if !result.Success {
			return &CommandError{Op: "migrate " + templateID, Err: errMigrationFailed, ExitCode: ExitMigrationFailed}
		}
		return nil
	})
	return cmd
}

// =============================================================================
// deprecations
// =============================================================================

type noticeStatus struct {
	governance.DeprecationNotice
	Active       bool `json:"active"`
	ShouldRemove bool `json:"shouldRemove"`
}

type deprecationsOutput struct {
	TemplateID string                         `json:"templateId"`
	Version    string                         `json:"version"`
	Notices    []noticeStatus                 `json:"notices,omitempty"`
	Found      []governance.DeprecationNotice `json:"found,omitempty"`
}

func (a *app) deprecationsCmd() *cobra.Command {
	var (
		templateID string
		version    string
		dataPath   string
		strict     bool
	)

	cmd := &cobra.Command{
		Use:   "deprecations <manifest>",
		Short: "List deprecation notices, or scan a data document for deprecated paths",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVarP(&templateID, "template", "t", "", "template id")
	cmd.Flags().StringVar(&version, "version", "", "version to check at (default: the template's governed version)")
	cmd.Flags().StringVar(&dataPath, "data", "", "YAML/JSON document to scan (- for stdin)")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when the document uses a deprecated path")
	_ = cmd.MarkFlagRequired("template")

	cmd.RunE = a.withServices(func(cmd *cobra.Command, args []string, s *Services) error {
		if _, err := s.Load(args[0]); err != nil {
			return err
		}

		v, err := templateVersion(s, templateID, version, "version")
		if err != nil {
			return err
		}
		deps := s.Workflows.Deprecations
		out := deprecationsOutput{TemplateID: templateID, Version: v}

		if dataPath == "" {
			for _, n := range deps.GetNotices(templateID) {
				out.Notices = append(out.Notices, noticeStatus{
					DeprecationNotice: n,
					Active:            deps.IsDeprecated(templateID, n.Path, v),
					ShouldRemove:      deps.ShouldRemove(templateID, n.Path, v),
				})
			}
			return writeJSON(a.stdout, out)
		}

		data, err := readData(cmd, dataPath)
		if err != nil {
			return err
		}
		out.Found, err = deps.Check(templateID, v, data, governance.CheckOptions{Once: a.config.Governance.DeprecationOnce})
		if err != nil {
			return &CommandError{Op: "deprecations", Err: err, ExitCode: ExitUsageError}
		}

		if err := writeJSON(a.stdout, out); err != nil {
			return err
		}
		if strict && len(out.Found) > 0 {
			return &CommandError{Op: "deprecations", Err: errDeprecatedPaths, ExitCode: ExitValidationFailed}
		}
		return nil
	})
	return cmd
}

// =============================================================================
// resolve
// =============================================================================

func (a *app) resolveCmd() *cobra.Command {
	var (
		tenantID   string
		layoutPath string
	)

	cmd := &cobra.Command{
		Use:   "resolve <manifest>",
		Short: "Resolve a tenant's website or a layout against the manifest registries",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id from the manifest's registry.tenants")
	cmd.Flags().StringVar(&layoutPath, "layout", "", "layout description file (YAML/JSON)")
	cmd.MarkFlagsOneRequired("tenant", "layout")
	cmd.MarkFlagsMutuallyExclusive("tenant", "layout")

	cmd.RunE = a.withServices(func(cmd *cobra.Command, args []string, s *Services) error {
		m, err := s.Load(args[0])
		if err != nil {
			return err
		}

		if layoutPath != "" {
			cfg, err := manifest.LoadLayout(layoutPath)
			if err != nil {
				return &CommandError{Op: "resolve", Err: err, ExitCode: ExitUsageError}
			}
			result := registry.NewLayoutResolver(s.Templates, s.Sections).Resolve(cfg)
			if err := writeJSON(a.stdout, result); err != nil {
				return err
			}
			if len(result.Errors) > 0 {
				return &CommandError{Op: "resolve", Err: errUnresolved, ExitCode: ExitValidationFailed}
			}
			return nil
		}

		for _, tenant := range m.Registry.Tenants {
			if tenant.TenantID != tenantID {
				continue
			}
			site, err := s.Websites.ResolveForTenant(tenant)
			if err != nil {
				return &CommandError{Op: "resolve " + tenantID, Err: err, ExitCode: ExitManifestError}
			}
			return writeJSON(a.stdout, site)
		}
		return &CommandError{
			Op:       "resolve",
			Err:      fmt.Errorf("tenant %q is not in the manifest", tenantID),
			ExitCode: ExitUsageError,
		}
	})
	return cmd
}

// =============================================================================
// stats
// =============================================================================

func (a *app) statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <manifest>",
		Short: "Summarize the registry entries seeded by a manifest",
		Args:  cobra.ExactArgs(1),
	}

	cmd.RunE = a.withServices(func(cmd *cobra.Command, args []string, s *Services) error {
		if _, err := s.Load(args[0]); err != nil {
			return err
		}
		return writeJSON(a.stdout, map[string]registry.Stats{
			s.Templates.Name():    s.Templates.Stats(),
			s.Sections.Name():     s.Sections.Stats(),
			s.PageSections.Name(): s.PageSections.Stats(),
			s.Websites.Name():     s.Websites.Stats(),
		})
	})
	return cmd
}
