package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Charca/pkgshield/pkg/audit"
	"github.com/Charca/pkgshield/pkg/config"
	"github.com/Charca/pkgshield/pkg/logger"
	"github.com/Charca/pkgshield/pkg/manifest"
	"github.com/Charca/pkgshield/pkg/output"
	"github.com/Charca/pkgshield/pkg/registry"
	"github.com/spf13/cobra"
)

// ErrWarningsFound is returned in strict mode when any package has warnings.
var ErrWarningsFound = errors.New("packages with warnings found")

type checkOptions struct {
	path        string
	configPath  string
	format      string
	outFile     string
	registryURL string
	packageAge  int
	versionAge  int
	unmaintain  int
	timeout     time.Duration
	concurrency int
	rateLimit   float64
	noColor     bool
	strict      bool
}

func newCheckCmd() *cobra.Command {
	opts := &checkOptions{}
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check dependencies for potential supply chain security issues",
		Long: `Check reads package.json and package-lock.json, looks up every declared
dependency in the npm registry and warns when the package is too new, the
installed version is too new, or the package may be unmaintained.`,
		Example: `  pkgshield check
  pkgshield check --package-age 60
  pkgshield check --version-age 7 --unmaintained 730
  pkgshield check --path ./web --format sarif --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runCheck(cmd.Context(), cmd.OutOrStdout(), opts.path, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.path, "path", ".", "Path to the project directory containing package.json")
	flags.StringVar(&opts.configPath, "config", "", "Config file (default: "+config.FileName+" searched from the project directory upwards)")
	flags.StringVarP(&opts.format, "format", "f", defaults.Output.Format, "Output format: text, json or sarif")
	flags.StringVarP(&opts.outFile, "output", "o", "", "Write the report to a file instead of stdout")
	flags.StringVar(&opts.registryURL, "registry", defaults.Registry.URL, "npm registry URL")
	flags.IntVarP(&opts.packageAge, "package-age", "p", defaults.Thresholds.PackageAge, "Maximum age in days for package initial release")
	flags.IntVarP(&opts.versionAge, "version-age", "v", defaults.Thresholds.VersionAge, "Maximum age in days for installed version")
	flags.IntVarP(&opts.unmaintain, "unmaintained", "u", defaults.Thresholds.Unmaintained, "Maximum age in days since last release to consider unmaintained")
	flags.DurationVar(&opts.timeout, "timeout", defaults.Registry.Timeout, "Timeout for each registry request (0 disables)")
	flags.IntVar(&opts.concurrency, "concurrency", defaults.Concurrency, "Number of packages to check at once")
	flags.Float64Var(&opts.rateLimit, "rate-limit", 0, "Maximum registry requests per second (0 is unlimited)")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable coloured output")
	flags.BoolVar(&opts.strict, "strict", false, "Exit with status 1 when any package has warnings")

	return cmd
}

// resolveConfig layers defaults, the config file, the environment and
// explicitly set flags, in that order.
func resolveConfig(cmd *cobra.Command, opts *checkOptions) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.path); err != nil {
		return nil, err
	}

	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadConfig(opts.configPath)
	} else {
		cfg, err = config.FindAndLoadConfig(opts.path)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("package-age") {
		cfg.Thresholds.PackageAge = opts.packageAge
	}
	if flags.Changed("version-age") {
		cfg.Thresholds.VersionAge = opts.versionAge
	}
	if flags.Changed("unmaintained") {
		cfg.Thresholds.Unmaintained = opts.unmaintain
	}
	if flags.Changed("registry") {
		cfg.Registry.URL = opts.registryURL
	}
	if flags.Changed("timeout") {
		cfg.Registry.Timeout = opts.timeout
	}
	if flags.Changed("rate-limit") {
		cfg.Registry.RateLimit = opts.rateLimit
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = opts.concurrency
	}
	if flags.Changed("format") {
		cfg.Output.Format = opts.format
	}
	if flags.Changed("output") {
		cfg.Output.File = opts.outFile
	}
	if flags.Changed("no-color") {
		cfg.Output.NoColor = opts.noColor
	}
	if flags.Changed("strict") {
		cfg.Strict = opts.strict
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Debugf("Config: thresholds %+v, registry %s", cfg.Thresholds, cfg.Registry.URL)
	return cfg, nil
}

func runCheck(ctx context.Context, out io.Writer, projectPath string, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()

	pkgPath := filepath.Join(projectPath, "package.json")
	pkg, err := manifest.ParsePackageJSON(pkgPath)
	if err != nil {
		return err
	}
	lock, err := manifest.ParseLockfile(filepath.Join(projectPath, "package-lock.json"))
	if err != nil {
		return err
	}

	var deps []manifest.DependencySpec
	for _, dep := range pkg.AllDependencies() {
		if cfg.IsPackageIgnored(dep.Name) {
			logger.Debugf("Check: skipping ignored package %s", dep.Name)
			continue
		}
		deps = append(deps, dep)
	}

	if cfg.Output.File != "" {
		f, err := os.Create(cfg.Output.File)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if len(deps) == 0 {
		if cfg.Output.Format == config.FormatText {
			fmt.Fprintln(out, "No dependencies found in package.json")
			return nil
		}
		logger.Warnf("No dependencies found in package.json")
	} else if cfg.Output.Format == config.FormatText {
		fmt.Fprintf(out, "Checking %d packages...\n\n", len(deps))
	}

	client := registry.NewNpmClient(
		registry.WithBaseURL(cfg.Registry.URL),
		registry.WithTimeout(cfg.Registry.Timeout),
		registry.WithRateLimit(cfg.Registry.RateLimit),
		registry.WithCircuitBreaker(cfg.Registry.BreakerThreshold),
		registry.WithUserAgent("pkgshield/"+Version),
	)
	auditor := audit.NewAuditor(client, cfg.Thresholds)
	auditor.Concurrency = cfg.Concurrency

	result := auditor.Audit(ctx, deps, lock)
	for _, failure := range result.Failures {
		logger.Warnf("%s", failure.Error())
	}

	if err := writeReport(out, result, cfg, pkgPath, started); err != nil {
		return err
	}

	if cfg.Strict {
		if flagged := len(output.Aggregate(result.Reports).WithWarnings); flagged > 0 {
			return fmt.Errorf("%d package(s) with warnings: %w", flagged, ErrWarningsFound)
		}
	}
	return nil
}

func writeReport(out io.Writer, result *audit.Result, cfg *config.Config, pkgPath string, started time.Time) error {
	switch cfg.Output.Format {
	case config.FormatJSON:
		data, err := output.GenerateJSONReport(result, cfg.Thresholds)
		if err != nil {
			return fmt.Errorf("failed to marshal report to JSON: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	case config.FormatSarif:
		data, err := output.GenerateSarifReport(result, output.SarifOptions{
			ManifestPath: filepath.ToSlash(pkgPath),
			ToolVersion:  Version,
			StartedAt:    started,
			FinishedAt:   time.Now(),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal report to SARIF: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	default:
		return output.WriteTextReport(out, result.Reports, output.TextOptions{NoColor: cfg.Output.NoColor})
	}
}
