package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Charca/pkgshield/pkg/audit"
	"github.com/Charca/pkgshield/pkg/registry"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up from the project directory upwards.
const FileName = ".pkgshield.yaml"

// Environment variables that override file settings.
const (
	EnvRegistry     = "PKGSHIELD_REGISTRY"
	EnvPackageAge   = "PKGSHIELD_PACKAGE_AGE"
	EnvVersionAge   = "PKGSHIELD_VERSION_AGE"
	EnvUnmaintained = "PKGSHIELD_UNMAINTAINED"
	EnvTimeout      = "PKGSHIELD_TIMEOUT"
)

// Output formats
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatSarif = "sarif"
)

// Config represents the configuration for pkgshield
type Config struct {
	// Day thresholds for the three heuristics
	Thresholds audit.Thresholds `yaml:"thresholds"`

	// Registry access
	Registry struct {
		URL              string        `yaml:"url"`
		Timeout          time.Duration `yaml:"timeout"`          // per request, 0 disables
		RateLimit        float64       `yaml:"rateLimit"`        // requests per second, 0 is unlimited
		BreakerThreshold int           `yaml:"breakerThreshold"` // consecutive failures before failing fast, 0 disables
	} `yaml:"registry"`

	// Number of packages checked at once; 1 is sequential
	Concurrency int `yaml:"concurrency"`

	// Output configuration
	Output struct {
		Format  string `yaml:"format"` // text, json, sarif
		File    string `yaml:"file"`   // Output file path (stdout if empty)
		NoColor bool   `yaml:"noColor"`
	} `yaml:"output"`

	// Exit non-zero when any package has warnings
	Strict bool `yaml:"strict"`

	// Ignore specific packages
	IgnorePackages []string `yaml:"ignorePackages"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	config := &Config{
		Thresholds:  audit.DefaultThresholds(),
		Concurrency: 1,
	}

	config.Registry.URL = registry.DefaultURL
	config.Registry.Timeout = registry.DefaultTimeout

	// Set default output format
	config.Output.Format = FormatText

	return config
}

// LoadConfig loads the configuration from the specified file path
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}

	return config, nil
}

// FindAndLoadConfig searches for a config file in the project directory and its parents
func FindAndLoadConfig(projectPath string) (*Config, error) {
	absPath, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("error resolving project path: %w", err)
	}

	// Start from the project directory and work up to the root
	currentDir := absPath
	for {
		configPath := filepath.Join(currentDir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			return LoadConfig(configPath)
		}

		// Move up to the parent directory
		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached the root directory, no config file found
			break
		}
		currentDir = parentDir
	}

	// No config file found, return default config
	return DefaultConfig(), nil
}

// LoadDotEnv loads KEY=value pairs from a .env file in projectPath into the
// process environment. Variables already set are kept. A missing file is
// not an error.
func LoadDotEnv(projectPath string) error {
	envPath := filepath.Join(projectPath, ".env")
	if err := godotenv.Load(envPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error loading %s: %w", envPath, err)
	}
	return nil
}

// ApplyEnv overrides settings from PKGSHIELD_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvRegistry); ok && v != "" {
		c.Registry.URL = v
	}

	ints := []struct {
		key    string
		target *int
	}{
		{EnvPackageAge, &c.Thresholds.PackageAge},
		{EnvVersionAge, &c.Thresholds.VersionAge},
		{EnvUnmaintained, &c.Thresholds.Unmaintained},
	}
	for _, e := range ints {
		v, ok := os.LookupEnv(e.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", e.key, v, err)
		}
		*e.target = n
	}

	if v, ok := os.LookupEnv(EnvTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvTimeout, v, err)
		}
		c.Registry.Timeout = d
	}
	return nil
}

// Validate checks the configuration for values the audit cannot use.
func (c *Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	switch c.Output.Format {
	case FormatText, FormatJSON, FormatSarif:
	default:
		return fmt.Errorf("unsupported output format %q (expected text, json or sarif)", c.Output.Format)
	}
	if c.Registry.Timeout < 0 {
		return fmt.Errorf("registry timeout must not be negative")
	}
	if c.Registry.RateLimit < 0 {
		return fmt.Errorf("registry rate limit must not be negative")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	return nil
}

// IsPackageIgnored checks if a package should be ignored based on the configuration
func (c *Config) IsPackageIgnored(packageName string) bool {
	for _, ignoredPackage := range c.IgnorePackages {
		if ignoredPackage == packageName {
			return true
		}
	}
	return false
}
