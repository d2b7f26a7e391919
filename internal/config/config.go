package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ComparePolicy selects which fields take part when the generated
// database is compared with the saved one.
type ComparePolicy string

const (
	// CompareIncludingTimestamp compares every field, timestamp included.
	// A fresh run almost always differs, so the file is rewritten every time.
	CompareIncludingTimestamp ComparePolicy = "include_timestamp"
	// CompareExcludingTimestamp ignores the timestamp, so the file is only
	// rewritten when sizes, hashes or URLs change.
	CompareExcludingTimestamp ComparePolicy = "exclude_timestamp"
)

// Config holds the upstream locations and output settings of the generator.
type Config struct {
	// ReleaseAPIURL points at the "latest release" endpoint of the upstream repository.
	ReleaseAPIURL string `yaml:"release_api_url"`
	// ScriptURL is the raw-content URL of the installer script.
	ScriptURL string `yaml:"script_url"`
	// AssetName is the release asset holding the client archive.
	AssetName string `yaml:"asset_name"`
	// OutputPath is where the update database is written.
	OutputPath string `yaml:"output_path"`
	// MetadataTimeout bounds the release metadata request.
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
	// ScriptTimeout bounds the script download.
	ScriptTimeout time.Duration `yaml:"script_timeout"`
	// DownloadTimeout bounds the client archive download.
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	// ComparePolicy decides whether the timestamp counts as a change.
	ComparePolicy ComparePolicy `yaml:"compare_policy"`
	// Token authenticates release API requests. It is read from the
	// environment and never persisted to YAML.
	Token string `yaml:"-"`
}

const (
	// DefaultConfigFilename is the optional settings file looked up in the working directory.
	DefaultConfigFilename = "update-db-generator.yaml"

	// DefaultReleaseAPIURL is the latest release of bleach86/mister_cloud_saves.
	DefaultReleaseAPIURL = "https://api.github.com/repos/bleach86/mister_cloud_saves/releases/latest"

	// DefaultScriptURL is the raw installer script on the main branch.
	DefaultScriptURL = "https://raw.githubusercontent.com/bleach86/mister_cloud_saves/refs/heads/main/scripts/cloud_saves.sh"

	// DefaultAssetName is the release asset carrying the client.
	DefaultAssetName = "client.tar.xz"

	// DefaultOutputPath is the update database consumed by the MiSTer downloader.
	DefaultOutputPath = "mister_cloud_saves_db.json"

	// DefaultMetadataTimeout bounds the release API request.
	DefaultMetadataTimeout = 30 * time.Second

	// DefaultScriptTimeout bounds the small script download.
	DefaultScriptTimeout = 30 * time.Second

	// DefaultDownloadTimeout bounds the client archive download.
	DefaultDownloadTimeout = 60 * time.Second

	// DefaultComparePolicy keeps the historical "timestamp counts" behavior.
	DefaultComparePolicy = CompareIncludingTimestamp

	// DefaultFilePermissions is used for the settings file and the database.
	DefaultFilePermissions = 0o644

	// TokenEnvironmentVariable supplies Token when set.
	TokenEnvironmentVariable = "GITHUB_TOKEN"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errAssetNameRequired is returned when the asset name is blank.
	errAssetNameRequired = errors.New("asset name must be provided")
	// errOutputPathRequired is returned when the output path is blank.
	errOutputPathRequired = errors.New("output path must be provided")
	// errUnknownComparePolicy is returned for policies other than the known two.
	errUnknownComparePolicy = errors.New("unknown compare policy")
)

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		ReleaseAPIURL:   DefaultReleaseAPIURL,
		ScriptURL:       DefaultScriptURL,
		AssetName:       DefaultAssetName,
		OutputPath:      DefaultOutputPath,
		MetadataTimeout: DefaultMetadataTimeout,
		ScriptTimeout:   DefaultScriptTimeout,
		DownloadTimeout: DefaultDownloadTimeout,
		ComparePolicy:   DefaultComparePolicy,
		Token:           os.Getenv(TokenEnvironmentVariable),
	}
}

// Load reads configuration from path on top of the defaults and validates it.
// Fields missing from the file keep their default values.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()
	if err = yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields and fills defaults for zero timeouts and policy.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if err := validateURL("release API URL", cfg.ReleaseAPIURL); err != nil {
		return err
	}

	if err := validateURL("script URL", cfg.ScriptURL); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.AssetName) == "" {
		return errAssetNameRequired
	}

	if strings.TrimSpace(cfg.OutputPath) == "" {
		return errOutputPathRequired
	}

	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = DefaultMetadataTimeout
	}

	if cfg.ScriptTimeout <= 0 {
		cfg.ScriptTimeout = DefaultScriptTimeout
	}

	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = DefaultDownloadTimeout
	}

	switch cfg.ComparePolicy {
	case "":
		cfg.ComparePolicy = DefaultComparePolicy
	case CompareIncludingTimestamp, CompareExcludingTimestamp:
	default:
		return fmt.Errorf("%w: %q", errUnknownComparePolicy, cfg.ComparePolicy)
	}

	return nil
}

// validateURL requires an absolute http(s) URL.
func validateURL(name, value string) error {
	parsed, err := url.ParseRequestURI(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid %s: unsupported scheme %q", name, parsed.Scheme)
	}

	return nil
}
