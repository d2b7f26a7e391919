package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/oshokin/mister-update-db/internal/config"
	domain "github.com/oshokin/mister-update-db/internal/domain/manifest"
	"github.com/oshokin/mister-update-db/internal/logger"
	"github.com/oshokin/mister-update-db/internal/repository/database"
	"github.com/oshokin/mister-update-db/internal/service/fetcher"
	"github.com/oshokin/mister-update-db/internal/service/release"
)

// Options contains inputs for the generator entry point.
type Options struct {
	// ConfigPath is an optional settings file. When empty the default
	// settings file is used if it exists, otherwise compiled-in defaults.
	ConfigPath string
	// OutputPath overrides the configured output path when not empty.
	OutputPath string
	// HTTPClient replaces http.DefaultClient for every request.
	HTTPClient *http.Client
	// Now replaces time.Now for the generation timestamp.
	Now func() time.Time
}

// Result reports what a run produced.
type Result struct {
	// Outcome tells whether the file was written or left alone.
	Outcome database.Outcome
	// Path is the update database location.
	Path string
	// Release is the resolved upstream release.
	Release *release.Release
	// Document is the freshly generated database.
	Document *domain.Document
}

// ReleaseLocator resolves the latest upstream release.
type ReleaseLocator interface {
	Latest(ctx context.Context) (*release.Release, error)
}

// Generator runs the locate, build and persist steps in order.
type Generator struct {
	// locator finds the client archive.
	locator ReleaseLocator
	// builder assembles the document.
	builder *Builder
	// repository persists the document.
	repository database.Repository
	// path is reported in Result.
	path string
}

// errEmptyRelease is returned when a locator yields neither a release nor an error.
var errEmptyRelease = errors.New("locator returned no release")

// Run loads the configuration and generates the update database once.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "update-db-generator")

	if opts == nil {
		opts = new(Options)
	}

	cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	result, err := New(cfg, opts.HTTPClient, opts.Now).Generate(ctx)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Generator completed",
		"outcome", string(result.Outcome), "path", result.Path, "tag", result.Release.TagName)

	return result, nil
}

// New wires the production components for cfg.
func New(cfg *config.Config, client *http.Client, now func() time.Time) *Generator {
	var (
		locatorOptions = []release.Option{
			release.WithTimeout(cfg.MetadataTimeout),
			release.WithToken(cfg.Token),
		}
		fetcherOptions []fetcher.Option
	)

	if client != nil {
		locatorOptions = append(locatorOptions, release.WithHTTPClient(client))
		fetcherOptions = append(fetcherOptions, fetcher.WithHTTPClient(client))
	}

	repository := database.NewFileRepository(cfg.OutputPath, cfg.ComparePolicy)

	return NewGenerator(
		release.NewLocator(cfg.ReleaseAPIURL, cfg.AssetName, locatorOptions...),
		NewBuilder(fetcher.New(fetcherOptions...), cfg.ScriptURL, cfg.ScriptTimeout, cfg.DownloadTimeout, now),
		repository,
		repository.Path(),
	)
}

// NewGenerator assembles a Generator from its parts.
func NewGenerator(
	locator ReleaseLocator,
	builder *Builder,
	repository database.Repository,
	path string,
) *Generator {
	return &Generator{
		locator:    locator,
		builder:    builder,
		repository: repository,
		path:       path,
	}
}

// Generate locates the release, builds the document and saves it if it changed.
// Nothing is written when any step before saving fails.
func (g *Generator) Generate(ctx context.Context) (*Result, error) {
	logger.Info(ctx, "Locating the latest release")

	rel, err := g.locator.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("locate release: %w", err)
	}

	if rel == nil {
		return nil, errEmptyRelease
	}

	logger.InfoKV(ctx, "Building the update database", "tag", rel.TagName)

	doc, err := g.builder.Build(ctx, rel.DownloadURL)
	if err != nil {
		return nil, fmt.Errorf("build update database: %w", err)
	}

	outcome, err := g.repository.SaveIfChanged(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("save update database: %w", err)
	}

	return &Result{
		Outcome:  outcome,
		Path:     g.path,
		Release:  rel,
		Document: doc,
	}, nil
}

// loadConfig resolves the settings for a run.
func loadConfig(ctx context.Context, opts *Options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	switch {
	case opts.ConfigPath != "":
		cfg, err = config.Load(opts.ConfigPath)
	case fileExists(config.DefaultConfigFilename):
		cfg, err = config.Load(config.DefaultConfigFilename)
	default:
		logger.Debug(ctx, "No settings file, using compiled-in defaults")

		cfg = config.Default()
	}

	if err != nil {
		return nil, err
	}

	if opts.OutputPath != "" {
		cfg.OutputPath = opts.OutputPath
	}

	if err = config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// fileExists reports whether path names an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}
