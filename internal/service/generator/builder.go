package generator

import (
	"context"
	"fmt"
	"time"

	domain "github.com/oshokin/mister-update-db/internal/domain/manifest"
	"github.com/oshokin/mister-update-db/internal/logger"
	"github.com/oshokin/mister-update-db/internal/service/fetcher"
)

// ContentFetcher measures and hashes remote files.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) (*fetcher.Content, error)
}

// Builder fills the update database template with fetched file data.
type Builder struct {
	// fetcher downloads and hashes the files.
	fetcher ContentFetcher
	// scriptURL is the raw-content location of the installer script.
	scriptURL string
	// scriptTimeout bounds the script download.
	scriptTimeout time.Duration
	// archiveTimeout bounds the client archive download.
	archiveTimeout time.Duration
	// now supplies the generation time.
	now func() time.Time
}

// NewBuilder creates a Builder. A nil clock means time.Now.
func NewBuilder(
	contentFetcher ContentFetcher,
	scriptURL string,
	scriptTimeout, archiveTimeout time.Duration,
	now func() time.Time,
) *Builder {
	if now == nil {
		now = time.Now
	}

	return &Builder{
		fetcher:        contentFetcher,
		scriptURL:      scriptURL,
		scriptTimeout:  scriptTimeout,
		archiveTimeout: archiveTimeout,
		now:            now,
	}
}

// Build returns a complete document for the script and the archive at archiveURL.
// Fetch errors are returned unchanged.
func (b *Builder) Build(ctx context.Context, archiveURL string) (*domain.Document, error) {
	doc := domain.NewTemplate()
	doc.Timestamp = b.now().Unix()

	sources := []struct {
		path    string
		url     string
		timeout time.Duration
	}{
		{path: domain.ScriptPath, url: b.scriptURL, timeout: b.scriptTimeout},
		{path: domain.ClientArchivePath, url: archiveURL, timeout: b.archiveTimeout},
	}

	for _, source := range sources {
		logger.InfoKV(ctx, "Fetching file", "path", source.path)

		content, err := b.fetcher.Fetch(ctx, source.url, source.timeout)
		if err != nil {
			return nil, err
		}

		if err = doc.SetFile(source.path, content.Size, content.Hash, source.url); err != nil {
			return nil, err
		}
	}

	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("validate update database: %w", err)
	}

	return doc, nil
}
