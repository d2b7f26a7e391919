package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oshokin/mister-update-db/internal/config"
	"github.com/oshokin/mister-update-db/internal/logger"
	"github.com/oshokin/mister-update-db/internal/version"
)

var (
	// ErrUpstreamMetadata is returned when the release metadata cannot be fetched or decoded.
	ErrUpstreamMetadata = errors.New("fetch release metadata")
	// ErrAssetNotFound is returned when the latest release lacks the expected asset.
	ErrAssetNotFound = errors.New("release asset not found")
)

// unknownTag is reported when the release carries no tag name.
const unknownTag = "unknown"

// Release is the resolved location of the client archive.
type Release struct {
	// DownloadURL is the browser download URL of the matched asset.
	DownloadURL string
	// TagName is the git tag of the release.
	TagName string
}

// metadata is the subset of the release API response we read.
type metadata struct {
	TagName string  `json:"tag_name"`
	Assets  []asset `json:"assets"`
}

type asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Locator resolves the latest release of the upstream repository.
type Locator struct {
	// client performs the metadata request.
	client *http.Client
	// apiURL is the "latest release" endpoint.
	apiURL string
	// assetName is matched exactly against asset names.
	assetName string
	// token is sent as a bearer token when not empty.
	token string
	// timeout bounds the whole request including the body read.
	timeout time.Duration
}

// Option configures a Locator.
type Option func(*Locator)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Locator) {
		if client != nil {
			l.client = client
		}
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(l *Locator) {
		if timeout > 0 {
			l.timeout = timeout
		}
	}
}

// WithToken authenticates requests with a bearer token.
func WithToken(token string) Option {
	return func(l *Locator) {
		l.token = token
	}
}

// NewLocator creates a Locator for the endpoint and asset name.
func NewLocator(apiURL, assetName string, opts ...Option) *Locator {
	l := &Locator{
		client:    http.DefaultClient,
		apiURL:    apiURL,
		assetName: assetName,
		timeout:   config.DefaultMetadataTimeout,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Latest fetches the latest release and returns the download URL of the
// configured asset. A release without that asset yields ErrAssetNotFound.
func (l *Locator) Latest(ctx context.Context) (*Release, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	meta, err := l.fetchMetadata(ctx)
	if err != nil {
		return nil, err
	}

	tagName := meta.TagName
	if tagName == "" {
		tagName = unknownTag
	}

	for _, a := range meta.Assets {
		if a.Name != l.assetName {
			continue
		}

		logger.InfoKV(ctx, "Located release asset",
			"tag", tagName, "asset", a.Name, "url", a.BrowserDownloadURL)

		return &Release{
			DownloadURL: a.BrowserDownloadURL,
			TagName:     tagName,
		}, nil
	}

	return nil, fmt.Errorf("%s in release %s: %w", l.assetName, tagName, ErrAssetNotFound)
}

// fetchMetadata performs the API request and decodes the response.
func (l *Locator) fetchMetadata(ctx context.Context) (*metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.apiURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrUpstreamMetadata, err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", version.UserAgent())

	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	logger.DebugKV(ctx, "Requesting release metadata", "url", l.apiURL)

	response, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamMetadata, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s, %s", ErrUpstreamMetadata, l.apiURL, response.Status)
	}

	var meta metadata
	if err = json.NewDecoder(response.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrUpstreamMetadata, err)
	}

	return &meta, nil
}
