package fetcher

import (
	"context"
	"crypto/md5" //nolint:gosec // MD5 detects changes for the downloader, it is not a security boundary.
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/oshokin/mister-update-db/internal/logger"
	"github.com/oshokin/mister-update-db/internal/version"
)

// ErrDownload is returned when a file cannot be downloaded.
var ErrDownload = errors.New("download file")

const (
	// DefaultChunkSize is the read and write buffer used for downloads and hashing.
	DefaultChunkSize = 8 * 1024

	// tempPattern names the transient download files.
	tempPattern = "mister-update-db-*.part"
)

// Content is what the update database needs to know about a file.
type Content struct {
	// Size is the byte length of the downloaded body.
	Size int64
	// Hash is the lowercase hex MD5 digest of the body.
	Hash string
}

// Fetcher downloads files into a temporary location, measures and hashes
// them, and removes the copy.
type Fetcher struct {
	// client performs the downloads.
	client *http.Client
	// tempDir holds the transient files; empty means os.TempDir.
	tempDir string
	// chunkSize bounds memory used per copy step.
	chunkSize int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithTempDir places transient files in dir.
func WithTempDir(dir string) Option {
	return func(f *Fetcher) {
		f.tempDir = dir
	}
}

// WithChunkSize changes the copy buffer size.
func WithChunkSize(size int) Option {
	return func(f *Fetcher) {
		if size > 0 {
			f.chunkSize = size
		}
	}
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    http.DefaultClient,
		chunkSize: DefaultChunkSize,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch downloads url and returns the size and MD5 of its body.
// A non-positive timeout leaves only ctx in control.
func (f *Fetcher) Fetch(ctx context.Context, url string, timeout time.Duration) (*Content, error) {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tmp, err := os.CreateTemp(f.tempDir, tempPattern)
	if err != nil {
		return nil, fmt.Errorf("create temporary file: %w", err)
	}

	// The transient copy goes away on every return path.
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if err = f.download(ctx, url, tmp); err != nil {
		return nil, err
	}

	info, err := tmp.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat temporary file: %w", err)
	}

	if _, err = tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind temporary file: %w", err)
	}

	hashed, hash, err := Digest(tmp, f.chunkSize)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", url, err)
	}

	if hashed != info.Size() {
		return nil, fmt.Errorf("hash %s: read %d of %d bytes: %w", url, hashed, info.Size(), io.ErrUnexpectedEOF)
	}

	logger.InfoKV(ctx, "Fetched file",
		"url", url, "size", humanize.IBytes(uint64(info.Size())), "md5", hash) //nolint:gosec // Sizes are never negative.

	return &Content{
		Size: info.Size(),
		Hash: hash,
	}, nil
}

// download streams the body of url into dst.
func (f *Fetcher) download(ctx context.Context, url string, dst io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDownload, url, err)
	}

	req.Header.Set("User-Agent", version.UserAgent())

	logger.DebugKV(ctx, "Downloading file", "url", url)

	response, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s, %s", ErrDownload, url, response.Status)
	}

	if _, err = copyChunks(dst, response.Body, f.chunkSize); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDownload, url, err)
	}

	return nil
}

// Digest reads r to the end in chunkSize pieces and returns the byte
// count and the lowercase hex MD5 of what was read.
func Digest(r io.Reader, chunkSize int) (int64, string, error) {
	hasher := md5.New() //nolint:gosec // See import comment.

	n, err := copyChunks(hasher, r, chunkSize)
	if err != nil {
		return n, "", err
	}

	return n, hex.EncodeToString(hasher.Sum(nil)), nil
}

// copyChunks copies src to dst through a buffer of chunkSize bytes.
// Unlike io.Copy it never hands the copy over to ReaderFrom or WriterTo,
// so memory use stays at one chunk.
func copyChunks(dst io.Writer, src io.Reader, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var (
		buf     = make([]byte, chunkSize)
		written int64
	)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			m, writeErr := dst.Write(buf[:n])
			written += int64(m)

			if writeErr != nil {
				return written, writeErr
			}

			if m != n {
				return written, io.ErrShortWrite
			}
		}

		if errors.Is(readErr, io.EOF) {
			return written, nil
		}

		if readErr != nil {
			return written, readErr
		}
	}
}
