package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/oshokin/mister-update-db/internal/config"
	domain "github.com/oshokin/mister-update-db/internal/domain/manifest"
	"github.com/oshokin/mister-update-db/internal/logger"
)

// Outcome tells what SaveIfChanged did with the file.
type Outcome string

const (
	// OutcomeWritten means the document was written to disk.
	OutcomeWritten Outcome = "written"
	// OutcomeUnchanged means the saved document already matched.
	OutcomeUnchanged Outcome = "unchanged"

	// indent is the per-level indentation of the saved JSON.
	indent = "    "
)

var (
	// ErrNotFound is returned when no database has been saved yet.
	ErrNotFound = errors.New("update database not found")
	// ErrPersistedFileUnreadable is returned when the saved file is not valid JSON.
	ErrPersistedFileUnreadable = errors.New("saved update database is unreadable")
	// ErrPersistenceWrite is returned when the database cannot be written.
	ErrPersistenceWrite = errors.New("write update database")

	// timestampPath selects the generation time in the generic document.
	//nolint:gochecknoglobals // Parsed once, read-only afterwards.
	timestampPath = jp.MustParseString("$.timestamp")
)

// Repository persists update databases.
type Repository interface {
	Load(ctx context.Context) (*domain.Document, error)
	Save(ctx context.Context, doc *domain.Document) error
	SaveIfChanged(ctx context.Context, doc *domain.Document) (Outcome, error)
}

// FileRepository keeps the update database in a single JSON file.
type FileRepository struct {
	// path is the filesystem location of the database.
	path string
	// policy decides whether the timestamp counts as a change.
	policy config.ComparePolicy
	// mu serializes access to the file within the process.
	mu sync.Mutex
}

// NewFileRepository creates a repository for the file at path.
// An empty policy falls back to config.DefaultComparePolicy.
func NewFileRepository(path string, policy config.ComparePolicy) *FileRepository {
	if policy == "" {
		policy = config.DefaultComparePolicy
	}

	return &FileRepository{
		path:   filepath.Clean(path),
		policy: policy,
	}
}

// Path returns the location of the database file.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the saved database.
func (r *FileRepository) Load(_ context.Context) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := r.read()
	if err != nil {
		return nil, err
	}

	var doc domain.Document
	if err = json.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistedFileUnreadable, err)
	}

	return &doc, nil
}

// Save replaces the database file with doc.
func (r *FileRepository) Save(_ context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := Encode(doc)
	if err != nil {
		return err
	}

	return r.write(data)
}

// SaveIfChanged writes doc unless the saved file is structurally equal to it.
// A missing or unreadable file counts as no previous state.
func (r *FileRepository) SaveIfChanged(ctx context.Context, doc *domain.Document) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx = logger.WithKV(ctx, "path", r.path, "policy", string(r.policy))

	data, err := Encode(doc)
	if err != nil {
		return "", err
	}

	previous, err := r.read()

	switch {
	case errors.Is(err, ErrNotFound):
		logger.Info(ctx, "No saved update database found")
	case err != nil:
		return "", err
	default:
		equal, compareErr := r.equal(ctx, previous, data)
		if compareErr != nil {
			logger.WarnKV(ctx, "Ignoring saved update database", "error", compareErr)
		} else if equal {
			logger.Info(ctx, "No changes detected in the update database")

			return OutcomeUnchanged, nil
		}
	}

	if err = r.write(data); err != nil {
		return "", err
	}

	logger.Info(ctx, "Update database saved")

	return OutcomeWritten, nil
}

// Encode renders doc the way it is stored: four-space indentation, no HTML
// escaping and no trailing newline.
func Encode(doc *domain.Document) ([]byte, error) {
	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", indent)

	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode update database: %w", err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// equal compares two encoded documents as generic JSON values.
func (r *FileRepository) equal(ctx context.Context, previous, current []byte) (bool, error) {
	saved, err := oj.Parse(previous)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrPersistedFileUnreadable, err)
	}

	fresh, err := oj.Parse(current)
	if err != nil {
		return false, fmt.Errorf("parse generated update database: %w", err)
	}

	if r.policy == config.CompareExcludingTimestamp {
		if err = timestampPath.Del(saved); err != nil {
			return false, fmt.Errorf("%w: %w", ErrPersistedFileUnreadable, err)
		}

		if err = timestampPath.Del(fresh); err != nil {
			return false, fmt.Errorf("strip timestamp: %w", err)
		}
	}

	if cmp.Equal(saved, fresh) {
		return true, nil
	}

	logger.DebugKV(ctx, "Update database changed", "diff", cmp.Diff(saved, fresh))

	return false, nil
}

// read returns the raw file contents or ErrNotFound.
func (r *FileRepository) read() ([]byte, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read update database: %w", err)
	}

	return contents, nil
}

// write replaces the file through a temporary sibling and a rename, so a
// failed write leaves the previous file intact.
func (r *FileRepository) write(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceWrite, err)
	}

	tmpName := tmp.Name()
	committed := false

	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceWrite, err)
	}

	if err = tmp.Chmod(config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceWrite, err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceWrite, err)
	}

	if err = os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceWrite, err)
	}

	committed = true

	return nil
}
