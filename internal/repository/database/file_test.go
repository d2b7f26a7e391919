package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/mister-update-db/internal/config"
	domain "github.com/oshokin/mister-update-db/internal/domain/manifest"
)

// sampleDocument returns a filled document with the given timestamp.
func sampleDocument(t *testing.T, timestamp int64) *domain.Document {
	t.Helper()

	doc := domain.NewTemplate()
	doc.Timestamp = timestamp
	require.NoError(t, doc.SetFile(domain.ScriptPath, 11,
		"5eb63bbbe01eeed093cb22bb8f5acdc3", "https://example/cloud_saves.sh"))
	require.NoError(t, doc.SetFile(domain.ClientArchivePath, 2048,
		"0123456789abcdef0123456789abcdef", "https://example/client.tar.xz?a=1&b=2"))

	return doc
}

// TestEncode_Layout pins the exact bytes written to disk.
func TestEncode_Layout(t *testing.T) {
	t.Parallel()

	data, err := Encode(sampleDocument(t, 1700000000))
	require.NoError(t, err)

	want := `{
    "v": 1,
    "db_id": "mister_cloud_saves",
    "timestamp": 1700000000,
    "files": {
        "Scripts/cloud_saves.sh": {
            "size": 11,
            "hash": "5eb63bbbe01eeed093cb22bb8f5acdc3",
            "url": "https://example/cloud_saves.sh",
            "tags": [
                1
            ]
        },
        "cloud_saves/updates/client.tar.xz": {
            "size": 2048,
            "hash": "0123456789abcdef0123456789abcdef",
            "url": "https://example/client.tar.xz?a=1&b=2",
            "reboot": true,
            "tags": [
                0
            ]
        }
    },
    "folders": {
        "Scripts": {},
        "cloud_saves": {},
        "cloud_saves/updates": {}
    },
    "tags_dictionary": {
        "cloudsaves": 0,
        "scripts": 1
    }
}`
	require.Equal(t, want, string(data))
}

// TestFileRepository_NotFound verifies Load returns ErrNotFound for a missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"), "")
	doc, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, doc)
}

// TestFileRepository_SaveLoad_Roundtrip ensures Save followed by Load returns an equal document.
func TestFileRepository_SaveLoad_Roundtrip(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "db.json"), "")
	want := sampleDocument(t, time.Now().Unix())

	require.NoError(t, repo.Save(context.Background(), want))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

// TestFileRepository_LoadGarbage reports an unreadable file.
func TestFileRepository_LoadGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileRepository(path, "").Load(context.Background())
	require.ErrorIs(t, err, ErrPersistedFileUnreadable)
}

// TestSaveIfChanged_WritesWhenMissing always writes when nothing was saved before.
func TestSaveIfChanged_WritesWhenMissing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.json")
	doc := sampleDocument(t, 1700000000)

	outcome, err := NewFileRepository(path, config.CompareIncludingTimestamp).
		SaveIfChanged(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, OutcomeWritten, outcome)

	want, err := Encode(doc)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

// TestSaveIfChanged_Idempotent leaves the file untouched on a second identical run.
func TestSaveIfChanged_Idempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.json")
	repo := NewFileRepository(path, config.CompareIncludingTimestamp)
	doc := sampleDocument(t, 1700000000)

	outcome, err := repo.SaveIfChanged(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, OutcomeWritten, outcome)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// Backdate the file so any rewrite would be visible.
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, past, past))

	outcome, err = repo.SaveIfChanged(context.Background(), sampleDocument(t, 1700000000))
	require.NoError(t, err)
	require.Equal(t, OutcomeUnchanged, outcome)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(past))
}

// TestSaveIfChanged_StructuralComparison ignores formatting of the saved file.
func TestSaveIfChanged_StructuralComparison(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.json")
	doc := sampleDocument(t, 1700000000)

	// Same content, compact form and different key order.
	compact := `{"tags_dictionary":{"scripts":1,"cloudsaves":0},"v":1,"db_id":"mister_cloud_saves",` +
		`"timestamp":1700000000,"folders":{"cloud_saves/updates":{},"Scripts":{},"cloud_saves":{}},` +
		`"files":{"cloud_saves/updates/client.tar.xz":{"tags":[0],"reboot":true,"size":2048,` +
		`"hash":"0123456789abcdef0123456789abcdef","url":"https://example/client.tar.xz?a=1&b=2"},` +
		`"Scripts/cloud_saves.sh":{"size":11,"hash":"5eb63bbbe01eeed093cb22bb8f5acdc3",` +
		`"url":"https://example/cloud_saves.sh","tags":[1]}}}`
	require.NoError(t, os.WriteFile(path, []byte(compact), 0o600))

	outcome, err := NewFileRepository(path, config.CompareIncludingTimestamp).
		SaveIfChanged(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, OutcomeUnchanged, outcome)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, compact, string(got))
}

// TestSaveIfChanged_ExtraFieldCounts treats unknown saved fields as a difference.
func TestSaveIfChanged_ExtraFieldCounts(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.json")
	doc := sampleDocument(t, 1700000000)

	data, err := Encode(doc)
	require.NoError(t, err)

	data = append([]byte(`{"comment": "hand edited",`), data[1:]...)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	outcome, err := NewFileRepository(path, config.CompareExcludingTimestamp).
		SaveIfChanged(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, OutcomeWritten, outcome)
}

// TestSaveIfChanged_TimestampPolicy pins both comparison policies.
func TestSaveIfChanged_TimestampPolicy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		policy        config.ComparePolicy
		wantOutcome   Outcome
		wantTimestamp int64
	}{
		{
			name:          "including timestamp rewrites",
			policy:        config.CompareIncludingTimestamp,
			wantOutcome:   OutcomeWritten,
			wantTimestamp: 1700000060,
		},
		{
			name:          "excluding timestamp keeps file",
			policy:        config.CompareExcludingTimestamp,
			wantOutcome:   OutcomeUnchanged,
			wantTimestamp: 1700000000,
		},
		{
			name:          "default policy rewrites",
			policy:        "",
			wantOutcome:   OutcomeWritten,
			wantTimestamp: 1700000060,
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			repo := NewFileRepository(filepath.Join(t.TempDir(), "db.json"), tc.policy)
			require.NoError(t, repo.Save(context.Background(), sampleDocument(t, 1700000000)))

			outcome, err := repo.SaveIfChanged(context.Background(), sampleDocument(t, 1700000060))
			require.NoError(t, err)
			require.Equal(t, tc.wantOutcome, outcome)

			saved, err := repo.Load(context.Background())
			require.NoError(t, err)
			require.Equal(t, tc.wantTimestamp, saved.Timestamp)
		})
	}
}

// TestSaveIfChanged_HashChangeExcludingTimestamp still writes real changes.
func TestSaveIfChanged_HashChangeExcludingTimestamp(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "db.json"), config.CompareExcludingTimestamp)
	require.NoError(t, repo.Save(context.Background(), sampleDocument(t, 1700000000)))

	doc := sampleDocument(t, 1700000000)
	doc.Files[domain.ClientArchivePath].Hash = "ffffffffffffffffffffffffffffffff"

	outcome, err := repo.SaveIfChanged(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, OutcomeWritten, outcome)

	saved, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, doc, saved)
}

// TestSaveIfChanged_UnreadableFileIsReplaced treats garbage as no prior state.
func TestSaveIfChanged_UnreadableFileIsReplaced(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, os.WriteFile(path, []byte("<<<"), 0o600))

	repo := NewFileRepository(path, config.CompareExcludingTimestamp)
	doc := sampleDocument(t, 1700000000)

	outcome, err := repo.SaveIfChanged(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, OutcomeWritten, outcome)

	saved, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, doc, saved)
}

// TestSaveIfChanged_WriteFailure reports ErrPersistenceWrite and writes nothing.
func TestSaveIfChanged_WriteFailure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing-dir", "db.json")

	outcome, err := NewFileRepository(path, "").SaveIfChanged(context.Background(), sampleDocument(t, 1))
	require.ErrorIs(t, err, ErrPersistenceWrite)
	require.Empty(t, outcome)

	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestSaveIfChanged_ReadFailure surfaces errors other than a missing file.
func TestSaveIfChanged_ReadFailure(t *testing.T) {
	t.Parallel()

	// A directory where the file should be cannot be read as a file.
	path := t.TempDir()

	_, err := NewFileRepository(path, "").SaveIfChanged(context.Background(), sampleDocument(t, 1))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}

// TestSaveIfChanged_NoTemporaryLeftovers checks the directory only holds the database.
func TestSaveIfChanged_NoTemporaryLeftovers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo := NewFileRepository(filepath.Join(dir, "db.json"), "")

	_, err := repo.SaveIfChanged(context.Background(), sampleDocument(t, 1))
	require.NoError(t, err)

	_, err = repo.SaveIfChanged(context.Background(), sampleDocument(t, 2))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "db.json", entries[0].Name())
}
