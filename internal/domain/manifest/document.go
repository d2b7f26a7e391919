package manifest

import (
	"errors"
	"fmt"
	"slices"
)

const (
	// SchemaVersion is the update database format understood by the downloader.
	SchemaVersion = 1
	// DatabaseID names this database on the client.
	DatabaseID = "mister_cloud_saves"

	// ScriptPath is where the installer script lands on the client.
	ScriptPath = "Scripts/cloud_saves.sh"
	// ClientArchivePath is where the client archive lands on the client.
	ClientArchivePath = "cloud_saves/updates/client.tar.xz"

	// TagCloudSaves marks cloud save payload files.
	TagCloudSaves = 0
	// TagScripts marks files installed into the Scripts menu.
	TagScripts = 1
)

var (
	// ErrUnknownTag is returned when a file references a tag missing from the dictionary.
	ErrUnknownTag = errors.New("tag is not in the tags dictionary")
	// ErrUnexpectedFiles is returned when the file set differs from the fixed one.
	ErrUnexpectedFiles = errors.New("unexpected set of files")
)

// Document is the update database written for the MiSTer downloader.
// Field order matches the JSON layout clients already parse.
type Document struct {
	// Version is the schema identifier.
	Version int `json:"v"`
	// DatabaseID identifies the database on the client.
	DatabaseID string `json:"db_id"`
	// Timestamp is the Unix time the document was generated.
	Timestamp int64 `json:"timestamp"`
	// Files maps installed paths to their descriptions.
	Files map[string]*FileEntry `json:"files"`
	// Folders lists directories the client must create. Only keys matter.
	Folders map[string]struct{} `json:"folders"`
	// TagsDictionary maps tag names to ids used in FileEntry.Tags.
	TagsDictionary map[string]int `json:"tags_dictionary"`
}

// FileEntry describes one distributable file.
type FileEntry struct {
	// Size is the exact byte length of the file.
	Size int64 `json:"size"`
	// Hash is the lowercase hex MD5 digest of the file.
	Hash string `json:"hash"`
	// URL is where the client downloads the file from.
	URL string `json:"url"`
	// Reboot asks the client to restart after installing the file.
	Reboot bool `json:"reboot,omitempty"`
	// Tags are ids from Document.TagsDictionary.
	Tags []int `json:"tags"`
}

// NewTemplate returns the fixed document shape with zero sizes, empty
// hashes and URLs, and no timestamp.
func NewTemplate() *Document {
	return &Document{
		Version:    SchemaVersion,
		DatabaseID: DatabaseID,
		Files: map[string]*FileEntry{
			ScriptPath: {
				Tags: []int{TagScripts},
			},
			ClientArchivePath: {
				Reboot: true,
				Tags:   []int{TagCloudSaves},
			},
		},
		Folders: map[string]struct{}{
			"Scripts":             {},
			"cloud_saves":         {},
			"cloud_saves/updates": {},
		},
		TagsDictionary: map[string]int{
			"cloudsaves": TagCloudSaves,
			"scripts":    TagScripts,
		},
	}
}

// FixedPaths returns the installed paths every document carries, sorted.
func FixedPaths() []string {
	return []string{ScriptPath, ClientArchivePath}
}

// SetFile records the fetched size, hash and URL for path.
// Tags and the reboot flag stay as the template defines them.
func (d *Document) SetFile(path string, size int64, hash, url string) error {
	entry, ok := d.Files[path]
	if !ok || entry == nil {
		return fmt.Errorf("%s: %w", path, ErrUnexpectedFiles)
	}

	entry.Size = size
	entry.Hash = hash
	entry.URL = url

	return nil
}

// Validate checks that the document holds exactly the fixed files and that
// every tag they reference exists in the dictionary.
func (d *Document) Validate() error {
	paths := make([]string, 0, len(d.Files))
	for path := range d.Files {
		paths = append(paths, path)
	}

	slices.Sort(paths)

	if !slices.Equal(paths, FixedPaths()) {
		return fmt.Errorf("%w: %v", ErrUnexpectedFiles, paths)
	}

	known := make(map[int]struct{}, len(d.TagsDictionary))
	for _, id := range d.TagsDictionary {
		known[id] = struct{}{}
	}

	for _, path := range paths {
		entry := d.Files[path]
		if entry == nil {
			return fmt.Errorf("%s: %w", path, ErrUnexpectedFiles)
		}

		for _, tag := range entry.Tags {
			if _, ok := known[tag]; !ok {
				return fmt.Errorf("%s: tag %d: %w", path, tag, ErrUnknownTag)
			}
		}
	}

	return nil
}
