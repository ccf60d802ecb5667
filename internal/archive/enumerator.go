// Package archive selects the homeserver files that belong in a backup and
// serializes them to and from a tar stream.
package archive

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// The files to back up from the data directory consist of the signing keys
// plus the SQLite database if it exists.
var configFilePatterns = []string{"*.key", "homeserver.db*"}

// Media directories starting with "remote_" hold content cached from other
// servers and are not backed up.
const remoteMediaPrefix = "remote_"

// mediaArchiveDir is the directory media files live under inside the archive,
// independent of where the media store is mounted.
const mediaArchiveDir = "media"

// Entry describes one file selected for backup.
type Entry struct {
	Path    string // Absolute path of the source file
	RelPath string // Slash-separated path of the entry inside the archive
	Size    int64
	Mode    fs.FileMode
	ModTime time.Time
}

// Source describes where backup entries come from.
type Source struct {
	Root     string // Data directory holding signing keys and the local database
	MediaDir string // Media store path; empty disables media selection
}

// Entries enumerates the files to back up. Optional paths that do not exist
// are silently skipped. The result is deterministic for a fixed directory
// state: glob matches and directory walks are both in lexical order.
func (s Source) Entries() ([]Entry, error) {
	var entries []Entry

	for _, pattern := range configFilePatterns {
		matches, err := filepath.Glob(filepath.Join(s.Root, pattern))
		if err != nil {
			return nil, fmt.Errorf("bad backup file pattern %q: %w", pattern, err)
		}
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, fmt.Errorf("failed to stat %s: %w", match, err)
			}
			if !info.Mode().IsRegular() {
				continue
			}
			entries = append(entries, Entry{
				Path:    match,
				RelPath: filepath.Base(match),
				Size:    info.Size(),
				Mode:    info.Mode(),
				ModTime: info.ModTime(),
			})
		}
	}

	mediaEntries, err := s.mediaEntries()
	if err != nil {
		return nil, err
	}
	return append(entries, mediaEntries...), nil
}

// mediaEntries walks the media store, skipping remote caches.
func (s Source) mediaEntries() ([]Entry, error) {
	if s.MediaDir == "" {
		return nil, nil
	}
	if _, err := os.Stat(s.MediaDir); err != nil {
		if os.IsNotExist(err) {
			// Media store not provisioned yet; nothing to back up.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat media dir %s: %w", s.MediaDir, err)
	}

	var entries []Entry
	err := filepath.WalkDir(s.MediaDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.MediaDir && strings.HasPrefix(d.Name(), remoteMediaPrefix) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.MediaDir, path)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Path:    path,
			RelPath: mediaArchiveDir + "/" + filepath.ToSlash(rel),
			Size:    info.Size(),
			Mode:    info.Mode(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate media store: %w", err)
	}
	return entries, nil
}

// EstimateSize returns an upper-bound estimate of the tar stream size for the
// given entries: a header block plus block-padded content per entry, plus the
// end-of-archive marker.
func EstimateSize(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += 1024 + e.Size + (512-e.Size%512)%512
	}
	return total + 1024
}
