package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/matrix-ops/synapse-backup/internal/utils"
)

// Extract unpacks a tar stream into dest, creating parent directories as
// needed and overwriting existing files. It returns the number of content
// bytes written. Errors from the underlying reader (including decryption
// failures) propagate unchanged so callers can tell them apart from local
// filesystem problems.
func Extract(r io.Reader, dest string) (int64, error) {
	tr := tar.NewReader(r)
	buf := utils.DefaultBufferPool.Get()
	defer utils.DefaultBufferPool.Put(buf)

	var written int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}

		name := filepath.FromSlash(hdr.Name)
		if !filepath.IsLocal(name) {
			return written, fmt.Errorf("archive entry %q escapes the destination directory", hdr.Name)
		}
		target := filepath.Join(dest, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return written, fmt.Errorf("failed to create directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return written, fmt.Errorf("failed to create directory for %s: %w", target, err)
			}
			n, err := extractFile(target, tr, hdr, buf)
			written += n
			if err != nil {
				return written, err
			}
		default:
			// The enumerator only selects regular files.
			return written, fmt.Errorf("unsupported archive entry type %q for %s", hdr.Typeflag, hdr.Name)
		}
	}
}

func extractFile(target string, tr *tar.Reader, hdr *tar.Header, buf []byte) (int64, error) {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", target, err)
	}

	n, err := io.CopyBuffer(f, tr, buf)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close %s: %w", target, closeErr)
	}
	if err != nil {
		return n, err
	}

	// Best effort; a backup is still valid if mtimes cannot be restored.
	_ = os.Chtimes(target, hdr.ModTime, hdr.ModTime)
	return n, nil
}
