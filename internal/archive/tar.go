package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"

	"github.com/matrix-ops/synapse-backup/internal/utils"
)

// Stream serializes the entries into one uncompressed POSIX tar stream. File
// contents are copied through a bounded buffer, so memory use is constant
// regardless of file sizes. If a selected file disappears or shrinks while
// streaming, the error is surfaced through the returned reader and no
// truncated archive is ever presented as complete.
func Stream(entries []Entry) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		tw := tar.NewWriter(pw)
		buf := utils.DefaultBufferPool.Get()
		defer utils.DefaultBufferPool.Put(buf)

		for _, entry := range entries {
			if err := streamEntry(tw, entry, buf); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
		}

		if err := tw.Close(); err != nil {
			_ = pw.CloseWithError(fmt.Errorf("failed to finalize archive: %w", err))
			return
		}
		_ = pw.Close()
	}()

	return pr
}

// streamEntry writes one header plus the file content declared by it. The
// content is capped at the enumerated size so a file that grew mid-stream
// cannot corrupt the archive framing; a file that shrank fails the stream.
func streamEntry(tw *tar.Writer, entry Entry, buf []byte) error {
	hdr := &tar.Header{
		Name:    entry.RelPath,
		Size:    entry.Size,
		Mode:    int64(entry.Mode.Perm()),
		ModTime: entry.ModTime,
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", entry.RelPath, err)
	}

	f, err := os.Open(entry.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", entry.Path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	n, err := io.CopyBuffer(tw, io.LimitReader(f, entry.Size), buf)
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", entry.RelPath, err)
	}
	if n != entry.Size {
		return fmt.Errorf("file %s changed while archiving: read %d bytes, expected %d", entry.Path, n, entry.Size)
	}
	return nil
}
