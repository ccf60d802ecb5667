package utils

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// ProgressReader wraps an io.Reader and tracks bytes read. The orchestrator
// threads one through the archive pipeline to report transfer progress.
type ProgressReader struct {
	reader      io.Reader
	bytesRead   atomic.Int64
	startTime   time.Time
	updateFunc  func(bytesRead int64, elapsed time.Duration)
	updateEvery int64
}

// NewProgressReader creates a new progress tracking reader.
func NewProgressReader(reader io.Reader, updateFunc func(bytesRead int64, elapsed time.Duration)) *ProgressReader {
	return &ProgressReader{
		reader:      reader,
		startTime:   time.Now(),
		updateFunc:  updateFunc,
		updateEvery: 10 * 1024 * 1024, // Update every 10MB
	}
}

// Read implements io.Reader with progress tracking.
func (pr *ProgressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		newTotal := pr.bytesRead.Add(int64(n))
		if pr.updateFunc != nil && (newTotal%pr.updateEvery) < int64(n) {
			pr.updateFunc(newTotal, time.Since(pr.startTime))
		}
	}
	return n, err
}

// BytesRead returns the total number of bytes read.
func (pr *ProgressReader) BytesRead() int64 {
	return pr.bytesRead.Load()
}

// FormatBytes formats bytes in human-readable format.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatRate formats transfer rate in human-readable format.
func FormatRate(bytesPerSecond float64) string {
	return fmt.Sprintf("%s/s", FormatBytes(int64(bytesPerSecond)))
}
