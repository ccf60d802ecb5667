package utils

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestProgressReaderCountsBytes(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 12345)
	pr := NewProgressReader(bytes.NewReader(data), nil)

	got, err := io.ReadAll(pr)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(got) != len(data) {
		t.Errorf("read %d bytes, want %d", len(got), len(data))
	}
	if pr.BytesRead() != int64(len(data)) {
		t.Errorf("BytesRead() = %d, want %d", pr.BytesRead(), len(data))
	}
}

func TestProgressReaderInvokesCallback(t *testing.T) {
	data := make([]byte, 25*1024*1024)
	var calls int
	pr := NewProgressReader(bytes.NewReader(data), func(bytesRead int64, elapsed time.Duration) {
		calls++
	})

	if _, err := io.Copy(io.Discard, pr); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if calls == 0 {
		t.Error("progress callback was never invoked for a 25MB stream")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{5 * 1024 * 1024 * 1024, "5.0 GB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatBytes(tt.bytes); got != tt.want {
				t.Errorf("FormatBytes(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestFormatRate(t *testing.T) {
	if got := FormatRate(2048); got != "2.0 KB/s" {
		t.Errorf("FormatRate(2048) = %q, want 2.0 KB/s", got)
	}
}
