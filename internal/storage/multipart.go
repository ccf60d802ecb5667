package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	// minPartSize is the smallest part S3 accepts for any part but the last.
	minPartSize = 5 * 1024 * 1024

	// maxPartCount is the most parts one multipart upload may have.
	maxPartCount = 10000

	// partAttempts bounds transient-failure retries for a single part before
	// the whole session is aborted.
	partAttempts = 3
)

// multipartAPI is the subset of the S3 client the uploader needs. Narrowing
// the dependency keeps the upload protocol testable without a server.
type multipartAPI interface {
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// multipartUploader drives one multipart upload session. Parts are uploaded
// sequentially with strictly increasing part numbers, so memory use is
// bounded by a single part buffer.
type multipartUploader struct {
	client   multipartAPI
	bucket   string
	key      string
	uploadID string
	parts    []types.CompletedPart
	partNum  int32
	partSize int64
}

func newMultipartUploader(client multipartAPI, bucket, key string, partSize int64) *multipartUploader {
	return &multipartUploader{
		client:   client,
		bucket:   bucket,
		key:      key,
		partNum:  1,
		partSize: partSize,
	}
}

// partSizeFor picks a part size from an expected-total-size estimate so the
// part count stays within the store's maximum even if the estimate is short.
func partSizeFor(expectedSize int64) int64 {
	size := int64(minPartSize)
	if expectedSize > 0 {
		if need := expectedSize/(maxPartCount-1) + 1; need > size {
			size = need
		}
	}
	return size
}

// uploadMultipart streams reader into bucket/key as one multipart upload.
// Every part except the last meets the minimum part size. On any failure the
// session is aborted before the error is returned, so a failed upload never
// leaves a visible object.
func uploadMultipart(ctx context.Context, client multipartAPI, bucket, key string, reader io.Reader, expectedSize int64) error {
	up := newMultipartUploader(client, bucket, key, partSizeFor(expectedSize))

	if err := up.start(ctx); err != nil {
		return err
	}

	var uploadErr error
	defer func() {
		if uploadErr != nil {
			// The abort must run even when ctx is already dead.
			_ = up.abort(context.Background())
		}
	}()

	if uploadErr = up.copyParts(ctx, reader); uploadErr != nil {
		return uploadErr
	}
	if uploadErr = up.complete(ctx); uploadErr != nil {
		return uploadErr
	}
	return nil
}

func (m *multipartUploader) start(ctx context.Context) error {
	out, err := m.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key),
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", err)
	}
	m.uploadID = aws.ToString(out.UploadId)
	return nil
}

// copyParts reads the stream one part buffer at a time and uploads each full
// buffer; the final flushed part may be smaller than the minimum part size.
func (m *multipartUploader) copyParts(ctx context.Context, reader io.Reader) error {
	buf := make([]byte, m.partSize)
	for {
		n, err := io.ReadFull(reader, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return fmt.Errorf("failed to read backup stream: %w", err)
		}
		// Completion requires at least one part, so an empty stream still
		// uploads one empty part.
		if n > 0 || len(m.parts) == 0 {
			if uploadErr := m.uploadPart(ctx, buf[:n]); uploadErr != nil {
				return uploadErr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
	}
}

// uploadPart uploads one part, retrying transient failures a bounded number
// of times. The data slice is re-read from the start on each attempt.
func (m *multipartUploader) uploadPart(ctx context.Context, data []byte) error {
	partNumber := m.partNum
	m.partNum++

	var lastErr error
	for attempt := 1; attempt <= partAttempts; attempt++ {
		out, err := m.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(m.bucket),
			Key:           aws.String(m.key),
			UploadId:      aws.String(m.uploadID),
			PartNumber:    aws.Int32(partNumber),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		})
		if err == nil {
			m.parts = append(m.parts, types.CompletedPart{
				ETag:       out.ETag,
				PartNumber: aws.Int32(partNumber),
			})
			return nil
		}
		lastErr = err

		if attempt < partAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	return fmt.Errorf("failed to upload part %d after %d attempts: %w", partNumber, partAttempts, lastErr)
}

// complete finalizes the upload. Parts are listed in ascending part-number
// order regardless of upload order.
func (m *multipartUploader) complete(ctx context.Context) error {
	sort.Slice(m.parts, func(i, j int) bool {
		return aws.ToInt32(m.parts[i].PartNumber) < aws.ToInt32(m.parts[j].PartNumber)
	})

	_, err := m.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(m.bucket),
		Key:      aws.String(m.key),
		UploadId: aws.String(m.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: m.parts,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}

// abort releases the session and any storage reserved for uploaded parts.
func (m *multipartUploader) abort(ctx context.Context) error {
	if m.uploadID == "" {
		return nil
	}
	_, err := m.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(m.bucket),
		Key:      aws.String(m.key),
		UploadId: aws.String(m.uploadID),
	})
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}
	return nil
}
