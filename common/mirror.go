package common

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"

	"newsdedup/deduplication"
)

// S3Mirror stores deduplication state snapshots under bucket/prefix
type S3Mirror struct {
	s3     *S3
	bucket string
	prefix string
	logger zerolog.Logger
}

// SnapshotObject describes one mirrored file
type SnapshotObject struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// NewS3Mirror creates a mirror; prefix may be empty
func NewS3Mirror(s3 *S3, bucket, prefix string, logger zerolog.Logger) *S3Mirror {
	return &S3Mirror{
		s3:     s3,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With().Str("component", "s3_mirror").Str("bucket", bucket).Logger(),
	}
}

func (m *S3Mirror) key(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// Upload writes one snapshot file
func (m *S3Mirror) Upload(ctx context.Context, name string, data []byte) error {
	key := m.key(name)
	if err := m.s3.Put(ctx, m.bucket, key, bytes.NewReader(data), "application/octet-stream"); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", m.bucket, key, err)
	}
	m.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("snapshot uploaded")
	return nil
}

// Download reads one snapshot file; a missing object yields
// deduplication.ErrNotInMirror
func (m *S3Mirror) Download(ctx context.Context, name string) ([]byte, error) {
	key := m.key(name)
	body, err := m.s3.Get(ctx, m.bucket, key)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("s3://%s/%s: %w", m.bucket, key, deduplication.ErrNotInMirror)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", m.bucket, key, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", m.bucket, key, err)
	}
	return data, nil
}

// List returns every object under the mirror prefix
func (m *S3Mirror) List(ctx context.Context) ([]SnapshotObject, error) {
	prefix := m.prefix
	if prefix != "" {
		prefix += "/"
	}

	var (
		out   []SnapshotObject
		token *string
	)
	for {
		page, err := m.s3.List(ctx, m.bucket, prefix, 1000, token)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", m.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, SnapshotObject{
				Name:         strings.TrimPrefix(aws.ToString(obj.Key), prefix),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			return out, nil
		}
		token = page.NextContinuationToken
	}
}
