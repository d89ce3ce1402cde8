// Package objectstore resolves s3:// input paths for the file-source
// pipeline, returning the object's body as a stream so the rest of the
// pipeline can read it like any local file. Nothing is written to a
// local temp file.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// IsS3URL reports whether path should be resolved through this package.
func IsS3URL(path string) bool {
	return strings.HasPrefix(path, "s3://")
}

// Fetch downloads the object named by an s3://bucket/key URL and returns
// a reader over its full contents. The caller is responsible for closing
// the returned ReadCloser.
func Fetch(ctx context.Context, s3URL string) (io.ReadCloser, error) {
	bucket, key, err := parseS3URL(s3URL)
	if err != nil {
		return nil, err
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: fetching %s: %w", s3URL, err)
	}

	return out.Body, nil
}

func parseS3URL(s3URL string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(s3URL, "s3://")
	idx := strings.IndexByte(trimmed, '/')
	if idx < 0 {
		return "", "", fmt.Errorf("objectstore: malformed s3 url %q: missing key", s3URL)
	}
	return trimmed[:idx], trimmed[idx+1:], nil
}
