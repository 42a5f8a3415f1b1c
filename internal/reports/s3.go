package reports

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alfredjeanlab/relay/internal/idgen"
)

// S3Destination uploads each batch as its own object under a key prefix.
type S3Destination struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Destination creates an S3 destination. If endpoint is non-empty,
// path-style addressing is enabled (for MinIO and similar).
func NewS3Destination(ctx context.Context, bucket, prefix, region, endpoint string) (*S3Destination, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Destination{
		client: s3.NewFromConfig(cfg, s3opts...),
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// objectKey names a batch: <prefix>/<yyyy>/<mm>/<dd>/<timestamp>-<suffix>.jsonl.
func objectKey(prefix string, at time.Time, suffix string) string {
	at = at.UTC()
	name := fmt.Sprintf("%s-%s.jsonl", at.Format("20060102T150405.000Z"), suffix)
	return path.Join(prefix, at.Format("2006/01/02"), name)
}

// Write uploads data as a new object.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	suffix, err := idgen.WithPrefix("")
	if err != nil {
		return fmt.Errorf("object key: %w", err)
	}
	key := objectKey(d.prefix, d.now(), suffix)
	contentType := "application/x-ndjson"
	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", key, err)
	}
	return nil
}
