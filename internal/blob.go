package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// BlobStore is the cover-image blob store the enrichment/harvest subsystems
// delegate to (§1 Non-goals: "does not own the image storage"). Grounded on
// evalgo-org-eve's aws-sdk-go-v2/service/s3 dependency.
type BlobStore struct {
	client *s3.Client
	bucket string
}

// BlobConfig configures both BlobStore and BlobIndex; they may point at the
// same bucket under different prefixes or different buckets entirely.
type BlobConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     Secret
	SecretAccessKey Secret
	UsePathStyle    bool
}

func newS3Client(ctx context.Context, cfg BlobConfig) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID.Get(), cfg.SecretAccessKey.Get(), ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// NewBlobStore opens a cover-image blob store.
func NewBlobStore(ctx context.Context, cfg BlobConfig) (*BlobStore, error) {
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &BlobStore{client: client, bucket: cfg.Bucket}, nil
}

// PutCover uploads a cover image, returning its blob key.
func (b *BlobStore) PutCover(ctx context.Context, isbn13 string, data []byte, contentType string) (string, error) {
	key := fmt.Sprintf("covers/%s.jpg", isbn13)
	uploader := manager.NewUploader(b.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (b *BlobStore) GetCover(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

// BlobIndex is the L3 "cold" cache tier: a blob-store index keyed by
// year/month and cache key, unbounded retention (§4.1, §6 persisted layout
// `<prefix>/<YYYY>/<MM>/<cacheKey>.json`).
type BlobIndex struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewBlobIndex opens the cold cache index.
func NewBlobIndex(ctx context.Context, cfg BlobConfig, prefix string) (*BlobIndex, error) {
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &BlobIndex{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (idx *BlobIndex) objectKey(cacheKey string, at time.Time) string {
	return fmt.Sprintf("%s/%04d/%02d/%s.json", idx.prefix, at.Year(), at.Month(), sanitizeKey(cacheKey))
}

func sanitizeKey(k string) string {
	out := make([]rune, 0, len(k))
	for _, r := range k {
		switch r {
		case '/', ':', '&', '=', '?', ' ':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// Get scans the current and previous month's prefixes for the key, since a
// write's exact month isn't known at read time. A genuinely cold index would
// maintain its own key->location manifest; this is the pragmatic version.
func (idx *BlobIndex) Get(ctx context.Context, cacheKey string) ([]byte, bool, error) {
	now := time.Now()
	for _, at := range []time.Time{now, now.AddDate(0, -1, 0)} {
		out, err := idx.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(idx.bucket),
			Key:    aws.String(idx.objectKey(cacheKey, at)),
		})
		if err != nil {
			var notFound *smithy.GenericAPIError
			if errors.As(err, &notFound) && (notFound.Code == "NoSuchKey" || notFound.Code == "NotFound") {
				continue
			}
			return nil, false, err
		}
		defer func() { _ = out.Body.Close() }()
		data, err := io.ReadAll(out.Body)
		if err != nil {
			return nil, false, err
		}
		if bytes.Equal(data, []byte(`{"tombstoned":true}`)) {
			return nil, false, nil
		}
		return data, true, nil
	}
	return nil, false, nil
}

// Archive writes a cache record into the cold index at the current
// year/month, per the scheduled archival job (§4.11).
func (idx *BlobIndex) Archive(ctx context.Context, cacheKey string, value []byte) error {
	_, err := idx.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(idx.bucket),
		Key:         aws.String(idx.objectKey(cacheKey, time.Now())),
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/json"),
	})
	return err
}

// Tombstone marks a cold entry deleted. COLD entries are append-mostly so a
// tombstone is a small JSON marker object (`{"tombstoned":true}`) rather than
// a real delete; Get reports a key whose object is the marker as a miss.
func (idx *BlobIndex) Tombstone(ctx context.Context, cacheKey string) error {
	return idx.Archive(ctx, cacheKey, []byte(`{"tombstoned":true}`))
}
