// Package blobstore implements the raw_html overflow store supplementing
// spec §3's RawListing ("optional raw HTML blob or reference"): documents
// over a configurable size threshold are pushed to an S3-compatible bucket
// instead of stored inline in SQLite, and the RawListing row keeps only the
// object key (see SPEC_FULL.md §12, grounded on
// original_source/libs/domain/models.py's raw_html_path column).
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds the S3-compatible bucket coordinates (spec §6/§12;
// SPEC_FULL.md §11 wires aws-sdk-go-v2 for this purpose). Endpoint is
// optional -- set it to point at an S3-compatible provider other than AWS;
// left empty, the SDK resolves the standard AWS endpoint for Region.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string
}

// Store uploads and fetches raw_html overflow blobs. A nil *Store is a
// valid, inert value: RawListing.raw_html is simply never overflowed when
// no bucket is configured (spec §12 treats this as a storage-layer decision
// local to the Storage Gateway, not a pipeline-semantics one).
type Store struct {
	client *s3.Client
	bucket string
	log    zerolog.Logger
}

// New constructs a Store from cfg, or returns (nil, nil) when cfg.Bucket is
// empty -- overflow storage is optional and degrades to "disabled" rather
// than failing startup when no bucket is configured.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}

	optFns := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		log:    log.With().Str("component", "blobstore").Logger(),
	}, nil
}

// Put uploads raw HTML content and returns the object key it was stored
// under. Uses the multipart upload manager so large documents don't need to
// fit in a single PutObject call.
func (s *Store) Put(ctx context.Context, content string) (string, error) {
	key := fmt.Sprintf("raw-html/%s.html", uuid.New().String())
	uploader := manager.NewUploader(s.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(content)),
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("upload raw html to blobstore: %w", err)
	}
	s.log.Debug().Str("key", key).Int("bytes", len(content)).Msg("overflowed raw_html to blob storage")
	return key, nil
}

// Get fetches the raw HTML content stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("fetch raw html from blobstore: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("read raw html body: %w", err)
	}
	return string(data), nil
}
