// Package objectstore uploads paths documents to an S3-compatible
// content-addressed bucket and fetches them back through a public gateway.
//
// The store is expected to pin uploaded objects and expose the resulting
// content id (CID) in the object's metadata, the way Filebase does for its
// IPFS-backed buckets. The object key is derived from the document digest,
// so re-uploading identical content is benign.
package objectstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"

	"github.com/sigillo-iot/sigillo/internal/config"
	"github.com/sigillo-iot/sigillo/pkg/digest"
)

// keyPrefix starts every paths object key.
const keyPrefix = "merkle_path_"

// keyDigestLen is how many digest characters go into the object key.
const keyDigestLen = 8

var (
	// ErrUpload wraps any failure to write the object.
	ErrUpload = errors.New("objectstore: upload failed")

	// ErrCIDRetrieval wraps any failure to read the CID back from the
	// stored object's metadata.
	ErrCIDRetrieval = errors.New("objectstore: cid retrieval failed")
)

// API is the slice of the S3 client the uploader uses.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Uploader writes paths documents to one bucket.
type Uploader struct {
	api      API
	bucket   string
	compress bool
	log      *slog.Logger
}

// NewClient builds the concrete S3 client for cfg, pointing at the
// configured endpoint with path-style addressing and static credentials.
func NewClient(ctx context.Context, cfg config.ObjectStoreConfig) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("objectstore: aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return client, nil
}

// NewUploader wraps api for the given bucket. When compress is set, objects
// are gzip-encoded and keyed with a .gz suffix.
func NewUploader(api API, bucket string, compress bool, log *slog.Logger) *Uploader {
	return &Uploader{api: api, bucket: bucket, compress: compress, log: log}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	_, err := u.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(u.bucket)})
	if err == nil {
		return nil
	}

	_, err = u.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(u.bucket)})
	if err != nil {
		return fmt.Errorf("objectstore: create bucket %s: %w", u.bucket, err)
	}

	u.log.InfoContext(ctx, "bucket created", "bucket", u.bucket)

	return nil
}

// Put uploads doc under its content-derived key and returns the CID the
// store assigned, plus the key used. Identical content maps to an identical
// key, so retries after a partial failure re-upload in place.
func (u *Uploader) Put(ctx context.Context, doc []byte) (cid, key string, err error) {
	key = keyPrefix + digest.Sum(string(doc))[:keyDigestLen] + ".json"
	body := doc

	var contentEncoding *string

	if u.compress {
		var buf bytes.Buffer

		zw := gzip.NewWriter(&buf)

		_, err = zw.Write(doc)
		if err == nil {
			err = zw.Close()
		}

		if err != nil {
			return "", "", fmt.Errorf("%w: gzip: %w", ErrUpload, err)
		}

		key += ".gz"
		body = buf.Bytes()
		contentEncoding = aws.String("gzip")
	}

	_, err = u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(u.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/json"),
		ContentEncoding: contentEncoding,
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: put %s: %w", ErrUpload, key, err)
	}

	u.log.InfoContext(ctx, "paths document uploaded",
		"key", key,
		"size", humanize.Bytes(uint64(len(body))),
		"compressed", u.compress)

	head, err := u.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: head %s: %w", ErrCIDRetrieval, key, err)
	}

	cid = metadataCID(head.Metadata)
	if cid == "" {
		return "", "", fmt.Errorf("%w: object %s has no cid metadata", ErrCIDRetrieval, key)
	}

	return cid, key, nil
}

// metadataCID finds the cid entry regardless of metadata key casing.
func metadataCID(md map[string]string) string {
	for k, v := range md {
		if strings.EqualFold(k, "cid") {
			return v
		}
	}

	return ""
}
