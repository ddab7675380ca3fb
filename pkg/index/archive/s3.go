package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"mercator-hq/indexretain/pkg/config"
)

// S3Archiver uploads batches to an S3-compatible bucket.
type S3Archiver struct {
	client *minio.Client
	bucket string
	region string
	prefix string
	logger *slog.Logger

	mu          sync.Mutex
	bucketReady bool
}

// NewS3Archiver creates an archiver for the bucket in cfg. No request is made
// until the first batch is archived.
func NewS3Archiver(cfg config.S3Config) (*S3Archiver, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	return &S3Archiver{
		client: client,
		bucket: bucket,
		region: cfg.Region,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: slog.Default().With("component", "index.archive", "backend", "s3"),
	}, nil
}

// Name implements Archiver.
func (a *S3Archiver) Name() string { return "s3" }

// Archive uploads the batch, creating the bucket on first use.
func (a *S3Archiver) Archive(ctx context.Context, batch *Batch) error {
	if err := a.ensureBucket(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := Encode(&buf, batch, false); err != nil {
		return err
	}

	key := a.key(batch)
	info, err := a.client.PutObject(ctx, a.bucket, key, &buf, int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	a.logger.Info("prune batch archived",
		"bucket", a.bucket,
		"key", key,
		"etag", info.ETag,
		"batch_id", batch.ID,
		"job_count", len(batch.Jobs),
	)
	return nil
}

func (a *S3Archiver) key(batch *Batch) string {
	if a.prefix == "" {
		return objectName(batch)
	}
	return path.Join(a.prefix, objectName(batch))
}

func (a *S3Archiver) ensureBucket(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bucketReady {
		return nil
	}

	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", a.bucket, err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
		}
	}
	a.bucketReady = true
	return nil
}
