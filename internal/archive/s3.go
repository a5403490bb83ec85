package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
)

var contentTypes = map[string]string{
	".csv":     "text/csv",
	".json":    "application/json",
	".parquet": "application/vnd.apache.parquet",
}

// objectStore is the part of *minio.Client the uploader needs.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Uploader copies exported files into a bucket under an optional prefix.
type S3Uploader struct {
	client objectStore
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Uploader connects to the configured endpoint.
func NewS3Uploader(cfg config.ArchiveConfig, logger *slog.Logger) (*S3Uploader, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("archive endpoint and bucket are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	return &S3Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

// ObjectKey returns the key a local file is stored under.
func (u *S3Uploader) ObjectKey(localPath string) string {
	return path.Join(u.prefix, filepath.Base(localPath))
}

// Upload puts the file at localPath into the bucket and returns its key.
func (u *S3Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return "", fmt.Errorf("failed to check bucket %s: %w", u.bucket, err)
	}
	if !exists {
		return "", fmt.Errorf("bucket %s does not exist", u.bucket)
	}

	key := u.ObjectKey(localPath)
	info, err := u.client.FPutObject(ctx, u.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentTypes[filepath.Ext(localPath)],
	})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) {
			return "", fmt.Errorf("upload of %s rejected (%d %s): %w", key, resp.StatusCode, resp.Code, err)
		}
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	u.logger.Info("archive uploaded",
		"bucket", u.bucket,
		"key", key,
		"size", info.Size,
		"etag", info.ETag)
	return key, nil
}
