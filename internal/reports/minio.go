package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"lead_lifecycle_engine/platform/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOExporter writes reports as JSON objects to a bucket.
type MinIOExporter struct {
	client *minio.Client
	bucket string
}

func NewMinIOExporter(cfg config.ExportConfig) (*MinIOExporter, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIOExporter{client: client, bucket: cfg.GetReportExportBucket()}, nil
}

// EnsureBucketExists creates the export bucket if it doesn't exist.
func (e *MinIOExporter) EnsureBucketExists(ctx context.Context) error {
	exists, err := e.client.BucketExists(ctx, e.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := e.client.MakeBucket(ctx, e.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", e.bucket, err)
		}
	}
	return nil
}

func (e *MinIOExporter) Export(ctx context.Context, r Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	key := ObjectKey(r)
	_, err = e.client.PutObject(ctx, e.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report %s: %w", key, err)
	}
	return e.bucket + "/" + key, nil
}

// ObjectKey is kind/definition/timestamp.json.
func ObjectKey(r Report) string {
	return path.Join(string(r.Kind), r.DefinitionID.String(), r.GeneratedAt.UTC().Format("20060102T150405Z")+".json")
}
