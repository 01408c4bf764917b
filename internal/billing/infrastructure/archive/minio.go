package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	billing "terminal-billing/internal/billing/domain"
	"terminal-billing/internal/billing/export"
)

// ObjectStore is the subset of the MinIO client used for archiving.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Config holds MinIO connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioArchiver uploads PDF and XLSX renderings of finalized statements.
type MinioArchiver struct {
	store   ObjectStore
	bucket  string
	formats []string
	logger  logrus.FieldLogger
}

// NewMinioClient connects to MinIO and makes sure the bucket exists.
func NewMinioClient(ctx context.Context, cfg Config) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("archive: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("archive: create bucket: %w", err)
		}
		logrus.WithField("bucket", cfg.Bucket).Info("archive bucket created")
	}
	return client, nil
}

// NewMinioArchiver constructs an archiver writing to bucket.
func NewMinioArchiver(store ObjectStore, bucket string, logger logrus.FieldLogger) (*MinioArchiver, error) {
	if store == nil {
		return nil, errors.New("archive: nil object store")
	}
	if bucket == "" {
		return nil, errors.New("archive: empty bucket")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MinioArchiver{
		store:   store,
		bucket:  bucket,
		formats: []string{export.FormatPDF, export.FormatXLSX},
		logger:  logger,
	}, nil
}

// ObjectName returns the key a statement document is archived under.
func ObjectName(stmt *billing.MonthlyStatement, format string) string {
	return fmt.Sprintf("%s/%04d/%02d/%s", stmt.CompanyID, stmt.Year, int(stmt.Month), export.FileName(stmt, format))
}

// Archive renders and uploads every configured format.
func (a *MinioArchiver) Archive(ctx context.Context, stmt *billing.MonthlyStatement, items []billing.StatementLineItem) error {
	if stmt == nil {
		return errors.New("archive: nil statement")
	}
	for _, format := range a.formats {
		data, contentType, err := export.Render(format, stmt, items)
		if err != nil {
			return fmt.Errorf("archive: render %s: %w", format, err)
		}
		name := ObjectName(stmt, format)
		_, err = a.store.PutObject(ctx, a.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: contentType,
			UserMetadata: map[string]string{
				"statement-id":  stmt.ID,
				"snapshot-hash": stmt.SnapshotHash,
			},
		})
		if err != nil {
			return fmt.Errorf("archive: upload %s: %w", name, err)
		}
		a.logger.WithFields(logrus.Fields{
			"statement_id": stmt.ID,
			"object":       name,
			"bytes":        len(data),
		}).Info("statement archived")
	}
	return nil
}
