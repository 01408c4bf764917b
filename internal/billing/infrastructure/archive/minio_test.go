package archive

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"

	billing "terminal-billing/internal/billing/domain"
	"terminal-billing/internal/billing/export"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string]minio.PutObjectOptions
	sizes   map[string]int
	err     error
}

func (f *fakeStore) PutObject(_ context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string]minio.PutObjectOptions)
		f.sizes = make(map[string]int)
	}
	f.objects[bucket+"/"+object] = opts
	f.sizes[bucket+"/"+object] = len(data)
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func finalizedStatement() *billing.MonthlyStatement {
	return &billing.MonthlyStatement{
		ID:            "stmt-1",
		CompanyID:     "acme",
		Year:          2026,
		Month:         time.March,
		BillingMethod: billing.BillingMethodSplit,
		Status:        billing.StatementStatusFinalized,
		TotalUSD:      decimal.Zero,
		TotalUZS:      decimal.Zero,
		SnapshotHash:  "hash-1",
	}
}

func TestMinioArchiver_UploadsBothFormats(t *testing.T) {
	store := &fakeStore{}
	logger, _ := test.NewNullLogger()
	archiver, err := NewMinioArchiver(store, "statements", logger)
	if err != nil {
		t.Fatalf("new archiver: %v", err)
	}
	if err := archiver.Archive(context.Background(), finalizedStatement(), nil); err != nil {
		t.Fatalf("archive: %v", err)
	}

	pdfKey := "statements/acme/2026/03/statement-acme-2026-03.pdf"
	opts, ok := store.objects[pdfKey]
	if !ok {
		t.Fatalf("missing %s, have %v", pdfKey, store.objects)
	}
	if opts.ContentType != export.ContentTypePDF || opts.UserMetadata["snapshot-hash"] != "hash-1" {
		t.Fatalf("unexpected upload options: %+v", opts)
	}
	if store.sizes[pdfKey] == 0 {
		t.Fatalf("empty pdf uploaded")
	}
	if _, ok := store.objects["statements/acme/2026/03/statement-acme-2026-03.xlsx"]; !ok {
		t.Fatalf("missing xlsx upload")
	}
}

func TestMinioArchiver_UploadError(t *testing.T) {
	store := &fakeStore{err: errors.New("unreachable")}
	archiver, err := NewMinioArchiver(store, "statements", nil)
	if err != nil {
		t.Fatalf("new archiver: %v", err)
	}
	if err := archiver.Archive(context.Background(), finalizedStatement(), nil); err == nil {
		t.Fatalf("expected upload error")
	}
	if _, err := NewMinioArchiver(nil, "statements", nil); err == nil {
		t.Fatalf("nil store must be rejected")
	}
}
