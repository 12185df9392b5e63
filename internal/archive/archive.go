// Package archive keeps the raw payload and source text of every stored
// extraction batch in S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"scopekeeper/api/internal/extraction"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// objectStore is the slice of the minio client the archive uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (*minio.Object, error)
}

type Store struct {
	objects objectStore
	bucket  string
	logger  *zap.Logger
}

// New connects to the object store and creates the bucket when missing.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("archive endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	s := newStore(client, cfg.Bucket, logger)
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newStore(objects objectStore, bucket string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{objects: objects, bucket: bucket, logger: logger}
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.objects.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check archive bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.objects.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create archive bucket: %w", err)
	}
	s.logger.Info("created archive bucket", zap.String("bucket", s.bucket))
	return nil
}

// ArchiveBatch writes the batch envelope as {org}/{workspace}/{owner}/{batch}.json.
func (s *Store) ArchiveBatch(ctx context.Context, batch extraction.BatchArchive) error {
	body, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("encode batch archive: %w", err)
	}
	key := BatchKey(batch.OrgID, batch.WorkspaceID, batch.OwnerID, batch.BatchID)
	return s.put(ctx, key, body, "application/json")
}

// ArchiveSource keeps the plain text an extraction was produced from.
func (s *Store) ArchiveSource(ctx context.Context, orgID, workspaceID, ownerID, text string) error {
	key := SourceKey(orgID, workspaceID, ownerID)
	return s.put(ctx, key, []byte(text), "text/plain; charset=utf-8")
}

// LoadBatch reads an archived batch back.
func (s *Store) LoadBatch(ctx context.Context, orgID, workspaceID, ownerID, batchID string) (extraction.BatchArchive, error) {
	key := BatchKey(orgID, workspaceID, ownerID, batchID)
	obj, err := s.objects.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return extraction.BatchArchive{}, fmt.Errorf("get archived batch %s: %w", key, err)
	}
	defer obj.Close()

	var batch extraction.BatchArchive
	dec := json.NewDecoder(obj)
	dec.UseNumber()
	if err := dec.Decode(&batch); err != nil {
		return extraction.BatchArchive{}, fmt.Errorf("decode archived batch %s: %w", key, err)
	}
	return batch, nil
}

func (s *Store) put(ctx context.Context, key string, body []byte, contentType string) error {
	info, err := s.objects.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	s.logger.Debug("archived object", zap.String("key", key), zap.Int64("size", info.Size))
	return nil
}

func BatchKey(orgID, workspaceID, ownerID, batchID string) string {
	return path.Join(segment(orgID), segment(workspaceID), segment(ownerID), segment(batchID)+".json")
}

func SourceKey(orgID, workspaceID, ownerID string) string {
	return path.Join(segment(orgID), segment(workspaceID), segment(ownerID), "source.txt")
}

// segment keeps caller ids from escaping their prefix.
func segment(value string) string {
	value = strings.TrimSpace(value)
	value = strings.NewReplacer("/", "_", "\\", "_").Replace(value)
	if value == "" || value == "." || value == ".." {
		return "_"
	}
	return value
}
