package minio

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wb-go/wbf/zlog"
)

// Storage keeps transient artifacts in an S3-compatible bucket. It is the
// alternative to the local-disk backend for deployments where produced
// artifacts must be reachable from more than one replica.
type Storage struct {
	client     *minio.Client
	bucketName string
}

// NewStorage connects to the MinIO server and ensures the bucket exists.
// Bucket creation is idempotent bootstrap, same as directory creation for
// the local backend.
func NewStorage(ctx context.Context, endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Storage{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Save uploads the reader's content as subdir/filename and returns the
// object name within the bucket.
func (s *Storage) Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error) {
	objectName := path.Join(subdir, filename)

	_, err := s.client.PutObject(ctx, s.bucketName, objectName, src, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("failed to save object: %w", err)
	}

	return objectName, nil
}

// Open returns a reader for a previously saved artifact. A missing object
// reports fs.ErrNotExist through the error chain, matching the local
// backend's contract.
func (s *Storage) Open(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	// GetObject defers errors to the first read; stat first so missing
	// objects surface here.
	if _, err := s.client.StatObject(ctx, s.bucketName, objectPath, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("object %s: %w", objectPath, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open object: %w", err)
	}

	return obj, nil
}

// Remove deletes the artifact now.
func (s *Storage) Remove(ctx context.Context, objectPath string) error {
	return s.client.RemoveObject(ctx, s.bucketName, objectPath, minio.RemoveObjectOptions{})
}

// ScheduleRemove deletes the artifact after the delay, long enough for any
// in-flight download to finish.
func (s *Storage) ScheduleRemove(objectPath string, after time.Duration) {
	time.AfterFunc(after, func() {
		if err := s.Remove(context.Background(), objectPath); err != nil {
			zlog.Logger.Err(err).Str("object", objectPath).Msg("failed to remove expired artifact")
		}
	})
}
