// Package miniostorage provides structure to work with minio-storage
package miniostorage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/UnendingLoop/ImageIntake/internal/model"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config carries the connection settings and the two bucket names:
// originals land in SourceBucket, variants in VariantBucket, same key in both.
type Config struct {
	Endpoint      string
	User          string
	Password      string
	UseSSL        bool
	SourceBucket  string
	VariantBucket string
}

// ObjectInfo is the storage-side metadata of a single object.
// ETag doubles as the opaque source version token.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

type MinioImageStorage struct {
	client *minio.Client
}

func NewMinioClient(cfg Config) (*MinioImageStorage, error) {
	if cfg.SourceBucket == "" || cfg.VariantBucket == "" {
		return nil, errors.New("both bucket names must be set")
	}

	strg, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.User, cfg.Password, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	// создаем бакеты если их нет
	for _, bucket := range []string{cfg.SourceBucket, cfg.VariantBucket} {
		if err := ensureBucket(context.Background(), strg, bucket); err != nil {
			return nil, err
		}
	}

	return &MinioImageStorage{client: strg}, nil
}

func (s *MinioImageStorage) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	if r == nil {
		return errors.New("nil reader passed to storage.Put")
	}

	_, err := s.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s *MinioImageStorage) Get(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error) {
	res, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, translateErr(err)
	}

	resStat, err := res.Stat()
	if err != nil {
		return nil, ObjectInfo{}, translateErr(err)
	}

	return res, toObjectInfo(resStat), nil
}

// GetVersion fetches the object only if its current ETag still matches
// version. A vanished or re-uploaded object surfaces as ErrSourceGone.
func (s *MinioImageStorage) GetVersion(ctx context.Context, bucket, key, version string) (io.ReadCloser, ObjectInfo, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetMatchETag(version); err != nil {
		return nil, ObjectInfo{}, err
	}

	res, err := s.client.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, ObjectInfo{}, translateVersionErr(err)
	}

	resStat, err := res.Stat()
	if err != nil {
		return nil, ObjectInfo{}, translateVersionErr(err)
	}

	return res, toObjectInfo(resStat), nil
}

func (s *MinioImageStorage) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, translateErr(err)
	}
	return toObjectInfo(info), nil
}

func (s *MinioImageStorage) Delete(ctx context.Context, bucket, key string) error {
	return s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

func (s *MinioImageStorage) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, bucket, key, ttl)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *MinioImageStorage) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, bucket, key, ttl, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}

func toObjectInfo(info minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}
}

func translateErr(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return model.ErrObjectMissing
	}
	return err
}

// translateVersionErr maps both "object is gone" and "ETag no longer matches"
// to the terminal ErrSourceGone - in either case these exact bytes cannot be
// fetched anymore and a retry is pointless.
func translateVersionErr(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "PreconditionFailed":
		return model.ErrSourceGone
	}
	return err
}
