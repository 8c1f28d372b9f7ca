// Package grant issues short-lived single-object upload authorizations
package grant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/UnendingLoop/ImageIntake/internal/model"
	"github.com/UnendingLoop/ImageIntake/internal/mwlogger"
	"github.com/UnendingLoop/ImageIntake/internal/storage/miniostorage"
)

// GrantStorage - контракт для работы с хранилищем со стороны выдачи грантов
type GrantStorage interface {
	Stat(ctx context.Context, bucket, key string) (miniostorage.ObjectInfo, error)
	PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Issuer hands out presigned upload URLs. It never touches the catalog:
// the catalog entry appears when the upload notification is observed, so
// unused grants leave no ghost records behind.
type Issuer struct {
	storage      GrantStorage
	bucket       string
	ttl          time.Duration
	maxSizeBytes int64
	allowedTypes []string
}

type Config struct {
	Bucket       string
	TTL          time.Duration
	MaxSizeBytes int64
	AllowedTypes []string
}

func NewIssuer(strg GrantStorage, cfg Config) *Issuer {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if len(cfg.AllowedTypes) == 0 {
		cfg.AllowedTypes = []string{model.JPEG, model.PNG, model.GIF}
	}
	return &Issuer{
		storage:      strg,
		bucket:       cfg.Bucket,
		ttl:          cfg.TTL,
		maxSizeBytes: cfg.MaxSizeBytes,
		allowedTypes: cfg.AllowedTypes,
	}
}

// RequestUpload validates the request, point-checks the key for an existing
// object and returns a time-boxed grant. An occupied key is a conflict - the
// caller picks a different key, there is no implicit overwrite.
func (i *Issuer) RequestUpload(ctx context.Context, key string, req model.GrantRequest) (*model.UploadGrant, error) {
	logger := mwlogger.LoggerFromContext(ctx)

	if err := model.ValidateKey(key); err != nil {
		return nil, err
	}
	if req.ContentType != "" && !i.typeAllowed(req.ContentType) {
		return nil, model.ErrUnsupportedFormat
	}
	if i.maxSizeBytes > 0 && req.SizeBytes > i.maxSizeBytes {
		return nil, model.ErrSizeOverLimit
	}

	// точечная проверка существования прямо перед выдачей гранта
	_, err := i.storage.Stat(ctx, i.bucket, key)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s/%s", model.ErrKeyConflict, i.bucket, key)
	case errors.Is(err, model.ErrObjectMissing):
		// ключ свободен
	default:
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to check key %q in storage", key))
		return nil, model.ErrCommon500
	}

	url, err := i.storage.PresignPut(ctx, i.bucket, key, i.ttl)
	if err != nil {
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to presign upload for key %q", key))
		return nil, model.ErrCommon500
	}

	return &model.UploadGrant{
		Key:          key,
		URL:          url,
		Method:       http.MethodPut,
		ExpiresAt:    time.Now().UTC().Add(i.ttl),
		MaxSizeBytes: i.maxSizeBytes,
		AllowedTypes: i.allowedTypes,
	}, nil
}

func (i *Issuer) typeAllowed(cType string) bool {
	for _, t := range i.allowedTypes {
		if t == cType {
			return true
		}
	}
	return false
}
