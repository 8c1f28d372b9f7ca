// Package listing produces the public catalog view with temporary read URLs
package listing

import (
	"context"
	"fmt"
	"time"

	"github.com/UnendingLoop/ImageIntake/internal/model"
	"github.com/UnendingLoop/ImageIntake/internal/mwlogger"
)

// ListCatalog - контракт каталога со стороны выдачи списка
type ListCatalog interface {
	ListAll(ctx context.Context) ([]model.CatalogEntry, error)
}

// ListStorage - контракт хранилища со стороны выдачи списка
type ListStorage interface {
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Reader joins catalog entries with freshly presigned read URLs. Every call
// recomputes the full snapshot - no caching, no pagination; the catalog is
// expected to stay modest in size.
type Reader struct {
	catalog   ListCatalog
	storage   ListStorage
	srcBucket string
	varBucket string
	urlTTL    time.Duration
}

type Config struct {
	SourceBucket  string
	VariantBucket string
	URLTTL        time.Duration
}

func NewReader(cat ListCatalog, strg ListStorage, cfg Config) *Reader {
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = time.Hour
	}
	return &Reader{
		catalog:   cat,
		storage:   strg,
		srcBucket: cfg.SourceBucket,
		varBucket: cfg.VariantBucket,
		urlTTL:    cfg.URLTTL,
	}
}

// List returns all known images, newest first. Pending entries carry the
// original only, so clients can render "processing" state instead of an
// error. A variant is linked only when it was derived from the bytes the
// listing itself shows.
func (r *Reader) List(ctx context.Context) ([]model.ListedImage, error) {
	logger := mwlogger.LoggerFromContext(ctx)

	entries, err := r.catalog.ListAll(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to fetch catalog entries")
		return nil, model.ErrCommon500
	}

	items := make([]model.ListedImage, 0, len(entries))
	for _, entry := range entries {
		origURL, err := r.storage.PresignGet(ctx, r.srcBucket, entry.Key, r.urlTTL)
		if err != nil {
			logger.Error().Err(err).Msg(fmt.Sprintf("Failed to presign original %q", entry.Key))
			return nil, model.ErrCommon500
		}

		item := model.ListedImage{
			Name:      entry.Key,
			Timestamp: entry.Original.CreatedAt,
			Status:    entry.Status,
			Original: model.LinkedObject{
				Size: entry.Original.Size,
				URL:  origURL,
			},
		}

		if entry.Status == model.StatusReady && entry.Variant != nil &&
			entry.Variant.SourceVersion == entry.Original.Version {
			varURL, err := r.storage.PresignGet(ctx, r.varBucket, entry.Key, r.urlTTL)
			if err != nil {
				logger.Error().Err(err).Msg(fmt.Sprintf("Failed to presign variant %q", entry.Key))
				return nil, model.ErrCommon500
			}
			item.Resized = &model.LinkedObject{
				Size: entry.Variant.Size,
				URL:  varURL,
			}
		}

		items = append(items, item)
	}

	return items, nil
}
