package listing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/UnendingLoop/ImageIntake/internal/model"
	"github.com/stretchr/testify/require"
)

type mockListCatalog struct {
	listAllFn func(ctx context.Context) ([]model.CatalogEntry, error)
}

func (m *mockListCatalog) ListAll(ctx context.Context) ([]model.CatalogEntry, error) {
	return m.listAllFn(ctx)
}

type mockListStorage struct {
	presignFn    func(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	presignCalls int
}

func (m *mockListStorage) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	m.presignCalls++
	if m.presignFn == nil {
		return "http://storage.local/" + bucket + "/" + key, nil
	}
	return m.presignFn(ctx, bucket, key, ttl)
}

func testEntries() []model.CatalogEntry {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return []model.CatalogEntry{
		{
			Key:      "ready.jpg",
			Original: model.SourceObject{Key: "ready.jpg", Version: "etag-1", Size: 2048, CreatedAt: created},
			Variant: &model.VariantRecord{
				Key:           "ready.jpg",
				Size:          512,
				SourceVersion: "etag-1",
			},
			Status: model.StatusReady,
		},
		{
			Key:      "pending.png",
			Original: model.SourceObject{Key: "pending.png", Version: "etag-2", CreatedAt: created},
			Status:   model.StatusPending,
		},
	}
}

func TestReader_List(t *testing.T) {
	cat := &mockListCatalog{
		listAllFn: func(ctx context.Context) ([]model.CatalogEntry, error) {
			return testEntries(), nil
		},
	}
	strg := &mockListStorage{}
	reader := NewReader(cat, strg, Config{SourceBucket: "images", VariantBucket: "resized"})

	items, err := reader.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	ready := items[0]
	require.Equal(t, "ready.jpg", ready.Name)
	require.Equal(t, model.StatusReady, ready.Status)
	require.Equal(t, "http://storage.local/images/ready.jpg", ready.Original.URL)
	require.NotNil(t, ready.Resized)
	require.Equal(t, "http://storage.local/resized/ready.jpg", ready.Resized.URL)
	require.Equal(t, int64(512), ready.Resized.Size)

	pending := items[1]
	require.Equal(t, model.StatusPending, pending.Status)
	require.Nil(t, pending.Resized, "pending entries expose the original only")

	// 2 ссылки для готовой записи + 1 для ожидающей
	require.Equal(t, 3, strg.presignCalls)
}

func TestReader_List_StaleVariantNotLinked(t *testing.T) {
	// вариант собран из предыдущей версии оригинала - наружу не отдаем
	cat := &mockListCatalog{
		listAllFn: func(ctx context.Context) ([]model.CatalogEntry, error) {
			return []model.CatalogEntry{{
				Key:      "photo.jpg",
				Original: model.SourceObject{Key: "photo.jpg", Version: "etag-2"},
				Variant:  &model.VariantRecord{Key: "photo.jpg", SourceVersion: "etag-1"},
				Status:   model.StatusReady,
			}}, nil
		},
	}
	strg := &mockListStorage{}
	reader := NewReader(cat, strg, Config{SourceBucket: "images", VariantBucket: "resized"})

	items, err := reader.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Nil(t, items[0].Resized)
	require.Equal(t, 1, strg.presignCalls)
}

func TestReader_List_Empty(t *testing.T) {
	cat := &mockListCatalog{
		listAllFn: func(ctx context.Context) ([]model.CatalogEntry, error) {
			return nil, nil
		},
	}
	reader := NewReader(cat, &mockListStorage{}, Config{SourceBucket: "images", VariantBucket: "resized"})

	items, err := reader.List(context.Background())
	require.NoError(t, err)
	require.NotNil(t, items)
	require.Empty(t, items)
}

func TestReader_List_CatalogError(t *testing.T) {
	cat := &mockListCatalog{
		listAllFn: func(ctx context.Context) ([]model.CatalogEntry, error) {
			return nil, errors.New("db is down")
		},
	}
	reader := NewReader(cat, &mockListStorage{}, Config{SourceBucket: "images", VariantBucket: "resized"})

	_, err := reader.List(context.Background())
	require.ErrorIs(t, err, model.ErrCommon500)
}

func TestReader_List_PresignError(t *testing.T) {
	cat := &mockListCatalog{
		listAllFn: func(ctx context.Context) ([]model.CatalogEntry, error) {
			return testEntries(), nil
		},
	}
	strg := &mockListStorage{
		presignFn: func(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
			return "", errors.New("storage is down")
		},
	}
	reader := NewReader(cat, strg, Config{SourceBucket: "images", VariantBucket: "resized"})

	_, err := reader.List(context.Background())
	require.ErrorIs(t, err, model.ErrCommon500)
}
