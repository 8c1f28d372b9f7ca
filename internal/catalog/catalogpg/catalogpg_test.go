package catalogpg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/UnendingLoop/ImageIntake/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/dbpg"
)

func newCatalogWithMock(t *testing.T) (*PostgresCatalog, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	pg := &dbpg.DB{Master: db}

	return &PostgresCatalog{DB: pg}, mock
}

var entryColumns = []string{
	"object_key", "source_version", "original_size", "original_content_type", "original_created_at",
	"variant_size", "variant_content_type", "variant_produced_at", "variant_source_version", "status",
}

// UPSERT - SUCCESS
func TestPostgresCatalog_UpsertOriginal_OK(t *testing.T) {
	cat, mock := newCatalogWithMock(t)

	src := model.SourceObject{
		Key:         "photo1.jpg",
		Version:     "etag-1",
		Size:        2048,
		ContentType: model.JPEG,
		CreatedAt:   time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO catalog`).
		WithArgs(src.Key, src.Version, src.Size, src.ContentType, src.CreatedAt, string(model.StatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := cat.UpsertOriginal(context.Background(), src)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ATTACH - SUCCESS (version matches, CAS hits one row)
func TestPostgresCatalog_AttachVariant_OK(t *testing.T) {
	cat, mock := newCatalogWithMock(t)

	v := model.VariantRecord{
		Key:           "photo1.jpg",
		Size:          512,
		ContentType:   model.JPEG,
		ProducedAt:    time.Now().UTC(),
		SourceVersion: "etag-1",
	}

	mock.ExpectExec(`UPDATE catalog SET`).
		WithArgs(v.Key, v.Size, v.ContentType, v.ProducedAt, v.SourceVersion, string(model.StatusReady)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := cat.AttachVariant(context.Background(), v.Key, v)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ATTACH - SUPERSEDED (CAS misses, entry exists under newer version)
func TestPostgresCatalog_AttachVariant_Superseded(t *testing.T) {
	cat, mock := newCatalogWithMock(t)

	v := model.VariantRecord{
		Key:           "photo1.jpg",
		SourceVersion: "etag-1",
		ProducedAt:    time.Now().UTC(),
	}

	mock.ExpectExec(`UPDATE catalog SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rows := sqlmock.NewRows(entryColumns).AddRow(
		"photo1.jpg", "etag-2", 4096, model.JPEG, time.Now(),
		nil, nil, nil, nil, string(model.StatusPending),
	)
	mock.ExpectQuery(`SELECT .+ FROM catalog`).
		WithArgs("photo1.jpg").
		WillReturnRows(rows)

	err := cat.AttachVariant(context.Background(), v.Key, v)
	require.ErrorIs(t, err, model.ErrVersionSuperseded)
}

// ATTACH - NO ORIGINAL AT ALL
func TestPostgresCatalog_AttachVariant_NoEntry(t *testing.T) {
	cat, mock := newCatalogWithMock(t)

	mock.ExpectExec(`UPDATE catalog SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(`SELECT .+ FROM catalog`).
		WithArgs("ghost.jpg").
		WillReturnRows(sqlmock.NewRows(entryColumns))

	err := cat.AttachVariant(context.Background(), "ghost.jpg", model.VariantRecord{SourceVersion: "etag-1"})
	require.ErrorIs(t, err, model.ErrEntryNotFound)
}

// MARK FAILED - IDEMPOTENT (zero affected rows is still success)
func TestPostgresCatalog_MarkFailed_Idempotent(t *testing.T) {
	cat, mock := newCatalogWithMock(t)

	mock.ExpectExec(`UPDATE catalog SET status`).
		WithArgs("photo1.jpg", "etag-1", string(model.StatusFailed)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE catalog SET status`).
		WithArgs("photo1.jpg", "etag-1", string(model.StatusFailed)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, cat.MarkFailed(context.Background(), "photo1.jpg", "etag-1"))
	require.NoError(t, cat.MarkFailed(context.Background(), "photo1.jpg", "etag-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

// GET - SUCCESS WITH VARIANT
func TestPostgresCatalog_Get_OK(t *testing.T) {
	cat, mock := newCatalogWithMock(t)

	created := time.Now().UTC()
	produced := created.Add(2 * time.Second)

	rows := sqlmock.NewRows(entryColumns).AddRow(
		"photo1.jpg", "etag-1", 2048, model.JPEG, created,
		512, model.JPEG, produced, "etag-1", string(model.StatusReady),
	)
	mock.ExpectQuery(`SELECT .+ FROM catalog`).
		WithArgs("photo1.jpg").
		WillReturnRows(rows)

	entry, err := cat.Get(context.Background(), "photo1.jpg")
	require.NoError(t, err)
	require.Equal(t, "photo1.jpg", entry.Key)
	require.Equal(t, model.StatusReady, entry.Status)
	require.NotNil(t, entry.Variant)
	require.Equal(t, "etag-1", entry.Variant.SourceVersion)
	require.Equal(t, entry.Original.Version, entry.Variant.SourceVersion)
}

// GET - NOT FOUND
func TestPostgresCatalog_Get_NotFound(t *testing.T) {
	cat, mock := newCatalogWithMock(t)

	mock.ExpectQuery(`SELECT .+ FROM catalog`).
		WithArgs("nope.jpg").
		WillReturnRows(sqlmock.NewRows(entryColumns))

	_, err := cat.Get(context.Background(), "nope.jpg")
	require.ErrorIs(t, err, model.ErrEntryNotFound)
}

// LIST - PENDING ENTRY HAS NO VARIANT
func TestPostgresCatalog_ListAll(t *testing.T) {
	cat, mock := newCatalogWithMock(t)

	newer := time.Now().UTC()
	older := newer.Add(-time.Hour)

	rows := sqlmock.NewRows(entryColumns).
		AddRow("b.jpg", "etag-b", 100, model.JPEG, newer,
			50, model.JPEG, newer, "etag-b", string(model.StatusReady)).
		AddRow("a.jpg", "etag-a", 200, model.PNG, older,
			nil, nil, nil, nil, string(model.StatusPending))

	mock.ExpectQuery(`SELECT .+ FROM catalog\s+ORDER BY original_created_at DESC, object_key ASC`).
		WillReturnRows(rows)

	entries, err := cat.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, "b.jpg", entries[0].Key)
	require.NotNil(t, entries[0].Variant)

	require.Equal(t, "a.jpg", entries[1].Key)
	require.Nil(t, entries[1].Variant)
	require.Equal(t, model.StatusPending, entries[1].Status)
}

// LIST STUCK
func TestPostgresCatalog_ListStuck(t *testing.T) {
	cat, mock := newCatalogWithMock(t)

	rows := sqlmock.NewRows([]string{
		"object_key", "source_version", "original_size", "original_content_type", "original_created_at",
	}).AddRow("slow.jpg", "etag-s", 300, model.JPEG, time.Now().Add(-time.Hour))

	mock.ExpectQuery(`SELECT .+ FROM catalog\s+WHERE status`).
		WithArgs(string(model.StatusPending), float64(600), 20).
		WillReturnRows(rows)

	stuck, err := cat.ListStuck(context.Background(), 10*time.Minute, 20)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, "slow.jpg", stuck[0].Key)
	require.Equal(t, "etag-s", stuck[0].Version)
}

// FAILURE LOG - APPEND
func TestPostgresCatalog_Append(t *testing.T) {
	cat, mock := newCatalogWithMock(t)

	rec := model.FailureRecord{
		ID:            uuid.New(),
		Key:           "corrupt.jpg",
		SourceVersion: "etag-c",
		LastError:     "input bytes are not a decodable image",
		AttemptCount:  1,
		FirstFailedAt: time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO ingest_failures`).
		WithArgs(rec.ID, rec.Key, rec.SourceVersion, rec.LastError, rec.AttemptCount, rec.FirstFailedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, cat.Append(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}
