package catalogpg

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/UnendingLoop/ImageIntake/internal/model"
	"github.com/wb-go/wbf/dbpg"
)

type PostgresCatalog struct {
	DB *dbpg.DB
}

// UpsertOriginal creates or overwrites the original record and resets status
// to pending. A redelivery carrying the version already on record keeps the
// current status, so a ready entry is not bounced back to pending by a
// duplicate event. Variant columns are left alone - a stale variant is
// invalidated by the version mismatch, not deleted.
func (p *PostgresCatalog) UpsertOriginal(ctx context.Context, src model.SourceObject) error {
	query := `INSERT INTO catalog (object_key, source_version, original_size, original_content_type, original_created_at, status, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, now())
	ON CONFLICT (object_key) DO UPDATE SET
		source_version = EXCLUDED.source_version,
		original_size = EXCLUDED.original_size,
		original_content_type = EXCLUDED.original_content_type,
		original_created_at = EXCLUDED.original_created_at,
		status = CASE WHEN catalog.source_version = EXCLUDED.source_version THEN catalog.status ELSE EXCLUDED.status END,
		updated_at = now()`
	_, err := p.DB.Master.ExecContext(ctx, query,
		src.Key, src.Version, src.Size, src.ContentType, src.CreatedAt, model.StatusPending)
	return err
}

// AttachVariant records the variant and flips status to ready, but only while
// the original still carries the version the variant was derived from. The
// WHERE clause is the compare-and-set: zero affected rows means the source
// was superseded (or never catalogued) and the late result must be discarded.
func (p *PostgresCatalog) AttachVariant(ctx context.Context, key string, v model.VariantRecord) error {
	query := `UPDATE catalog SET
		variant_size = $2,
		variant_content_type = $3,
		variant_produced_at = $4,
		variant_source_version = $5,
		status = $6,
		updated_at = now()
	WHERE object_key = $1 AND source_version = $5`
	res, err := p.DB.Master.ExecContext(ctx, query,
		key, v.Size, v.ContentType, v.ProducedAt, v.SourceVersion, model.StatusReady)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	if _, err := p.Get(ctx, key); err != nil {
		return err // ErrEntryNotFound included
	}
	return model.ErrVersionSuperseded
}

// MarkFailed is idempotent and version-guarded: a late failure for an already
// superseded version must not poison the entry of the newer upload.
func (p *PostgresCatalog) MarkFailed(ctx context.Context, key, sourceVersion string) error {
	query := `UPDATE catalog SET status = $3, updated_at = now()
	WHERE object_key = $1 AND source_version = $2`
	_, err := p.DB.Master.ExecContext(ctx, query, key, sourceVersion, model.StatusFailed)
	return err
}

func (p *PostgresCatalog) Get(ctx context.Context, key string) (*model.CatalogEntry, error) {
	query := `SELECT object_key, source_version, original_size, original_content_type, original_created_at,
		variant_size, variant_content_type, variant_produced_at, variant_source_version, status
	FROM catalog
	WHERE object_key = $1`

	row := p.DB.QueryRowContext(ctx, query, key)
	entry, err := scanEntry(row)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, model.ErrEntryNotFound
		default:
			return nil, err // 500
		}
	}
	return entry, nil
}

func (p *PostgresCatalog) ListAll(ctx context.Context) ([]model.CatalogEntry, error) {
	query := `SELECT object_key, source_version, original_size, original_content_type, original_created_at,
		variant_size, variant_content_type, variant_produced_at, variant_source_version, status
	FROM catalog
	ORDER BY original_created_at DESC, object_key ASC`

	rows, err := p.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Error while closing *sql.Rows after scanning: %v", err)
		}
	}()

	entries := make([]model.CatalogEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return entries, nil
}

// ListStuck returns originals sitting in pending longer than olderThan -
// candidates for event republishing when a notification got lost.
func (p *PostgresCatalog) ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]model.SourceObject, error) {
	query := `SELECT object_key, source_version, original_size, original_content_type, original_created_at
	FROM catalog
	WHERE status = $1 AND updated_at < now() - make_interval(secs => $2)
	LIMIT $3`

	rows, err := p.DB.QueryContext(ctx, query, model.StatusPending, olderThan.Seconds(), limit)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Error while closing *sql.Rows after scanning: %v", err)
		}
	}()

	stuck := make([]model.SourceObject, 0, limit)
	for rows.Next() {
		var src model.SourceObject
		if err := rows.Scan(&src.Key,
			&src.Version,
			&src.Size,
			&src.ContentType,
			&src.CreatedAt); err != nil {
			return nil, err
		}
		stuck = append(stuck, src)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return stuck, nil
}

// Append writes one failure record. Append-only: never updated, never read by
// the serving path.
func (p *PostgresCatalog) Append(ctx context.Context, rec model.FailureRecord) error {
	query := `INSERT INTO ingest_failures (id, object_key, source_version, last_error, attempt_count, first_failed_at, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, now())`
	_, err := p.DB.Master.ExecContext(ctx, query,
		rec.ID, rec.Key, rec.SourceVersion, rec.LastError, rec.AttemptCount, rec.FirstFailedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*model.CatalogEntry, error) {
	var entry model.CatalogEntry
	var vSize sql.NullInt64
	var vCType, vVersion sql.NullString
	var vProduced sql.NullTime

	if err := row.Scan(&entry.Key,
		&entry.Original.Version,
		&entry.Original.Size,
		&entry.Original.ContentType,
		&entry.Original.CreatedAt,
		&vSize,
		&vCType,
		&vProduced,
		&vVersion,
		&entry.Status); err != nil {
		return nil, err
	}
	entry.Original.Key = entry.Key

	if vVersion.Valid {
		entry.Variant = &model.VariantRecord{
			Key:           entry.Key,
			Size:          vSize.Int64,
			ContentType:   vCType.String,
			ProducedAt:    vProduced.Time,
			SourceVersion: vVersion.String,
		}
	}

	return &entry, nil
}
