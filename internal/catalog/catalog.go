// Package catalog provides the durable key-to-variant-state mapping
package catalog

import (
	"context"
	"database/sql"
	"log"
	"path/filepath"
	"time"

	"github.com/UnendingLoop/ImageIntake/internal/catalog/catalogpg"
	"github.com/UnendingLoop/ImageIntake/internal/model"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/wb-go/wbf/dbpg"
)

// Store is the catalog contract. All writes are atomic per key; AttachVariant
// and MarkFailed are compare-and-set on the source version, which is the only
// serialization point between concurrent ingest invocations.
type Store interface {
	UpsertOriginal(ctx context.Context, src model.SourceObject) error
	AttachVariant(ctx context.Context, key string, v model.VariantRecord) error
	MarkFailed(ctx context.Context, key, sourceVersion string) error
	Get(ctx context.Context, key string) (*model.CatalogEntry, error)
	ListAll(ctx context.Context) ([]model.CatalogEntry, error)
	ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]model.SourceObject, error)
}

// FailureLog is the append-only sink of terminal ingest failures.
type FailureLog interface {
	Append(ctx context.Context, rec model.FailureRecord) error
}

func NewPostgresCatalog(dbconn *dbpg.DB) *catalogpg.PostgresCatalog {
	return &catalogpg.PostgresCatalog{DB: dbconn}
}

func ConnectWithRetries(dsn string, retryCount int, idleTime time.Duration) *dbpg.DB {
	dbOptions := dbpg.Options{
		MaxOpenConns:    5,
		MaxIdleConns:    5,
		ConnMaxLifetime: 10 * time.Minute,
	}
	var dbConn *dbpg.DB
	var err error

	for attempt := 0; attempt < retryCount; attempt++ {
		dbConn, err = dbpg.New(dsn, nil, &dbOptions)
		if err == nil {
			break
		}
		log.Printf("Failed to connect to PGDB: %s\nWaiting %v before next retry...", err, idleTime)
		time.Sleep(idleTime)
	}

	if err != nil {
		log.Fatal("Failed to connect to DB. Exiting the app...")
	}

	return dbConn
}

func MigrateWithRetries(db *sql.DB, migrationsPath string, retries int, idle time.Duration) {
	for i := 0; i < retries; i++ {
		log.Printf("Migration try #%d...", i)
		err := runMigrate(db, migrationsPath)
		if err == nil {
			break
		}
		switch i {
		case retries:
			log.Fatalln("Out of retries. Exiting...")
		default:
			log.Printf("Migration try #%d was unsuccessful. Waiting %v before next try...", i, idle)
			time.Sleep(idle)
		}
	}
}

func runMigrate(db *sql.DB, migrationsPath string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}

	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return err
	}

	sourceURL := "file://" + absPath
	log.Println("Running migrations from:", sourceURL)

	m, err := migrate.NewWithDatabaseInstance(
		sourceURL,
		"postgres",
		driver,
	)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}

	log.Println("Database migrations applied successfully")
	return nil
}
