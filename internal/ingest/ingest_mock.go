package ingest

import (
	"context"
	"io"
	"sync"

	"github.com/UnendingLoop/ImageIntake/internal/codec"
	"github.com/UnendingLoop/ImageIntake/internal/model"
	"github.com/UnendingLoop/ImageIntake/internal/storage/miniostorage"
	kafkago "github.com/segmentio/kafka-go"
)

// MOCK CATALOG

type mockCatalog struct {
	mu             sync.Mutex
	upsertFn       func(ctx context.Context, src model.SourceObject) error
	attachFn       func(ctx context.Context, key string, v model.VariantRecord) error
	markFailedFn   func(ctx context.Context, key, sourceVersion string) error
	getFn          func(ctx context.Context, key string) (*model.CatalogEntry, error)
	upsertCalls    int
	attachCalls    int
	markFailedKeys []string
}

func (m *mockCatalog) UpsertOriginal(ctx context.Context, src model.SourceObject) error {
	m.mu.Lock()
	m.upsertCalls++
	m.mu.Unlock()
	if m.upsertFn == nil {
		return nil
	}
	return m.upsertFn(ctx, src)
}

func (m *mockCatalog) AttachVariant(ctx context.Context, key string, v model.VariantRecord) error {
	m.mu.Lock()
	m.attachCalls++
	m.mu.Unlock()
	if m.attachFn == nil {
		return nil
	}
	return m.attachFn(ctx, key, v)
}

func (m *mockCatalog) MarkFailed(ctx context.Context, key, sourceVersion string) error {
	m.mu.Lock()
	m.markFailedKeys = append(m.markFailedKeys, key)
	m.mu.Unlock()
	if m.markFailedFn == nil {
		return nil
	}
	return m.markFailedFn(ctx, key, sourceVersion)
}

func (m *mockCatalog) Get(ctx context.Context, key string) (*model.CatalogEntry, error) {
	if m.getFn == nil {
		return nil, model.ErrEntryNotFound
	}
	return m.getFn(ctx, key)
}

// MOCK STORAGE

type mockStorage struct {
	mu           sync.Mutex
	getVersionFn func(ctx context.Context, bucket, key, version string) (io.ReadCloser, miniostorage.ObjectInfo, error)
	putFn        func(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
	getCalls     int
	putCalls     int
}

func (m *mockStorage) GetVersion(ctx context.Context, bucket, key, version string) (io.ReadCloser, miniostorage.ObjectInfo, error) {
	m.mu.Lock()
	m.getCalls++
	m.mu.Unlock()
	return m.getVersionFn(ctx, bucket, key, version)
}

func (m *mockStorage) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	m.mu.Lock()
	m.putCalls++
	m.mu.Unlock()
	if m.putFn == nil {
		return nil
	}
	return m.putFn(ctx, bucket, key, r, size, contentType)
}

// MOCK CODEC

type mockCodec struct {
	fitFn func(data []byte, maxW, maxH int, declaredType string) (*codec.Result, error)
}

func (m *mockCodec) Fit(data []byte, maxW, maxH int, declaredType string) (*codec.Result, error) {
	return m.fitFn(data, maxW, maxH, declaredType)
}

// MOCK FAILURE SINK

type mockSink struct {
	mu      sync.Mutex
	records []model.FailureRecord
}

func (m *mockSink) Record(rec model.FailureRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

func (m *mockSink) recorded() []model.FailureRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.FailureRecord, len(m.records))
	copy(out, m.records)
	return out
}

// MOCK COMMITTER

type mockCommitter struct {
	mu        sync.Mutex
	committed []kafkago.Message
}

func (m *mockCommitter) Commit(ctx context.Context, msg kafkago.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, msg)
	return nil
}
