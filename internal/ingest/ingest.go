// Package ingest contains the worker turning upload notifications into catalogued variants
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/UnendingLoop/ImageIntake/internal/codec"
	"github.com/UnendingLoop/ImageIntake/internal/model"
	"github.com/UnendingLoop/ImageIntake/internal/storage/miniostorage"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

// IngestCatalog - контракт каталога со стороны воркера
type IngestCatalog interface {
	UpsertOriginal(ctx context.Context, src model.SourceObject) error
	AttachVariant(ctx context.Context, key string, v model.VariantRecord) error
	MarkFailed(ctx context.Context, key, sourceVersion string) error
	Get(ctx context.Context, key string) (*model.CatalogEntry, error)
}

// IngestStorage - контракт хранилища со стороны воркера
type IngestStorage interface {
	GetVersion(ctx context.Context, bucket, key, version string) (io.ReadCloser, miniostorage.ObjectInfo, error)
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
}

// VariantCodec - контракт ресайзера
type VariantCodec interface {
	Fit(data []byte, maxW, maxH int, declaredType string) (*codec.Result, error)
}

// FailureSink - контракт для регистрации терминальных отказов
type FailureSink interface {
	Record(rec model.FailureRecord)
}

// Committer - контракт подтверждения сообщений очереди
type Committer interface {
	Commit(ctx context.Context, msg kafkago.Message) error
}

// Stages of a single (key, sourceVersion) unit of work. A transient failure
// loops the unit back into the same stage after a backoff; terminal failures
// and ceiling exhaustion end in the failure sink.
const (
	stageFetching   = "fetching"
	stageResizing   = "resizing"
	stagePublishing = "publishing"
	stageDone       = "done"
)

type Config struct {
	SourceBucket  string
	VariantBucket string
	MaxWidth      int
	MaxHeight     int
	UnitTimeout   time.Duration
	ResizeSlots   int
	Retry         retry.Strategy
}

type Worker struct {
	storage  IngestStorage
	catalog  IngestCatalog
	codec    VariantCodec
	sink     FailureSink
	queue    <-chan kafkago.Message
	consumer Committer
	cfg      Config
	slots    chan struct{}
}

func NewWorkerInstance(strg IngestStorage, cat IngestCatalog, vc VariantCodec, sink FailureSink, q <-chan kafkago.Message, cons Committer, cfg Config) *Worker {
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = retry.Strategy{Attempts: 5, Delay: 2 * time.Second, Backoff: 2}
	}
	if cfg.UnitTimeout <= 0 {
		cfg.UnitTimeout = 2 * time.Minute
	}
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = 400
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = 400
	}
	if cfg.ResizeSlots <= 0 {
		// декодирование больших картинок жрет память - ограничиваем по ядрам
		cfg.ResizeSlots = runtime.GOMAXPROCS(0)
	}
	return &Worker{
		storage:  strg,
		catalog:  cat,
		codec:    vc,
		sink:     sink,
		queue:    q,
		consumer: cons,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.ResizeSlots),
	}
}

// StartWorker consumes notifications until ctx is canceled. A unit abandoned
// on its deadline is left uncommitted so the queue redelivers it; everything
// else - success, no-op duplicate, terminal failure - is acknowledged.
func (w *Worker) StartWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-w.queue:
			if !ok {
				zlog.Logger.Info().Msg("Queue channel closed, stopping worker...")
				return
			}

			n, err := model.ParseNotification(msg.Value)
			if err != nil {
				// контрактная ошибка: бракуем на границе, состояние не трогаем
				zlog.Logger.Error().Err(err).Str("raw", string(msg.Value)).Msg("Dropping malformed notification")
				w.commit(ctx, msg)
				continue
			}

			unitCtx, cancel := context.WithTimeout(ctx, w.cfg.UnitTimeout)
			err = w.ProcessUnit(unitCtx, n)
			cancel()

			if err != nil {
				zlog.Logger.Warn().Err(err).
					Str("key", n.Key).
					Str("source_version", n.SourceVersion).
					Msg("Unit abandoned, leaving uncommitted for redelivery")
				continue
			}
			w.commit(ctx, msg)
		}
	}
}

func (w *Worker) commit(ctx context.Context, msg kafkago.Message) {
	if err := w.consumer.Commit(ctx, msg); err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to commit queue-message")
	}
}

// ProcessUnit drives one (key, sourceVersion) through the stage machine.
// Returns non-nil only when the unit should be redelivered (deadline or
// shutdown); terminal outcomes are swallowed after reaching the failure sink.
func (w *Worker) ProcessUnit(ctx context.Context, n *model.UploadNotification) error {
	logger := zlog.Logger.With().
		Str("key", n.Key).
		Str("source_version", n.SourceVersion).
		Logger()

	// дубликат уже обработанного события - no-op
	if entry, err := w.catalog.Get(ctx, n.Key); err == nil &&
		entry.Status == model.StatusReady &&
		entry.Variant != nil &&
		entry.Variant.SourceVersion == n.SourceVersion {
		logger.Info().Msg("Variant already attached for this version, skipping")
		return nil
	}

	src := model.SourceObject{
		Key:         n.Key,
		Version:     n.SourceVersion,
		Size:        n.Size,
		ContentType: n.ContentType,
		CreatedAt:   n.EventTime,
	}
	if err := w.catalog.UpsertOriginal(ctx, src); err != nil {
		logger.Error().Err(err).Msg("Failed to upsert original into catalog")
		return model.ErrUnitDeadline // состояние не тронуто - пусть очередь передоставит
	}

	unit := &unit{n: n, stage: stageFetching}
	attempts := w.cfg.Retry.Attempts
	delay := w.cfg.Retry.Delay
	var lastErr error
	var firstFailed time.Time

	for attempt := 1; attempt <= attempts; attempt++ {
		err := w.advance(ctx, unit)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return model.ErrUnitDeadline
		}

		lastErr = err
		if firstFailed.IsZero() {
			firstFailed = time.Now().UTC()
		}

		if isTerminal(err) {
			logger.Error().Err(err).Str("stage", unit.stage).Msg("Terminal ingest failure, no retries")
			w.fail(ctx, n, err, attempt, firstFailed)
			return nil
		}

		logger.Warn().Err(err).
			Str("stage", unit.stage).
			Int("attempt", attempt).
			Msg("Transient ingest failure")

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return model.ErrUnitDeadline
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * w.cfg.Retry.Backoff)
	}

	exhausted := fmt.Errorf("%w: %v", model.ErrAttemptsExhausted, lastErr)
	logger.Error().Err(exhausted).Msg("Retry ceiling reached")
	w.fail(ctx, n, exhausted, attempts, firstFailed)
	return nil
}

// unit keeps intermediate results so a transient failure resumes at the
// failed stage instead of redoing completed work.
type unit struct {
	n      *model.UploadNotification
	stage  string
	data   []byte
	cType  string
	result *codec.Result
}

func (w *Worker) advance(ctx context.Context, u *unit) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch u.stage {
		case stageFetching:
			if err := w.fetch(ctx, u); err != nil {
				return err
			}
			u.stage = stageResizing

		case stageResizing:
			if err := w.resize(ctx, u); err != nil {
				return err
			}
			u.data = nil // исходник больше не нужен
			u.stage = stagePublishing

		case stagePublishing:
			if err := w.publish(ctx, u); err != nil {
				return err
			}
			u.stage = stageDone

		case stageDone:
			return nil

		default:
			return fmt.Errorf("unknown unit stage %q", u.stage)
		}
	}
}

func (w *Worker) fetch(ctx context.Context, u *unit) error {
	rc, info, err := w.storage.GetVersion(ctx, w.cfg.SourceBucket, u.n.Key, u.n.SourceVersion)
	if err != nil {
		return fmt.Errorf("fetch source %q: %w", u.n.Key, err)
	}
	defer closeFileFlow(rc)

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read source %q: %w", u.n.Key, err)
	}

	u.data = data
	u.cType = info.ContentType
	if u.cType == "" {
		u.cType = u.n.ContentType
	}
	return nil
}

func (w *Worker) resize(ctx context.Context, u *unit) error {
	select {
	case w.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-w.slots }()

	res, err := w.codec.Fit(u.data, w.cfg.MaxWidth, w.cfg.MaxHeight, u.cType)
	if err != nil {
		return fmt.Errorf("resize %q: %w", u.n.Key, err)
	}
	u.result = res
	return nil
}

// publish re-writes the variant bytes on every retry - the write is an
// idempotent overwrite, so resuming here after a failed catalog attach is safe.
func (w *Worker) publish(ctx context.Context, u *unit) error {
	res := u.result
	if err := w.storage.Put(ctx, w.cfg.VariantBucket, u.n.Key,
		bytes.NewReader(res.Bytes), int64(len(res.Bytes)), res.ContentType); err != nil {
		return fmt.Errorf("publish variant %q: %w", u.n.Key, err)
	}

	v := model.VariantRecord{
		Key:           u.n.Key,
		Size:          int64(len(res.Bytes)),
		ContentType:   res.ContentType,
		ProducedAt:    time.Now().UTC(),
		SourceVersion: u.n.SourceVersion,
	}

	err := w.catalog.AttachVariant(ctx, u.n.Key, v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrVersionSuperseded):
		// опоздавший результат для перезалитого ключа - молча выбрасываем
		zlog.Logger.Info().
			Str("key", u.n.Key).
			Str("source_version", u.n.SourceVersion).
			Msg("Discarding variant for superseded source version")
		return nil
	default:
		return fmt.Errorf("attach variant %q: %w", u.n.Key, err)
	}
}

func (w *Worker) fail(ctx context.Context, n *model.UploadNotification, cause error, attempts int, firstFailed time.Time) {
	if firstFailed.IsZero() {
		firstFailed = time.Now().UTC()
	}

	if err := w.catalog.MarkFailed(ctx, n.Key, n.SourceVersion); err != nil {
		zlog.Logger.Error().Err(err).
			Str("key", n.Key).
			Msg("Failed to mark catalog entry as failed")
	}

	w.sink.Record(model.FailureRecord{
		ID:            uuid.New(),
		Key:           n.Key,
		SourceVersion: n.SourceVersion,
		LastError:     cause.Error(),
		AttemptCount:  attempts,
		FirstFailedAt: firstFailed,
	})
}

func isTerminal(err error) bool {
	return errors.Is(err, model.ErrSourceGone) ||
		errors.Is(err, model.ErrDecode) ||
		errors.Is(err, model.ErrEntryNotFound)
}

func closeFileFlow(res io.ReadCloser) {
	if res == nil {
		return
	}
	if err := res.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("Worker failed to close fileflow")
	}
}
