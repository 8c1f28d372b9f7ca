// Package failsink records permanently failed ingest attempts
package failsink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/UnendingLoop/ImageIntake/internal/catalog"
	"github.com/UnendingLoop/ImageIntake/internal/model"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

// Notifier - контракт для отправки уведомлений во внешний топик
type Notifier interface {
	SendWithRetry(ctx context.Context, strategy retry.Strategy, key []byte, value []byte) error
}

// Sink accepts failure records without ever blocking or failing the caller.
// Records go through an in-process buffer; a background flusher appends them
// to the durable failure log and pushes a one-way notification for ops
// tooling. The sink never re-enters the worker's retry loop.
type Sink struct {
	failures catalog.FailureLog
	notifier Notifier
	strategy retry.Strategy
	buf      chan model.FailureRecord
}

func NewSink(failures catalog.FailureLog, notifier Notifier, bufSize int) *Sink {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Sink{
		failures: failures,
		notifier: notifier,
		strategy: retry.Strategy{
			Attempts: 3,
			Delay:    2 * time.Second,
			Backoff:  1.5,
		},
		buf: make(chan model.FailureRecord, bufSize),
	}
}

// Record enqueues the record and returns immediately. When the buffer is
// full the record is dropped with a log line - losing a failure trace is
// preferable to wedging the retry-exhaustion path.
func (s *Sink) Record(rec model.FailureRecord) {
	select {
	case s.buf <- rec:
	default:
		zlog.Logger.Error().
			Str("key", rec.Key).
			Str("source_version", rec.SourceVersion).
			Msg("Failure-sink buffer is full, dropping record")
	}
}

// Run drains the buffer until ctx is canceled. Intended to be launched as a
// goroutine next to the worker loop.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case rec := <-s.buf:
			s.flush(ctx, rec)
		}
	}
}

// drain gives buffered records one last best-effort write on shutdown.
func (s *Sink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		select {
		case rec := <-s.buf:
			s.flush(ctx, rec)
		default:
			return
		}
	}
}

func (s *Sink) flush(ctx context.Context, rec model.FailureRecord) {
	logger := zlog.Logger.With().
		Str("key", rec.Key).
		Str("source_version", rec.SourceVersion).
		Logger()

	if err := s.failures.Append(ctx, rec); err != nil {
		logger.Error().Err(err).Msg("Failed to append failure record, re-buffering")
		// вернём в буфер если есть место - иначе запись теряется
		select {
		case s.buf <- rec:
			time.Sleep(s.strategy.Delay) // не молотим по лежащей базе
		default:
			logger.Error().Msg("Failure-sink buffer is full, record lost")
		}
		return
	}

	if s.notifier == nil {
		return
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to marshal failure record for notification")
		return
	}
	if err := s.notifier.SendWithRetry(ctx, s.strategy, []byte(rec.Key), payload); err != nil {
		// уведомление - строго best-effort: запись в журнале уже есть
		logger.Error().Err(err).Msg("Failed to notify about ingest failure")
	}
}
