package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/UnendingLoop/ImageIntake/internal/model"
	"github.com/wb-go/wbf/retry"
)

// StuckLister - контракт каталога для цикла реанимации подвисших записей
type StuckLister interface {
	ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]model.SourceObject, error)
}

// Republisher - контракт очереди для переотправки событий
type Republisher interface {
	SendWithRetry(ctx context.Context, strategy retry.Strategy, key []byte, value []byte) error
}

// reviveLoop periodically re-emits upload notifications for entries stuck in
// PENDING. The worker's version guard makes a duplicate a no-op, so firing an
// extra event for an entry that is actually in flight is harmless.
func reviveLoop(ctx context.Context, cat StuckLister, pub Republisher) {
	defer func() {
		if r := recover(); r != nil {
			log.Println("Revive loop crashed:", r)
		}
	}()

	strategy := retry.Strategy{
		Attempts: 3,
		Delay:    2 * time.Second,
		Backoff:  1.5,
	}

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reviveStuck(ctx, cat, pub, strategy)
		}
	}
}

func reviveStuck(ctx context.Context, cat StuckLister, pub Republisher, strategy retry.Strategy) {
	// не трогаем записи моложе 10 минут - они скорее всего еще в работе
	stuck, err := cat.ListStuck(ctx, 10*time.Minute, 20)
	if err != nil {
		log.Println("Failed to list stuck entries:", err)
		return
	}

	for _, src := range stuck {
		payload, err := json.Marshal(model.UploadNotification{
			Key:           src.Key,
			SourceVersion: src.Version,
			Size:          src.Size,
			ContentType:   src.ContentType,
			EventTime:     time.Now().UTC(),
		})
		if err != nil {
			log.Printf("Failed to marshal revive event for %q: %v", src.Key, err)
			continue
		}
		if err := pub.SendWithRetry(ctx, strategy, []byte(src.Key), payload); err != nil {
			log.Printf("Failed to re-emit event for %q: %v", src.Key, err)
			continue
		}
		log.Printf("Re-emitted upload event for stuck entry %q (version %s)", src.Key, src.Version)
	}
}
