// Package storage wires the app to its object-storage backend
package storage

import (
	"log"
	"time"

	"github.com/UnendingLoop/ImageIntake/internal/storage/miniostorage"
)

// NewImgStorage connects to the storage backend, retrying until it is up.
func NewImgStorage(cfg miniostorage.Config, delay time.Duration) *miniostorage.MinioImageStorage {
	for {
		log.Println("Connecting to IMG-storage...")
		client, err := miniostorage.NewMinioClient(cfg)
		if err != nil {
			log.Printf("Failed to init connection to IMG-storage: %v\nNext retry in %v...", err, delay)
			time.Sleep(delay)
			continue
		}
		log.Println("Successfully connected IMG-storage!")
		return client
	}
}
