// Package main (in worker-subfolder) launches the ingest worker consuming upload events
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnendingLoop/ImageIntake/internal/catalog"
	"github.com/UnendingLoop/ImageIntake/internal/codec"
	"github.com/UnendingLoop/ImageIntake/internal/failsink"
	"github.com/UnendingLoop/ImageIntake/internal/ingest"
	"github.com/UnendingLoop/ImageIntake/internal/kafka"
	"github.com/UnendingLoop/ImageIntake/internal/storage"
	"github.com/UnendingLoop/ImageIntake/internal/storage/miniostorage"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

func main() {
	// инициализировать конфиг/ считать энвы
	appConfig := config.New()
	appConfig.EnableEnv("")
	if err := appConfig.LoadEnvFiles("./.env"); err != nil {
		log.Fatalf("Failed to load envs: %s\nExiting app...", err)
	}

	// стартуем логгер
	zlog.InitConsole()
	if err := zlog.SetLevel("info"); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	// подключиться к базе - миграции накатывает api, воркер только читает/пишет
	dbConn := catalog.ConnectWithRetries(appConfig.GetString("POSTGRES_DSN"), 5, 10*time.Second)
	cat := catalog.NewPostgresCatalog(dbConn)

	// подключиться к хранилищу
	strgConfig := miniostorage.Config{
		Endpoint:      appConfig.GetString("MINIO_CONTAINER_NAME"),
		User:          appConfig.GetString("MINIO_USER"),
		Password:      appConfig.GetString("MINIO_PASS"),
		UseSSL:        appConfig.GetString("MINIO_SSL") == "true",
		SourceBucket:  appConfig.GetString("SOURCE_BUCKET"),
		VariantBucket: appConfig.GetString("VARIANT_BUCKET"),
	}
	strg := storage.NewImgStorage(strgConfig, 10*time.Second)

	// ждем пока кафка раздуплится
	broker := appConfig.GetString("KAFKA_BROKER")
	kafka.WaitReady(broker, 10*time.Second)

	// Listening to interruptions through context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// подключиться к кафке как читатель
	queue := make(chan kafkago.Message)
	retryStrategy := retry.Strategy{
		Attempts: 5,
		Delay:    2 * time.Second,
		Backoff:  1.5,
	}
	uploadsTopic := appConfig.GetString("KAFKA_TOPIC")
	groupID := appConfig.GetString("KAFKA_GROUPID")
	cons := wbfkafka.NewConsumer([]string{broker}, uploadsTopic, groupID)
	cons.StartConsuming(ctx, queue, retryStrategy)

	// продюсер уведомлений о терминальных сбоях
	failuresTopic := appConfig.GetString("KAFKA_FAILURE_TOPIC")
	notifier := wbfkafka.NewProducer([]string{broker}, failuresTopic)

	// сток терминальных сбоев пишет в журнал и шлет уведомления фоном
	sink := failsink.NewSink(cat, notifier, 64)
	go sink.Run(ctx)

	// Собираем воедино все что нужно воркеру и запускаем его
	workerConfig := ingest.Config{
		SourceBucket:  strgConfig.SourceBucket,
		VariantBucket: strgConfig.VariantBucket,
	}
	go ingest.NewWorkerInstance(strg, cat, codec.Codec{}, sink, queue, cons, workerConfig).StartWorker(ctx)

	// Waiting for interruption to stop context to start Graceful shutdown
	<-ctx.Done()

	shutdown(cons, notifier, dbConn)
	log.Println("Exiting worker...")
}

func shutdown(cons *wbfkafka.Consumer, notifier *wbfkafka.Producer, dbConn *dbpg.DB) {
	log.Println("Interrupt received!!! Starting shutdown sequence...")

	// Closing Kafka connections:
	if err := cons.Close(); err != nil {
		log.Println("Failed to close Kafka-reader:", err)
	}
	log.Println("Kafka-consumer connection closed.")

	if err := notifier.Close(); err != nil {
		log.Println("Failed to close Kafka-producer:", err)
	}
	log.Println("Kafka-producer connection closed.")

	// Closing DB connection
	if err := dbConn.Master.Close(); err != nil {
		log.Println("Failed to close DB-conn correctly:", err)
		return
	}
	log.Println("DBconn closed")
}
