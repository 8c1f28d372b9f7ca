// Package main (in api-subfolder) launches the intake API: upload grants and the catalog listing
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnendingLoop/ImageIntake/internal/catalog"
	"github.com/UnendingLoop/ImageIntake/internal/grant"
	"github.com/UnendingLoop/ImageIntake/internal/kafka"
	"github.com/UnendingLoop/ImageIntake/internal/listing"
	"github.com/UnendingLoop/ImageIntake/internal/mwlogger"
	"github.com/UnendingLoop/ImageIntake/internal/storage"
	"github.com/UnendingLoop/ImageIntake/internal/storage/miniostorage"
	"github.com/UnendingLoop/ImageIntake/internal/transport"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/ginext"
	wbfkafka "github.com/wb-go/wbf/kafka"
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

	// готовим заранее слушатель прерываний - контекст для всего приложения
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// подключиться к базе и накатить миграцию
	dbConn := catalog.ConnectWithRetries(appConfig.GetString("POSTGRES_DSN"), 5, 10*time.Second)
	catalog.MigrateWithRetries(dbConn.Master, "./migrations", 10, 15*time.Second)
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

	// ждем пока кафка раздуплится, затем создаем оба топика
	broker := appConfig.GetString("KAFKA_BROKER")
	kafka.WaitReady(broker, 10*time.Second)
	uploadsTopic := appConfig.GetString("KAFKA_TOPIC")
	failuresTopic := appConfig.GetString("KAFKA_FAILURE_TOPIC")
	kafka.EnsureTopics(ctx, broker, 10*time.Second, uploadsTopic, failuresTopic)
	pub := wbfkafka.NewProducer([]string{broker}, uploadsTopic)

	// собираем сервисы
	issuer := grant.NewIssuer(strg, grant.Config{
		Bucket: strgConfig.SourceBucket,
	})
	reader := listing.NewReader(cat, strg, listing.Config{
		SourceBucket:  strgConfig.SourceBucket,
		VariantBucket: strgConfig.VariantBucket,
	})
	handlers := transport.NewIntakeHandler(issuer, reader)

	// сетапим сервер
	mode := appConfig.GetString("GIN_MODE")
	engine := ginext.New(mode)

	engine.GET("/ping", handlers.SimplePinger)
	engine.POST("/grants/*key", handlers.RequestGrant) // выдача гранта на загрузку
	engine.GET("/images", handlers.ListImages)         // список картинок со ссылками

	srv := &http.Server{
		Addr:    ":" + appConfig.GetString("APP_PORT"),
		Handler: mwlogger.NewMWLogger(engine),
	}

	// Server launch
	go func() {
		log.Printf("Server running on http://localhost%s\n", srv.Addr)
		err := srv.ListenAndServe()
		if err != nil {
			switch {
			case errors.Is(err, http.ErrServerClosed):
				log.Println("Server gracefully stopping...")
			default:
				log.Printf("Server stopped: %v", err)
				stop()
			}
		}
	}()

	// запускаем фоновый цикл переотправки событий по подвисшим записям
	go reviveLoop(ctx, cat, pub)

	// ждем отмены контекста для запуска грейсфул закрытия соединений бд и кафки
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("Failed to shutdown HTTP-server correctly:", err)
	}

	shutdown(pub, dbConn)
	log.Println("Exiting api...")
}

func shutdown(pub *wbfkafka.Producer, dbConn *dbpg.DB) {
	log.Println("Interrupt received!!! Starting shutdown sequence...")

	// Closing Kafka connection:
	if err := pub.Close(); err != nil {
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
