package main

import (
	"log"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/manoj8260/ConnectSphere/internal/auth"
	"github.com/manoj8260/ConnectSphere/internal/handlers"
	"github.com/manoj8260/ConnectSphere/internal/hub"
	"github.com/manoj8260/ConnectSphere/internal/models"
	"github.com/manoj8260/ConnectSphere/internal/rooms"
	"github.com/manoj8260/ConnectSphere/internal/routers"
	"github.com/manoj8260/ConnectSphere/internal/snapshots"
	"github.com/manoj8260/ConnectSphere/internal/store"
)

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// initDatabase connects to Postgres when DATABASE_URL is set and falls back
// to a local SQLite file for development.
func initDatabase() (*gorm.DB, error) {
	var dialector gorm.Dialector
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(getEnv("SQLITE_PATH", "connectsphere.db"))
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&models.Message{}, &models.UserSnapshot{}); err != nil {
		return nil, err
	}
	return db, nil
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	db, err := initDatabase()
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: getEnv("REDIS_ADDR", "redis:6379"),
	})

	registry := rooms.NewRegistry(rdb, logger)
	snaps := snapshots.NewService(db, rdb, logger)
	msgStore := store.NewMessageStore(db, registry, snaps, logger)
	hubs := hub.NewManager(logger)
	relay := hub.NewRelay(rdb, hubs, logger)
	verifier := auth.NewVerifier([]byte(getEnv("JWT_SECRET", "your-secret-key")))

	h := handlers.NewHandlers(logger, verifier, registry, msgStore, hubs, relay)

	if err := relay.Start(); err != nil {
		logger.Fatal("failed to start message relay", zap.Error(err))
	}
	go registry.SubscribeRoomEvents()
	go snaps.Consume()

	router := routers.New(logger, h)

	addr := ":" + getEnv("PORT", "8085")
	log.Printf("chat-gateway listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, router))
}
