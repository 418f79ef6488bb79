package testhelpers

import (
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/manoj8260/ConnectSphere/internal/models"
)

// SetupTestDB creates an isolated in-memory SQLite database for tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Message{}, &models.UserSnapshot{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// DropMessagesTable removes the messages table to force store errors.
func DropMessagesTable(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := db.Migrator().DropTable(&models.Message{}); err != nil {
		t.Fatalf("failed to drop messages table: %v", err)
	}
}
