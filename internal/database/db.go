package database

import (
	"log"

	"github.com/jobtrail/jobtrail/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(databaseURL string) *gorm.DB {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	log.Println("Database connection established")

	log.Println("Running Migrations...")
	err = db.AutoMigrate(
		&models.User{},
		&models.Application{},
		&models.StatusHistory{},
		&models.SyncCredential{},
		&models.SyncRun{},
		&models.ProcessedMessage{},
	)
	if err != nil {
		log.Fatal("Migration failed:", err)
	}
	return db
}
