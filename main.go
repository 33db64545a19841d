package main

import (
	"log/slog"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/learningmaiyo/ancestral-echo/repository"
	"github.com/learningmaiyo/ancestral-echo/services"
)

func main() {
	// Setup structured logging with JSON format
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	config := services.LoadConfig()

	if config.Database.URL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := gorm.Open(postgres.Open(config.Database.URL), &gorm.Config{
		Logger: gormLogLevel(config.Database.LogLevel),
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to database")

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxIdleConns(config.Database.MaxIdleConns)
		sqlDB.SetMaxOpenConns(config.Database.MaxOpenConns)
	}

	repo := repository.NewGORMRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}

	if config.Database.Seed {
		seeder := services.NewDatabaseSeeder(repo)
		if err := seeder.SeedDatabase(); err != nil {
			slog.Error("Failed to seed database", "error", err)
		}
	}

	server := services.NewServer(config)
	server.SetDatabase(db)
	if err := server.InitializeServices(); err != nil {
		slog.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	server.Start()
}

func gormLogLevel(level string) gormlogger.Interface {
	switch level {
	case "info":
		return gormlogger.Default.LogMode(gormlogger.Info)
	case "warn":
		return gormlogger.Default.LogMode(gormlogger.Warn)
	case "error":
		return gormlogger.Default.LogMode(gormlogger.Error)
	default:
		return gormlogger.Default.LogMode(gormlogger.Silent)
	}
}
