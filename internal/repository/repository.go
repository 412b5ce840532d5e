// Package repository provides methods to work with DB
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/UnendingLoop/ImageAugmentor/internal/repository/jobpostgres"
	"github.com/UnendingLoop/ImageAugmentor/internal/repository/userpostgres"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"
)

type JobRepo interface {
	Create(ctx context.Context, n *model.JobRecord) error
	Get(ctx context.Context, id string) (*model.JobRecord, error)
	UpdateStatus(ctx context.Context, id string, newStat model.JobStatus) error
	SaveResult(ctx context.Context, id string, artifactKey string) error
	MarkFailed(ctx context.Context, id string, reason string) error
	FetchOrphans(ctx context.Context, olderThan time.Time, limit int) ([]model.JobRecord, error)
}

type UserRepo interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

func NewPostgresJobRepo(dbconn *dbpg.DB) JobRepo {
	return jobpostgres.PostgresRepo{DB: dbconn}
}

func NewPostgresUserRepo(dbconn *dbpg.DB) UserRepo {
	return userpostgres.PostgresRepo{DB: dbconn}
}

func ConnectWithRetries(ctx context.Context, dsn string, retryCount int, idleTime time.Duration) (*dbpg.DB, error) {
	dbOptions := dbpg.Options{
		MaxOpenConns:    5,
		MaxIdleConns:    5,
		ConnMaxLifetime: 10 * time.Minute,
	}
	var dbConn *dbpg.DB
	var err error

	for i := range retryCount {
		dbConn, err = dbpg.New(dsn, nil, &dbOptions)
		if err == nil {
			err = dbConn.Master.PingContext(ctx)
		}
		if err == nil {
			return dbConn, nil
		}
		zlog.Logger.Error().Err(err).Int("try", i+1).Msgf("Failed to connect to PGDB. Waiting %v before next retry...", idleTime)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(idleTime):
		}
	}

	return nil, fmt.Errorf("failed to connect to DB after %d tries: %w", retryCount, err)
}

func MigrateWithRetries(ctx context.Context, db *sql.DB, migrationsPath string, retries int, idle time.Duration) error {
	var err error
	for i := range retries {
		zlog.Logger.Info().Int("try", i+1).Msg("Running migrations...")
		if err = runMigrate(db, migrationsPath); err == nil {
			return nil
		}
		zlog.Logger.Error().Err(err).Msgf("Migration try #%d was unsuccessful. Waiting %v before next try...", i+1, idle)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(idle):
		}
	}
	return fmt.Errorf("out of migration retries: %w", err)
}

func runMigrate(db *sql.DB, migrationsPath string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}

	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return err
	}

	sourceURL := "file://" + absPath
	zlog.Logger.Info().Str("source", sourceURL).Msg("Running migrations from source")

	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	zlog.Logger.Info().Msg("Database migrations applied successfully")
	return nil
}
