// Package service provides business-logic for the app: accepting augmentation jobs and reviving stuck ones
package service

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/archive"
	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/UnendingLoop/ImageAugmentor/internal/mwlogger"
	"github.com/UnendingLoop/ImageAugmentor/internal/repository"
	"github.com/google/uuid"
)

// JobQueue - контракт для работы с очередью
type JobQueue interface {
	Enqueue(ctx context.Context, job model.Job) error
}

type IngestionService struct {
	repo      repository.JobRepo
	queue     JobQueue
	tempDir   string
	limits    archive.Limits
	orphanAge time.Duration
}

func NewIngestionService(repo repository.JobRepo, q JobQueue, tempDir string, limits archive.Limits, orphanAge time.Duration) *IngestionService {
	return &IngestionService{
		repo:      repo,
		queue:     q,
		tempDir:   tempDir,
		limits:    limits,
		orphanAge: orphanAge,
	}
}

// Submit extracts the archive into an isolated temp dir and enqueues the job.
// Returns as soon as the job is accepted, processing happens in the worker.
func (s *IngestionService) Submit(ctx context.Context, archiveData []byte, count int, ownerID string) (string, error) {
	logger := mwlogger.LoggerFromContext(ctx)

	if count < 1 {
		return "", model.ErrBadCount
	}
	if len(archiveData) == 0 {
		return "", model.ErrBadArchive
	}

	sessionID := uuid.New().String()
	tempPath := filepath.Join(s.tempDir, sessionID)

	if err := os.MkdirAll(tempPath, 0o755); err != nil {
		logger.Error().Err(err).Str("temp_path", tempPath).Msg("Failed to create temp dir")
		return "", model.ErrCommon500
	}

	if err := archive.Extract(archiveData, tempPath, s.limits); err != nil {
		s.removeTemp(ctx, tempPath)
		switch {
		case archive.IsTooBig(err):
			logger.Warn().Err(err).Str("session_id", sessionID).Msg("Rejected archive: too big when extracted")
			return "", model.ErrTooLarge
		case archive.IsRejected(err):
			logger.Warn().Err(err).Str("session_id", sessionID).Msg("Rejected archive")
			return "", model.ErrBadArchive
		default:
			logger.Error().Err(err).Str("temp_path", tempPath).Msg("Failed to extract archive")
			return "", model.ErrCommon500
		}
	}

	empty, err := isEmptyDir(tempPath)
	if err != nil || empty {
		s.removeTemp(ctx, tempPath)
		if err != nil {
			logger.Error().Err(err).Str("temp_path", tempPath).Msg("Failed to inspect extracted archive")
			return "", model.ErrCommon500
		}
		return "", model.ErrEmptyArchive
	}

	job := model.Job{
		SessionID:    sessionID,
		TempPath:     tempPath,
		VariantCount: count,
		OwnerUserID:  ownerID,
	}

	// ставим статус и таймстамп, шлем в базу
	now := time.Now().UTC()
	rec := &model.JobRecord{
		SessionID:    job.SessionID,
		TempPath:     job.TempPath,
		VariantCount: job.VariantCount,
		OwnerUserID:  job.OwnerUserID,
		Status:       model.StatusCreated,
		CreatedAt:    &now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		s.removeTemp(ctx, tempPath)
		logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to create job record in DB")
		return "", model.ErrCommon500
	}

	// кладем в очередь задач
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.removeTemp(ctx, tempPath)
		logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to publish job to queue")
		if mErr := s.repo.MarkFailed(ctx, sessionID, "enqueue failed: "+err.Error()); mErr != nil {
			logger.Error().Err(mErr).Str("session_id", sessionID).Msg("Failed to mark job as failed")
		}
		return "", model.ErrCommon500
	}

	logger.Info().Str("session_id", sessionID).Int("count", count).Str("owner", ownerID).Msg("Job accepted")
	return sessionID, nil
}

// ReviveOrphans re-enqueues jobs stuck in created/in_progress longer than orphanAge.
// Jobs whose local inputs are gone cannot be replayed and are marked failed.
func (s *IngestionService) ReviveOrphans(ctx context.Context, limit int) {
	logger := mwlogger.LoggerFromContext(ctx)

	orphans, err := s.repo.FetchOrphans(ctx, time.Now().UTC().Add(-s.orphanAge), limit)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load orphans from DB")
		return
	}

	for _, rec := range orphans {
		if _, err := os.Stat(rec.TempPath); err != nil {
			if mErr := s.repo.MarkFailed(ctx, rec.SessionID, "local inputs lost before processing"); mErr != nil {
				logger.Error().Err(mErr).Str("session_id", rec.SessionID).Msg("Failed to mark orphan as failed")
			}
			continue
		}

		if err := s.queue.Enqueue(ctx, rec.Job()); err != nil {
			logger.Error().Err(err).Str("session_id", rec.SessionID).Msg("Failed to publish orphan to queue")
			continue
		}

		// обновляем updated_at, чтобы не переотправлять задачу на каждом тике
		if err := s.repo.UpdateStatus(ctx, rec.SessionID, model.StatusCreated); err != nil {
			logger.Error().Err(err).Str("session_id", rec.SessionID).Msg("Failed to touch revived orphan")
		}
		logger.Info().Str("session_id", rec.SessionID).Msg("Orphan job re-enqueued")
	}
}

func (s *IngestionService) removeTemp(ctx context.Context, path string) {
	if err := os.RemoveAll(path); err != nil {
		logger := mwlogger.LoggerFromContext(ctx)
		logger.Error().Err(err).Str("temp_path", path).Msg("Failed to remove temp dir")
	}
}

var errFound = errors.New("found")

func isEmptyDir(dir string) (bool, error) {
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			return errFound
		}
		return nil
	})
	switch {
	case errors.Is(err, errFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}
