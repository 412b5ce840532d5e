package jobpostgres

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/wb-go/wbf/dbpg"
)

type PostgresRepo struct {
	DB *dbpg.DB
}

func (p PostgresRepo) Create(ctx context.Context, n *model.JobRecord) error {
	query := `INSERT INTO augmentation_jobs (session_id, temp_path, variant_count, owner_user_id, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := p.DB.Master.ExecContext(ctx, query, n.SessionID, n.TempPath, n.VariantCount, n.OwnerUserID, n.Status, n.CreatedAt, n.CreatedAt)
	return err
}

func (p PostgresRepo) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	query := `SELECT session_id, temp_path, variant_count, owner_user_id, status, artifact_key, err_msg, created_at, updated_at
	FROM augmentation_jobs
	WHERE session_id = $1`
	var rec model.JobRecord
	var artifactKey, errMsg sql.NullString

	err := p.DB.QueryRowContext(ctx, query, id).Scan(&rec.SessionID,
		&rec.TempPath,
		&rec.VariantCount,
		&rec.OwnerUserID,
		&rec.Status,
		&artifactKey,
		&errMsg,
		&rec.CreatedAt,
		&rec.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, model.ErrJobNotFound // 404
		default:
			return nil, err // 500
		}
	}
	rec.ArtifactKey = artifactKey.String
	rec.ErrMsg = errMsg.String
	return &rec, nil
}

func (p PostgresRepo) UpdateStatus(ctx context.Context, id string, newStat model.JobStatus) error {
	if !model.StatusMap[newStat] {
		return model.ErrIncorrectStat
	}
	query := `UPDATE augmentation_jobs SET status = $1, updated_at = now() WHERE session_id = $2`
	return p.execOne(ctx, query, newStat, id)
}

func (p PostgresRepo) SaveResult(ctx context.Context, id string, artifactKey string) error {
	query := `UPDATE augmentation_jobs SET status = $1, artifact_key = $2, err_msg = NULL, updated_at = now() WHERE session_id = $3`
	return p.execOne(ctx, query, model.StatusDone, artifactKey, id)
}

func (p PostgresRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	query := `UPDATE augmentation_jobs SET status = $1, err_msg = $2, updated_at = now() WHERE session_id = $3`
	return p.execOne(ctx, query, model.StatusFailed, reason, id)
}

// FetchOrphans - jobs that got stuck before reaching a terminal state
func (p PostgresRepo) FetchOrphans(ctx context.Context, olderThan time.Time, limit int) ([]model.JobRecord, error) {
	query := `SELECT session_id, temp_path, variant_count, owner_user_id, status
	FROM augmentation_jobs
	WHERE status IN ($1, $2)
	AND updated_at < $3
	ORDER BY updated_at
	LIMIT $4`

	rows, err := p.DB.QueryContext(ctx, query, model.StatusCreated, model.StatusInProgress, olderThan, limit)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Error while closing *sql.Rows after scanning: %v", err)
		}
	}()

	orphans := make([]model.JobRecord, 0, limit)
	for rows.Next() {
		var rec model.JobRecord
		if err := rows.Scan(&rec.SessionID, &rec.TempPath, &rec.VariantCount, &rec.OwnerUserID, &rec.Status); err != nil {
			return nil, err
		}
		orphans = append(orphans, rec)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return orphans, nil
}

func (p PostgresRepo) execOne(ctx context.Context, query string, args ...any) error {
	res, err := p.DB.Master.ExecContext(ctx, query, args...)
	if err != nil {
		return err // 500
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrJobNotFound // 404
	}
	return nil
}
