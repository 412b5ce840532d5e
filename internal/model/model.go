// Package model provides data-structs for internal app-usage
package model

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type JobStatus string

const (
	StatusCreated    JobStatus = "created"
	StatusInProgress JobStatus = "in_progress"
	StatusFailed     JobStatus = "failed"
	StatusDone       JobStatus = "done"
)

var StatusMap = map[JobStatus]bool{
	StatusCreated:    true,
	StatusInProgress: true,
	StatusFailed:     true,
	StatusDone:       true,
}

//---------------------

// Job - payload of the queue message, immutable once enqueued
type Job struct {
	SessionID    string `json:"sessionId"`
	TempPath     string `json:"tempPath"`
	VariantCount int    `json:"variantCount"`
	OwnerUserID  string `json:"ownerUserId"`
}

// ArtifactKey - storage key of the packaged result for the job
func (j Job) ArtifactKey() string {
	return j.SessionID + ".zip"
}

// JobRecord - persisted state of a job, used for idempotency and orphan revival
type JobRecord struct {
	SessionID    string     `json:"sessionId"`
	TempPath     string     `json:"-"`
	VariantCount int        `json:"variantCount"`
	OwnerUserID  string     `json:"ownerUserId"`
	Status       JobStatus  `json:"status"`
	ArtifactKey  string     `json:"artifactKey,omitempty"`
	ErrMsg       string     `json:"error,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

func (r JobRecord) Job() Job {
	return Job{
		SessionID:    r.SessionID,
		TempPath:     r.TempPath,
		VariantCount: r.VariantCount,
		OwnerUserID:  r.OwnerUserID,
	}
}

// ObjectInfo - one entry of a bucket listing
type ObjectInfo struct {
	Key          string
	LastModified time.Time
}

// User - the part of the auth-service user that the pipeline needs
type User struct {
	ID       string
	Email    string
	IsActive bool
}

//---------------------

// Event - message pushed to realtime connections
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

const (
	EventResult = "result"
	EventError  = "error"
)

type ResultPayload struct {
	URL string `json:"url"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// ResultMessage - completion notice travelling from worker to the notification channel
type ResultMessage struct {
	SessionID   string `json:"sessionId"`
	OwnerUserID string `json:"ownerUserId"`
	URL         string `json:"url"`
}

// ------------------

var (
	ErrCommon500     error = errors.New("something went wrong. Try again later")  // 500
	ErrBadArchive    error = errors.New("only well-formed ZIP archives supported") // 400
	ErrEmptyArchive  error = errors.New("archive contains no files")               // 400
	ErrBadCount      error = errors.New("count must be an integer greater than 0") // 400
	ErrNoFile        error = errors.New("file is required")                        // 400
	ErrTooLarge      error = errors.New("archive exceeds upload limit")            // 413
	ErrUnauthorized  error = errors.New("missing or invalid bearer token")         // 401
	ErrUserInactive  error = errors.New("user is not active")                      // 403
	ErrUserNotFound  error = errors.New("user doesn't exist")                      // 401
	ErrJobNotFound   error = errors.New("specified job doesn't exist")             // 404
	ErrInvalidJob    error = errors.New("job payload is incomplete")
	ErrIncorrectStat error = errors.New("incorrect status provided")
)

// IsValidation reports whether err must be surfaced to the caller as a rejected upload
func IsValidation(err error) bool {
	return errors.Is(err, ErrBadArchive) ||
		errors.Is(err, ErrEmptyArchive) ||
		errors.Is(err, ErrBadCount) ||
		errors.Is(err, ErrNoFile) ||
		errors.Is(err, ErrTooLarge)
}

// Processing stages of a job
const (
	StageList      = "list"
	StageTransform = "transform"
	StagePack      = "pack"
	StageUpload    = "upload"
	StageNotify    = "notify"
)

// ProcessingError - any failure inside the worker pipeline
type ProcessingError struct {
	SessionID string
	Stage     string
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("job %q failed at %s stage: %v", e.SessionID, e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

//--------------------

const ZipContentType = "application/zip"

var SupportedImageExt = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// IsSupportedImage - only these files are read and augmented, everything else is skipped
func IsSupportedImage(name string) bool {
	return SupportedImageExt[strings.ToLower(filepath.Ext(name))]
}
