// Package worker consumes augmentation jobs and drives them through the pipeline:
// list -> transform fan-out -> pack -> upload -> notify, with cleanup on every exit path
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/archive"
	"github.com/UnendingLoop/ImageAugmentor/internal/imageproc"
	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/UnendingLoop/ImageAugmentor/internal/mwlogger"
	"github.com/UnendingLoop/ImageAugmentor/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "augmentor_jobs_total",
		Help: "Processed augmentation jobs by result.",
	}, []string{"result"})
	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "augmentor_job_duration_seconds",
		Help:    "Wall time of one augmentation job.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	variantsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "augmentor_variants_total",
		Help: "Augmented image variants written.",
	})
)

// JobRepo - часть репозитория задач, нужная воркеру
type JobRepo interface {
	Get(ctx context.Context, id string) (*model.JobRecord, error)
	UpdateStatus(ctx context.Context, id string, newStat model.JobStatus) error
	SaveResult(ctx context.Context, id string, artifactKey string) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

type ArtifactStorage interface {
	Put(ctx context.Context, key string, size int64, contentType string, r io.Reader) error
	ObjectURL(key string) string
}

// Notifier delivers the completion notice to the job owner
type Notifier interface {
	Notify(ctx context.Context, msg model.ResultMessage) error
}

// Committer - подтверждение обработки сообщения в очереди
type Committer interface {
	Commit(ctx context.Context, msg kafkago.Message) error
}

type Options struct {
	AugmentedDir string
	Parallelism  int
	StageTimeout time.Duration
}

type Worker struct {
	repo     JobRepo
	storage  ArtifactStorage
	notifier Notifier
	queue    <-chan kafkago.Message
	consumer Committer
	opts     Options
	augment  func(src, dst string, angle float64) error
}

func NewWorkerInstance(repo JobRepo, strg ArtifactStorage, n Notifier, q <-chan kafkago.Message, cons Committer, opts Options) *Worker {
	if opts.Parallelism < 1 {
		opts.Parallelism = runtime.NumCPU()
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 2 * time.Minute
	}
	return &Worker{repo: repo, storage: strg, notifier: n, queue: q, consumer: cons, opts: opts, augment: imageproc.Augment}
}

func (w *Worker) StartWorker(ctx context.Context) {
	logger := mwlogger.LoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-w.queue:
			if !ok {
				logger.Info().Msg("Queue channel closed, stopping worker...")
				return
			}
			// начатая задача доводится до конца даже при остановке процесса
			jobCtx := context.WithoutCancel(ctx)
			if !w.process(jobCtx, msg) {
				continue
			}
			if err := w.consumer.Commit(jobCtx, msg); err != nil {
				logger.Error().Err(err).Str("key", string(msg.Key)).Msg("Failed to commit queue-message")
			}
		}
	}
}

// process reports whether the message reached a terminal state and can be committed
func (w *Worker) process(ctx context.Context, msg kafkago.Message) bool {
	job, err := queue.Decode(msg)
	if err != nil {
		// битое сообщение - коммитим, иначе оно будет приходить вечно
		logger := mwlogger.LoggerFromContext(ctx)
		logger.Error().Err(err).Str("key", string(msg.Key)).Msg("Dropping undecodable job message")
		jobsTotal.WithLabelValues("poison").Inc()
		return true
	}

	jobCtx := mwlogger.WithFields(ctx, "session_id", job.SessionID, "owner", job.OwnerUserID)
	err = w.Handle(jobCtx, job)
	logger := mwlogger.LoggerFromContext(jobCtx)

	var pErr *model.ProcessingError
	switch {
	case err == nil:
		return true
	case errors.As(err, &pErr), errors.Is(err, model.ErrJobNotFound):
		logger.Error().Err(err).Msg("Job failed")
		return true
	default:
		// состояние задачи не удалось прочитать/обновить - оставляем сообщение для повторной доставки
		logger.Error().Err(err).Msg("Job left uncommitted")
		return false
	}
}

// Handle runs one job to a terminal state. Already completed jobs are skipped.
// Returned *model.ProcessingError means the job was recorded as failed.
func (w *Worker) Handle(ctx context.Context, job model.Job) error {
	logger := mwlogger.LoggerFromContext(ctx)

	rec, err := w.repo.Get(ctx, job.SessionID)
	if errors.Is(err, model.ErrJobNotFound) {
		// записи нет и не будет - сообщение коммитится, входные файлы больше никому не нужны
		w.cleanup(ctx, job.TempPath, w.augmentedPath(job))
		jobsTotal.WithLabelValues("unknown").Inc()
	}
	if err != nil {
		return fmt.Errorf("failed to fetch job %q from DB: %w", job.SessionID, err)
	}

	if rec.Status == model.StatusDone {
		logger.Info().Str("artifact", rec.ArtifactKey).Msg("Job already done, skipping redelivery")
		w.cleanup(ctx, job.TempPath, w.augmentedPath(job))
		jobsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	if err := w.repo.UpdateStatus(ctx, job.SessionID, model.StatusInProgress); err != nil {
		return fmt.Errorf("failed to update status of job %q to `in_progress` in DB: %w", job.SessionID, err)
	}

	start := time.Now()
	pErr := w.run(ctx, job)
	jobDuration.Observe(time.Since(start).Seconds())

	if pErr != nil {
		jobsTotal.WithLabelValues("failed").Inc()
		if mErr := w.repo.MarkFailed(ctx, job.SessionID, pErr.Error()); mErr != nil {
			logger.Error().Err(mErr).Msg("Failed to mark job as failed in DB")
		}
		return pErr
	}

	jobsTotal.WithLabelValues("done").Inc()
	logger.Info().Dur("took", time.Since(start)).Msg("Job done")
	return nil
}

func (w *Worker) run(ctx context.Context, job model.Job) *model.ProcessingError {
	logger := mwlogger.LoggerFromContext(ctx)
	augPath := w.augmentedPath(job)
	defer w.cleanup(ctx, job.TempPath, augPath)

	fail := func(stage string, err error) *model.ProcessingError {
		return &model.ProcessingError{SessionID: job.SessionID, Stage: stage, Err: err}
	}

	// 1. список картинок
	var images []string
	if err := w.stage(ctx, func(ctx context.Context) error {
		var err error
		images, err = listImages(job.TempPath)
		return err
	}); err != nil {
		return fail(model.StageList, err)
	}

	// 2-3. fan-out трансформаций, g.Wait - барьер перед упаковкой
	if err := w.stage(ctx, func(ctx context.Context) error {
		if err := os.MkdirAll(augPath, 0o755); err != nil {
			return err
		}
		return w.transform(ctx, job, images, augPath)
	}); err != nil {
		return fail(model.StageTransform, err)
	}

	// 4. упаковка
	var buf *bytes.Buffer
	if err := w.stage(ctx, func(ctx context.Context) error {
		var err error
		buf, err = archive.Pack(augPath)
		return err
	}); err != nil {
		return fail(model.StagePack, err)
	}

	// 5. загрузка в хранилище
	key := job.ArtifactKey()
	if err := w.stage(ctx, func(ctx context.Context) error {
		return w.storage.Put(ctx, key, int64(buf.Len()), model.ZipContentType, buf)
	}); err != nil {
		return fail(model.StageUpload, err)
	}

	// 6. ссылка на скачивание
	url := w.storage.ObjectURL(key)

	if err := w.repo.SaveResult(ctx, job.SessionID, key); err != nil {
		logger.Error().Err(err).Msg("Failed to save job result to DB")
	}

	// 7. уведомление - ошибка не отменяет загруженный результат
	if err := w.stage(ctx, func(ctx context.Context) error {
		return w.notifier.Notify(ctx, model.ResultMessage{
			SessionID:   job.SessionID,
			OwnerUserID: job.OwnerUserID,
			URL:         url,
		})
	}); err != nil {
		logger.Warn().Err(fail(model.StageNotify, err)).Msg("Result uploaded but owner was not notified")
	}

	return nil
}

// stage runs fn under the stage timeout; expiry is reported as an error even if fn ignored ctx
func (w *Worker) stage(ctx context.Context, fn func(ctx context.Context) error) error {
	stageCtx, cancel := context.WithTimeout(ctx, w.opts.StageTimeout)
	defer cancel()

	if err := fn(stageCtx); err != nil {
		return err
	}
	return stageCtx.Err()
}

func (w *Worker) transform(ctx context.Context, job model.Job, images []string, augPath string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Parallelism)

	for _, name := range images {
		src := filepath.Join(job.TempPath, name)
		for i := range job.VariantCount {
			dst := filepath.Join(augPath, imageproc.VariantName(i, name))
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := w.augment(src, dst, imageproc.RandomAngle()); err != nil {
					return err
				}
				variantsTotal.Inc()
				return nil
			})
		}
	}

	return g.Wait()
}

// listImages returns supported image names at the top level of dir, everything else is skipped
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	images := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !model.IsSupportedImage(e.Name()) {
			continue
		}
		images = append(images, e.Name())
	}
	sort.Strings(images)
	return images, nil
}

func (w *Worker) augmentedPath(job model.Job) string {
	return filepath.Join(w.opts.AugmentedDir, job.SessionID)
}

// cleanup removes local job directories in parallel, errors are only logged
func (w *Worker) cleanup(ctx context.Context, dirs ...string) {
	logger := mwlogger.LoggerFromContext(ctx)

	var wg conc.WaitGroup
	for _, dir := range dirs {
		wg.Go(func() {
			if err := os.RemoveAll(dir); err != nil {
				logger.Error().Err(err).Str("dir", dir).Msg("Failed to remove job dir")
			}
		})
	}
	wg.Wait()
}
