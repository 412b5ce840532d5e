package worker

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	job     model.Job
	augDir  string
	repo    *mockJobRepo
	storage *mockStorage
	notify  *mockNotifier

	mu       sync.Mutex
	statuses []model.JobStatus
	failed   string
	saved    string
	uploaded map[string][]byte
	notified []model.ResultMessage
}

// newFixture - задача с входными файлами и моками, которые всё запоминают
func newFixture(t *testing.T, count int, files map[string][]byte) *fixture {
	t.Helper()

	root := t.TempDir()
	sid := uuid.New().String()
	tempPath := filepath.Join(root, "temp", sid)
	require.NoError(t, os.MkdirAll(tempPath, 0o755))
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(tempPath, name), data, 0o644))
	}

	f := &fixture{
		job: model.Job{
			SessionID:    sid,
			TempPath:     tempPath,
			VariantCount: count,
			OwnerUserID:  "user-1",
		},
		augDir:   filepath.Join(root, "augmented"),
		uploaded: map[string][]byte{},
	}

	f.repo = &mockJobRepo{
		getFn: func(ctx context.Context, id string) (*model.JobRecord, error) {
			return &model.JobRecord{SessionID: id, Status: model.StatusCreated}, nil
		},
		updateFn: func(ctx context.Context, id string, st model.JobStatus) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.statuses = append(f.statuses, st)
			return nil
		},
		saveResultFn: func(ctx context.Context, id string, key string) error {
			f.saved = key
			return nil
		},
		markFailedFn: func(ctx context.Context, id string, reason string) error {
			f.failed = reason
			return nil
		},
	}
	f.storage = &mockStorage{
		putFn: func(ctx context.Context, key string, size int64, ct string, r io.Reader) error {
			require.Equal(t, model.ZipContentType, ct)
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			require.Equal(t, size, int64(len(data)))
			f.uploaded[key] = data
			return nil
		},
	}
	f.notify = &mockNotifier{
		notifyFn: func(ctx context.Context, msg model.ResultMessage) error {
			f.notified = append(f.notified, msg)
			return nil
		},
	}
	return f
}

func (f *fixture) worker(opts Options) *Worker {
	opts.AugmentedDir = f.augDir
	return NewWorkerInstance(f.repo, f.storage, f.notify, nil, nil, opts)
}

func (f *fixture) requireCleaned(t *testing.T) {
	t.Helper()
	require.NoDirExists(t, f.job.TempPath)
	require.NoDirExists(t, filepath.Join(f.augDir, f.job.SessionID))
}

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// HANDLE - SUCCESS
func TestWorker_Handle_Scenario(t *testing.T) {
	f := newFixture(t, 3, map[string][]byte{
		"a.jpg":     validJPEG(),
		"b.png":     validPNG(),
		"notes.txt": []byte("not an image"),
	})

	err := f.worker(Options{Parallelism: 2, StageTimeout: time.Minute}).Handle(context.Background(), f.job)
	require.NoError(t, err)

	key := f.job.SessionID + ".zip"
	require.Contains(t, f.uploaded, key)
	require.Equal(t, []string{
		"augmented_0_a.jpg", "augmented_0_b.png",
		"augmented_1_a.jpg", "augmented_1_b.png",
		"augmented_2_a.jpg", "augmented_2_b.png",
	}, zipNames(t, f.uploaded[key]))

	require.Equal(t, []model.JobStatus{model.StatusInProgress}, f.statuses)
	require.Equal(t, key, f.saved)
	require.Empty(t, f.failed)

	require.Len(t, f.notified, 1)
	require.Equal(t, "user-1", f.notified[0].OwnerUserID)
	require.Equal(t, "http://minio:9000/augmentation/"+key, f.notified[0].URL)

	f.requireCleaned(t)
}

// HANDLE - FAILURES
func TestWorker_Handle_Failures(t *testing.T) {
	tests := []struct {
		name      string
		files     map[string][]byte
		prepare   func(f *fixture)
		wantStage string
	}{
		{
			name:      "corrupt image",
			files:     map[string][]byte{"a.png": validPNG(), "bad.png": []byte("garbage")},
			wantStage: model.StageTransform,
		},
		{
			name:  "inputs lost",
			files: map[string][]byte{"a.png": validPNG()},
			prepare: func(f *fixture) {
				require.NoError(t, os.RemoveAll(f.job.TempPath))
			},
			wantStage: model.StageList,
		},
		{
			name:  "storage down",
			files: map[string][]byte{"a.png": validPNG()},
			prepare: func(f *fixture) {
				f.storage.putFn = func(ctx context.Context, key string, size int64, ct string, r io.Reader) error {
					return errors.New("storage down")
				}
			},
			wantStage: model.StageUpload,
		},
		{
			name:  "upload timeout",
			files: map[string][]byte{"a.png": validPNG()},
			prepare: func(f *fixture) {
				f.storage.putFn = func(ctx context.Context, key string, size int64, ct string, r io.Reader) error {
					<-ctx.Done()
					return ctx.Err()
				}
			},
			wantStage: model.StageUpload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 2, tt.files)
			if tt.prepare != nil {
				tt.prepare(f)
			}

			err := f.worker(Options{Parallelism: 4, StageTimeout: 200 * time.Millisecond}).Handle(context.Background(), f.job)

			var pErr *model.ProcessingError
			require.ErrorAs(t, err, &pErr)
			require.Equal(t, tt.wantStage, pErr.Stage)
			require.Equal(t, f.job.SessionID, pErr.SessionID)

			require.NotEmpty(t, f.failed)
			require.Empty(t, f.saved)
			require.Empty(t, f.notified)
			f.requireCleaned(t)
		})
	}
}

func TestWorker_Handle_NotifyFailureKeepsResult(t *testing.T) {
	f := newFixture(t, 1, map[string][]byte{"a.png": validPNG()})
	f.notify.notifyFn = func(ctx context.Context, msg model.ResultMessage) error {
		return errors.New("broker down")
	}

	err := f.worker(Options{}).Handle(context.Background(), f.job)
	require.NoError(t, err)
	require.Equal(t, f.job.ArtifactKey(), f.saved)
	require.Empty(t, f.failed)
	f.requireCleaned(t)
}

// IDEMPOTENCY
func TestWorker_Handle_AlreadyDone(t *testing.T) {
	f := newFixture(t, 1, map[string][]byte{"a.png": validPNG()})
	f.repo.getFn = func(ctx context.Context, id string) (*model.JobRecord, error) {
		return &model.JobRecord{SessionID: id, Status: model.StatusDone, ArtifactKey: id + ".zip"}, nil
	}

	require.NoError(t, f.worker(Options{}).Handle(context.Background(), f.job))
	require.Empty(t, f.statuses)
	require.Empty(t, f.uploaded)
	require.Empty(t, f.notified)
	f.requireCleaned(t)
}

func TestWorker_Handle_RedeliveryOverwritesSameKey(t *testing.T) {
	f := newFixture(t, 2, map[string][]byte{"a.png": validPNG()})
	w := f.worker(Options{})

	for range 2 {
		// повторная доставка до того, как статус стал done: входные файлы на месте
		require.NoError(t, os.MkdirAll(f.job.TempPath, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(f.job.TempPath, "a.png"), validPNG(), 0o644))
		require.NoError(t, w.Handle(context.Background(), f.job))
	}

	require.Len(t, f.uploaded, 1)
	require.Equal(t, []string{"augmented_0_a.png", "augmented_1_a.png"}, zipNames(t, f.uploaded[f.job.ArtifactKey()]))
}

func TestWorker_Handle_UnknownJobCleansInputs(t *testing.T) {
	f := newFixture(t, 1, map[string][]byte{"a.png": validPNG()})
	f.repo.getFn = func(ctx context.Context, id string) (*model.JobRecord, error) {
		return nil, model.ErrJobNotFound
	}

	err := f.worker(Options{}).Handle(context.Background(), f.job)
	require.ErrorIs(t, err, model.ErrJobNotFound)
	require.Empty(t, f.statuses)
	require.Empty(t, f.uploaded)
	f.requireCleaned(t)
}

// CONCURRENCY BOUND
func TestWorker_transform_RespectsParallelism(t *testing.T) {
	const parallelism = 3

	images := []string{"a.png", "b.png", "c.jpg", "d.jpg", "e.webp"}
	job := model.Job{SessionID: "s", TempPath: t.TempDir(), VariantCount: 4}

	var inFlight, peak, calls atomic.Int32
	w := NewWorkerInstance(nil, nil, nil, nil, nil, Options{Parallelism: parallelism})
	w.augment = func(src, dst string, angle float64) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return nil
	}

	require.NoError(t, w.transform(context.Background(), job, images, t.TempDir()))
	require.Equal(t, int32(len(images)*job.VariantCount), calls.Load())
	require.LessOrEqual(t, peak.Load(), int32(parallelism))
	require.Greater(t, peak.Load(), int32(1))
}

func TestWorker_transform_StopsOnFirstError(t *testing.T) {
	job := model.Job{SessionID: "s", TempPath: t.TempDir(), VariantCount: 10}

	var calls atomic.Int32
	w := NewWorkerInstance(nil, nil, nil, nil, nil, Options{Parallelism: 1})
	w.augment = func(src, dst string, angle float64) error {
		calls.Add(1)
		return errors.New("broken image")
	}

	err := w.transform(context.Background(), job, []string{"a.png"}, t.TempDir())
	require.EqualError(t, err, "broken image")
	require.Equal(t, int32(1), calls.Load())
}

// COMMIT POLICY
func TestWorker_process(t *testing.T) {
	f := newFixture(t, 1, map[string][]byte{"a.png": validPNG()})
	payload, err := json.Marshal(f.job)
	require.NoError(t, err)

	tests := []struct {
		name       string
		value      []byte
		getErr     error
		wantCommit bool
	}{
		{"poison message", []byte("{not json"), nil, true},
		{"incomplete job", []byte(`{"sessionId":"x"}`), nil, true},
		{"unknown job", payload, model.ErrJobNotFound, true},
		{"db down", payload, errors.New("db down"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.repo.getFn = func(ctx context.Context, id string) (*model.JobRecord, error) {
				return nil, tt.getErr
			}
			w := f.worker(Options{})
			got := w.process(context.Background(), kafkago.Message{Key: []byte("k"), Value: tt.value})
			require.Equal(t, tt.wantCommit, got)
		})
	}
}

func TestWorker_StartWorker_CommitsTerminalJobs(t *testing.T) {
	f := newFixture(t, 1, map[string][]byte{"a.png": validPNG()})
	payload, err := json.Marshal(f.job)
	require.NoError(t, err)

	q := make(chan kafkago.Message, 2)
	q <- kafkago.Message{Key: []byte("poison"), Value: []byte("???")}
	q <- kafkago.Message{Key: []byte(f.job.SessionID), Value: payload}
	close(q)

	cons := &mockCommitter{}
	w := NewWorkerInstance(f.repo, f.storage, f.notify, q, cons, Options{AugmentedDir: f.augDir})
	w.StartWorker(context.Background())

	require.Equal(t, []string{"poison", f.job.SessionID}, cons.committed)
	require.Contains(t, f.uploaded, f.job.ArtifactKey())
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.PNG", "a.jpeg", "c.webp", "d.gif", "readme.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested.png"), 0o755))

	got, err := listImages(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"a.jpeg", "b.PNG", "c.webp"}, got)
}

func validPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 100, G: 100, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func validJPEG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, nil)
	return buf.Bytes()
}
