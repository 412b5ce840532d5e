package worker

import (
	"context"
	"io"
	"sync"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	kafkago "github.com/segmentio/kafka-go"
)

type mockJobRepo struct {
	getFn        func(ctx context.Context, id string) (*model.JobRecord, error)
	updateFn     func(ctx context.Context, id string, st model.JobStatus) error
	saveResultFn func(ctx context.Context, id string, key string) error
	markFailedFn func(ctx context.Context, id string, reason string) error
}

func (m *mockJobRepo) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	return m.getFn(ctx, id)
}

func (m *mockJobRepo) UpdateStatus(ctx context.Context, id string, st model.JobStatus) error {
	return m.updateFn(ctx, id, st)
}

func (m *mockJobRepo) SaveResult(ctx context.Context, id string, key string) error {
	return m.saveResultFn(ctx, id, key)
}

func (m *mockJobRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	return m.markFailedFn(ctx, id, reason)
}

//----------------------------------

type mockStorage struct {
	putFn func(ctx context.Context, key string, size int64, ct string, r io.Reader) error
}

func (m *mockStorage) Put(ctx context.Context, key string, size int64, ct string, r io.Reader) error {
	return m.putFn(ctx, key, size, ct, r)
}

func (m *mockStorage) ObjectURL(key string) string {
	return "http://minio:9000/augmentation/" + key
}

//----------------------------------

type mockNotifier struct {
	notifyFn func(ctx context.Context, msg model.ResultMessage) error
}

func (m *mockNotifier) Notify(ctx context.Context, msg model.ResultMessage) error {
	return m.notifyFn(ctx, msg)
}

//----------------------------------

type mockCommitter struct {
	mu        sync.Mutex
	committed []string
}

func (m *mockCommitter) Commit(ctx context.Context, msg kafkago.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, string(msg.Key))
	return nil
}
