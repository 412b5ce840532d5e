package service

import (
	"context"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
)

// MOCK RESPOSITORY

type mockRepo struct {
	createFn       func(ctx context.Context, rec *model.JobRecord) error
	getFn          func(ctx context.Context, id string) (*model.JobRecord, error)
	updateStatusFn func(ctx context.Context, id string, st model.JobStatus) error
	saveResultFn   func(ctx context.Context, id string, key string) error
	markFailedFn   func(ctx context.Context, id string, reason string) error
	fetchOrphansFn func(ctx context.Context, olderThan time.Time, limit int) ([]model.JobRecord, error)
}

func (m *mockRepo) Create(ctx context.Context, rec *model.JobRecord) error {
	return m.createFn(ctx, rec)
}

func (m *mockRepo) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	return m.getFn(ctx, id)
}

func (m *mockRepo) UpdateStatus(ctx context.Context, id string, st model.JobStatus) error {
	return m.updateStatusFn(ctx, id, st)
}

func (m *mockRepo) SaveResult(ctx context.Context, id string, key string) error {
	return m.saveResultFn(ctx, id, key)
}

func (m *mockRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	return m.markFailedFn(ctx, id, reason)
}

func (m *mockRepo) FetchOrphans(ctx context.Context, olderThan time.Time, limit int) ([]model.JobRecord, error) {
	return m.fetchOrphansFn(ctx, olderThan, limit)
}

// MOCK QUEUE

type mockQueue struct {
	enqueueFn func(ctx context.Context, job model.Job) error
}

func (m *mockQueue) Enqueue(ctx context.Context, job model.Job) error {
	return m.enqueueFn(ctx, job)
}
