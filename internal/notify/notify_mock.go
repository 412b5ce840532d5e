package notify

import (
	"context"
	"sync"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/retry"
)

type mockVerifier struct {
	verifyFn func(ctx context.Context, token string) (string, error)
}

func (m *mockVerifier) Verify(ctx context.Context, token string) (string, error) {
	return m.verifyFn(ctx, token)
}

type mockDirectory struct {
	resolveFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockDirectory) ResolveActive(ctx context.Context, id string) (*model.User, error) {
	return m.resolveFn(ctx, id)
}

type mockProducer struct {
	sendFn func(ctx context.Context, strategy retry.Strategy, key []byte, v []byte) error
}

func (m *mockProducer) SendWithRetry(ctx context.Context, strategy retry.Strategy, key []byte, v []byte) error {
	return m.sendFn(ctx, strategy, key, v)
}

type mockCommitter struct {
	mu        sync.Mutex
	committed int
}

func (m *mockCommitter) Commit(ctx context.Context, msg kafkago.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed++
	return nil
}
