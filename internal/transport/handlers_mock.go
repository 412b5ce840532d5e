package transport

import (
	"context"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/gin-gonic/gin"
)

type mockIngestionService struct {
	submitFn func(ctx context.Context, archive []byte, count int, ownerID string) (string, error)
}

func (m *mockIngestionService) Submit(ctx context.Context, archive []byte, count int, ownerID string) (string, error) {
	return m.submitFn(ctx, archive, count, ownerID)
}

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

func init() {
	gin.SetMode(gin.TestMode)
}
