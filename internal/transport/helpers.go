package transport

import (
	"errors"
	"io"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/wb-go/wbf/zlog"
)

func errorCodeDefiner(err error) int {
	switch {
	case errors.Is(err, model.ErrCommon500):
		return 500
	case errors.Is(err, model.ErrUnauthorized),
		errors.Is(err, model.ErrUserNotFound):
		return 401
	case errors.Is(err, model.ErrUserInactive):
		return 403
	case errors.Is(err, model.ErrJobNotFound):
		return 404
	case errors.Is(err, model.ErrTooLarge):
		return 413
	case model.IsValidation(err):
		return 400
	default:
		return 500
	}
}

func closeFileFlow(res io.ReadCloser) {
	if res == nil {
		return
	}
	if err := res.Close(); err != nil {
		zlog.Logger.Warn().Err(err).Msg("Handler failed to close fileflow")
	}
}
