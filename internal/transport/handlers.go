// Package transport provides methods for processing requests from endpoints
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/UnendingLoop/ImageAugmentor/internal/mwlogger"
	"github.com/wb-go/wbf/ginext"
)

// запас на заголовки multipart и поле count поверх лимита на сам архив
const multipartOverhead = 1 << 20

type AugmentationHandler struct {
	service   IngestionService
	maxUpload int64
}

type IngestionService interface {
	Submit(ctx context.Context, archive []byte, count int, ownerID string) (string, error)
}

func NewAugmentationHandler(svc IngestionService, maxUpload int64) *AugmentationHandler {
	return &AugmentationHandler{
		service:   svc,
		maxUpload: maxUpload,
	}
}

func (h AugmentationHandler) SimplePinger(ctx *ginext.Context) {
	ctx.JSON(200, map[string]string{"message": "pong"})
}

// Upload accepts a zip-archive and a variant count; answers 202 as soon as the job is queued
func (h AugmentationHandler) Upload(ctx *ginext.Context) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, h.maxUpload+multipartOverhead)

	if err := ctx.Request.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ctx.JSON(errorCodeDefiner(model.ErrTooLarge), map[string]string{"error": model.ErrTooLarge.Error()})
			return
		}
		ctx.JSON(400, map[string]string{"error": model.ErrNoFile.Error()})
		return
	}

	// парсинг архива
	file, header, err := ctx.Request.FormFile("file")
	if err != nil {
		ctx.JSON(400, map[string]string{"error": model.ErrNoFile.Error()})
		return
	}
	defer closeFileFlow(file)

	if header.Size > h.maxUpload {
		ctx.JSON(errorCodeDefiner(model.ErrTooLarge), map[string]string{"error": model.ErrTooLarge.Error()})
		return
	}

	count, err := strconv.Atoi(ctx.Request.FormValue("count"))
	if err != nil || count < 1 {
		ctx.JSON(400, map[string]string{"error": model.ErrBadCount.Error()})
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload))
	if err != nil {
		logger := mwlogger.LoggerFromContext(ctx.Request.Context())
		logger.Error().Err(err).Msg("Failed to read uploaded archive")
		ctx.JSON(500, map[string]string{"error": model.ErrCommon500.Error()})
		return
	}

	// передаем в сервис
	sessionID, err := h.service.Submit(ctx.Request.Context(), data, count, ctx.GetString(userIDKey))
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(202, map[string]string{"sessionId": sessionID})
}
