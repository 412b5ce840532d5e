package notify

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/auth"
	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/UnendingLoop/ImageAugmentor/internal/mwlogger"
	"github.com/gorilla/websocket"
	"github.com/wb-go/wbf/ginext"
)

// TokenVerifier - внешний коллаборатор проверки токена
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// UserDirectory - внешний коллаборатор поиска пользователя
type UserDirectory interface {
	ResolveActive(ctx context.Context, id string) (*model.User, error)
}

type Handler struct {
	hub      *Hub
	verifier TokenVerifier
	users    UserDirectory
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, v TokenVerifier, users UserDirectory) *Handler {
	return &Handler{
		hub:      hub,
		verifier: v,
		users:    users,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// клиенты - не только браузеры, origin не проверяем
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Connect upgrades the request, authenticates it and binds the connection to the user's room.
// Auth failure is reported as an error event followed by close.
func (h *Handler) Connect(ctx *ginext.Context) {
	logger := mwlogger.LoggerFromContext(ctx.Request.Context())

	conn, err := h.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	userID, err := h.authenticate(ctx.Request.Context(), ctx.GetHeader("Authorization"))
	if err != nil {
		logger.Warn().Err(err).Msg("Websocket connection rejected")
		rejectConn(conn, err)
		return
	}

	c := newClient(userID, conn)
	h.hub.Register(c)
	logger.Info().Str("user_id", userID).Msg("Websocket client joined")

	go c.writePump(logger)
	c.readPump()

	h.hub.Unregister(c)
	c.close()
	logger.Info().Str("user_id", userID).Msg("Websocket client left")
}

func (h *Handler) authenticate(ctx context.Context, header string) (string, error) {
	token, err := auth.BearerToken(header)
	if err != nil {
		return "", err
	}
	userID, err := h.verifier.Verify(ctx, token)
	if err != nil {
		return "", err
	}
	user, err := h.users.ResolveActive(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func rejectConn(conn *websocket.Conn, cause error) {
	defer func() { _ = conn.Close() }()

	msg := model.ErrUnauthorized.Error()
	if errors.Is(cause, model.ErrUserInactive) {
		msg = model.ErrUserInactive.Error()
	}

	deadline := time.Now().Add(writeWait)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(model.Event{Event: model.EventError, Data: model.ErrorPayload{Message: msg}}); err != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg), deadline)
}
