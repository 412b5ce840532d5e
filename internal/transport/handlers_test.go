package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/ginext"
)

func TestAugmentationHandler_Ping(t *testing.T) {
	r := gin.New()
	h := NewAugmentationHandler(nil, 0)

	r.GET("/ping", func(c *gin.Context) {
		h.SimplePinger((*ginext.Context)(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "pong", body["message"])
}

func newMultipartRequest(t *testing.T, fields map[string]string, files map[string][]byte) *http.Request {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for name, content := range files {
		fw, err := w.CreateFormFile(name, "images.zip")
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/augmentation/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestAugmentationHandler_Upload(t *testing.T) {
	sid := uuid.New().String()
	ok := &mockIngestionService{
		submitFn: func(ctx context.Context, archive []byte, count int, ownerID string) (string, error) {
			require.Equal(t, []byte("zip-bytes"), archive)
			require.Equal(t, 3, count)
			require.Equal(t, "user-1", ownerID)
			return sid, nil
		},
	}

	tests := []struct {
		name       string
		req        *http.Request
		mock       *mockIngestionService
		maxUpload  int64
		wantStatus int
		wantBody   map[string]string
	}{
		{
			name:       "accepted",
			req:        newMultipartRequest(t, map[string]string{"count": "3"}, map[string][]byte{"file": []byte("zip-bytes")}),
			mock:       ok,
			wantStatus: 202,
			wantBody:   map[string]string{"sessionId": sid},
		},
		{
			name:       "missing file",
			req:        newMultipartRequest(t, map[string]string{"count": "3"}, nil),
			mock:       &mockIngestionService{},
			wantStatus: 400,
			wantBody:   map[string]string{"error": model.ErrNoFile.Error()},
		},
		{
			name:       "not multipart",
			req:        httptest.NewRequest(http.MethodPost, "/augmentation/upload", bytes.NewReader([]byte("{}"))),
			mock:       &mockIngestionService{},
			wantStatus: 400,
		},
		{
			name:       "count is not a number",
			req:        newMultipartRequest(t, map[string]string{"count": "many"}, map[string][]byte{"file": []byte("zip-bytes")}),
			mock:       &mockIngestionService{},
			wantStatus: 400,
			wantBody:   map[string]string{"error": model.ErrBadCount.Error()},
		},
		{
			name:       "zero count",
			req:        newMultipartRequest(t, map[string]string{"count": "0"}, map[string][]byte{"file": []byte("zip-bytes")}),
			mock:       &mockIngestionService{},
			wantStatus: 400,
		},
		{
			name:       "archive over limit",
			req:        newMultipartRequest(t, map[string]string{"count": "1"}, map[string][]byte{"file": bytes.Repeat([]byte("x"), 64)}),
			mock:       &mockIngestionService{},
			maxUpload:  16,
			wantStatus: 413,
		},
		{
			name: "malformed archive",
			req:  newMultipartRequest(t, map[string]string{"count": "1"}, map[string][]byte{"file": []byte("not a zip")}),
			mock: &mockIngestionService{
				submitFn: func(ctx context.Context, archive []byte, count int, ownerID string) (string, error) {
					return "", model.ErrBadArchive
				},
			},
			wantStatus: 400,
			wantBody:   map[string]string{"error": model.ErrBadArchive.Error()},
		},
		{
			name: "queue down",
			req:  newMultipartRequest(t, map[string]string{"count": "1"}, map[string][]byte{"file": []byte("zip")}),
			mock: &mockIngestionService{
				submitFn: func(ctx context.Context, archive []byte, count int, ownerID string) (string, error) {
					return "", model.ErrCommon500
				},
			},
			wantStatus: 500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maxUpload := tt.maxUpload
			if maxUpload == 0 {
				maxUpload = 1 << 20
			}
			r := gin.New()
			h := NewAugmentationHandler(tt.mock, maxUpload)

			r.POST("/augmentation/upload", func(c *gin.Context) {
				c.Set(userIDKey, "user-1")
				h.Upload((*ginext.Context)(c))
			})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, tt.req)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != nil {
				var body map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				require.Equal(t, tt.wantBody, body)
			}
		})
	}
}

func TestMiddlewareChain(t *testing.T) {
	verifier := &mockVerifier{verifyFn: func(ctx context.Context, token string) (string, error) {
		switch token {
		case "good":
			return "user-1", nil
		case "ghost":
			return "user-404", nil
		case "sleepy":
			return "user-sleepy", nil
		}
		return "", model.ErrUnauthorized
	}}
	users := &mockDirectory{resolveFn: func(ctx context.Context, id string) (*model.User, error) {
		switch id {
		case "user-1":
			return &model.User{ID: id, IsActive: true}, nil
		case "user-sleepy":
			return nil, model.ErrUserInactive
		}
		return nil, model.ErrUserNotFound
	}}

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"no header", "", 401},
		{"not bearer", "Basic abc", 401},
		{"bad token", "Bearer forged", 401},
		{"unknown user", "Bearer ghost", 401},
		{"inactive user", "Bearer sleepy", 403},
		{"ok", "Bearer good", 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(RequestMetrics())
			r.GET("/guarded", Authenticate(verifier), Authorize(users), func(c *gin.Context) {
				c.JSON(200, map[string]string{"user": c.GetString(userIDKey)})
			})

			req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == 200 {
				require.JSONEq(t, `{"user":"user-1"}`, w.Body.String())
			}
		})
	}
}

func TestErrorCodeDefiner(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.ErrBadArchive, 400},
		{model.ErrEmptyArchive, 400},
		{model.ErrBadCount, 400},
		{model.ErrNoFile, 400},
		{model.ErrTooLarge, 413},
		{model.ErrUnauthorized, 401},
		{model.ErrUserNotFound, 401},
		{model.ErrUserInactive, 403},
		{model.ErrJobNotFound, 404},
		{model.ErrCommon500, 500},
		{context.Canceled, 500},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			require.Equal(t, tt.want, errorCodeDefiner(tt.err))
		})
	}
}
