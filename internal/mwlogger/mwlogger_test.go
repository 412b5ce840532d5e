package mwlogger

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"
)

func TestNewMWLogger_RequestID(t *testing.T) {
	var sawLogger bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawLogger = r.Context().Value(loggerKey{}).(zlog.Zerolog)
	})
	h := NewMWLogger(next)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.True(t, sawLogger)
	require.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "given-id")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, "given-id", w.Header().Get(RequestIDHeader))
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithFields(WithLogger(context.Background(), base), "session_id", "abc", "dangling")
	l := LoggerFromContext(ctx)
	l.Info().Msg("hello")

	require.Contains(t, buf.String(), `"session_id":"abc"`)
	require.NotContains(t, buf.String(), "dangling")
}
