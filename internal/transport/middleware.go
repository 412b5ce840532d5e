package transport

import (
	"context"
	"strconv"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/auth"
	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/UnendingLoop/ImageAugmentor/internal/mwlogger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wb-go/wbf/ginext"
)

const userIDKey = "userID"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "augmentor_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"method", "route", "code"})
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "augmentor_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type UserDirectory interface {
	ResolveActive(ctx context.Context, id string) (*model.User, error)
}

// Authenticate - проверка bearer-токена, кладет userID в контекст gin
func Authenticate(v TokenVerifier) func(*ginext.Context) {
	return func(ctx *ginext.Context) {
		token, err := auth.BearerToken(ctx.GetHeader("Authorization"))
		if err == nil {
			var userID string
			if userID, err = v.Verify(ctx.Request.Context(), token); err == nil {
				ctx.Set(userIDKey, userID)
				ctx.Next()
				return
			}
		}

		logger := mwlogger.LoggerFromContext(ctx.Request.Context())
		logger.Warn().Err(err).Msg("Request rejected: unauthenticated")
		ctx.AbortWithStatusJSON(errorCodeDefiner(err), map[string]string{"error": model.ErrUnauthorized.Error()})
	}
}

// Authorize - only existing active users may submit jobs
func Authorize(users UserDirectory) func(*ginext.Context) {
	return func(ctx *ginext.Context) {
		user, err := users.ResolveActive(ctx.Request.Context(), ctx.GetString(userIDKey))
		if err != nil {
			logger := mwlogger.LoggerFromContext(ctx.Request.Context())
			logger.Warn().Err(err).Msg("Request rejected: unauthorized")
			ctx.AbortWithStatusJSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
			return
		}

		reqCtx := mwlogger.WithFields(ctx.Request.Context(), "user_id", user.ID)
		ctx.Request = ctx.Request.WithContext(reqCtx)
		ctx.Next()
	}
}

// RequestMetrics counts requests per matched route
func RequestMetrics() func(*ginext.Context) {
	return func(ctx *ginext.Context) {
		start := time.Now()
		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := ctx.Request.Method
		httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
