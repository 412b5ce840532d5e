package auth

import (
	"context"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	userCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "augmentor_user_cache_hits_total",
		Help: "Number of user lookups served from the in-memory cache.",
	})
	userCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "augmentor_user_cache_misses_total",
		Help: "Number of user lookups that went to the database.",
	})
)

type UserRepo interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// Directory - user lookup with a small TTL-cache in front of the users table
type Directory struct {
	repo  UserRepo
	cache *expirable.LRU[string, *model.User]
}

func NewDirectory(repo UserRepo, size int, ttl time.Duration) *Directory {
	return &Directory{
		repo:  repo,
		cache: expirable.NewLRU[string, *model.User](size, nil, ttl),
	}
}

func (d *Directory) Lookup(ctx context.Context, id string) (*model.User, error) {
	if user, ok := d.cache.Get(id); ok {
		userCacheHits.Inc()
		return user, nil
	}
	userCacheMisses.Inc()

	user, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d.cache.Add(id, user)
	return user, nil
}

// ResolveActive - lookup that also rejects deactivated users
func (d *Directory) ResolveActive(ctx context.Context, id string) (*model.User, error) {
	user, err := d.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, model.ErrUserInactive
	}
	return user, nil
}
