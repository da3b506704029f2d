package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/churchos/internal/app/system/hostclass"
	"github.com/dalemusser/churchos/internal/app/system/timeouts"
	"github.com/dalemusser/churchos/internal/domain/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Classifier maps a hostname to its Classification. Both
// *hostclass.Classifier and *hostclass.Memo satisfy it.
type Classifier interface {
	Classify(host string) hostclass.Classification
}

// Directory looks tenants up. Misses must satisfy errors.Is(err, ErrNotFound);
// any other error is treated as transient.
type Directory interface {
	GetByKey(ctx context.Context, key string) (models.Tenant, error)
	GetByCustomDomain(ctx context.Context, host string) (models.Tenant, error)
}

// Resolver composes a Classifier and a Directory behind an optional Cache.
//
// Concurrent lookups for the same hostname share one directory round trip.
// The shared lookup runs detached from any single caller's cancellation and
// bounded by LookupTimeout; a caller whose context ends stops waiting and
// gets ctx.Err() without affecting the others.
type Resolver struct {
	classify Classifier
	dir      Directory
	cache    Cache
	log      *zap.Logger
	group    *singleflight.Group

	// LookupTimeout bounds one directory lookup. Zero means timeouts.Short().
	LookupTimeout time.Duration
}

// NewResolver builds a Resolver. cache may be nil.
func NewResolver(c Classifier, dir Directory, cache Cache, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{classify: c, dir: dir, cache: cache, log: logger, group: new(singleflight.Group)}
}

// WithCache returns a Resolver that reads and fills cache instead of r's
// cache. Lookups in flight are still shared with r.
func (r *Resolver) WithCache(cache Cache) *Resolver {
	return &Resolver{
		classify:      r.classify,
		dir:           r.dir,
		cache:         cache,
		log:           r.log,
		group:         r.group,
		LookupTimeout: r.LookupTimeout,
	}
}

// Resolve maps host to a Resolution. Failures are *ResolutionError, except
// caller cancellation which returns ctx.Err().
func (r *Resolver) Resolve(ctx context.Context, host string) (Resolution, error) {
	cl := r.classify.Classify(host)
	if cl.Kind == hostclass.PlatformDomain {
		return Resolution{Kind: cl.Kind, Host: cl.Host}, nil
	}

	if r.cache != nil {
		if res, ok := r.cache.Get(host); ok {
			return res, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}

	ch := r.group.DoChan(host, func() (interface{}, error) {
		return r.lookup(context.WithoutCancel(ctx), host, cl)
	})
	select {
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return Resolution{}, out.Err
		}
		res := out.Val.(Resolution)
		if r.cache != nil {
			r.cache.Set(host, res)
		}
		return res, nil
	}
}

// Invalidate drops the cached resolution for host.
func (r *Resolver) Invalidate(host string) {
	if r.cache != nil {
		r.cache.Clear(host)
	}
}

func (r *Resolver) lookup(ctx context.Context, host string, cl hostclass.Classification) (Resolution, error) {
	timeout := r.LookupTimeout
	if timeout <= 0 {
		timeout = timeouts.Short()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if cl.Legacy {
		r.log.Debug("legacy multi-label tenant host",
			zap.String("host", cl.Host),
			zap.String("key", cl.Key))
	}

	var (
		t   models.Tenant
		err error
	)
	if cl.Kind == hostclass.CustomDomain {
		t, err = r.dir.GetByCustomDomain(ctx, cl.Host)
	} else {
		t, err = r.dir.GetByKey(ctx, cl.Key)
	}

	switch {
	case errors.Is(err, ErrNotFound):
		r.log.Debug("tenant not found",
			zap.String("host", cl.Host),
			zap.String("kind", cl.Kind.String()))
		return Resolution{}, &ResolutionError{Kind: TenantNotFound, Host: cl.Host, Key: cl.Key}
	case err != nil:
		r.log.Warn("tenant lookup failed",
			zap.String("host", cl.Host),
			zap.Error(err))
		return Resolution{}, &ResolutionError{Kind: Transient, Host: cl.Host, Key: cl.Key, Err: err}
	case !t.WebsiteEnabled:
		return Resolution{}, &ResolutionError{Kind: TenantDisabled, Host: cl.Host, Key: t.Key}
	}

	return Resolution{
		Kind: cl.Kind,
		Host: cl.Host,
		Tenant: &Context{
			TenantID:    t.ID,
			Key:         t.Key,
			DisplayName: t.DisplayName,
			AccessKind:  cl.Kind,
		},
	}, nil
}
