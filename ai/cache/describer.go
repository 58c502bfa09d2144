package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultDescriptionCapacity = 2000
	defaultDescriptionTTL      = 24 * time.Hour
	describeTimeout            = 45 * time.Second
)

// ImageDescriber describes the image at a URL.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, url string) (string, error)
}

// Describer memoises image descriptions by URL. Snap media never changes once uploaded.
type Describer struct {
	inner    ImageDescriber
	cache    *LRUCache[string, string]
	inflight singleflight.Group
}

// NewDescriber wraps inner with a cache of the given capacity and TTL.
func NewDescriber(inner ImageDescriber, capacity int, ttl time.Duration) *Describer {
	if capacity <= 0 {
		capacity = defaultDescriptionCapacity
	}
	if ttl <= 0 {
		ttl = defaultDescriptionTTL
	}
	return &Describer{inner: inner, cache: NewLRUCache[string, string](capacity, ttl)}
}

// DescribeImage returns the cached description or asks the inner describer.
// Failures and empty descriptions are not cached. Concurrent calls for one URL share
// a single request that outlives any one caller's cancellation.
func (d *Describer) DescribeImage(ctx context.Context, url string) (string, error) {
	if description, ok := d.cache.Get(url); ok {
		return description, nil
	}
	ch := d.inflight.DoChan(url, func() (any, error) {
		describeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), describeTimeout)
		defer cancel()
		description, err := d.inner.DescribeImage(describeCtx, url)
		if err != nil {
			return "", err
		}
		if description != "" {
			d.cache.Set(url, description, 0)
		}
		return description, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result := <-ch:
		if result.Err != nil {
			return "", result.Err
		}
		return result.Val.(string), nil
	}
}
