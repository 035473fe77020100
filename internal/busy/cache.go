package busy

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"meetsync/internal/model"
)

// Cached fronts a Source with a size-bounded, TTL-expiring cache keyed by the
// participant set and calendar day.
type Cached struct {
	src   Source
	cache *expirable.LRU[string, []model.BusyInterval]
}

func NewCached(src Source, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{src: src, cache: expirable.NewLRU[string, []model.BusyInterval](size, nil, ttl)}
}

func (c *Cached) Busy(ctx context.Context, emails []string, date time.Time) ([]model.BusyInterval, error) {
	key := cacheKey(emails, date)
	if v, ok := c.cache.Get(key); ok {
		return slices.Clone(v), nil
	}
	v, err := c.src.Busy(ctx, emails, date)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, slices.Clone(v))
	return v, nil
}

// Purge drops every cached entry.
func (c *Cached) Purge() { c.cache.Purge() }

func cacheKey(emails []string, date time.Time) string {
	norm := make([]string, 0, len(emails))
	for _, e := range emails {
		norm = append(norm, model.NormalizeEmail(e))
	}
	slices.Sort(norm)
	norm = slices.Compact(norm)
	return date.Format("2006-01-02") + "|" + strings.Join(norm, ",")
}
