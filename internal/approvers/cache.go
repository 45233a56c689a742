package approvers

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 5 * time.Minute

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// LoadFunc загружает значение ключа из источника истины.
type LoadFunc[V any] func(ctx context.Context) (V, error)

// Cache: TTL-кэш с обновлением по истечению срока.
// Просроченная запись перечитывается при следующем обращении, параллельные
// перечитывания одного ключа схлопываются в один вызов источника.
// Ошибки загрузки не кэшируются.
type Cache[K comparable, V any] struct {
	ttl     time.Duration
	now     func() time.Time
	entries *xsync.MapOf[K, entry[V]]
	flight  singleflight.Group
}

func NewCache[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[K, V]{
		ttl:     ttl,
		now:     time.Now,
		entries: xsync.NewMapOf[K, entry[V]](),
	}
}

// WithClock подменяет источник времени (для тестов).
func (c *Cache[K, V]) WithClock(now func() time.Time) *Cache[K, V] {
	c.now = now
	return c
}

func (c *Cache[K, V]) TTL() time.Duration { return c.ttl }

func (c *Cache[K, V]) fresh(key K) (V, bool) {
	e, ok := c.entries.Load(key)
	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Get отдает значение из памяти или загружает его через load.
func (c *Cache[K, V]) Get(ctx context.Context, key K, load LoadFunc[V]) (V, error) {
	if v, ok := c.fresh(key); ok {
		return v, nil
	}

	res, err, _ := c.flight.Do(fmt.Sprint(key), func() (interface{}, error) {
		// Пока ждали, значение мог положить другой вызов
		if v, ok := c.fresh(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.entries.Store(key, entry[V]{value: v, expiresAt: c.now().Add(c.ttl)})
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

func (c *Cache[K, V]) Invalidate(key K) {
	c.entries.Delete(key)
}

func (c *Cache[K, V]) Len() int {
	return c.entries.Size()
}
