package feedcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Persister keeps the last good raw payload across restarts.
type Persister interface {
	Load(ctx context.Context, name string) ([]byte, time.Time, error)
	Save(ctx context.Context, name string, payload []byte, fetchedAt time.Time) error
}

const persistTimeout = 2 * time.Second

func (c *Cache[T]) restore(ctx context.Context) {
	if c.opts.Persister == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	raw, fetchedAt, err := c.opts.Persister.Load(ctx, c.name)
	if err != nil {
		log.Debug().Err(err).Str("feed", c.name).Msg("No persisted feed payload")
		return
	}

	now := c.opts.Clock()
	if now.Sub(fetchedAt) > c.opts.PersistMaxAge {
		log.Debug().Str("feed", c.name).Time("fetchedat", fetchedAt).Msg("Persisted feed payload too old")
		return
	}

	decoded, err := c.decode(raw)
	if err != nil {
		log.Warn().Err(err).Str("feed", c.name).Msg("Persisted feed payload does not decode")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasPayload {
		return
	}
	c.payload = decoded
	c.hasPayload = true
	c.restored = true
	c.fetchedAt = fetchedAt
	// The poll floor spans restarts.
	c.lastAttempt = fetchedAt
	c.version++

	log.Info().Str("feed", c.name).Time("fetchedat", fetchedAt).Msg("Restored persisted feed payload")
}

func (c *Cache[T]) persist(raw []byte, fetchedAt time.Time) {
	if c.opts.Persister == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := c.opts.Persister.Save(ctx, c.name, raw, fetchedAt); err != nil {
		log.Warn().Err(err).Str("feed", c.name).Msg("Failed to persist feed payload")
	}
}

type persistedPayload struct {
	FetchedAt time.Time `json:"fetched_at"`
	Payload   []byte    `json:"payload"`
}

// RedisPersister stores payloads through gocache on top of redis.
type RedisPersister struct {
	cache  *cache.Cache[string]
	prefix string
}

func NewRedisPersister(client *redis.Client, expiration time.Duration) *RedisPersister {
	redisStore := redisstore.NewRedis(client, store.WithExpiration(expiration))

	return &RedisPersister{
		cache:  cache.New[string](redisStore),
		prefix: "mesdeparts:feed:",
	}
}

func (p *RedisPersister) Load(ctx context.Context, name string) ([]byte, time.Time, error) {
	value, err := p.cache.Get(ctx, p.prefix+name)
	if err != nil {
		return nil, time.Time{}, err
	}

	var persisted persistedPayload
	if err := json.Unmarshal([]byte(value), &persisted); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode persisted %s payload: %w", name, err)
	}

	return persisted.Payload, persisted.FetchedAt, nil
}

func (p *RedisPersister) Save(ctx context.Context, name string, payload []byte, fetchedAt time.Time) error {
	encoded, err := json.Marshal(persistedPayload{FetchedAt: fetchedAt, Payload: payload})
	if err != nil {
		return err
	}

	return p.cache.Set(ctx, p.prefix+name, string(encoded))
}
