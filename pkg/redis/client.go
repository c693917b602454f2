package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/swiftfleet/dispatch-backend/pkg/config"
	"github.com/swiftfleet/dispatch-backend/pkg/logger"
)

const (
	keyNamespace   = "dispatch"
	geoIndexPrefix = "geo"
	offerPrefix    = "offer"
	lockPrefix     = "lock"
	counterPrefix  = "counter"
	idemPrefix     = "idempotency"

	// AgentGeoIndexKey is the sorted set holding live agent positions.
	agentGeoIndex = "agents"
)

// ErrNil is returned by Get when the key does not exist.
var ErrNil = redis.Nil

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Incr(context.Context, string) *redis.IntCmd
	Expire(context.Context, string, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
	GeoAdd(context.Context, string, ...*redis.GeoLocation) *redis.IntCmd
	GeoSearchLocation(context.Context, string, *redis.GeoSearchLocationQuery) *redis.GeoSearchLocationCmd
	ZRem(context.Context, string, ...interface{}) *redis.IntCmd
	Eval(context.Context, string, []string, ...interface{}) *redis.Cmd
}

// GeoMember is one entry returned by a radius search, nearest first.
type GeoMember struct {
	Member    string
	DistanceM float64
	Lat       float64
	Lng       float64
}

// Client wraps the redis connection helpers needed by the platform.
type Client struct {
	store cmdable
	raw   *redis.Client
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// IdempotencyStore exposes minimal operations used by idempotency helpers.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// New bootstraps a Redis client with pooling/timeouts and verifies connectivity.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logg != nil {
		logg.Info(ctx, "redis connection established")
	}
	return &Client{store: raw, raw: raw}, nil
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.URL == "" && cfg.Address == "" {
		return nil, errors.New("redis url or address is required")
	}
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// Set stores a string value with an optional TTL.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.store == nil {
		return errors.New("redis client not initialized")
	}
	return c.store.Set(ctx, key, value, ttl).Err()
}

// Get returns a string value stored at key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.store == nil {
		return "", errors.New("redis client not initialized")
	}
	return c.store.Get(ctx, key).Result()
}

// SetNX sets a value only if the key does not exist yet.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.store == nil {
		return false, errors.New("redis client not initialized")
	}
	return c.store.SetNX(ctx, key, value, ttl).Result()
}

// Incr increments the counter stored at key.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	if c.store == nil {
		return 0, errors.New("redis client not initialized")
	}
	return c.store.Incr(ctx, key).Result()
}

// Del removes the provided keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.store == nil {
		return errors.New("redis client not initialized")
	}
	return c.store.Del(ctx, keys...).Err()
}

// GeoUpsert records an agent position in the live geo index.
func (c *Client) GeoUpsert(ctx context.Context, member string, lat, lng float64) error {
	if c.store == nil {
		return errors.New("redis client not initialized")
	}
	loc := &redis.GeoLocation{Name: member, Latitude: lat, Longitude: lng}
	return c.store.GeoAdd(ctx, c.AgentGeoKey(), loc).Err()
}

// GeoRemove drops an agent from the live geo index.
func (c *Client) GeoRemove(ctx context.Context, member string) error {
	if c.store == nil {
		return errors.New("redis client not initialized")
	}
	return c.store.ZRem(ctx, c.AgentGeoKey(), member).Err()
}

// GeoRadius returns up to count members within radiusMeters of the point,
// ordered nearest first with distances attached. A count of zero or less
// drops the COUNT clause and returns every member in range.
func (c *Client) GeoRadius(ctx context.Context, lat, lng, radiusMeters float64, count int) ([]GeoMember, error) {
	if c.store == nil {
		return nil, errors.New("redis client not initialized")
	}
	if count < 0 {
		count = 0
	}
	query := &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Latitude:   lat,
			Longitude:  lng,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      count,
		},
		WithCoord: true,
		WithDist:  true,
	}
	locs, err := c.store.GeoSearchLocation(ctx, c.AgentGeoKey(), query).Result()
	if err != nil {
		return nil, err
	}
	members := make([]GeoMember, 0, len(locs))
	for _, loc := range locs {
		members = append(members, GeoMember{
			Member:    loc.Name,
			DistanceM: loc.Dist,
			Lat:       loc.Latitude,
			Lng:       loc.Longitude,
		})
	}
	return members, nil
}

// PlaceOffer registers a pending offer for the agent. It returns false when an
// offer for the same order/agent pair is already outstanding.
func (c *Client) PlaceOffer(ctx context.Context, orderID, agentID, payload string, ttl time.Duration) (bool, error) {
	return c.SetNX(ctx, c.OfferKey(orderID, agentID), payload, ttl)
}

// GetOffer returns the stored offer payload, or ErrNil when no unexpired offer
// exists for the pair.
func (c *Client) GetOffer(ctx context.Context, orderID, agentID string) (string, error) {
	return c.Get(ctx, c.OfferKey(orderID, agentID))
}

// OfferOutstanding reports whether an unexpired offer exists for the pair.
func (c *Client) OfferOutstanding(ctx context.Context, orderID, agentID string) (bool, error) {
	_, err := c.Get(ctx, c.OfferKey(orderID, agentID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return false, err
}

// ClearOffers deletes the outstanding offers for an order across the given agents.
func (c *Client) ClearOffers(ctx context.Context, orderID string, agentIDs ...string) error {
	if len(agentIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		keys = append(keys, c.OfferKey(orderID, agentID))
	}
	return c.Del(ctx, keys...)
}

// AcquireLock takes a namespaced lock with the supplied owner token and TTL.
func (c *Client) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	return c.SetNX(ctx, c.LockKey(name), owner, ttl)
}

// ReleaseLock frees the lock only when owner still holds it.
func (c *Client) ReleaseLock(ctx context.Context, name, owner string) error {
	if c.store == nil {
		return errors.New("redis client not initialized")
	}
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	return c.store.Eval(ctx, script, []string{c.LockKey(name)}, owner).Err()
}

// AgentGeoKey is the namespaced key of the agent geo index.
func (c *Client) AgentGeoKey() string {
	return c.buildKey(geoIndexPrefix, agentGeoIndex)
}

// OfferKey returns a namespaced key for a pending offer.
func (c *Client) OfferKey(orderID, agentID string) string {
	return c.buildKey(offerPrefix, orderID, agentID)
}

// LockKey returns a namespaced key for distributed locks.
func (c *Client) LockKey(name string) string {
	return c.buildKey(lockPrefix, name)
}

// IdempotencyKey returns a namespaced key for idempotency storage.
func (c *Client) IdempotencyKey(scope, id string) string {
	return c.buildKey(idemPrefix, scope, id)
}

// CounterKey returns a namespaced key for counters.
func (c *Client) CounterKey(name string) string {
	return c.buildKey(counterPrefix, name)
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	if c.store == nil {
		return errors.New("redis client not initialized")
	}
	return c.store.Ping(ctx).Err()
}

// Close shuts down the underlying client if available.
func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

func (c *Client) buildKey(parts ...string) string {
	if len(parts) == 0 {
		return keyNamespace
	}
	clean := []string{keyNamespace}
	for _, part := range parts {
		if part == "" {
			continue
		}
		clean = append(clean, strings.TrimSpace(part))
	}
	return strings.Join(clean, ":")
}
