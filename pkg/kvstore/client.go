package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/luojidr/easypush/environments"
	"github.com/luojidr/easypush/pkg/logger"
)

// Server-side scripts. All multi-key atomicity against the shared store goes
// through these; the store offers no client-side transactions.
const (
	// Delete the key only when the caller still owns it.
	releaseScript = `
		if redis.call("get",KEYS[1]) == ARGV[1] then
			return redis.call("del",KEYS[1])
		else
			return 0
		end`

	// Re-extend the TTL only when the caller still owns the key.
	extendScript = `
		if redis.call("get",KEYS[1]) == ARGV[1] then
			return redis.call("pexpire",KEYS[1],ARGV[2])
		else
			return 0
		end`

	// Ownership liveness probe for the lock watchdog.
	ownerScript = `
		if redis.call("get",KEYS[1]) == ARGV[1] then
			return 1
		else
			return 0
		end`

	// Expire a batch of freshly MSET keys in one round trip.
	bulkExpireScript = `
		for i=1, ARGV[1], 1 do
			redis.call("EXPIRE", KEYS[i], ARGV[2]);
		end
		return ARGV[1]`
)

// Client wraps the shared key-value store. It is safe for concurrent use.
type Client struct {
	client     valkey.Client
	release    *valkey.Lua
	extend     *valkey.Lua
	owner      *valkey.Lua
	bulkExpire *valkey.Lua
}

func NewClient(cfg environments.RedisConfig) (*Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infof("Connected to Redis (via Valkey client)")

	return &Client{
		client:     client,
		release:    valkey.NewLuaScript(releaseScript),
		extend:     valkey.NewLuaScript(extendScript),
		owner:      valkey.NewLuaScript(ownerScript),
		bulkExpire: valkey.NewLuaScript(bulkExpireScript),
	}, nil
}

// SetNX performs an atomic set-if-absent with a millisecond TTL. Returns
// false when the key already exists.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	resp := c.client.Do(ctx, c.client.B().Set().Key(key).Value(value).Nx().Px(ttl).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to set key %q: %w", key, err)
	}

	return true, nil
}

// Get returns the stored value, reporting absence without an error.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get key %q: %w", key, err)
	}

	value, err := resp.ToString()
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %q: %w", key, err)
	}

	return value, true, nil
}

func (c *Client) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	err := c.client.Do(ctx, c.client.B().Set().Key(key).Value(value).Ex(ttl).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}

	return nil
}

// MSet stores every pair in one round trip. Expiry is applied separately via
// BulkExpire since MSET itself carries no TTL.
func (c *Client) MSet(ctx context.Context, pairs map[string]string) error {
	if len(pairs) == 0 {
		return nil
	}

	cmd := c.client.B().Mset().KeyValue()
	for key, value := range pairs {
		cmd = cmd.KeyValue(key, value)
	}

	if err := c.client.Do(ctx, cmd.Build()).Error(); err != nil {
		return fmt.Errorf("failed to mset %d keys: %w", len(pairs), err)
	}

	return nil
}

// BulkExpire applies one TTL to many keys with a single server-side loop.
func (c *Client) BulkExpire(ctx context.Context, keys []string, ttl time.Duration) error {
	if len(keys) == 0 {
		return nil
	}

	args := []string{
		fmt.Sprintf("%d", len(keys)),
		fmt.Sprintf("%d", int64(ttl.Seconds())),
	}
	if err := c.bulkExpire.Exec(ctx, c.client, keys, args).Error(); err != nil {
		return fmt.Errorf("failed to bulk-expire %d keys: %w", len(keys), err)
	}

	return nil
}

// ReleaseIfOwner deletes the key only when it still holds the given owner
// token. Returns false when the key is gone or owned by someone else.
func (c *Client) ReleaseIfOwner(ctx context.Context, key, token string) (bool, error) {
	resp := c.release.Exec(ctx, c.client, []string{key}, []string{token})
	if err := resp.Error(); err != nil {
		return false, fmt.Errorf("failed to release key %q: %w", key, err)
	}

	deleted, err := resp.AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to parse release reply for %q: %w", key, err)
	}

	return deleted == 1, nil
}

// ExtendIfOwner re-extends the key's TTL only when it still holds the given
// owner token.
func (c *Client) ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	args := []string{token, fmt.Sprintf("%d", ttl.Milliseconds())}

	resp := c.extend.Exec(ctx, c.client, []string{key}, args)
	if err := resp.Error(); err != nil {
		return false, fmt.Errorf("failed to extend key %q: %w", key, err)
	}

	extended, err := resp.AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to parse extend reply for %q: %w", key, err)
	}

	return extended == 1, nil
}

// IsOwner reports whether the key still holds the given owner token.
func (c *Client) IsOwner(ctx context.Context, key, token string) (bool, error) {
	resp := c.owner.Exec(ctx, c.client, []string{key}, []string{token})
	if err := resp.Error(); err != nil {
		return false, fmt.Errorf("failed to check owner of key %q: %w", key, err)
	}

	owned, err := resp.AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to parse owner reply for %q: %w", key, err)
	}

	return owned == 1, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}

func (c *Client) Close() error {
	c.client.Close()
	return nil
}
