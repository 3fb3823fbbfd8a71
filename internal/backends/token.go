package backends

import (
	"context"
	"fmt"
	"time"

	"github.com/luojidr/easypush/pkg/crypto"
	"github.com/luojidr/easypush/pkg/lock"
	"github.com/luojidr/easypush/pkg/logger"
)

const (
	defaultTokenTTL = 2 * time.Hour

	tokenLockTTL     = 30 * time.Second
	tokenLockMaxWait = 15 * time.Second
)

// tokenSource layers the access-token caches for one credential: the
// process-local bounded cache first, then the shared store, and only then a
// vendor refresh call serialized across processes by the lease lock. The
// lock's pre-check hook re-reads the shared store on every polling
// iteration so waiters pick up a token the winner already published without
// ever acquiring the lock.
type tokenSource struct {
	name  string // md5 of the credential tuple, stable across processes
	ttl   time.Duration
	deps  Deps
	fetch func(ctx context.Context) (string, time.Duration, error)
}

func newTokenSource(
	corpID string,
	agentID int64,
	appKey, appSecret string,
	deps Deps,
	fetch func(ctx context.Context) (string, time.Duration, error),
) *tokenSource {
	raw := fmt.Sprintf("%s:%d:%s:%s", corpID, agentID, appKey, appSecret)

	return &tokenSource{
		name:  crypto.MD5Hex(raw),
		ttl:   defaultTokenTTL,
		deps:  deps,
		fetch: fetch,
	}
}

func (ts *tokenSource) sharedKey() string {
	return "access_token:" + ts.name
}

func (ts *tokenSource) lockKey() string {
	return "lock:access_token:" + ts.name
}

// Token returns a valid access token, refreshing at most once per process
// and, when a shared store is configured, at most once across processes.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	return ts.deps.Tokens.GetOrRefresh(ctx, ts.name, ts.ttl, ts.refresh)
}

// Invalidate drops the local copy so the next caller refreshes, used after a
// vendor rejects the token before its expected expiry.
func (ts *tokenSource) Invalidate() {
	ts.deps.Tokens.Invalidate(ts.name)
}

func (ts *tokenSource) refresh(ctx context.Context) (string, error) {
	if ts.deps.Shared == nil || ts.deps.Locker == nil {
		token, _, err := ts.fetch(ctx)
		return token, err
	}

	checkShared := func(ctx context.Context) (any, error) {
		value, found, err := ts.deps.Shared.Get(ctx, ts.sharedKey())
		if err != nil {
			// Degraded shared store must not block token refresh.
			logger.Warnf("Shared token cache read failed for %s: %v", ts.name, err)
			return nil, nil
		}
		if !found {
			return nil, nil
		}
		return value, nil
	}

	fetchAndPublish := func(ctx context.Context) (any, error) {
		token, expiresIn, err := ts.fetch(ctx)
		if err != nil {
			return nil, err
		}

		ttl := ts.ttl
		if expiresIn > 0 && expiresIn < ttl {
			ttl = expiresIn
		}
		if err := ts.deps.Shared.SetEX(ctx, ts.sharedKey(), token, ttl); err != nil {
			logger.Warnf("Failed to publish token %s to shared cache: %v", ts.name, err)
		}

		return token, nil
	}

	opts := lock.Options{TTL: tokenLockTTL, MaxWait: tokenLockMaxWait}
	result, err := ts.deps.Locker.Do(ctx, ts.lockKey(), opts, checkShared, fetchAndPublish)
	if err != nil {
		return "", err
	}

	token, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("unexpected token type %T", result)
	}

	return token, nil
}
