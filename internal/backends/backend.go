// Package backends holds the capability contract every vendor plugin
// implements and the startup-time registry mapping platform type to concrete
// adapter. Message-type specific payload construction stays on the caller
// side; adapters receive the body as structured JSON and pass it through.
package backends

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luojidr/easypush/environments"
	"github.com/luojidr/easypush/internal/domain"
	"github.com/luojidr/easypush/pkg/lock"
	"github.com/luojidr/easypush/pkg/tokencache"
)

// Recipients carries both addressing modes; an adapter uses whichever its
// vendor API supports.
type Recipients struct {
	UserIDs []string
	Mobiles []string
}

func (r Recipients) Empty() bool {
	return len(r.UserIDs) == 0 && len(r.Mobiles) == 0
}

// Adapter is the capability set every vendor plugin must implement.
type Adapter interface {
	Platform() domain.Platform

	GetAccessToken(ctx context.Context) (string, error)
	UploadMedia(ctx context.Context, mediaType, filename string, data []byte) (string, error)
	Send(ctx context.Context, msgType string, body map[string]any, recipients Recipients) (*domain.PushResult, error)
	Recall(ctx context.Context, taskID string) (*domain.PushResult, error)

	// MediaMaxSize returns the vendor's byte limit for a media type, 0 when
	// the type is unsupported.
	MediaMaxSize(mediaType string) int64
}

// Deps are the shared collaborators injected into every adapter: the lease
// lock and shared store guarding token refresh, and the process-local token
// cache.
type Deps struct {
	Locker *lock.Locker
	Tokens *tokencache.Cache
	Shared SharedStore
}

// SharedStore is the cross-process token fallback cache. Nil disables the
// multi-process refresh guard.
type SharedStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
}

// Factory builds one adapter from a resolved backend config.
type Factory func(cfg environments.BackendConfig, deps Deps) (Adapter, error)

// Registry resolves backend aliases to adapters. Factories are registered at
// startup; adapter instances are created on first resolution and kept for
// the process lifetime, never silently evicted.
type Registry struct {
	mu        sync.RWMutex
	deps      Deps
	factories map[domain.Platform]Factory
	adapters  map[string]Adapter
}

func NewRegistry(deps Deps) *Registry {
	r := &Registry{
		deps:      deps,
		factories: make(map[domain.Platform]Factory),
		adapters:  make(map[string]Adapter),
	}

	r.RegisterFactory(domain.PlatformDingTalk, NewDingTalkAdapter)
	r.RegisterFactory(domain.PlatformWeCom, NewWeComAdapter)
	r.RegisterFactory(domain.PlatformFeishu, NewFeishuAdapter)
	r.RegisterFactory(domain.PlatformSMS, NewGatewayAdapter(domain.PlatformSMS))
	r.RegisterFactory(domain.PlatformEmail, NewGatewayAdapter(domain.PlatformEmail))

	return r
}

func (r *Registry) RegisterFactory(platform domain.Platform, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[platform] = factory
}

// Resolve returns the adapter for an alias, constructing it on first use.
func (r *Registry) Resolve(alias string, cfg environments.BackendConfig) (Adapter, error) {
	r.mu.RLock()
	adapter, ok := r.adapters[alias]
	r.mu.RUnlock()
	if ok {
		return adapter, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if adapter, ok := r.adapters[alias]; ok {
		return adapter, nil
	}

	platform := domain.Platform(cfg.Platform)
	factory, ok := r.factories[platform]
	if !ok {
		return nil, fmt.Errorf("no backend registered for platform %q", cfg.Platform)
	}

	adapter, err := factory(cfg, r.deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build %q backend for alias %q: %w", cfg.Platform, alias, err)
	}

	r.adapters[alias] = adapter

	return adapter, nil
}
