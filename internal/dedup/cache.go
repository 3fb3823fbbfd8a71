package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/luojidr/easypush/internal/domain"
	"github.com/luojidr/easypush/pkg/logger"
)

// Store is the slice of the key-value store the cache needs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	MSet(ctx context.Context, pairs map[string]string) error
	BulkExpire(ctx context.Context, keys []string, ttl time.Duration) error
}

// History yields the persisted records the rebuild pass recomputes
// fingerprints from. The relational store is the authority; the cache is a
// derived, rebuildable index over it.
type History interface {
	ListMessages(ctx context.Context) ([]domain.MessageRecord, error)
	ListPushSince(ctx context.Context, since time.Time) ([]domain.PushRecord, error)
}

// Cache maps fingerprint keys to the database ids they resolved to. A miss
// is not an error, it means "first occurrence"; a false miss merely costs a
// redundant row, never corruption.
type Cache struct {
	store Store
	ttl   time.Duration
}

func NewCache(store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 7 * time.Hour
	}
	return &Cache{store: store, ttl: ttl}
}

func (c *Cache) TTL() time.Duration { return c.ttl }

// Lookup resolves one fingerprint key to its database id.
func (c *Cache) Lookup(ctx context.Context, key string) (int64, bool, error) {
	value, found, err := c.store.Get(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}

	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		// A corrupt entry behaves like a miss; the rebuild pass will
		// overwrite it with an authoritative value.
		logger.Warnf("Fingerprint key %q holds non-numeric value %q", key, value)
		return 0, false, nil
	}

	return id, true, nil
}

// BulkPut publishes a fingerprint mapping in two round trips total: one MSET
// and one scripted server-side expire loop, whatever the batch size.
func (c *Cache) BulkPut(ctx context.Context, mapping map[string]int64) error {
	if len(mapping) == 0 {
		return nil
	}

	pairs := make(map[string]string, len(mapping))
	keys := make([]string, 0, len(mapping))
	for key, id := range mapping {
		pairs[key] = strconv.FormatInt(id, 10)
		keys = append(keys, key)
	}

	if err := c.store.MSet(ctx, pairs); err != nil {
		return fmt.Errorf("failed to publish %d fingerprints: %w", len(mapping), err)
	}
	if err := c.store.BulkExpire(ctx, keys, c.ttl); err != nil {
		return fmt.Errorf("failed to expire %d fingerprints: %w", len(mapping), err)
	}

	logger.Debugf("Published %d fingerprint mappings (ttl %v)", len(mapping), c.ttl)

	return nil
}

// RebuildFromHistory recomputes fingerprints for every push record created
// within the retention window and republishes them. This is the safety net
// against cache eviction or cold starts re-admitting duplicates that are
// older than the cache TTL but still within retention.
func (c *Cache) RebuildFromHistory(ctx context.Context, hist History, windowDays int) (map[string]int64, error) {
	if windowDays <= 0 {
		windowDays = 30
	}

	messages, err := hist.ListMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load message history: %w", err)
	}

	type msgInfo struct {
		appID       int64
		fingerprint string
	}
	byID := make(map[int64]msgInfo, len(messages))
	for _, msg := range messages {
		byID[msg.ID] = msgInfo{
			appID:       msg.AppID,
			fingerprint: BodyFingerprint(msg.MsgBodyJSON),
		}
	}

	since := time.Now().AddDate(0, 0, -windowDays)
	records, err := hist.ListPushSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load push history: %w", err)
	}

	mapping := make(map[string]int64, 2*len(records))
	for _, rec := range records {
		info, ok := byID[rec.MsgID]
		if !ok {
			continue
		}

		mapping[MessageKey(info.appID, info.fingerprint)] = rec.MsgID
		mapping[RecipientKey(info.appID, info.fingerprint, rec.ReceiverUserID, rec.ReceiverMobile)] = rec.ID
	}

	if err := c.BulkPut(ctx, mapping); err != nil {
		return nil, err
	}

	logger.Infof("Fingerprint cache rebuilt: %d entries from %d push records (window %dd)",
		len(mapping), len(records), windowDays)

	return mapping, nil
}

// DecodeBody is the inverse of Canonicalize for callers that persist
// canonical JSON and need the structured form back.
func DecodeBody(canonicalJSON string) (map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal([]byte(canonicalJSON), &body); err != nil {
		return nil, fmt.Errorf("failed to decode message body: %w", err)
	}
	return body, nil
}
