package dedup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/luojidr/easypush/internal/domain"
)

//
// Test fakes – only for this file.
//

type fakeStore struct {
	values map[string]string
	ttls   map[string]time.Duration

	getErr  error
	msetErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (s *fakeStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *fakeStore) MSet(ctx context.Context, pairs map[string]string) error {
	if s.msetErr != nil {
		return s.msetErr
	}
	for k, v := range pairs {
		s.values[k] = v
	}
	return nil
}

func (s *fakeStore) BulkExpire(ctx context.Context, keys []string, ttl time.Duration) error {
	for _, k := range keys {
		s.ttls[k] = ttl
	}
	return nil
}

type fakeHistory struct {
	messages []domain.MessageRecord
	pushes   []domain.PushRecord

	pushSince time.Time
}

func (h *fakeHistory) ListMessages(ctx context.Context) ([]domain.MessageRecord, error) {
	return h.messages, nil
}

func (h *fakeHistory) ListPushSince(ctx context.Context, since time.Time) ([]domain.PushRecord, error) {
	h.pushSince = since
	return h.pushes, nil
}

//
// Tests
//

func TestLookup(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	cache := NewCache(store, time.Hour)

	store.values["known"] = "42"

	id, found, err := cache.Lookup(ctx, "known")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if !found || id != 42 {
		t.Errorf("expected (42, true), got (%d, %v)", id, found)
	}

	_, found, err = cache.Lookup(ctx, "missing")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if found {
		t.Errorf("expected miss for unknown key")
	}
}

func TestLookup_CorruptEntryBehavesLikeMiss(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	cache := NewCache(store, time.Hour)

	store.values["corrupt"] = "not-a-number"

	_, found, err := cache.Lookup(ctx, "corrupt")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if found {
		t.Errorf("corrupt entry must behave like a miss")
	}
}

func TestBulkPut_PublishesValuesWithTTL(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	cache := NewCache(store, 7*time.Hour)

	mapping := map[string]int64{
		"key-a": 1,
		"key-b": 2,
		"key-c": 3,
	}

	if err := cache.BulkPut(ctx, mapping); err != nil {
		t.Fatalf("BulkPut returned error: %v", err)
	}

	for key, id := range mapping {
		if store.values[key] != fmt.Sprintf("%d", id) {
			t.Errorf("key %q holds %q, expected %d", key, store.values[key], id)
		}
		if store.ttls[key] != 7*time.Hour {
			t.Errorf("key %q has ttl %v, expected 7h", key, store.ttls[key])
		}
	}
}

func TestBulkPut_EmptyMappingIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.msetErr = fmt.Errorf("must not be called")

	cache := NewCache(store, time.Hour)

	if err := cache.BulkPut(ctx, nil); err != nil {
		t.Fatalf("BulkPut returned error for empty mapping: %v", err)
	}
}

func TestRebuildFromHistory(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	cache := NewCache(store, time.Hour)

	bodyA, _ := Canonicalize(map[string]any{"content": "release note"})
	bodyB, _ := Canonicalize(map[string]any{"content": "incident ping"})

	hist := &fakeHistory{
		messages: []domain.MessageRecord{
			{ID: 10, AppID: 1, MsgBodyJSON: bodyA},
			{ID: 20, AppID: 2, MsgBodyJSON: bodyB},
		},
		pushes: []domain.PushRecord{
			{ID: 100, MsgID: 10, ReceiverUserID: "u1"},
			{ID: 101, MsgID: 10, ReceiverMobile: "13800000000"},
			{ID: 200, MsgID: 20, ReceiverUserID: "u2"},
			{ID: 300, MsgID: 99, ReceiverUserID: "orphan"}, // no matching message
		},
	}

	mapping, err := cache.RebuildFromHistory(ctx, hist, 30)
	if err != nil {
		t.Fatalf("RebuildFromHistory returned error: %v", err)
	}

	fpA := BodyFingerprint(bodyA)
	fpB := BodyFingerprint(bodyB)

	expect := map[string]int64{
		MessageKey(1, fpA):                      10,
		MessageKey(2, fpB):                      20,
		RecipientKey(1, fpA, "u1", ""):          100,
		RecipientKey(1, fpA, "", "13800000000"): 101,
		RecipientKey(2, fpB, "u2", ""):          200,
	}

	if len(mapping) != len(expect) {
		t.Fatalf("expected %d entries, got %d: %v", len(expect), len(mapping), mapping)
	}
	for key, id := range expect {
		if mapping[key] != id {
			t.Errorf("key %q maps to %d, expected %d", key, mapping[key], id)
		}
		if store.values[key] == "" {
			t.Errorf("key %q was not published to the store", key)
		}
	}

	// The window must translate to a since bound roughly 30 days back.
	wantSince := time.Now().AddDate(0, 0, -30)
	if hist.pushSince.Before(wantSince.Add(-time.Minute)) || hist.pushSince.After(wantSince.Add(time.Minute)) {
		t.Errorf("since bound %v not within the 30-day window", hist.pushSince)
	}
}
