package snowflake

import (
	"strings"
	"testing"
)

func TestNew_RejectsOutOfRangeNodeIDs(t *testing.T) {
	cases := []struct {
		dataCenterID int64
		workerID     int64
	}{
		{-1, 0},
		{32, 0},
		{0, -1},
		{0, 32},
	}

	for _, tc := range cases {
		if _, err := New(tc.dataCenterID, tc.workerID); err == nil {
			t.Errorf("expected error for dc=%d worker=%d", tc.dataCenterID, tc.workerID)
		}
	}

	if _, err := New(31, 31); err != nil {
		t.Errorf("expected max node ids to be accepted, got %v", err)
	}
}

func TestNextID_UniqueAndOrdered(t *testing.T) {
	g, err := New(1, 1)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	const n = 10000

	seen := make(map[int64]bool, n)
	var prev int64

	for i := 0; i < n; i++ {
		id, err := g.NextID()
		if err != nil {
			t.Fatalf("NextID returned error: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %d at iteration %d", id, i)
		}
		seen[id] = true

		if id <= prev {
			t.Fatalf("ids not strictly increasing: %d after %d", id, prev)
		}
		prev = id
	}
}

func TestNextID_SequenceOverflowAdvancesMillisecond(t *testing.T) {
	g, err := New(0, 0)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ms := epoch + 1000
	calls := 0
	g.now = func() int64 {
		calls++
		// Stay in one millisecond long enough to overflow the 12-bit
		// sequence, then let time advance.
		if calls < 5000 {
			return ms
		}
		return ms + 1
	}

	seen := make(map[int64]bool)
	for i := 0; i < 4098; i++ {
		id, err := g.NextID()
		if err != nil {
			t.Fatalf("NextID returned error at %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id across the overflow boundary at %d", i)
		}
		seen[id] = true
	}
}

func TestNextID_ClockRollbackIsAnError(t *testing.T) {
	g, err := New(0, 0)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ms := epoch + 1000
	g.now = func() int64 { return ms }

	if _, err := g.NextID(); err != nil {
		t.Fatalf("NextID returned error: %v", err)
	}

	ms -= 50

	if _, err := g.NextID(); err == nil {
		t.Fatalf("expected error after clock rollback")
	}

	ms += 100

	if _, err := g.NextID(); err != nil {
		t.Errorf("expected generation to resume once the clock recovered, got %v", err)
	}
}

func TestNextString(t *testing.T) {
	g, err := New(2, 3)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	s, err := g.NextString()
	if err != nil {
		t.Fatalf("NextString returned error: %v", err)
	}
	if s == "" || strings.HasPrefix(s, "-") {
		t.Errorf("expected positive decimal uid, got %q", s)
	}
}
