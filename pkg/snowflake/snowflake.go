// Package snowflake generates 64-bit time-ordered unique ids for push
// record msg uids: 41 bits of milliseconds, 5 bits of datacenter, 5 bits of
// worker, 12 bits of per-millisecond sequence.
package snowflake

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

const (
	epoch = int64(1288834974657)

	workerIDBits     = 5
	dataCenterIDBits = 5
	sequenceBits     = 12

	maxWorkerID     = -1 ^ (-1 << workerIDBits)
	maxDataCenterID = -1 ^ (-1 << dataCenterIDBits)
	sequenceMask    = -1 ^ (-1 << sequenceBits)

	workerIDShift     = sequenceBits
	dataCenterIDShift = sequenceBits + workerIDBits
	timestampShift    = sequenceBits + workerIDBits + dataCenterIDBits
)

type Generator struct {
	mu sync.Mutex

	dataCenterID int64
	workerID     int64
	sequence     int64
	lastTS       int64

	now func() int64 // milliseconds, test hook
}

func New(dataCenterID, workerID int64) (*Generator, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("worker id %d out of range [0,%d]", workerID, maxWorkerID)
	}
	if dataCenterID < 0 || dataCenterID > maxDataCenterID {
		return nil, fmt.Errorf("datacenter id %d out of range [0,%d]", dataCenterID, maxDataCenterID)
	}

	return &Generator{
		dataCenterID: dataCenterID,
		workerID:     workerID,
		now:          func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NextID returns a new unique id. It spins into the next millisecond when
// the per-millisecond sequence overflows, and refuses to generate while the
// clock has moved backwards.
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now()
	if ts < g.lastTS {
		return 0, fmt.Errorf("clock moved backwards by %dms, refusing to generate", g.lastTS-ts)
	}

	if ts == g.lastTS {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			for ts <= g.lastTS {
				ts = g.now()
			}
		}
	} else {
		g.sequence = 0
	}

	g.lastTS = ts

	id := (ts-epoch)<<timestampShift |
		g.dataCenterID<<dataCenterIDShift |
		g.workerID<<workerIDShift |
		g.sequence

	return id, nil
}

// NextString is NextID formatted for the msg_uid column.
func (g *Generator) NextString() (string, error) {
	id, err := g.NextID()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}
