package engine

import "sync/atomic"

// SharedCacheStats accumulates cache hit/miss counts and resident
// payload size changes across every memtable shard. It satisfies
// memtable.CacheStats and is shared, by pointer, across all 128 shards
// of every Engine in the process, so FlushStats reports one process-wide
// view rather than per-shard fragments, swapping its counters to zero on read instead of resetting
// them under a lock.
type SharedCacheStats struct {
	hits          atomic.Int64
	misses        atomic.Int64
	memSizeChange atomic.Int64
}

// NewSharedCacheStats returns a zeroed counter set.
func NewSharedCacheStats() *SharedCacheStats {
	return &SharedCacheStats{}
}

func (s *SharedCacheStats) RecordHit()  { s.hits.Add(1) }
func (s *SharedCacheStats) RecordMiss() { s.misses.Add(1) }

func (s *SharedCacheStats) RecordSizeChange(delta int64) {
	s.memSizeChange.Add(delta)
}

// CacheStatsSnapshot is a point-in-time read of accumulated counters.
type CacheStatsSnapshot struct {
	Hits          int64
	Misses        int64
	MemSizeChange int64
}

// FlushStats atomically swaps every counter to zero and returns what it
// held, so callers can accumulate deltas into their own metrics store
// without double-counting across calls.
func (s *SharedCacheStats) FlushStats() CacheStatsSnapshot {
	return CacheStatsSnapshot{
		Hits:          s.hits.Swap(0),
		Misses:        s.misses.Swap(0),
		MemSizeChange: s.memSizeChange.Swap(0),
	}
}
