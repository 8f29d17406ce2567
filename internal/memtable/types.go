// Package memtable implements the per-region in-memory index the engine
// keeps over its pipe log: a window of recent entries (some with their
// payload resident, some pointing back at a file/offset locator), a
// key/value map, and no locking of its own — the engine's per-shard
// lock is the sole guard for every MemTable it owns.
package memtable

import "raftlog/internal/logbatch"

// CacheStats receives notifications of cache hits, misses, and resident
// payload size changes. Engine.SharedCacheStats satisfies this; the
// interface exists only to keep memtable from importing engine.
type CacheStats interface {
	RecordHit()
	RecordMiss()
	RecordSizeChange(delta int64)
}

// slot is one position in a MemTable's entry window. dataLen remembers
// the payload size even after the payload itself is evicted, so the
// window's total size stays known without re-reading any file.
type slot struct {
	term     uint64
	locator  logbatch.EntryIndex
	data     []byte
	dataLen  int64
	resident bool
}

// kvEntry tracks a key's latest value and the file it was written to,
// so MinFileNum and the rewrite liveness checks can reason about
// disk-residency the same way entries do.
type kvEntry struct {
	value   []byte
	fileNum uint64
}
