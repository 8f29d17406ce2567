// Package engine is the public entry point for the write-ahead log: it
// owns a pipe log and a sharded registry of per-region memtables, and
// exposes the append/read/compact operations a replicated Raft node
// drives its storage through. One memtable per Raft region, sharded
// across a fixed array of locks for concurrency.
package engine

import (
	"fmt"
	"sync"

	"raftlog/internal/logbatch"
	"raftlog/internal/memtable"
	"raftlog/internal/pipelog"
	"raftlog/internal/rlerrors"
	"raftlog/internal/telemetry"
)

// raftStateKey is the reserved KV key PutRaftState/GetRaftState use
// within a region's table, keeping hard state out of the entry window.
var raftStateKey = []byte("\x00raft_state")

type shard struct {
	mu     sync.RWMutex
	tables map[uint64]*memtable.MemTable
}

// Engine is the storage engine's public handle.
type Engine struct {
	cfg   Config
	pipe  *pipelog.PipeLog
	stats *SharedCacheStats
	log   *telemetry.Logger

	shards [ShardCount]*shard
}

func shardIndex(regionID uint64) uint64 { return regionID % ShardCount }

func (e *Engine) shardFor(regionID uint64) *shard { return e.shards[shardIndex(regionID)] }

// processCacheStats is the one counter set every Engine in the process
// records into, so FlushStats reports process-wide cache statistics.
var processCacheStats = NewSharedCacheStats()

// Open opens or creates the pipe log at cfg.Pipe.Dir and replays its
// contents into the memtable registry according to cfg.Recovery.
func Open(cfg Config) (*Engine, error) {
	pipe, err := pipelog.Open(cfg.Pipe)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:   cfg,
		pipe:  pipe,
		stats: processCacheStats,
		log:   telemetry.New("engine"),
	}
	for i := range e.shards {
		e.shards[i] = &shard{tables: make(map[uint64]*memtable.MemTable)}
	}
	if err := e.recover(); err != nil {
		pipe.Close()
		return nil, err
	}
	return e, nil
}

// LogBatch returns a fresh, empty batch the caller fills with
// AddEntries/Put/Delete/CleanRegion before handing it to Consume.
func (e *Engine) LogBatch() *logbatch.LogBatch { return logbatch.New() }

// getOrCreate must be called with sh.mu held for writing. A region's
// cache_limit is fixed at first touch to half the configured region
// size.
func (sh *shard) getOrCreate(regionID uint64, stats *SharedCacheStats, cacheLimit int64) *memtable.MemTable {
	mt, ok := sh.tables[regionID]
	if !ok {
		mt = memtable.New(regionID, stats, cacheLimit)
		sh.tables[regionID] = mt
	}
	return mt
}

// Consume appends batch to the pipe log and applies its items to the
// memtable registry, draining batch in the process. Returns the framed
// record size written to disk. This is the engine's sole write path:
// Append is a thin convenience wrapper.
func (e *Engine) Consume(batch *logbatch.LogBatch, sync bool) (int64, error) {
	if batch.Empty() {
		return 0, nil
	}
	fileNum, _, written, err := e.pipe.AppendLogBatch(batch, sync)
	if err != nil {
		return 0, err
	}
	return written, e.applyItems(batch.Drain(), fileNum)
}

// Append is Consume for the common single-write case: build a batch,
// add one group of entries, and consume it immediately.
func (e *Engine) Append(regionID uint64, entries []logbatch.Entry, sync bool) (int64, error) {
	batch := logbatch.New()
	batch.AddEntries(regionID, entries)
	return e.Consume(batch, sync)
}

func (e *Engine) applyItems(items []logbatch.Item, fileNum uint64) error {
	for i := range items {
		it := &items[i]
		switch it.Kind() {
		case logbatch.ItemKindEntries:
			entries, locators := it.Entries()
			if err := e.withTable(it.RegionID(), func(mt *memtable.MemTable) error {
				return mt.Append(entries, locators)
			}); err != nil {
				return err
			}
		case logbatch.ItemKindKV:
			regionID := it.RegionID()
			if it.Op() == logbatch.OpPut {
				if err := e.withTable(regionID, func(mt *memtable.MemTable) error {
					mt.Put(it.Key(), it.Value(), fileNum)
					return nil
				}); err != nil {
					return err
				}
			} else {
				if err := e.withTable(regionID, func(mt *memtable.MemTable) error {
					mt.Delete(it.Key())
					return nil
				}); err != nil {
					return err
				}
			}
		case logbatch.ItemKindCommand:
			if err := e.withTable(it.RegionID(), func(mt *memtable.MemTable) error {
				mt.Clean()
				return nil
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) withTable(regionID uint64, fn func(*memtable.MemTable) error) error {
	sh := e.shardFor(regionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return fn(sh.getOrCreate(regionID, e.stats, int64(e.cfg.RegionSize)/2))
}

// readEntryFromFile resolves a non-resident entry's payload straight
// from the pipe log: a direct slice-and-decode for an uncompressed
// batch, or a full batch decompress-and-scan for an LZ4 one.
func (e *Engine) readEntryFromFile(loc logbatch.EntryIndex) ([]byte, error) {
	switch loc.Compression {
	case logbatch.CompressionNone:
		buf, err := e.pipe.Fread(loc.FileNum, loc.BaseOffset+loc.Offset, loc.Len)
		if err != nil {
			return nil, err
		}
		entry, err := logbatch.DecodeSingleEntry(buf)
		if err != nil {
			return nil, err
		}
		return entry.Data, nil
	case logbatch.CompressionLz4:
		total := int64(logbatch.HeaderLen) + loc.BatchLen
		raw, err := e.pipe.Fread(loc.FileNum, loc.BaseOffset, total)
		if err != nil {
			return nil, err
		}
		batch, _, ok, err := logbatch.DecodeFrom(raw, loc.FileNum, loc.BaseOffset)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, rlerrors.NewCorruption("zero header re-reading entry %d at file %d", loc.Index, loc.FileNum)
		}
		for _, it := range batch.Drain() {
			if it.Kind() != logbatch.ItemKindEntries {
				continue
			}
			entries, locators := it.Entries()
			for j := range locators {
				if locators[j].Index == loc.Index {
					return entries[j].Data, nil
				}
			}
		}
		return nil, rlerrors.NewCorruption("entry %d missing from its own batch at file %d", loc.Index, loc.FileNum)
	default:
		return nil, rlerrors.NewCorruption("unknown compression type %d", loc.Compression)
	}
}

// GetEntry returns one entry by index, resolving it from disk if it's
// not cache-resident.
func (e *Engine) GetEntry(regionID, index uint64) (logbatch.Entry, error) {
	sh := e.shardFor(regionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	mt, ok := sh.tables[regionID]
	if !ok {
		return logbatch.Entry{}, rlerrors.ErrEntriesUnavailable
	}
	return mt.GetEntry(index, e.readEntryFromFile)
}

// FetchEntriesTo collects entries in [begin, end), capped at maxSizeBytes
// (0 for unbounded), resolving non-resident ones from disk.
func (e *Engine) FetchEntriesTo(regionID, begin, end uint64, maxSizeBytes int64) ([]logbatch.Entry, error) {
	sh := e.shardFor(regionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	mt, ok := sh.tables[regionID]
	if !ok {
		return nil, rlerrors.ErrEntriesUnavailable
	}
	return mt.FetchEntriesTo(begin, end, maxSizeBytes, e.readEntryFromFile, nil)
}

// PutRaftState durably records the region's latest hard state under the
// engine's reserved key. Callers that want the state written atomically
// alongside entries put it in the same batch themselves via AddRaftState.
func (e *Engine) PutRaftState(regionID uint64, state []byte) error {
	batch := logbatch.New()
	batch.Put(regionID, raftStateKey, state)
	_, err := e.Consume(batch, true)
	return err
}

// AddRaftState queues the region's hard state into batch, under the
// engine's reserved key, alongside whatever else the caller adds.
func (e *Engine) AddRaftState(batch *logbatch.LogBatch, regionID uint64, state []byte) {
	batch.Put(regionID, raftStateKey, state)
}

// GetRaftState returns the region's last-written hard state, if any.
func (e *Engine) GetRaftState(regionID uint64) ([]byte, bool) {
	sh := e.shardFor(regionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	mt, ok := sh.tables[regionID]
	if !ok {
		return nil, false
	}
	return mt.Get(raftStateKey)
}

// GetMsg reads key's current value for region and decodes it into out.
// It's PutMsg's read-side counterpart: the engine never interprets the
// bytes itself, it just hands them to out.Unmarshal and reports a
// decode failure as rlerrors.ErrProtobufDecode. Returns found=false
// without touching out if the key has no live value.
func (e *Engine) GetMsg(regionID uint64, key []byte, out logbatch.Unmarshaler) (found bool, err error) {
	sh := e.shardFor(regionID)
	sh.mu.RLock()
	mt, ok := sh.tables[regionID]
	var value []byte
	if ok {
		value, found = mt.Get(key)
	}
	sh.mu.RUnlock()
	if !ok || !found {
		return false, nil
	}
	if err := out.Unmarshal(value); err != nil {
		return true, fmt.Errorf("%w: region %d key %q: %v", rlerrors.ErrProtobufDecode, regionID, key, err)
	}
	return true, nil
}

// GC compacts region's memtable window so that no entry below to
// remains resident or indexed; from is accepted for API symmetry with
// the range it logically bounds but is not otherwise consulted, since
// CompactTo only ever needs to know where the live window should now
// begin.
func (e *Engine) GC(regionID uint64, from, to uint64) (int, error) {
	_ = from
	var removed int
	err := e.withTable(regionID, func(mt *memtable.MemTable) error {
		removed = mt.CompactTo(to)
		return nil
	})
	return removed, err
}

// CompactCacheTo releases resident payload bytes below to without
// shrinking the region's entry window, so GetEntry still serves older
// entries by re-reading the pipe log.
func (e *Engine) CompactCacheTo(regionID, to uint64) error {
	return e.withTable(regionID, func(mt *memtable.MemTable) error {
		mt.CompactCacheTo(to)
		return nil
	})
}

// PurgeExpiredFiles removes every segment file no memtable still
// references and advances the pipe log's first live file accordingly.
func (e *Engine) PurgeExpiredFiles() error {
	var minReferenced uint64
	for _, sh := range e.shards {
		sh.mu.RLock()
		for _, mt := range sh.tables {
			fn := mt.MinFileNum()
			if fn == 0 {
				continue
			}
			if minReferenced == 0 || fn < minReferenced {
				minReferenced = fn
			}
		}
		sh.mu.RUnlock()
	}
	if minReferenced == 0 {
		minReferenced = e.pipe.ActiveFileNum()
	}
	return e.pipe.PurgeTo(minReferenced)
}

// Sync fsyncs the pipe log's active file.
func (e *Engine) Sync() error { return e.pipe.Sync() }

// FlushStats returns and resets the accumulated cache hit/miss/size
// counters since the last call.
func (e *Engine) FlushStats() CacheStatsSnapshot { return e.stats.FlushStats() }

// Close syncs and closes the underlying pipe log.
func (e *Engine) Close() error { return e.pipe.Close() }
