package engine

import (
	"raftlog/internal/logbatch"
	"raftlog/internal/pipelog"
)

// RewriteInactive reclaims space from the oldest sealed files by
// copying forward whatever a small region still has live there, then
// purging them. The cold prefix is identified by FilesBefore against
// cfg.CacheSizeLimit; a region whose window already holds
// cfg.CompactThreshold entries or more is left alone; its own compaction is
// expected to shrink it instead of paying rewrite amplification.
func (e *Engine) RewriteInactive() error {
	cutoff := e.pipe.FilesBefore(e.cfg.CacheSizeLimit)
	if cutoff == 0 {
		return nil
	}
	first := e.pipe.FirstFileNum()
	for fn := first; fn < cutoff; fn++ {
		if err := e.rewriteFile(fn); err != nil {
			return err
		}
	}
	// A region at or above CompactThreshold is deliberately left
	// referencing the old prefix, so advancing first_file_num must go
	// through PurgeExpiredFiles's actual min-reference scan rather than
	// blindly purging up to cutoff: that would delete bytes a
	// not-yet-rewritten region still points at.
	return e.PurgeExpiredFiles()
}

func (e *Engine) rewriteFile(fileNum uint64) error {
	data, err := e.pipe.ReadFile(fileNum)
	if err != nil {
		return err
	}
	off := int64(pipelog.PrefixLen)
	for {
		batch, consumed, ok, err := logbatch.DecodeFrom(data[off:], fileNum, off)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		for _, it := range batch.Drain() {
			if err := e.rewriteItem(&it, fileNum); err != nil {
				return err
			}
		}
		off += consumed
	}
}

func (e *Engine) rewriteItem(it *logbatch.Item, sourceFile uint64) error {
	switch it.Kind() {
	case logbatch.ItemKindEntries:
		entries, _ := it.Entries()
		return e.rewriteEntries(it.RegionID(), entries, sourceFile)
	case logbatch.ItemKindKV:
		if it.Op() != logbatch.OpPut {
			return nil
		}
		return e.rewriteKV(it.RegionID(), it.Key(), it.Value(), sourceFile)
	default:
		// Command items (region clean) leave nothing to carry forward.
		return nil
	}
}

// rewriteEntries optimistically filters entries still pointing at
// sourceFile under a read lock, writes the survivors forward, and only
// then takes the write lock to re-verify and rebind each one. Nothing
// updates the memtable without that final, authoritative check, so a
// write racing the rewrite can never be clobbered back to a stale copy.
func (e *Engine) rewriteEntries(regionID uint64, entries []logbatch.Entry, sourceFile uint64) error {
	sh := e.shardFor(regionID)

	sh.mu.RLock()
	var candidates []logbatch.Entry
	if mt, ok := sh.tables[regionID]; ok && mt.EntriesCount() < e.cfg.CompactThreshold {
		for _, en := range entries {
			if mt.IsLiveEntryFile(en.Index, sourceFile) {
				candidates = append(candidates, en)
			}
		}
	}
	sh.mu.RUnlock()
	if len(candidates) == 0 {
		return nil
	}

	newBatch := logbatch.New()
	newBatch.AddEntries(regionID, candidates)
	if _, _, _, err := e.pipe.AppendLogBatch(newBatch, false); err != nil {
		return err
	}
	rebound := newBatch.Drain()
	_, newLocators := rebound[0].Entries()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if mt, ok := sh.tables[regionID]; ok {
		mt.RebindLive(candidates, newLocators, sourceFile)
	}
	return nil
}

func (e *Engine) rewriteKV(regionID uint64, key, value []byte, sourceFile uint64) error {
	sh := e.shardFor(regionID)

	sh.mu.RLock()
	mt, ok := sh.tables[regionID]
	live := ok && mt.EntriesCount() < e.cfg.CompactThreshold && mt.IsLiveKVFile(key, sourceFile)
	sh.mu.RUnlock()
	if !live {
		return nil
	}

	newBatch := logbatch.New()
	newBatch.Put(regionID, key, value)
	fileNum, _, _, err := e.pipe.AppendLogBatch(newBatch, false)
	if err != nil {
		return err
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if mt, ok := sh.tables[regionID]; ok {
		mt.RebindKVLive(key, fileNum, sourceFile)
	}
	return nil
}
