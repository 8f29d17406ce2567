package engine

// RegionsNeedForceCompact returns every region whose windowed entry
// payload bytes (resident or not) exceed 2/3 of cfg.RegionSize, or whose oldest
// referenced file has fallen behind the cfg.TotalSizeLimit horizon --
// the two conditions engine.rs's own regions_need_force_compact flags,
// since a region can be small but still pin down a long run of
// otherwise-purgeable cold files.
func (e *Engine) RegionsNeedForceCompact() []uint64 {
	sizeThreshold := int64(e.cfg.RegionSize) * 2 / 3
	staleCutoff := e.pipe.FilesBefore(e.cfg.TotalSizeLimit)

	var regions []uint64
	for _, sh := range e.shards {
		sh.mu.RLock()
		for regionID, mt := range sh.tables {
			tooBig := mt.EntriesCount() > 0 && mt.EntriesSize() > sizeThreshold
			fn := mt.MinFileNum()
			leftBehind := staleCutoff != 0 && fn != 0 && fn < staleCutoff
			if tooBig || leftBehind {
				regions = append(regions, regionID)
			}
		}
		sh.mu.RUnlock()
	}
	return regions
}

// EvictOldFromCache sweeps every region's memtable, releasing resident
// payloads whose locators fall in the cold file prefix identified by
// FilesBefore against CacheSizeLimit. It's a coarser, faster pass than
// CompactCacheTo: no per-region index math, just "drop whatever lives
// in files old enough to be outside the cache budget."
func (e *Engine) EvictOldFromCache() {
	cutoff := e.pipe.FilesBefore(e.cfg.CacheSizeLimit)
	if cutoff == 0 {
		return
	}
	e.evictCacheBefore(cutoff)
}

func (e *Engine) evictCacheBefore(minFileNum uint64) {
	for _, sh := range e.shards {
		sh.mu.Lock()
		for _, mt := range sh.tables {
			mt.EvictOldFromCache(minFileNum)
		}
		sh.mu.Unlock()
	}
}

// KVCount reports how many live keys a region currently holds, a
// diagnostic for operators inspecting a region's key/value footprint
// without dumping every value.
func (e *Engine) KVCount(regionID uint64) int {
	sh := e.shardFor(regionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	mt, ok := sh.tables[regionID]
	if !ok {
		return 0
	}
	return mt.KVCount()
}
