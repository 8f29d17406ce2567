package memtable

import (
	"raftlog/internal/logbatch"
	"raftlog/internal/rlerrors"
)

// EntryFetcher resolves a non-resident entry's payload from the pipe
// log. The engine supplies this; memtable has no file access of its own.
type EntryFetcher func(locator logbatch.EntryIndex) ([]byte, error)

// MemTable is one region's window of recent entries plus its key/value
// map. It carries no mutex: every exported method assumes the caller
// already holds the owning shard's lock, so rewrite_inactive's inner
// apply routine can touch a MemTable directly without re-acquiring
// anything and deadlocking against a concurrent writer.
type MemTable struct {
	regionID   uint64
	stats      CacheStats
	cacheLimit int64

	firstIndex  uint64 // index of entries[0]; 0 when empty
	entries     []slot
	cacheSize   int64
	entriesSize int64

	kv map[string]kvEntry
}

// New returns an empty MemTable for regionID. stats may be nil in tests
// that don't care about cache accounting. cacheLimit bounds the table's
// own resident payload bytes (0 means unbounded, used by tests that
// don't exercise eviction); the engine sets it to half the configured
// region size.
func New(regionID uint64, stats CacheStats, cacheLimit int64) *MemTable {
	return &MemTable{
		regionID:   regionID,
		stats:      stats,
		cacheLimit: cacheLimit,
		kv:         make(map[string]kvEntry),
	}
}

// RegionID returns the region this table indexes.
func (m *MemTable) RegionID() uint64 { return m.regionID }

// Empty reports whether the table has no entries and no keys.
func (m *MemTable) Empty() bool { return len(m.entries) == 0 && len(m.kv) == 0 }

// FirstIndex and LastIndex report the bounds of the entry window,
// resident or not; both are 0 when the table has no entries.
func (m *MemTable) FirstIndex() uint64 {
	if len(m.entries) == 0 {
		return 0
	}
	return m.firstIndex
}

func (m *MemTable) LastIndex() uint64 {
	if len(m.entries) == 0 {
		return 0
	}
	return m.firstIndex + uint64(len(m.entries)) - 1
}

// EntriesCount reports how many entries are currently windowed.
func (m *MemTable) EntriesCount() int { return len(m.entries) }

// EntriesSize reports the total payload size across the window,
// resident or not: the compaction heuristics care about how much log a
// region has accumulated, not how much of it happens to be cached.
func (m *MemTable) EntriesSize() int64 { return m.entriesSize }

// KVCount reports how many live keys the table holds.
func (m *MemTable) KVCount() int { return len(m.kv) }

// CacheSize reports the table's current resident payload byte total,
// kept incrementally so it stays O(1) rather than re-summing the window.
func (m *MemTable) CacheSize() int64 { return m.cacheSize }

// CacheLimit reports the table's configured cache budget (0 = unbounded).
func (m *MemTable) CacheLimit() int64 { return m.cacheLimit }

// MinFileNum reports the smallest file_num any entry locator (resident
// or not) or kv value still references, or 0 if nothing in the table
// points at a file (table is empty or nothing has a file_num yet).
func (m *MemTable) MinFileNum() uint64 {
	var min uint64
	for i := range m.entries {
		fn := m.entries[i].locator.FileNum
		if fn == 0 {
			continue
		}
		if min == 0 || fn < min {
			min = fn
		}
	}
	for _, v := range m.kv {
		if v.fileNum == 0 {
			continue
		}
		if min == 0 || v.fileNum < min {
			min = v.fileNum
		}
	}
	return min
}

// Append adds a run of entries, already located by the pipe log, to the
// resident window. The common case continues directly from the last
// resident index. An index that lands inside the existing window is an
// overwrite: a Raft leader change re-proposing a rewound suffix, so the
// colliding tail is dropped (and its cache bytes released) before the
// new entries are appended in its place, truncating forward on a
// rolled-back offset rather than patching around it. An index before
// the window's start (already compacted) or
// past its end by more than one (a genuine gap) is rejected as corruption.
func (m *MemTable) Append(entries []logbatch.Entry, locators []logbatch.EntryIndex) error {
	if len(entries) == 0 {
		return nil
	}
	if len(entries) != len(locators) {
		return rlerrors.NewCorruption("memtable append: %d entries but %d locators", len(entries), len(locators))
	}
	start := entries[0].Index
	if len(m.entries) > 0 {
		if start < m.firstIndex {
			return rlerrors.NewCorruption("memtable append: index %d precedes compacted window start %d", start, m.firstIndex)
		}
		if start > m.LastIndex()+1 {
			return rlerrors.NewCorruption("memtable append: expected index <= %d, got %d", m.LastIndex()+1, start)
		}
		if start <= m.LastIndex() {
			cut := start - m.firstIndex
			m.releaseCache(m.entries[cut:])
			for i := cut; i < uint64(len(m.entries)); i++ {
				m.entriesSize -= m.entries[i].dataLen
			}
			m.entries = m.entries[:cut]
		}
	}
	if len(m.entries) == 0 {
		m.firstIndex = start
	}
	var added int64
	for i := range entries {
		m.entries = append(m.entries, slot{
			term:     entries[i].Term,
			locator:  locators[i],
			data:     entries[i].Data,
			dataLen:  int64(len(entries[i].Data)),
			resident: true,
		})
		added += int64(len(entries[i].Data))
	}
	m.cacheSize += added
	m.entriesSize += added
	if m.stats != nil {
		m.stats.RecordSizeChange(added)
	}
	m.evictToCacheLimit()
	return nil
}

// evictToCacheLimit downgrades the oldest resident slots to
// locator-only until cacheSize fits within cacheLimit. Only slots with
// a disk locator can be evicted this way: a slot that
// hasn't been durably placed yet has nowhere to re-read its payload
// from, so it stays resident regardless of budget pressure.
func (m *MemTable) evictToCacheLimit() {
	if m.cacheLimit <= 0 || m.cacheSize <= m.cacheLimit {
		return
	}
	for i := range m.entries {
		if m.cacheSize <= m.cacheLimit {
			break
		}
		s := &m.entries[i]
		if s.resident && s.locator.FileNum != 0 {
			m.releaseOne(s)
		}
	}
}

// slotAt returns a pointer to the slot for index, or nil if index falls
// outside the current window.
func (m *MemTable) slotAt(index uint64) *slot {
	if len(m.entries) == 0 || index < m.firstIndex {
		return nil
	}
	pos := index - m.firstIndex
	if pos >= uint64(len(m.entries)) {
		return nil
	}
	return &m.entries[pos]
}

// GetEntry returns the entry at index, fetching its payload from disk
// via fetch if it isn't cache-resident. Returns rlerrors.ErrEntriesCompacted
// if index predates the window and rlerrors.ErrEntriesUnavailable if it's
// beyond the window (not yet written).
func (m *MemTable) GetEntry(index uint64, fetch EntryFetcher) (logbatch.Entry, error) {
	if len(m.entries) == 0 || index < m.firstIndex {
		return logbatch.Entry{}, rlerrors.ErrEntriesCompacted
	}
	s := m.slotAt(index)
	if s == nil {
		return logbatch.Entry{}, rlerrors.ErrEntriesUnavailable
	}
	if s.resident {
		if m.stats != nil {
			m.stats.RecordHit()
		}
		return logbatch.Entry{Index: index, Term: s.term, Data: s.data}, nil
	}
	if m.stats != nil {
		m.stats.RecordMiss()
	}
	data, err := fetch(s.locator)
	if err != nil {
		return logbatch.Entry{}, err
	}
	return logbatch.Entry{Index: index, Term: s.term, Data: data}, nil
}

// FetchEntriesTo collects entries in [begin, end) into dst, stopping
// early once the accumulated payload size would exceed maxSize (0
// means unbounded). Non-resident entries are resolved via fetch.
func (m *MemTable) FetchEntriesTo(begin, end uint64, maxSize int64, fetch EntryFetcher, dst []logbatch.Entry) ([]logbatch.Entry, error) {
	if begin >= end {
		return dst, nil
	}
	if len(m.entries) == 0 || begin < m.firstIndex {
		return dst, rlerrors.ErrEntriesCompacted
	}
	var size int64
	for idx := begin; idx < end; idx++ {
		s := m.slotAt(idx)
		if s == nil {
			return dst, rlerrors.ErrEntriesUnavailable
		}
		var data []byte
		if s.resident {
			if m.stats != nil {
				m.stats.RecordHit()
			}
			data = s.data
		} else {
			if m.stats != nil {
				m.stats.RecordMiss()
			}
			var err error
			data, err = fetch(s.locator)
			if err != nil {
				return dst, err
			}
		}
		if maxSize > 0 && size+int64(len(data)) > maxSize && len(dst) > 0 {
			break
		}
		dst = append(dst, logbatch.Entry{Index: idx, Term: s.term, Data: data})
		size += int64(len(data))
	}
	return dst, nil
}

// FetchAll dumps the whole window in index order, resolving
// non-resident payloads via fetch. Rewrite-style full dumps go through
// this rather than repeating the window bounds at every call site.
func (m *MemTable) FetchAll(fetch EntryFetcher) ([]logbatch.Entry, error) {
	if len(m.entries) == 0 {
		return nil, nil
	}
	return m.FetchEntriesTo(m.firstIndex, m.firstIndex+uint64(len(m.entries)), 0, fetch, nil)
}

// CompactTo drops every entry with index < compactIndex from the
// window, releasing their cached payloads. Returns the number of
// entries removed, for the caller's compaction bookkeeping.
func (m *MemTable) CompactTo(compactIndex uint64) int {
	if len(m.entries) == 0 || compactIndex <= m.firstIndex {
		return 0
	}
	cut := compactIndex - m.firstIndex
	if cut > uint64(len(m.entries)) {
		cut = uint64(len(m.entries))
	}
	m.releaseCache(m.entries[:cut])
	for i := uint64(0); i < cut; i++ {
		m.entriesSize -= m.entries[i].dataLen
	}
	m.entries = m.entries[cut:]
	if len(m.entries) == 0 {
		m.firstIndex = 0
	} else {
		m.firstIndex = compactIndex
	}
	return int(cut)
}

// CompactCacheTo releases cached payloads for entries with index <
// compactIndex without removing them from the window; their locators
// remain so GetEntry can still serve them by re-reading the pipe log.
func (m *MemTable) CompactCacheTo(compactIndex uint64) {
	for i := range m.entries {
		if m.firstIndex+uint64(i) >= compactIndex {
			break
		}
		if m.entries[i].resident && m.entries[i].locator.FileNum != 0 {
			m.releaseOne(&m.entries[i])
		}
	}
}

// EvictOldFromCache downgrades every resident slot whose locator
// references a file before minFileNum. Slots with no locator yet
// (never durably placed) are untouched regardless of age, since there
// would be nothing to re-read them from.
func (m *MemTable) EvictOldFromCache(minFileNum uint64) {
	for i := range m.entries {
		s := &m.entries[i]
		if s.resident && s.locator.FileNum != 0 && s.locator.FileNum < minFileNum {
			m.releaseOne(s)
		}
	}
}

func (m *MemTable) releaseCache(slots []slot) {
	for i := range slots {
		if slots[i].resident {
			n := int64(len(slots[i].data))
			m.cacheSize -= n
			if m.stats != nil {
				m.stats.RecordSizeChange(-n)
			}
		}
	}
}

func (m *MemTable) releaseOne(s *slot) {
	n := int64(len(s.data))
	m.cacheSize -= n
	if m.stats != nil {
		m.stats.RecordSizeChange(-n)
	}
	s.data = nil
	s.resident = false
}

// IsLiveEntryFile reports whether index is currently in the window
// (resident or not) and still locates to fileNum, i.e. hasn't since been
// superseded or compacted away. Used by rewrite to decide whether an
// entry read back out of an old segment is still worth carrying
// forward into the new one.
func (m *MemTable) IsLiveEntryFile(index, fileNum uint64) bool {
	s := m.slotAt(index)
	return s != nil && s.locator.FileNum == fileNum
}

// IsLiveKVFile reports whether key's current value was written to fileNum.
func (m *MemTable) IsLiveKVFile(key []byte, fileNum uint64) bool {
	v, ok := m.kv[string(key)]
	return ok && v.fileNum == fileNum
}

// RebindLive patches the locator of every entry in entries that is
// still live at fromFile onto its corresponding newLocators entry,
// leaving anything superseded since the caller last checked untouched.
// It takes no lock of its own: the caller must already hold the shard
// lock, which is what lets rewrite re-verify and rebind in one
// uninterrupted step instead of re-entering the normal Append path
// and deadlocking on the same lock it's already holding.
func (m *MemTable) RebindLive(entries []logbatch.Entry, newLocators []logbatch.EntryIndex, fromFile uint64) {
	for i := range entries {
		if !m.IsLiveEntryFile(entries[i].Index, fromFile) {
			continue
		}
		s := m.slotAt(entries[i].Index)
		wasResident := s.resident
		oldSize := int64(len(s.data))
		s.locator = newLocators[i]
		s.data = entries[i].Data
		m.entriesSize += int64(len(s.data)) - s.dataLen
		s.dataLen = int64(len(s.data))
		s.resident = true
		delta := int64(len(s.data))
		if wasResident {
			delta -= oldSize
		}
		if delta != 0 {
			m.cacheSize += delta
			if m.stats != nil {
				m.stats.RecordSizeChange(delta)
			}
		}
	}
	m.evictToCacheLimit()
}

// RebindKVLive updates key's fileNum to newFileNum if and only if it is
// still live at fromFile, the same re-verify-then-apply step RebindLive
// performs for entries.
func (m *MemTable) RebindKVLive(key []byte, newFileNum, fromFile uint64) {
	v, ok := m.kv[string(key)]
	if !ok || v.fileNum != fromFile {
		return
	}
	v.fileNum = newFileNum
	m.kv[string(key)] = v
}

// Put records key's latest value and the file_num the pipe log placed
// its write in; the engine calls it only after that placement. A
// fileNum of 0 marks a value with no file behind it, which MinFileNum
// ignores.
func (m *MemTable) Put(key, value []byte, fileNum uint64) {
	m.kv[string(key)] = kvEntry{value: append([]byte(nil), value...), fileNum: fileNum}
}

// Delete removes key from the table.
func (m *MemTable) Delete(key []byte) {
	delete(m.kv, string(key))
}

// Get returns key's current value, if any.
func (m *MemTable) Get(key []byte) ([]byte, bool) {
	v, ok := m.kv[string(key)]
	if !ok {
		return nil, false
	}
	return v.value, true
}

// FetchAllKVs dumps every live key/value pair, in no particular order.
func (m *MemTable) FetchAllKVs() []logbatch.KV {
	out := make([]logbatch.KV, 0, len(m.kv))
	for k, v := range m.kv {
		out = append(out, logbatch.KV{Key: []byte(k), Value: v.value})
	}
	return out
}

// Clean empties the table, as applied by a CleanRegion command.
func (m *MemTable) Clean() {
	if m.stats != nil {
		m.stats.RecordSizeChange(-m.cacheSize)
	}
	m.entries = nil
	m.firstIndex = 0
	m.cacheSize = 0
	m.entriesSize = 0
	m.kv = make(map[string]kvEntry)
}
