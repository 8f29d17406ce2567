// Package pipelog manages a directory of append-only segment files plus
// a mutable "active" file: rotation, pre-allocation, durability control,
// positional reads, and purge-by-file-number.
package pipelog

import (
	"os"
	"sync"

	"raftlog/internal/logbatch"
	"raftlog/internal/rlerrors"
	"raftlog/internal/telemetry"
)

// PipeLog is a directory of segment files plus one writable active file.
// A single mutex guards the active-file writer: AppendLogBatch
// serializes through it.
type PipeLog struct {
	mu  sync.Mutex
	cfg Config
	log *telemetry.Logger

	active        *activeFile
	firstFileNum  uint64
	activeFileNum uint64
	unsyncedBytes int64

	recoverNext uint64
	readCache   *readHandleCache
	closed      bool
}

// Open scans cfg.Dir for existing segment files, creating the first one
// if none exist, and opens the newest as the writable active file,
// positioning its logical write offset at the first all-zero header or
// the point where parsing the tail stops making sense.
func Open(cfg Config) (*PipeLog, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	nums, err := scanFileNums(cfg.Dir)
	if err != nil {
		return nil, err
	}

	p := &PipeLog{
		cfg:       cfg,
		log:       telemetry.New("pipelog"),
		readCache: newReadHandleCache(cfg.ReadCacheCapacity),
	}

	if len(nums) == 0 {
		af, err := createActiveFile(cfg.Dir, 1, cfg.TargetFileSize)
		if err != nil {
			return nil, err
		}
		p.active = af
		p.firstFileNum = 1
		p.activeFileNum = 1
		p.recoverNext = 1
		p.log.Infof("created initial segment 1 in %s", cfg.Dir)
		return p, nil
	}

	p.firstFileNum = nums[0]
	p.activeFileNum = nums[len(nums)-1]
	p.recoverNext = p.firstFileNum

	af, err := openActiveFile(cfg.Dir, p.activeFileNum, cfg.TargetFileSize)
	if err != nil {
		return nil, err
	}
	p.active = af
	p.seekLogicalEnd()
	p.log.Infof("opened %d segment(s) in %s, active=%d, offset=%d", len(nums), cfg.Dir, p.activeFileNum, p.active.offset)
	return p, nil
}

// seekLogicalEnd walks the active file's record stream to find where
// writes should resume: the first all-zero header, or the point a
// record fails to decode (left for the engine's recovery policy to
// resolve via TruncateActiveLog).
func (p *PipeLog) seekLogicalEnd() {
	off := int64(PrefixLen)
	for {
		_, consumed, ok, err := logbatch.DecodeFrom(p.active.data[off:], p.activeFileNum, off)
		if err != nil || !ok {
			break
		}
		off += consumed
	}
	p.active.offset = off
}

// AppendLogBatch encodes batch, rotating the active file first if the
// encoded record would not fit, writes it, and binds its EntryIndex
// locators to the file/offset it landed at. Returns the file_num and
// base_offset the caller must pass to the memtable, plus the framed
// record size in bytes.
func (p *PipeLog) AppendLogBatch(batch *logbatch.LogBatch, sync bool) (fileNum uint64, baseOffset, written int64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, 0, 0, rlerrors.ErrClosed
	}
	if batch.Empty() {
		return 0, 0, 0, nil
	}

	res, err := logbatch.Encode(batch)
	if err != nil {
		return 0, 0, 0, err
	}

	if p.active.remaining() < int64(len(res.Data)) {
		if err := p.rotate(int64(PrefixLen) + int64(len(res.Data))); err != nil {
			return 0, 0, 0, err
		}
	}

	baseOffset = p.active.write(res.Data)
	fileNum = p.active.num
	written = int64(len(res.Data))
	batch.BindLocators(fileNum, baseOffset, res.BatchLen)

	p.unsyncedBytes += written
	if sync || p.unsyncedBytes >= p.cfg.BytesPerSync {
		if err := p.active.sync(); err != nil {
			return fileNum, baseOffset, written, err
		}
		p.unsyncedBytes = 0
	}
	return fileNum, baseOffset, written, nil
}

// rotate finalizes the current active file and opens file_num+1 as the
// new active file, sized at least large enough for minCapacity bytes.
func (p *PipeLog) rotate(minCapacity int64) error {
	if err := p.active.finalize(); err != nil {
		return err
	}
	newNum := p.active.num + 1
	capacity := p.cfg.TargetFileSize
	if capacity < minCapacity {
		capacity = minCapacity
	}
	na, err := createActiveFile(p.cfg.Dir, newNum, capacity)
	if err != nil {
		return err
	}
	p.active = na
	p.activeFileNum = newNum
	p.unsyncedBytes = 0
	p.log.Infof("rotated active segment to %d", newNum)
	return nil
}

// ReadNextFile is the sequential recovery reader: it delivers each
// file's full body, including the header+version prefix, from
// first_file_num up to and including the active file, then reports ok=false.
func (p *PipeLog) ReadNextFile() (data []byte, fileNum uint64, ok bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.recoverNext > p.activeFileNum {
		return nil, 0, false, nil
	}
	num := p.recoverNext
	p.recoverNext++

	if num == p.activeFileNum {
		buf := make([]byte, len(p.active.data))
		copy(buf, p.active.data)
		return buf, num, true, nil
	}
	buf, err := os.ReadFile(filePath(p.cfg.Dir, num))
	if err != nil {
		return nil, 0, false, err
	}
	return buf, num, true, nil
}

// Fread reads exactly length bytes at offset within fileNum, whether
// that is the active file or a purged-eligible older one.
func (p *PipeLog) Fread(fileNum uint64, offset, length int64) ([]byte, error) {
	p.mu.Lock()
	if fileNum < p.firstFileNum {
		p.mu.Unlock()
		return nil, rlerrors.ErrFilePurged
	}
	if fileNum == p.activeFileNum {
		a := p.active
		if offset < 0 || offset+length > int64(len(a.data)) {
			p.mu.Unlock()
			return nil, rlerrors.NewCorruption("fread out of range for active file %d", fileNum)
		}
		buf := make([]byte, length)
		copy(buf, a.data[offset:offset+length])
		p.mu.Unlock()
		return buf, nil
	}
	dir := p.cfg.Dir
	cache := p.readCache
	p.mu.Unlock()

	f, err := cache.getOrOpen(fileNum, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rlerrors.ErrFilePurged
		}
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadFile returns the full contents of a sealed (non-active) file, for
// callers that need to scan it randomly rather than through the
// one-shot ReadNextFile sequence, such as a rewrite pass.
func (p *PipeLog) ReadFile(fileNum uint64) ([]byte, error) {
	p.mu.Lock()
	if fileNum < p.firstFileNum {
		p.mu.Unlock()
		return nil, rlerrors.ErrFilePurged
	}
	if fileNum == p.activeFileNum {
		p.mu.Unlock()
		return nil, rlerrors.NewCorruption("ReadFile called on the active file %d", fileNum)
	}
	dir := p.cfg.Dir
	p.mu.Unlock()
	return os.ReadFile(filePath(dir, fileNum))
}

// TruncateActiveLog sets the active file's logical length to offset and
// zero-fills beyond it. Used by recovery to discard a corrupted or
// superseded tail under TolerateCorruptedTailRecords. The file-level
// magic+version prefix is re-written, so truncating to the very start
// also repairs a mangled header.
func (p *PipeLog) TruncateActiveLog(offset int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if offset < int64(PrefixLen) {
		offset = int64(PrefixLen)
	}
	p.active.truncateTo(offset)
	writePrefix(p.active.data[:PrefixLen])
	return nil
}

// PurgeTo unlinks every file with file_num < minFileNum and advances
// first_file_num. Fails if minFileNum exceeds the active file.
func (p *PipeLog) PurgeTo(minFileNum uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if minFileNum > p.activeFileNum {
		return rlerrors.NewCorruption("purge_to(%d) exceeds active file %d", minFileNum, p.activeFileNum)
	}
	for n := p.firstFileNum; n < minFileNum; n++ {
		p.readCache.drop(n)
		if err := os.Remove(filePath(p.cfg.Dir, n)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if minFileNum > p.firstFileNum {
		p.log.Infof("purged files [%d, %d)", p.firstFileNum, minFileNum)
		p.firstFileNum = minFileNum
	}
	return nil
}

// FilesBefore returns the smallest file_num f such that the files
// [first_file_num, f) already accumulate at least byteBudget bytes, or 0
// if the entire inactive range doesn't reach the budget. Everything
// before f is the "cold" prefix eligible for cache eviction or rewrite.
func (p *PipeLog) FilesBefore(byteBudget int64) uint64 {
	p.mu.Lock()
	first := p.firstFileNum
	active := p.activeFileNum
	dir := p.cfg.Dir
	p.mu.Unlock()

	var cum int64
	for n := first; n < active; n++ {
		fi, err := os.Stat(filePath(dir, n))
		if err != nil {
			continue
		}
		cum += fi.Size()
		if cum >= byteBudget {
			return n + 1
		}
	}
	return 0
}

// FirstFileNum returns the oldest live file number.
func (p *PipeLog) FirstFileNum() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstFileNum
}

// ActiveFileNum returns the current writable file number.
func (p *PipeLog) ActiveFileNum() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeFileNum
}

// Sync fsyncs the active file unconditionally.
func (p *PipeLog) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return rlerrors.ErrClosed
	}
	err := p.active.sync()
	p.unsyncedBytes = 0
	return err
}

// Close fsyncs and closes the active file and every cached read handle.
func (p *PipeLog) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.readCache.close()
	return p.active.close()
}
