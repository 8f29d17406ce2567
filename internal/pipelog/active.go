package pipelog

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// activeFile is the mutable tail of the pipe log: a pre-allocated,
// mmap'd file whose logical length grows as batches are appended, one
// member of a rotating sequence of numbered segments.
type activeFile struct {
	num    uint64
	file   *os.File
	data   []byte // mmap region, length == capacity
	offset int64  // logical write offset, including the file-level prefix
}

func createActiveFile(dir string, num uint64, capacity int64) (*activeFile, error) {
	f, err := os.OpenFile(filePath(dir, num), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(capacity); err != nil {
		f.Close()
		return nil, err
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(capacity), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	writePrefix(data[:PrefixLen])
	return &activeFile{num: num, file: f, data: data, offset: int64(PrefixLen)}, nil
}

// openActiveFile reopens an existing file as active, mmapping it at its
// on-disk (pre-allocated) size and leaving offset for the caller to
// determine by scanning for the logical end.
func openActiveFile(dir string, num uint64, capacity int64) (*activeFile, error) {
	f, err := os.OpenFile(filePath(dir, num), os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := fi.Size()
	if size < capacity {
		if err := f.Truncate(capacity); err != nil {
			f.Close()
			return nil, err
		}
		size = capacity
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &activeFile{num: num, file: f, data: data, offset: int64(PrefixLen)}, nil
}

// capacity reports the total mmap'd byte budget for the file.
func (a *activeFile) capacity() int64 { return int64(len(a.data)) }

// remaining reports unused bytes before the file's capacity is exhausted.
func (a *activeFile) remaining() int64 { return a.capacity() - a.offset }

// write copies b to the current logical offset and advances it.
func (a *activeFile) write(b []byte) (pos int64) {
	pos = a.offset
	copy(a.data[a.offset:], b)
	a.offset += int64(len(b))
	return pos
}

// sync flushes the mmap'd region to disk.
func (a *activeFile) sync() error {
	return unix.Msync(a.data, unix.MS_SYNC)
}

// truncateTo moves the logical offset back to off and zeroes everything
// from there to the end of the mmap'd region, restoring the all-zero
// "end of meaningful data" invariant after discarding a corrupted or
// superseded tail.
func (a *activeFile) truncateTo(off int64) {
	clear(a.data[off:])
	a.offset = off
}

// finalize fsyncs, unmaps, and trims the underlying file down to its
// logical size; used when rotating an active file out.
func (a *activeFile) finalize() error {
	if err := a.sync(); err != nil {
		return err
	}
	if err := syscall.Munmap(a.data); err != nil {
		return err
	}
	if err := a.file.Truncate(a.offset); err != nil {
		return err
	}
	return a.file.Close()
}

// close fsyncs, unmaps, and closes without trimming (the file remains
// the writable active file, e.g. on shutdown without a final rotation).
func (a *activeFile) close() error {
	if err := a.sync(); err != nil {
		return err
	}
	if err := syscall.Munmap(a.data); err != nil {
		return err
	}
	return a.file.Close()
}
