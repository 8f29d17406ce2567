package engine

import (
	"bytes"
	"fmt"

	"raftlog/internal/logbatch"
	"raftlog/internal/pipelog"
	"raftlog/internal/rlerrors"
)

// recover replays every segment file, in order, into the memtable
// registry. Every file before the active one is expected to be
// complete and well-formed: a bad record there means an earlier crash
// corrupted data the cluster may already have relied on, so recover
// fails outright rather than silently dropping committed entries.
// Only the active file's dangling tail, left by a crash mid-write, is
// negotiable, and cfg.Recovery decides how.
func (e *Engine) recover() error {
	for {
		data, fileNum, ok, err := e.pipe.ReadNextFile()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := e.recoverFile(data, fileNum); err != nil {
			return err
		}
		// Evict once the span of files already replayed would, at the
		// configured target size, outgrow the cache budget -- a cheap
		// file-count proxy rather than summing actual resident bytes.
		// CacheSizeLimit/TargetFileSize files stay warm.
		first := e.pipe.FirstFileNum()
		span := int64(fileNum-first+1) * e.cfg.Pipe.TargetFileSize
		if span > e.cfg.CacheSizeLimit {
			keep := uint64(e.cfg.CacheSizeLimit / e.cfg.Pipe.TargetFileSize)
			if fileNum > first+keep {
				e.evictCacheBefore(fileNum - keep)
			}
		}
	}
	return nil
}

// checkFilePrefix verifies a segment's leading FileMagicHeader+Version,
// the one structural guarantee every file this engine ever wrote
// carries; its absence means the bytes don't come from this engine at
// all, not an ordinary corruption.
func checkFilePrefix(data []byte) error {
	if len(data) < pipelog.PrefixLen {
		return rlerrors.NewCorruption("file shorter than the %d-byte magic+version prefix", pipelog.PrefixLen)
	}
	if !bytes.Equal(data[:len(pipelog.FileMagicHeader)], pipelog.FileMagicHeader[:]) {
		return rlerrors.NewCorruption("missing FILE_MAGIC_HEADER")
	}
	versionStart := len(pipelog.FileMagicHeader)
	if !bytes.Equal(data[versionStart:versionStart+len(pipelog.Version)], pipelog.Version) {
		return rlerrors.NewCorruption("unrecognized file VERSION")
	}
	return nil
}

func (e *Engine) recoverFile(data []byte, fileNum uint64) error {
	isActive := fileNum == e.pipe.ActiveFileNum()
	if err := checkFilePrefix(data); err != nil {
		if !isActive {
			panic(fmt.Sprintf("raftlog: sealed file %d missing a valid header: %v", fileNum, err))
		}
		e.log.Warnf("active file %d missing a valid header, truncating to empty: %v", fileNum, err)
		return e.pipe.TruncateActiveLog(int64(pipelog.PrefixLen))
	}

	off := int64(pipelog.PrefixLen)
	for {
		batch, consumed, ok, err := logbatch.DecodeFrom(data[off:], fileNum, off)
		if err == nil && ok {
			if applyErr := e.applyItems(batch.Drain(), fileNum); applyErr != nil {
				return applyErr
			}
			off += consumed
			continue
		}

		if !isActive {
			if err != nil {
				return fmt.Errorf("recover: sealed file %d has a corrupted record at offset %d: %w", fileNum, off, err)
			}
			// ok=false with no error at this point means DecodeFrom hit a
			// clean end of data: PipeLog.rotate trims a sealed file to its
			// exact logical length, so this is the normal end of the file,
			// not a truncated record.
			return nil
		}

		// Active file: only its tail may be incomplete, left by a crash
		// between writing a record and fsyncing the next one's header.
		if err != nil {
			switch e.cfg.Recovery {
			case AbsoluteConsistency:
				return fmt.Errorf("recover: active file %d has a corrupted tail record at offset %d: %w", fileNum, off, err)
			default: // TolerateCorruptedTailRecords
				e.log.Warnf("truncating corrupted tail of active file %d at offset %d: %v", fileNum, off, err)
				if truncErr := e.pipe.TruncateActiveLog(off); truncErr != nil {
					return truncErr
				}
			}
		}
		return nil
	}
}
