// Package rlerrors holds the sentinel and typed errors shared across the
// codec, pipe log, memtable, and engine packages. Centralizing them here
// keeps every layer from redefining the same five failure kinds.
package rlerrors

import (
	"errors"
	"fmt"
)

var (
	// ErrEntriesCompacted is returned when a fetch's begin index falls
	// before a group's first live entry.
	ErrEntriesCompacted = errors.New("raftlog: entries compacted")
	// ErrEntriesUnavailable is returned when a fetch's end index reaches
	// past a group's last live entry.
	ErrEntriesUnavailable = errors.New("raftlog: entries unavailable")
	// ErrClosed is returned by any operation on a closed pipe log or engine.
	ErrClosed = errors.New("raftlog: closed")
	// ErrFilePurged is returned when fread targets a file number below
	// the pipe log's first live file.
	ErrFilePurged = errors.New("raftlog: file purged")
	// ErrProtobufDecode is returned by GetMsg when a caller-supplied
	// Unmarshal fails on a value read back from a region's kv map. The
	// engine itself never decodes payloads; this sentinel exists so a
	// caller's Unmarshal can report the failure in the same vocabulary
	// as every other read error this package defines.
	ErrProtobufDecode = errors.New("raftlog: protobuf decode")
)

// Corruption reports a detected framing or checksum violation. It is the
// one error kind here that carries a payload beyond its kind.
type Corruption struct {
	Reason string
}

func (e *Corruption) Error() string {
	return fmt.Sprintf("raftlog: corruption: %s", e.Reason)
}

// NewCorruption builds a Corruption error from a format string.
func NewCorruption(format string, args ...any) error {
	return &Corruption{Reason: fmt.Sprintf(format, args...)}
}

// IsCorruption reports whether err is, or wraps, a *Corruption.
func IsCorruption(err error) bool {
	var c *Corruption
	return errors.As(err, &c)
}
