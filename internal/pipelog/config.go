package pipelog

// Config configures a pipe log directory: one struct per concern plus a
// DefaultConfig constructor.
type Config struct {
	// Dir is the directory holding segment files.
	Dir string
	// TargetFileSize is the rotation threshold, in bytes.
	TargetFileSize int64
	// BytesPerSync is the background fsync hint: once this many bytes
	// have been written unsynced, the next append fsyncs opportunistically.
	BytesPerSync int64
	// ReadCacheCapacity bounds the number of read-only file handles the
	// pipe log keeps open for Fread on non-active files.
	ReadCacheCapacity int
}

// DefaultConfig returns sane defaults: 64MiB segments, fsync every 1MiB
// of unsynced writes, and a handful of cached read-only handles.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:               dir,
		TargetFileSize:    64 << 20,
		BytesPerSync:      1 << 20,
		ReadCacheCapacity: 16,
	}
}
