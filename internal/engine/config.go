package engine

import "raftlog/internal/pipelog"

// RecoveryMode selects how Open treats a corrupted tail record in the
// last, still-active file. Every earlier file is expected to be
// well-formed; only the active file's dangling tail is negotiable.
type RecoveryMode int

const (
	// TolerateCorruptedTailRecords truncates the active file at the
	// first bad record and resumes, the default for a crash-recovered
	// Raft node rejoining a cluster.
	TolerateCorruptedTailRecords RecoveryMode = iota
	// AbsoluteConsistency refuses to open if any record, anywhere,
	// fails to decode.
	AbsoluteConsistency
)

// ShardCount is the number of memtable shards the engine hashes region
// IDs across. 128 is an arbitrary constant balancing lock contention
// against memory for a single-node deployment.
const ShardCount = 128

// Config configures an Engine, carrying the pipe log's own Config in
// the Pipe field.
type Config struct {
	Pipe pipelog.Config

	Recovery RecoveryMode

	// CacheSizeLimit bounds total resident entry payload bytes across
	// every memtable before CompactCacheTo pressure should be applied.
	CacheSizeLimit int64
	// RegionSize is a region's soft byte budget: a memtable's cache_limit
	// is fixed to half of it at first touch, and RegionsNeedForceCompact
	// flags a region past 2/3 of it.
	RegionSize int
	// TotalSizeLimit bounds total on-disk bytes across all segment
	// files before a "left-behind" region is flagged by
	// RegionsNeedForceCompact.
	TotalSizeLimit int64
	// CompactThreshold is the entry count below which RewriteInactive
	// carries a region's live data forward into the active file instead
	// of waiting for its own compaction to shrink it.
	CompactThreshold int
}

// DefaultConfig returns sane defaults for a single-node deployment.
func DefaultConfig(dir string) Config {
	return Config{
		Pipe:             pipelog.DefaultConfig(dir),
		Recovery:         TolerateCorruptedTailRecords,
		CacheSizeLimit:   128 << 20,
		RegionSize:       8 << 20,
		TotalSizeLimit:   4 << 30,
		CompactThreshold: 10_000,
	}
}
