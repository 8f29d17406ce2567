package logbatch

// Marshaler is the minimal interface PutMsg accepts for a caller-supplied
// payload; the engine treats payload bytes as opaque, so no concrete
// serialization format is imposed.
type Marshaler interface {
	Marshal() ([]byte, error)
}

// Unmarshaler is GetMsg's counterpart to Marshaler: whatever decoding
// scheme the caller's Marshal used (commonly protobuf, per the
// rlerrors.ErrProtobufDecode error kind), Unmarshal
// reports its own failures and the engine wraps them uniformly.
type Unmarshaler interface {
	Unmarshal([]byte) error
}

// LogBatch is a write unit: an ordered list of items, owned by the
// caller until consumed by Engine.Consume, which drains it.
type LogBatch struct {
	items []item
}

// New returns an empty batch.
func New() *LogBatch {
	return &LogBatch{}
}

// Len reports the number of items queued.
func (b *LogBatch) Len() int { return len(b.items) }

// Empty reports whether the batch carries no items.
func (b *LogBatch) Empty() bool { return len(b.items) == 0 }

// AddEntries queues a group of entries for one region. entries must
// already carry their assigned, strictly increasing indices.
func (b *LogBatch) AddEntries(regionID uint64, entries []Entry) {
	idx := make([]EntryIndex, len(entries))
	for i, e := range entries {
		idx[i].Index = e.Index
	}
	b.items = append(b.items, item{
		kind:         itemKindEntries,
		regionID:     regionID,
		entries:      entries,
		entriesIndex: idx,
	})
}

// Put queues a key/value write for one region.
func (b *LogBatch) Put(regionID uint64, key, value []byte) {
	b.items = append(b.items, item{
		kind:     itemKindKV,
		regionID: regionID,
		op:       OpPut,
		key:      append([]byte(nil), key...),
		value:    append([]byte(nil), value...),
	})
}

// PutMsg marshals m and queues it as a Put.
func (b *LogBatch) PutMsg(regionID uint64, key []byte, m Marshaler) error {
	v, err := m.Marshal()
	if err != nil {
		return err
	}
	b.Put(regionID, key, v)
	return nil
}

// Delete queues removal of a key for one region.
func (b *LogBatch) Delete(regionID uint64, key []byte) {
	b.items = append(b.items, item{
		kind:     itemKindKV,
		regionID: regionID,
		op:       OpDelete,
		key:      append([]byte(nil), key...),
	})
}

// CleanRegion queues a command that removes a region's entire memtable.
func (b *LogBatch) CleanRegion(regionID uint64) {
	b.items = append(b.items, item{kind: itemKindCommand, regionID: regionID})
}

// BindLocators stamps FileNum/BaseOffset/BatchLen into every Entries
// item's EntryIndex records once the pipe log has placed the encoded
// record. Called by the pipe log immediately after a successful append,
// before the caller drains the batch into the engine.
func (b *LogBatch) BindLocators(fileNum uint64, baseOffset, batchLen int64) {
	BindLocators(b.items, fileNum, baseOffset, batchLen)
}

// Drain returns the batch's items and empties the batch, mirroring the
// "consumed by move on write" design: once Engine.Consume drains a
// batch, the caller is left holding an empty one rather than a stale
// copy of what was written.
func (b *LogBatch) Drain() []Item {
	items := b.items
	b.items = nil
	return items
}
