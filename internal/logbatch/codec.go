package logbatch

import (
	"bytes"

	"raftlog/internal/rlerrors"
	"raftlog/pkg/codec"
)

// EncodeResult is the framed record ready to be appended to the pipe
// log, plus the batch_len the pipe log must bind into the batch's
// EntryIndex records once it knows where the record landed.
type EncodeResult struct {
	Data        []byte
	Compression CompressionType
	BatchLen    int64
}

// Encode serializes batch's items into a single framed record: an
// 8-byte header, the (possibly LZ4-compressed) item body, and a
// trailing CRC32 of that body. It fills each Entries item's
// EntryIndex.Offset/Len/Compression in place; FileNum/BaseOffset/
// BatchLen are left zero for the pipe log to bind after placement.
func Encode(batch *LogBatch) (EncodeResult, error) {
	var body bytes.Buffer
	varintBuf := make([]byte, codec.MaxVarintLen64)

	putUvarint := func(v uint64) {
		n := codec.PutUvarint(varintBuf, v)
		body.Write(varintBuf[:n])
	}

	putUvarint(uint64(len(batch.items)))
	for i := range batch.items {
		it := &batch.items[i]
		switch it.kind {
		case itemKindEntries:
			body.WriteByte(tagEntries)
			putUvarint(it.regionID)
			putUvarint(uint64(len(it.entries)))
			for j, e := range it.entries {
				entryStart := body.Len()
				putUvarint(e.Index)
				putUvarint(e.Term)
				putUvarint(uint64(len(e.Data)))
				body.Write(e.Data)
				it.entriesIndex[j].Offset = int64(entryStart + HeaderLen)
				it.entriesIndex[j].Len = int64(body.Len() - entryStart)
			}
		case itemKindKV:
			body.WriteByte(tagKV)
			if it.op == OpPut {
				body.WriteByte(0)
			} else {
				body.WriteByte(1)
			}
			putUvarint(it.regionID)
			putUvarint(uint64(len(it.key)))
			body.Write(it.key)
			if it.op == OpPut {
				putUvarint(uint64(len(it.value)))
				body.Write(it.value)
			}
		case itemKindCommand:
			body.WriteByte(tagCommand)
			body.WriteByte(commandClean)
			putUvarint(it.regionID)
		}
	}

	compression := CompressionNone
	finalBody := body.Bytes()
	if body.Len() >= CompressionThreshold {
		compressed, err := codec.CompressBlock(body.Bytes())
		if err != nil {
			return EncodeResult{}, err
		}
		finalBody = compressed
		compression = CompressionLz4
	}

	for i := range batch.items {
		if batch.items[i].kind != itemKindEntries {
			continue
		}
		for j := range batch.items[i].entriesIndex {
			batch.items[i].entriesIndex[j].Compression = compression
		}
	}

	crc := codec.Checksum(finalBody)
	batchLen := int64(len(finalBody) + ChecksumLen)

	data := make([]byte, HeaderLen+len(finalBody)+ChecksumLen)
	header := (uint64(batchLen) << 8) | uint64(compression)
	codec.EncodeFixedU64BE(data[:8], header)
	copy(data[HeaderLen:], finalBody)
	codec.EncodeFixedU32BE(data[HeaderLen+len(finalBody):], crc)

	return EncodeResult{Data: data, Compression: compression, BatchLen: batchLen}, nil
}

// BindLocators fills FileNum/BaseOffset/BatchLen into every Entries
// item's EntryIndex records, once the pipe log has decided where the
// encoded record landed.
func BindLocators(items []Item, fileNum uint64, baseOffset, batchLen int64) {
	for i := range items {
		if items[i].kind != itemKindEntries {
			continue
		}
		for j := range items[i].entriesIndex {
			items[i].entriesIndex[j].FileNum = fileNum
			items[i].entriesIndex[j].BaseOffset = baseOffset
			items[i].entriesIndex[j].BatchLen = batchLen
		}
	}
}

// DecodeFrom parses one framed batch record from the front of buf, which
// must start exactly at a record header. fileNum and baseOffset stamp
// every EntryIndex produced. Returns ok=false (no error) when the header
// is all-zero, signaling the pre-allocated tail of a still-active file,
// or when buf is exactly empty, signaling clean end-of-data on a sealed
// file (pipelog.activeFile.finalize trims a rotated-out file to its exact
// logical length, so it carries no zero-padded tail to detect).
func DecodeFrom(buf []byte, fileNum uint64, baseOffset int64) (batch *LogBatch, consumed int64, ok bool, err error) {
	if len(buf) == 0 {
		return nil, 0, false, nil
	}
	if len(buf) < HeaderLen {
		return nil, 0, false, rlerrors.NewCorruption("truncated record header at file %d offset %d", fileNum, baseOffset)
	}
	header := codec.DecodeFixedU64BE(buf[:HeaderLen])
	if header == 0 {
		return nil, 0, false, nil
	}
	batchLen := int64(header >> 8)
	compression := CompressionType(header & 0xff)
	if batchLen < ChecksumLen {
		return nil, 0, false, rlerrors.NewCorruption("batch_len %d shorter than checksum trailer", batchLen)
	}
	if int64(len(buf)) < int64(HeaderLen)+batchLen {
		return nil, 0, false, rlerrors.NewCorruption("truncated batch body at file %d offset %d", fileNum, baseOffset)
	}
	rawBody := buf[HeaderLen : int64(HeaderLen)+batchLen]
	payload := rawBody[:batchLen-ChecksumLen]
	wantCRC := codec.DecodeFixedU32BE(rawBody[batchLen-ChecksumLen:])
	if gotCRC := codec.Checksum(payload); gotCRC != wantCRC {
		return nil, 0, false, rlerrors.NewCorruption("checksum mismatch at file %d offset %d", fileNum, baseOffset)
	}

	var itemsBody []byte
	switch compression {
	case CompressionNone:
		itemsBody = payload
	case CompressionLz4:
		itemsBody, err = codec.DecompressBlock(payload)
		if err != nil {
			return nil, 0, false, rlerrors.NewCorruption("lz4 decompress failed at file %d offset %d: %v", fileNum, baseOffset, err)
		}
	default:
		return nil, 0, false, rlerrors.NewCorruption("unknown compression type %d", compression)
	}

	batch, err = decodeItems(itemsBody, fileNum, baseOffset, batchLen, compression)
	if err != nil {
		return nil, 0, false, err
	}
	return batch, int64(HeaderLen) + batchLen, true, nil
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) byteAt() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, rlerrors.NewCorruption("truncated item stream")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) uvarint() (uint64, error) {
	v, n, err := codec.Uvarint(r.data[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, rlerrors.NewCorruption("length prefix %d exceeds remaining bytes", n)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func decodeItems(itemsBody []byte, fileNum uint64, baseOffset, batchLen int64, compression CompressionType) (*LogBatch, error) {
	r := &byteReader{data: itemsBody}
	count, err := r.uvarint()
	if err != nil {
		return nil, err
	}

	batch := &LogBatch{items: make([]item, 0, count)}
	for i := uint64(0); i < count; i++ {
		tag, err := r.byteAt()
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagEntries:
			regionID, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			n, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			entries := make([]Entry, n)
			idx := make([]EntryIndex, n)
			for j := uint64(0); j < n; j++ {
				entryStart := r.pos
				index, err := r.uvarint()
				if err != nil {
					return nil, err
				}
				term, err := r.uvarint()
				if err != nil {
					return nil, err
				}
				plen, err := r.uvarint()
				if err != nil {
					return nil, err
				}
				payload, err := r.bytes(int(plen))
				if err != nil {
					return nil, err
				}
				entries[j] = Entry{Index: index, Term: term, Data: append([]byte(nil), payload...)}
				idx[j] = EntryIndex{
					Index:       index,
					FileNum:     fileNum,
					BaseOffset:  baseOffset,
					BatchLen:    batchLen,
					Offset:      int64(entryStart + HeaderLen),
					Len:         int64(r.pos - entryStart),
					Compression: compression,
				}
			}
			batch.items = append(batch.items, item{kind: itemKindEntries, regionID: regionID, entries: entries, entriesIndex: idx})
		case tagKV:
			opTag, err := r.byteAt()
			if err != nil {
				return nil, err
			}
			regionID, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			klen, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			key, err := r.bytes(int(klen))
			if err != nil {
				return nil, err
			}
			it := item{kind: itemKindKV, regionID: regionID, key: append([]byte(nil), key...)}
			if opTag == 0 {
				it.op = OpPut
				vlen, err := r.uvarint()
				if err != nil {
					return nil, err
				}
				value, err := r.bytes(int(vlen))
				if err != nil {
					return nil, err
				}
				it.value = append([]byte(nil), value...)
			} else if opTag == 1 {
				it.op = OpDelete
			} else {
				return nil, rlerrors.NewCorruption("bad kv op tag %d", opTag)
			}
			batch.items = append(batch.items, it)
		case tagCommand:
			subTag, err := r.byteAt()
			if err != nil {
				return nil, err
			}
			if subTag != commandClean {
				return nil, rlerrors.NewCorruption("bad command sub-tag %d", subTag)
			}
			regionID, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			batch.items = append(batch.items, item{kind: itemKindCommand, regionID: regionID})
		default:
			return nil, rlerrors.NewCorruption("bad item tag %d", tag)
		}
	}
	return batch, nil
}

// DecodeSingleEntry parses one self-contained (index, term, payload_len,
// payload) record, as produced inline within an Entries item and sliced
// out by read_entry_from_file.
func DecodeSingleEntry(buf []byte) (Entry, error) {
	r := &byteReader{data: buf}
	index, err := r.uvarint()
	if err != nil {
		return Entry{}, err
	}
	term, err := r.uvarint()
	if err != nil {
		return Entry{}, err
	}
	plen, err := r.uvarint()
	if err != nil {
		return Entry{}, err
	}
	payload, err := r.bytes(int(plen))
	if err != nil {
		return Entry{}, err
	}
	return Entry{Index: index, Term: term, Data: append([]byte(nil), payload...)}, nil
}
