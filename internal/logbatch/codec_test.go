package logbatch

import (
	"bytes"
	"testing"

	"raftlog/internal/rlerrors"
)

func TestEncodeDecodeEntriesRoundTrip(t *testing.T) {
	b := New()
	b.AddEntries(7, []Entry{
		{Index: 10, Term: 1, Data: []byte("xxxxxxxxxx")},
		{Index: 11, Term: 1, Data: []byte("yyyyyyyyyy")},
	})

	res, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if res.Compression != CompressionNone {
		t.Fatalf("expected no compression for small batch, got %v", res.Compression)
	}

	BindLocators(b.items, 3, 64, res.BatchLen)

	got, consumed, ok, err := DecodeFrom(res.Data, 3, 64)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if consumed != int64(len(res.Data)) {
		t.Fatalf("consumed %d want %d", consumed, len(res.Data))
	}
	if len(got.items) != 1 || got.items[0].kind != itemKindEntries {
		t.Fatalf("unexpected decoded items: %+v", got.items)
	}
	entries, idx := got.items[0].Entries()
	if len(entries) != 2 || entries[0].Index != 10 || !bytes.Equal(entries[0].Data, []byte("xxxxxxxxxx")) {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	for i, ei := range idx {
		if ei.FileNum != 3 || ei.BaseOffset != 64 {
			t.Fatalf("entry %d: bad locator %+v", i, ei)
		}
	}

	// Original batch's own locators were bound in place too.
	_, origIdx := b.items[0].Entries()
	if origIdx[0].FileNum != 3 || origIdx[0].Offset != idx[0].Offset {
		t.Fatalf("original batch locator not bound: %+v", origIdx[0])
	}
}

func TestEncodeCompressesLargeBatch(t *testing.T) {
	b := New()
	b.AddEntries(1, []Entry{{Index: 1, Term: 1, Data: bytes.Repeat([]byte("x"), 5120)}})

	res, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if res.Compression != CompressionLz4 {
		t.Fatalf("expected lz4 compression, got %v", res.Compression)
	}

	got, _, ok, err := DecodeFrom(res.Data, 1, 0)
	if err != nil || !ok {
		t.Fatalf("decode failed: ok=%v err=%v", ok, err)
	}
	entries, _ := got.items[0].Entries()
	if !bytes.Equal(entries[0].Data, bytes.Repeat([]byte("x"), 5120)) {
		t.Fatal("payload mismatch after lz4 round trip")
	}
}

func TestDecodeKVAndCommand(t *testing.T) {
	b := New()
	b.Put(2, []byte("k1"), []byte("v1"))
	b.Delete(2, []byte("k2"))
	b.CleanRegion(5)

	res, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	got, _, ok, err := DecodeFrom(res.Data, 1, 0)
	if err != nil || !ok {
		t.Fatalf("decode failed: ok=%v err=%v", ok, err)
	}
	if len(got.items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got.items))
	}
	if got.items[0].op != OpPut || string(got.items[0].key) != "k1" || string(got.items[0].value) != "v1" {
		t.Fatalf("unexpected put item: %+v", got.items[0])
	}
	if got.items[1].op != OpDelete || string(got.items[1].key) != "k2" {
		t.Fatalf("unexpected delete item: %+v", got.items[1])
	}
	if got.items[2].kind != itemKindCommand || got.items[2].regionID != 5 {
		t.Fatalf("unexpected command item: %+v", got.items[2])
	}
}

func TestDecodeZeroHeaderIsEndOfData(t *testing.T) {
	buf := make([]byte, 64)
	_, _, ok, err := DecodeFrom(buf, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false for all-zero header")
	}
}

func TestDecodeEmptyBufferIsEndOfData(t *testing.T) {
	_, consumed, ok, err := DecodeFrom(nil, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false for an empty buffer")
	}
	if consumed != 0 {
		t.Fatalf("expected consumed=0, got %d", consumed)
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	b := New()
	b.Put(1, []byte("k"), []byte("v"))
	res, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	res.Data[len(res.Data)-1] ^= 0xff

	_, _, _, err = DecodeFrom(res.Data, 1, 0)
	if err == nil {
		t.Fatal("expected checksum corruption error")
	}
	if !rlerrors.IsCorruption(err) {
		t.Fatalf("expected Corruption error, got %v", err)
	}
}

func TestDecodeTruncatedBody(t *testing.T) {
	b := New()
	b.Put(1, []byte("k"), []byte("v"))
	res, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	truncated := res.Data[:len(res.Data)-2]
	_, _, _, err = DecodeFrom(truncated, 1, 0)
	if !rlerrors.IsCorruption(err) {
		t.Fatalf("expected Corruption error, got %v", err)
	}
}

func TestDrainEmptiesBatch(t *testing.T) {
	b := New()
	b.Put(1, []byte("k"), []byte("v"))
	items := b.Drain()
	if len(items) != 1 {
		t.Fatalf("expected 1 drained item, got %d", len(items))
	}
	if !b.Empty() {
		t.Fatal("expected batch empty after drain")
	}
}
