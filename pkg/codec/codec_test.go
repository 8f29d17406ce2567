package codec

import (
	"bytes"
	"testing"
)

func TestFixedU64BERoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	EncodeFixedU64BE(buf, 0x0102030405060708)
	if got := DecodeFixedU64BE(buf); got != 0x0102030405060708 {
		t.Fatalf("got %x", got)
	}
}

func TestFixedU64LERoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	EncodeFixedU64LE(buf, 42)
	if got := DecodeFixedU64LE(buf); got != 42 {
		t.Fatalf("got %d", got)
	}
}

func TestUvarintRoundTrip(t *testing.T) {
	buf := make([]byte, MaxVarintLen64)
	n := PutUvarint(buf, 1<<40+7)
	v, m, err := Uvarint(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if m != n || v != 1<<40+7 {
		t.Fatalf("got v=%d m=%d want v=%d m=%d", v, m, uint64(1<<40+7), n)
	}
}

func TestUvarintShortBuffer(t *testing.T) {
	if _, _, err := Uvarint(nil); err == nil {
		t.Fatal("expected error on empty buffer")
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	data := []byte("hello raft log")
	sum := Checksum(data)
	corrupted := append([]byte(nil), data...)
	corrupted[0] ^= 0xff
	if Checksum(corrupted) == sum {
		t.Fatal("checksum did not change after corruption")
	}
}

func TestLZ4RoundTripSmall(t *testing.T) {
	src := bytes.Repeat([]byte("abc"), 4)
	compressed, err := CompressBlock(src)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecompressBlock(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("round trip mismatch: got %q want %q", got, src)
	}
}

func TestLZ4RoundTripLarge(t *testing.T) {
	src := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)
	compressed, err := CompressBlock(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(compressed) >= len(src) {
		t.Fatalf("expected compression to shrink repetitive input: %d >= %d", len(compressed), len(src))
	}
	got, err := DecompressBlock(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, src) {
		t.Fatal("round trip mismatch")
	}
}
