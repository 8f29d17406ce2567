package pipelog

import (
	"bytes"
	"os"
	"testing"

	"raftlog/internal/logbatch"
)

func appendPut(t *testing.T, p *PipeLog, key, value []byte) (uint64, int64) {
	t.Helper()
	b := logbatch.New()
	b.Put(1, key, value)
	fileNum, base, _, err := p.AppendLogBatch(b, true)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	return fileNum, base
}

func TestOpenCreatesInitialSegment(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	p, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if p.FirstFileNum() != 1 || p.ActiveFileNum() != 1 {
		t.Fatalf("expected file_num 1, got first=%d active=%d", p.FirstFileNum(), p.ActiveFileNum())
	}
	if _, err := os.Stat(filePath(dir, 1)); err != nil {
		t.Fatalf("expected segment file on disk: %v", err)
	}
}

func TestAppendAndFreadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	fileNum, base := appendPut(t, p, []byte("k"), []byte("v"))
	data, err := p.Fread(fileNum, base, logbatch.HeaderLen)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != logbatch.HeaderLen {
		t.Fatalf("expected %d header bytes, got %d", logbatch.HeaderLen, len(data))
	}
}

func TestRotationCreatesNewSegment(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.TargetFileSize = int64(PrefixLen) + 128
	p, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	value := bytes.Repeat([]byte("v"), 64)
	for i := 0; i < 5; i++ {
		appendPut(t, p, []byte("k"), value)
	}
	if p.ActiveFileNum() <= 1 {
		t.Fatalf("expected rotation to have occurred, active=%d", p.ActiveFileNum())
	}
}

func TestPurgeToRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.TargetFileSize = int64(PrefixLen) + 128
	p, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	value := bytes.Repeat([]byte("v"), 64)
	for i := 0; i < 8; i++ {
		appendPut(t, p, []byte("k"), value)
	}
	active := p.ActiveFileNum()
	if active < 2 {
		t.Fatalf("expected multiple segments, got active=%d", active)
	}

	if err := p.PurgeTo(active); err != nil {
		t.Fatal(err)
	}
	if p.FirstFileNum() != active {
		t.Fatalf("expected first_file_num=%d after purge, got %d", active, p.FirstFileNum())
	}
	if _, err := os.Stat(filePath(dir, 1)); !os.IsNotExist(err) {
		t.Fatalf("expected segment 1 to be removed, stat err=%v", err)
	}
}

func TestPurgeToRejectsBeyondActive(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.PurgeTo(p.ActiveFileNum() + 1); err == nil {
		t.Fatal("expected error purging past active file")
	}
}

func TestReadNextFileDeliversPrefixThenStops(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	appendPut(t, p, []byte("k"), []byte("v"))

	data, fileNum, ok, err := p.ReadNextFile()
	if err != nil || !ok {
		t.Fatalf("expected a file, ok=%v err=%v", ok, err)
	}
	if fileNum != 1 {
		t.Fatalf("expected file_num 1, got %d", fileNum)
	}
	if !bytes.Equal(data[:PrefixLen], append(append([]byte{}, FileMagicHeader[:]...), Version...)) {
		t.Fatal("expected file prefix to be delivered")
	}

	_, _, ok, err = p.ReadNextFile()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ReadNextFile to report exhaustion after the active file")
	}
}

func TestTruncateActiveLogZeroesTail(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	fileNum, base := appendPut(t, p, []byte("k"), []byte("v"))
	if err := p.TruncateActiveLog(base); err != nil {
		t.Fatal(err)
	}
	data, err := p.Fread(fileNum, base, logbatch.HeaderLen)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range data {
		if b != 0 {
			t.Fatalf("expected zeroed tail after truncate, got %v", data)
		}
	}
}

func TestReopenAfterCloseSeeksLogicalEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	p, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	_, base := appendPut(t, p, []byte("k"), []byte("v"))
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	p2, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Close()

	_, base2 := appendPut(t, p2, []byte("k2"), []byte("v2"))
	if base2 <= base {
		t.Fatalf("expected second append to land after the first: base=%d base2=%d", base, base2)
	}
}
