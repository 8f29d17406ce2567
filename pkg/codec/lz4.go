package codec

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
)

// CompressBlock LZ4-frame-compresses src. The frame format carries its own
// uncompressed length, so DecompressBlock needs no external size hint.
func CompressBlock(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressBlock reverses CompressBlock.
func DecompressBlock(src []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(src))
	return io.ReadAll(zr)
}
