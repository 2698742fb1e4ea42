// Package compressutil implements the per-chunk compression step of the
// transform pipeline: NONE, LZ4 or ZSTD, tagged so the reverse transform
// on restore knows which decoder to run.
//
// The teacher's storage/compressed.go wraps a Backend with gzip, storing a
// one-byte compressed/uncompressed tag ahead of the blob and falling back
// to the raw bytes when compression doesn't help. The shape survives here
// (try to compress, fall back silently on a codec error; output that is
// larger than the input is still kept) but the codec is swapped for
// github.com/klauspost/compress's zstd package and github.com/pierrec/lz4
// so both named algorithms are real, since gzip
// doesn't appear in the data model's CompressionTag enum at all.
package compressutil

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/mmp/ecpb/internal/model"
)

// Compress applies the named algorithm to data. It never returns an error
// for CompressionNone; for LZ4/ZSTD a codec failure is reported so the
// caller can fall back to storing the original bytes uncompressed, per the
// chunk store's "if compression returns empty, fall back silently"
// contract.
func Compress(tag model.CompressionTag, data []byte) ([]byte, error) {
	switch tag {
	case model.CompressionNone, "":
		return data, nil
	case model.CompressionLZ4:
		return compressLZ4(data)
	case model.CompressionZSTD:
		return compressZSTD(data)
	default:
		return nil, fmt.Errorf("compressutil: unknown compression tag %q", tag)
	}
}

// Decompress reverses Compress. originalSize is used to preallocate the
// output buffer; it is not required to be exact.
func Decompress(tag model.CompressionTag, data []byte, originalSize int64) ([]byte, error) {
	switch tag {
	case model.CompressionNone, "":
		return data, nil
	case model.CompressionLZ4:
		return decompressLZ4(data, originalSize)
	case model.CompressionZSTD:
		return decompressZSTD(data, originalSize)
	default:
		return nil, fmt.Errorf("compressutil: unknown compression tag %q", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressLZ4(data []byte, originalSize int64) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out := make([]byte, 0, originalSize)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

func compressZSTD(data []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

var zstdDecoder, _ = zstd.NewReader(nil)

func decompressZSTD(data []byte, originalSize int64) ([]byte, error) {
	return zstdDecoder.DecodeAll(data, make([]byte, 0, originalSize))
}
