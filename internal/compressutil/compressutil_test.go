package compressutil

import (
	"bytes"
	"testing"

	"github.com/mmp/ecpb/internal/model"
)

func repeatedData() []byte {
	return bytes.Repeat([]byte("ecpb test payload, highly compressible! "), 512)
}

func TestCompressNoneIsIdentity(t *testing.T) {
	data := []byte("arbitrary bytes")
	out, err := Compress(model.CompressionNone, data)
	if err != nil {
		t.Fatalf("Compress(NONE): %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatal("CompressionNone must return the input unchanged")
	}

	back, err := Decompress(model.CompressionNone, out, int64(len(data)))
	if err != nil {
		t.Fatalf("Decompress(NONE): %v", err)
	}
	if !bytes.Equal(back, data) {
		t.Fatal("CompressionNone decompress must return the input unchanged")
	}
}

func TestLZ4RoundTrip(t *testing.T) {
	data := repeatedData()
	compressed, err := Compress(model.CompressionLZ4, data)
	if err != nil {
		t.Fatalf("Compress(LZ4): %v", err)
	}
	decompressed, err := Decompress(model.CompressionLZ4, compressed, int64(len(data)))
	if err != nil {
		t.Fatalf("Decompress(LZ4): %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Fatal("LZ4 round trip mismatch")
	}
}

func TestZSTDRoundTrip(t *testing.T) {
	data := repeatedData()
	compressed, err := Compress(model.CompressionZSTD, data)
	if err != nil {
		t.Fatalf("Compress(ZSTD): %v", err)
	}
	decompressed, err := Decompress(model.CompressionZSTD, compressed, int64(len(data)))
	if err != nil {
		t.Fatalf("Decompress(ZSTD): %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Fatal("ZSTD round trip mismatch")
	}
}

func TestCompressUnknownTagErrors(t *testing.T) {
	if _, err := Compress(model.CompressionTag("BOGUS"), []byte("x")); err == nil {
		t.Fatal("expected an error for an unknown compression tag")
	}
	if _, err := Decompress(model.CompressionTag("BOGUS"), []byte("x"), 1); err == nil {
		t.Fatal("expected an error decompressing an unknown compression tag")
	}
}

func TestCompressEmptyInput(t *testing.T) {
	for _, tag := range []model.CompressionTag{model.CompressionNone, model.CompressionLZ4, model.CompressionZSTD} {
		compressed, err := Compress(tag, nil)
		if err != nil {
			t.Fatalf("Compress(%s, nil): %v", tag, err)
		}
		decompressed, err := Decompress(tag, compressed, 0)
		if err != nil {
			t.Fatalf("Decompress(%s): %v", tag, err)
		}
		if len(decompressed) != 0 {
			t.Fatalf("Decompress(%s) of empty input returned %d bytes", tag, len(decompressed))
		}
	}
}
