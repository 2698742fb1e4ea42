package chunkstore

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mmp/ecpb/internal/compressutil"
	"github.com/mmp/ecpb/internal/cryptoutil"
	"github.com/mmp/ecpb/internal/model"
)

// RestoreFile reassembles manifest's chunks into destPath, verifying each
// chunk's hash and the whole-file hash.
func (s *Store) RestoreFile(manifest model.FileManifest, destPath string, encrypted bool, key [32]byte) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir dest parent: %v", model.ErrIO, err)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("%w: create dest file: %v", model.ErrIO, err)
	}
	defer out.Close()

	wholeHash := sha256.New()
	for _, ref := range manifest.Chunks {
		path, err := s.cachedChunkPath(ref.Hash)
		if err != nil {
			return fmt.Errorf("%w: chunk %s: %v", model.ErrIO, ref.Hash, err)
		}
		rec, err := s.meta.GetChunkMeta(ref.Hash)
		if err != nil {
			return fmt.Errorf("%w: chunk meta %s: %v", model.ErrIO, ref.Hash, err)
		}

		encoded, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: read chunk %s: %v", model.ErrIO, ref.Hash, err)
		}

		decoded, err := decodeChunk(encoded, rec, encrypted, key)
		if err != nil {
			return err
		}

		if model.SumBytes(decoded) != ref.Hash {
			return fmt.Errorf("%w: chunk %s content does not match its hash", model.ErrIntegrity, ref.Hash)
		}

		if _, err := out.Write(decoded); err != nil {
			return fmt.Errorf("%w: write dest chunk: %v", model.ErrIO, err)
		}
		wholeHash.Write(decoded)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close dest file: %v", model.ErrIO, err)
	}

	var got model.Hash
	copy(got[:], wholeHash.Sum(nil))
	if got != manifest.WholeFileHash {
		return fmt.Errorf("%w: whole-file hash mismatch for %s", model.ErrIntegrity, manifest.RelativePath)
	}
	return nil
}

func decodeChunk(encoded []byte, rec model.ChunkRecord, encrypted bool, key [32]byte) ([]byte, error) {
	data := encoded
	if encrypted {
		plain, err := cryptoutil.Decrypt(key, data)
		if err != nil {
			return nil, fmt.Errorf("%w: decrypt chunk %s: %v", model.ErrCrypto, rec.Hash, err)
		}
		data = plain
	}
	if rec.Compression != model.CompressionNone && rec.Compression != "" {
		plain, err := compressutil.Decompress(rec.Compression, data, rec.OriginalSize)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress chunk %s: %v", model.ErrIO, rec.Hash, err)
		}
		data = plain
	}
	return data, nil
}
