package indexcache

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

// Default size for the buffer used when hashing files
const defaultBufferSize = 32 * 1024 // 32KB

// bufferPool is a pool of byte slices used for file I/O during hashing
var bufferPool = sync.Pool{
	New: func() interface{} {
		buffer := make([]byte, defaultBufferSize)
		return &buffer
	},
}

// hashAlgos maps algorithm names accepted by FileDigest to constructors.
var hashAlgos = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
	"xxh64":  func() hash.Hash { return xxhash.New() },
}

// FileDigest computes the hex digest of the file at path under the named
// algorithm. It is a ready-made DigestFunc producer:
//
//	fn := func(path, algo string) (string, error) {
//	    return indexcache.FileDigest(fs, path, algo)
//	}
func FileDigest(fsys afero.Fs, path, algo string) (string, error) {
	mk, ok := hashAlgos[algo]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}

	file, err := fsys.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	h := mk()
	if err := hashContent(file, h); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashContent streams a reader into the hash using a pooled buffer.
func hashContent(content io.Reader, h hash.Hash) error {
	bufPtr := bufferPool.Get().(*[]byte)
	buffer := *bufPtr
	defer bufferPool.Put(bufPtr)

	_, err := io.CopyBuffer(h, content, buffer)
	if err != nil {
		return fmt.Errorf("failed to copy content: %w", err)
	}
	return nil
}
