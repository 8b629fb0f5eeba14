package ledger

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ChunkSize is the read size used when hashing files.
const ChunkSize = 4096

// Digest holds the content hashes of a file.
type Digest struct {
	SHA256 string
	MD5    string
	Size   int64
}

// Hash streams the file at path through SHA-256 and MD5 in ChunkSize
// reads. The file is never loaded into memory as a whole.
func Hash(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("ledger: open for hashing: %w", err)
	}
	defer f.Close()

	return HashReader(f)
}

// HashReader is Hash over an arbitrary reader.
func HashReader(r io.Reader) (Digest, error) {
	sha := sha256.New()
	sum := md5.New()
	w := io.MultiWriter(sha, sum)

	buf := make([]byte, ChunkSize)
	var size int64
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			size += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Digest{}, fmt.Errorf("ledger: read for hashing: %w", readErr)
		}
	}

	return Digest{
		SHA256: hex.EncodeToString(sha.Sum(nil)),
		MD5:    hex.EncodeToString(sum.Sum(nil)),
		Size:   size,
	}, nil
}
