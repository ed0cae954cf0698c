// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Size is the length in bytes of every supported digest.
const Size = 32

// HexLength is the length of the canonical hex form of a digest.
const HexLength = 2 * Size

// Digest is a 32-byte content digest.
type Digest [Size]byte

// String returns the canonical lowercase hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether every byte of the digest is zero.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Parse parses a hex-encoded digest. Upper and lower case hex digits
// are both accepted; the canonical form produced by String is always
// lowercase. Returns an error if the string is not exactly 64 hex
// characters.
func Parse(hexString string) (Digest, error) {
	var parsed Digest
	if len(hexString) != HexLength {
		return parsed, fmt.Errorf("digest is %d characters, want %d", len(hexString), HexLength)
	}
	if _, err := hex.Decode(parsed[:], []byte(hexString)); err != nil {
		return parsed, fmt.Errorf("parsing digest: %w", err)
	}
	return parsed, nil
}

// Algorithm names a digest function.
type Algorithm string

const (
	// SHA256 is FIPS 180-4 SHA-256, as written by sha256sum.
	SHA256 Algorithm = "sha256"

	// BLAKE3 is BLAKE3 with 256-bit output, as written by b3sum.
	BLAKE3 Algorithm = "blake3"
)

// Default is the algorithm used when none is configured.
const Default = SHA256

// ParseAlgorithm parses an algorithm name. The empty string selects
// Default. Names are case-insensitive.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(name)) {
	case "":
		return Default, nil
	case SHA256:
		return SHA256, nil
	case BLAKE3:
		return BLAKE3, nil
	default:
		return "", fmt.Errorf("unknown digest algorithm %q (want %q or %q)", name, SHA256, BLAKE3)
	}
}

// Valid reports whether the algorithm is one this package implements.
func (a Algorithm) Valid() bool {
	return a == SHA256 || a == BLAKE3
}

// New returns a streaming hasher for the algorithm. Panics on an
// invalid algorithm; callers validate configuration with
// ParseAlgorithm first.
func (a Algorithm) New() hash.Hash {
	switch a {
	case SHA256:
		return sha256.New()
	case BLAKE3:
		return blake3.New()
	default:
		panic(fmt.Sprintf("digest: invalid algorithm %q", string(a)))
	}
}

// Sum computes the digest of data in one call.
func (a Algorithm) Sum(data []byte) Digest {
	switch a {
	case SHA256:
		return sha256.Sum256(data)
	case BLAKE3:
		return blake3.Sum256(data)
	default:
		panic(fmt.Sprintf("digest: invalid algorithm %q", string(a)))
	}
}

// HashReader streams r through the algorithm and returns the digest.
func (a Algorithm) HashReader(r io.Reader) (Digest, error) {
	hasher := a.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return Digest{}, err
	}
	var sum Digest
	copy(sum[:], hasher.Sum(nil))
	return sum, nil
}

// HashFile computes the digest of the file at path. The file is
// streamed through the hash function so memory use is constant
// regardless of file size.
func (a Algorithm) HashFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	sum, err := a.HashReader(file)
	if err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return sum, nil
}
