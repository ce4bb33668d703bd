// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest.
type Digest [32]byte

// String returns the hex form.
func (d Digest) String() string { return FormatDigest(d) }

// HashFile computes the digest of the file at path.
func HashFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return sum(hasher), nil
}

// Writer digests everything written to it and counts the bytes.
type Writer struct {
	hasher  *blake3.Hasher
	written int64
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{hasher: blake3.New()}
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.hasher.Write(p)
	w.written += int64(n)
	return n, err
}

// Digest returns the digest of the bytes written so far.
func (w *Writer) Digest() Digest { return sum(w.hasher) }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int64 { return w.written }

func sum(hasher *blake3.Hasher) Digest {
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// FormatDigest returns the hex encoding of digest.
func FormatDigest(digest Digest) string {
	return hex.EncodeToString(digest[:])
}

// ParseDigest parses a 64-character hex digest.
func ParseDigest(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing hash digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("hash digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}
