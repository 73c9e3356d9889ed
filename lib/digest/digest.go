// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest computes BLAKE3 content digests for the patch
// pipeline. Input packages and output bundles are hashed in separate
// domains so the same bytes can never be mistaken for one another in
// records or logs.
package digest

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest.
type Digest [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation keeps input-package and output-bundle digests disjoint.
type domainKey [32]byte

// Fixed domain keys: the ASCII domain name zero-padded to 32 bytes.
// Changing them invalidates every recorded digest in that domain.
var (
	packageDomainKey = domainKey{
		'd', 'e', 'x', 'a', 'p', 'i', '.', 'p', 'a', 'c', 'k', 'a', 'g', 'e',
	}

	bundleDomainKey = domainKey{
		'd', 'e', 'x', 'a', 'p', 'i', '.', 'b', 'u', 'n', 'd', 'l', 'e',
	}
)

// Package computes the package-domain digest of the stream r. Used
// for the uploaded APK before any mutation.
func Package(r io.Reader) (Digest, error) {
	return keyedStream(packageDomainKey, r)
}

// PackageFile computes the package-domain digest of the file at path.
func PackageFile(path string) (Digest, error) {
	return keyedFile(packageDomainKey, path)
}

// BundleFile computes the bundle-domain digest of the file at path.
// Used for the minimal output zip after packaging.
func BundleFile(path string) (Digest, error) {
	return keyedFile(bundleDomainKey, path)
}

// Format returns the canonical hex encoding of a digest.
func Format(d Digest) string {
	return hex.EncodeToString(d[:])
}

// Parse parses a 64-character hex string into a Digest.
func Parse(hexString string) (Digest, error) {
	var d Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return d, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != 32 {
		return d, fmt.Errorf("digest is %d bytes, want 32", len(decoded))
	}
	copy(d[:], decoded)
	return d, nil
}

// FormatRef returns the short reference form used in logs and job
// records: the "dex-" prefix followed by the first 12 hex characters.
func FormatRef(d Digest) string {
	return "dex-" + hex.EncodeToString(d[:6])
}

func keyedFile(key domainKey, path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()
	d, err := keyedStream(key, f)
	if err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return d, nil
}

func keyedStream(key domainKey, r io.Reader) (Digest, error) {
	// NewKeyed only fails on a wrong key length, which the fixed-size
	// domainKey type rules out.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	if _, err := io.Copy(hasher, r); err != nil {
		return Digest{}, err
	}
	var d Digest
	copy(d[:], hasher.Sum(nil))
	return d, nil
}
