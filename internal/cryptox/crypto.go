// Package cryptox computes the content digests sent alongside uploads so the
// object store can verify what it received.
package cryptox

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"os"
)

// SHA256Base64 returns the base64 encoded SHA-256 of data, the format S3
// expects in the x-amz-checksum-sha256 header.
func SHA256Base64(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// FileDigest returns the hex SHA-256 of the file at path without loading it
// fully into memory.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
