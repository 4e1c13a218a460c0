package api

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// UnknownScheme marks placeholder values synthesized for objects which were
// never tagged with sidecar attributes, e.g. orphans from a failed put.
const UnknownScheme = "UNKNOWN"

// UnknownChecksum is the placeholder checksum for untagged objects.
const UnknownChecksum = "md5:" + UnknownScheme

// ChecksumURI formats a digest as "<algorithm>:<hex>", both lowercase.
func ChecksumURI(algorithm string, sum []byte) string {
	return strings.ToLower(algorithm) + ":" + hex.EncodeToString(sum)
}

// ParseChecksum splits a checksum URI into its algorithm and hex digest. The
// algorithm is lowercased; the digest is returned as given.
func ParseChecksum(s string) (algorithm, digest string, err error) {
	algorithm, digest, ok := strings.Cut(s, ":")
	if !ok || algorithm == "" || digest == "" {
		return "", "", fmt.Errorf("invalid checksum URI: %q", s)
	}
	return strings.ToLower(algorithm), digest, nil
}

// UnknownArtifactURI is the placeholder artifact URI for an untagged object.
func UnknownArtifactURI(bucket, objectID string) string {
	return fmt.Sprintf("%s:%s/%s", UnknownScheme, bucket, objectID)
}
