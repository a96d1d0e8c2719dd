package source

import (
	_ "crypto/sha256"
	"fmt"
	"os"

	"github.com/opencontainers/go-digest"
)

// Recomputes the digest of the file at path and compares it to want.
//
// A mismatch returns a [*ChecksumError]. It is never retried: the bytes are
// either corrupt or not the ones the recipe was written for.
func Verify(path string, want digest.Digest) error {
	if err := want.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrChecksumMismatch, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	got, err := want.Algorithm().FromReader(f)
	if err != nil {
		return err
	}
	if got != want {
		return &ChecksumError{Path: path, Expected: want, Actual: got}
	}
	return nil
}
