package source

import (
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
)

var (
	ErrNetwork          = errors.New("network error")
	ErrHTTP             = errors.New("http error")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrExtract          = errors.New("extraction failed")
)

// Non-success HTTP status for a fetched URL.
type HTTPError struct {
	URL    string
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: GET %s: status %d", ErrHTTP, e.URL, e.Status)
}

func (e *HTTPError) Unwrap() error { return ErrHTTP }

// Digest of fetched bytes differs from the declared one.
type ChecksumError struct {
	Path     string
	Expected digest.Digest
	Actual   digest.Digest
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s: %s: expected %s, got %s", ErrChecksumMismatch, e.Path, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }
