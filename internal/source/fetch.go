package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/opencontainers/go-digest"
)

const (
	defaultRetries      = 3
	defaultRetryWait    = 500 * time.Millisecond
	defaultRetryMaxWait = 10 * time.Second
	defaultTimeout      = 10 * time.Minute

	// Prefix of in-flight download files inside the fetcher directory.
	partialPrefix = ".partial-"
)

// Fetcher settings.
type Config struct {
	Dir          string        // Download cache and staging directory. Empty uses a temporary directory and disables caching.
	Retries      int           // Retries after the first attempt for transient failures. Negative disables retries.
	RetryWait    time.Duration // Initial backoff.
	RetryMaxWait time.Duration // Backoff ceiling.
	Timeout      time.Duration // Overall timeout of one attempt.
	UserAgent    string        // Sent with every request.
	OnRetry      func()        // Called before each retry, for metrics.
}

// Downloads source archives.
type Fetcher struct {
	dir     string
	cache   bool
	client  *resty.Client
	onRetry func()
}

// Creates a fetcher from cfg, filling unset durations with defaults.
func NewFetcher(cfg Config) *Fetcher {
	if cfg.Retries == 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaultRetryWait
	}
	if cfg.RetryMaxWait <= 0 {
		cfg.RetryMaxWait = defaultRetryMaxWait
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	f := &Fetcher{dir: cfg.Dir, cache: cfg.Dir != "", onRetry: cfg.OnRetry}
	if f.dir == "" {
		f.dir = os.TempDir()
	}

	f.client = resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(retryable).
		AddRetryHook(func(resp *resty.Response, err error) {
			if resp != nil && resp.Request != nil {
				slog.Warn("retrying download", "url", resp.Request.URL, "status", resp.StatusCode(), "error", err)
			}
			if f.onRetry != nil {
				f.onRetry()
			}
		})
	if cfg.UserAgent != "" {
		f.client.SetHeader("User-Agent", cfg.UserAgent)
	}

	return f
}

// Reports whether a failed attempt is transient.
//
// Transport errors, 429 and 5xx responses are transient. Context
// cancellation is not.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// Retrieves rawURL into a new staging file and returns its path.
//
// The caller owns the returned file. On failure nothing is left behind:
// interrupted downloads are discarded, never resumed.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(f.dir, partialPrefix+"*-"+baseName(u))
	if err != nil {
		return "", err
	}
	staged := tmp.Name()
	tmp.Close()

	if u.Scheme == "file" {
		err = copyLocal(u.Path, staged)
	} else {
		err = f.download(ctx, rawURL, staged)
	}
	if err != nil {
		os.Remove(staged)
		return "", err
	}

	slog.Debug("fetched", "url", rawURL, "path", staged)
	return staged, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL, dest string) error {
	resp, err := f.client.R().
		SetContext(ctx).
		SetOutput(dest).
		Get(rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: GET %s: %w", ErrNetwork, rawURL, err)
	}
	if !resp.IsSuccess() {
		return &HTTPError{URL: rawURL, Status: resp.StatusCode()}
	}
	return nil
}

// Returns a local copy of rawURL.
//
// With caching enabled, a cached file for want is re-verified and returned.
// A corrupt cache entry is evicted and downloaded again. A fresh download is
// returned unverified as a staging file: the caller verifies it and hands it
// to [Fetcher.Commit], or removes it. Only verified bytes enter the cache.
func (f *Fetcher) Acquire(ctx context.Context, rawURL string, want digest.Digest) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	if f.cache {
		cached := f.cachePath(u, want)
		if _, err := os.Stat(cached); err == nil {
			if err := Verify(cached, want); err == nil {
				slog.Debug("download cache hit", "path", cached)
				return cached, nil
			}
			slog.Warn("evicting corrupt cache entry", "path", cached)
			os.Remove(cached)
		}
	}

	return f.Fetch(ctx, rawURL)
}

// Moves a verified staging file returned by [Fetcher.Acquire] into the
// cache and returns its new path.
//
// Cache entries and uncached fetchers return path unchanged. A failed move
// is logged and leaves the staging file in place, still owned by the caller.
func (f *Fetcher) Commit(path, rawURL string, want digest.Digest) string {
	if !f.cache || f.Cached(path) {
		return path
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return path
	}
	cached := f.cachePath(u, want)
	if err := os.Rename(path, cached); err != nil {
		slog.Warn("failed to cache download", "path", path, "error", err)
		return path
	}
	return cached
}

// Returns a verified local copy of rawURL.
//
// A checksum mismatch leaves nothing on disk. Without caching the returned
// file is a staging file the caller must remove.
func (f *Fetcher) Get(ctx context.Context, rawURL string, want digest.Digest) (string, error) {
	p, err := f.Acquire(ctx, rawURL, want)
	if err != nil {
		return "", err
	}
	if err := Verify(p, want); err != nil {
		if !f.Cached(p) {
			os.Remove(p)
		}
		return "", err
	}
	return f.Commit(p, rawURL, want), nil
}

// Reports whether path is owned by the cache and must not be removed by
// callers of [Fetcher.Acquire] or [Fetcher.Get].
func (f *Fetcher) Cached(path string) bool {
	return f.cache && filepath.Dir(path) == filepath.Clean(f.dir) && !strings.HasPrefix(filepath.Base(path), partialPrefix)
}

// Cache file for a digest. The archive base name is kept so that the
// format can be detected from the suffix.
func (f *Fetcher) cachePath(u *url.URL, want digest.Digest) string {
	return filepath.Join(f.dir, want.Encoded()+"--"+baseName(u))
}

func baseName(u *url.URL) string {
	b := path.Base(u.Path)
	if b == "." || b == "/" || b == "" {
		return "download"
	}
	return b
}

func copyLocal(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
