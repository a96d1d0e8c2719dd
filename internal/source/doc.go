// Package source acquires, verifies, and unpacks recipe source archives.
//
// A [Fetcher] downloads one URL into a staging file, retrying transient
// network failures with bounded exponential backoff. [Verify] recomputes the
// archive's SHA-256 digest and rejects any mismatch before the archive is
// opened. [Unpack] extracts tar (optionally gzip, zstd or xz compressed) and
// zip archives with every entry confined to the destination directory.
//
// [Fetcher.Acquire] adds a download cache keyed by digest. Fresh downloads
// enter the cache through [Fetcher.Commit] only after they were verified;
// [Fetcher.Get] runs both steps for callers that need no stage in between.
//
// Example usage:
//
//	f := source.NewFetcher(source.Config{Dir: paths.Downloads(), Retries: 3})
//	archive, err := f.Get(ctx, r.URL, r.SHA256)
//	if err != nil {
//	    return err
//	}
//	if err := source.Unpack(archive, filepath.Join(buildDir, "src")); err != nil {
//	    return err
//	}
package source
