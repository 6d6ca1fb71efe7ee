package crawl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// atomicDownload streams fileURL to a temp file under dir, then renames it
// into place once the final, collision-resolved filename is known. It
// returns the final path, byte count, and hex content hash.
func (c *Crawler) atomicDownload(ctx context.Context, dir, fileURL string) (path string, size int64, hash string, err error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", 0, "", fmt.Errorf("create files dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	mw := io.MultiWriter(tmp, hasher)

	_, n, getErr := c.client.GetStream(ctx, fileURL, mw)
	if syncErr := tmp.Sync(); syncErr != nil && getErr == nil {
		getErr = syncErr
	}
	if closeErr := tmp.Close(); closeErr != nil && getErr == nil {
		getErr = closeErr
	}
	if getErr != nil {
		return "", 0, "", fmt.Errorf("download %s: %w", fileURL, getErr)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	base := fileBaseName(fileURL, digest)

	finalPath, resolveErr := resolveCollisionPath(dir, base, digest)
	if resolveErr != nil {
		return "", 0, "", resolveErr
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", 0, "", fmt.Errorf("rename downloaded file: %w", err)
	}

	return finalPath, n, digest, nil
}

// writeFileAtomic writes data to a temp file beside finalPath, fsyncs it,
// then renames it into place so finalPath never observes a partial write.
func writeFileAtomic(finalPath string, data []byte) error {
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// resolveCollisionPath picks a filename under dir for base/digest: the
// bare name if free or already holds identical content, else a
// "_1", "_2", ... suffix, per spec §4.7.
func resolveCollisionPath(dir, base, digest string) (string, error) {
	const maxAttempts = 1000

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 0; n < maxAttempts; n++ {
		name := base
		if n > 0 {
			name = stem + "_" + strconv.Itoa(n) + ext
		}
		candidate := filepath.Join(dir, name)

		existing, err := os.ReadFile(candidate)
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("stat existing file %s: %w", candidate, err)
		}

		sum := sha256.Sum256(existing)
		if hex.EncodeToString(sum[:]) == digest {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("too many filename collisions for %s", base)
}
