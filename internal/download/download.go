// Package download fetches remote files to explicit destination paths.
// Writes go through a temp file and an atomic rename so a half-finished
// transfer never shadows the real artifact.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/groundwork-sh/groundwork/internal/retry"
)

// Fetch downloads rawURL to dest, retrying transient failures under the given
// policy. Supported schemes: http, https, s3. Returns the number of bytes
// written.
func Fetch(ctx context.Context, rawURL, dest string, policy retry.Policy) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("parsing source url: %w", err)
	}

	var written int64
	op := func(attempt int) error {
		var fetchErr error
		switch u.Scheme {
		case "http", "https":
			written, fetchErr = fetchHTTP(ctx, rawURL, dest)
		case "s3":
			written, fetchErr = fetchS3(ctx, u, dest)
		default:
			return retry.Fatal(fmt.Errorf("unsupported url scheme %q", u.Scheme))
		}
		return fetchErr
	}
	if err := policy.Do(ctx, op); err != nil {
		return 0, err
	}
	return written, nil
}

func fetchHTTP(ctx context.Context, rawURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, retry.Fatal(fmt.Errorf("creating request: %w", err))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return 0, fmt.Errorf("fetching %s: server returned %s", rawURL, resp.Status)
	}
	if resp.StatusCode >= 400 {
		return 0, retry.Fatal(fmt.Errorf("fetching %s: server returned %s", rawURL, resp.Status))
	}

	return writeAtomic(dest, resp.Body)
}

func writeAtomic(dest string, body io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, retry.Fatal(fmt.Errorf("creating destination dir: %w", err))
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part-*")
	if err != nil {
		return 0, retry.Fatal(fmt.Errorf("creating temp file: %w", err))
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, retry.Fatal(fmt.Errorf("renaming into place: %w", err))
	}
	return written, nil
}
