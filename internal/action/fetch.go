package action

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/groundwork-sh/groundwork/internal/download"
	"github.com/groundwork-sh/groundwork/internal/retry"
)

// FetchFile implements fetch.file: download an http(s) or s3 source to an
// explicit destination path. Retries are the engine's concern, so each
// Execute call makes exactly one attempt.
type FetchFile struct{}

func (a *FetchFile) Validate(params map[string]string) error {
	if err := required(params, "fetch.file", "url", "dest"); err != nil {
		return err
	}
	u := params["url"]
	if !strings.Contains(u, "://") && !strings.HasPrefix(u, "{{") {
		return fmt.Errorf("fetch.file: url %q has no scheme", u)
	}
	return nil
}

func (a *FetchFile) Execute(ctx context.Context, params map[string]string) (map[string]string, error) {
	written, err := download.Fetch(ctx, params["url"], params["dest"], retry.Single())
	if err != nil {
		return nil, fmt.Errorf("fetch.file: %w", err)
	}
	return map[string]string{
		"path":  params["dest"],
		"bytes": strconv.FormatInt(written, 10),
	}, nil
}

func (a *FetchFile) Describe(params map[string]string) string {
	return fmt.Sprintf("Would download %s to %s", params["url"], params["dest"])
}
