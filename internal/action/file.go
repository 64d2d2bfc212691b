package action

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// FileWrite implements file.write: write a config or unit file.
type FileWrite struct{}

func (a *FileWrite) Validate(params map[string]string) error {
	if err := required(params, "file.write", "path", "content"); err != nil {
		return err
	}
	if m := params["mode"]; m != "" {
		if _, err := strconv.ParseUint(m, 8, 32); err != nil {
			return fmt.Errorf("file.write: invalid mode %q", m)
		}
	}
	return nil
}

func (a *FileWrite) Execute(ctx context.Context, params map[string]string) (map[string]string, error) {
	path := params["path"]
	mode := os.FileMode(0o644)
	if m := params["mode"]; m != "" {
		parsed, err := strconv.ParseUint(m, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("file.write: invalid mode %q", m)
		}
		mode = os.FileMode(parsed)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file.write: %w", err)
	}
	if err := os.WriteFile(path, []byte(params["content"]), mode); err != nil {
		return nil, fmt.Errorf("file.write: %w", err)
	}
	return map[string]string{"path": path}, nil
}

func (a *FileWrite) Describe(params map[string]string) string {
	return fmt.Sprintf("Would write %d bytes to %s", len(params["content"]), params["path"])
}
