// Package runlog persists per-run execution records for post-hoc inspection.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Store manages the log directory for a single run. The result document is
// rewritten after every step so an aborted run keeps its partial log.
type Store struct {
	RunID   string
	BaseDir string
}

// New creates a store for a run under root (typically <workdir>/.groundwork/runs).
func New(runID, root string) (*Store, error) {
	base := filepath.Join(root, runID)
	if err := os.MkdirAll(filepath.Join(base, "steps"), 0o755); err != nil {
		return nil, fmt.Errorf("creating run log dir: %w", err)
	}
	return &Store{RunID: runID, BaseDir: base}, nil
}

// WriteStepOutput writes captured stdout/stderr for a step.
func (s *Store) WriteStepOutput(stepID, stdout, stderr string) error {
	if stdout != "" {
		if err := os.WriteFile(filepath.Join(s.BaseDir, "steps", stepID+".stdout"), []byte(stdout), 0o644); err != nil {
			return err
		}
	}
	if stderr != "" {
		if err := os.WriteFile(filepath.Join(s.BaseDir, "steps", stepID+".stderr"), []byte(stderr), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// WriteResult writes the run result JSON, replacing any previous snapshot.
func (s *Store) WriteResult(result any) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.BaseDir, "result.json"), data, 0o644)
}

// Summary is the index entry for one persisted run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Plan       string    `json:"plan"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// List returns summaries for all runs under root, newest first.
func List(root string) ([]Summary, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading run log root: %w", err)
	}

	var out []Summary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, e.Name(), "result.json"))
		if err != nil {
			continue
		}
		var s Summary
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// LoadResult returns the raw result document for one run.
func LoadResult(root, runID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(root, runID, "result.json"))
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	return data, nil
}
