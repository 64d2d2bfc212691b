// Package verify runs post-condition checks after provisioning. SQL checks go
// straight to the target database through the pgx driver; command checks go
// through the subprocess runner. Nothing here rolls anything back.
package verify

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	gwerrors "github.com/groundwork-sh/groundwork/internal/errors"
	"github.com/groundwork-sh/groundwork/internal/plan"
	"github.com/groundwork-sh/groundwork/internal/runner"
	"github.com/groundwork-sh/groundwork/internal/template"
)

// CheckResult records one check's outcome. Instances are append-only.
type CheckResult struct {
	ID       string `json:"id"`
	Passed   bool   `json:"passed"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Verifier evaluates a manifest's check suite.
type Verifier struct {
	DSN     string // database connection string for sql checks
	WorkDir string
	Timeout time.Duration
	Log     zerolog.Logger

	db *sql.DB
}

// Run evaluates every check and returns one result per check. A failing check
// never aborts the suite; the caller decides what the aggregate means.
func (v *Verifier) Run(ctx context.Context, checks []plan.Check, tmplCtx *template.Context) []CheckResult {
	defer v.close()

	results := make([]CheckResult, 0, len(checks))
	for _, c := range checks {
		res := v.runCheck(ctx, c, tmplCtx)
		event := v.Log.Info()
		if !res.Passed {
			event = v.Log.Warn()
		}
		event.Str("check", c.ID).Bool("passed", res.Passed).Msg("check evaluated")
		results = append(results, res)
	}
	return results
}

// AllPassed reports whether every check in results passed.
func AllPassed(results []CheckResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Mismatches converts failed checks into run errors so the persisted result
// carries them alongside step failures.
func Mismatches(results []CheckResult) []gwerrors.RunError {
	var errs []gwerrors.RunError
	for _, r := range results {
		if r.Passed {
			continue
		}
		errs = append(errs, gwerrors.RunError{
			Type:    gwerrors.VerificationMismatch,
			Message: fmt.Sprintf("check %q failed: %s", r.ID, r.Detail),
		})
	}
	return errs
}

func (v *Verifier) runCheck(ctx context.Context, c plan.Check, tmplCtx *template.Context) CheckResult {
	res := CheckResult{ID: c.ID}

	var actual string
	var err error
	if c.SQL != "" {
		actual, err = v.querySQL(ctx, c.SQL, tmplCtx)
	} else {
		actual, err = v.runCommand(ctx, c, tmplCtx)
	}
	if err != nil {
		res.Detail = err.Error()
		return res
	}
	res.Actual = actual

	switch {
	case c.Equals != "":
		res.Expected = c.Equals
		res.Passed = actual == c.Equals
		if !res.Passed {
			res.Detail = fmt.Sprintf("expected %q, got %q", c.Equals, actual)
		}
	case c.Contains != "":
		res.Expected = c.Contains
		res.Passed = strings.Contains(actual, c.Contains)
		if !res.Passed {
			res.Detail = fmt.Sprintf("expected output to contain %q", c.Contains)
		}
	default:
		// command check with no expectation passes on exit 0,
		// which runCommand already enforced
		res.Passed = true
	}
	return res
}

func (v *Verifier) querySQL(ctx context.Context, query string, tmplCtx *template.Context) (string, error) {
	resolved, err := template.Resolve(query, tmplCtx)
	if err != nil {
		return "", err
	}
	db, err := v.open(ctx)
	if err != nil {
		return "", err
	}

	queryCtx := ctx
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	var value any
	if err := db.QueryRowContext(queryCtx, resolved).Scan(&value); err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	if b, ok := value.([]byte); ok {
		return string(b), nil
	}
	return fmt.Sprint(value), nil
}

func (v *Verifier) runCommand(ctx context.Context, c plan.Check, tmplCtx *template.Context) (string, error) {
	resolved, err := template.Resolve(c.Command, tmplCtx)
	if err != nil {
		return "", err
	}
	result := runner.Run(ctx, resolved, v.WorkDir, v.Timeout)
	if result.ExitCode != 0 {
		return "", fmt.Errorf("command exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return strings.TrimSpace(result.Stdout), nil
}

func (v *Verifier) open(ctx context.Context) (*sql.DB, error) {
	if v.db != nil {
		return v.db, nil
	}
	db, err := sql.Open("pgx", v.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	v.db = db
	return db, nil
}

func (v *Verifier) close() {
	if v.db != nil {
		_ = v.db.Close()
		v.db = nil
	}
}
