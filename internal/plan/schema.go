package plan

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the top-level site description: the ordered provisioning steps
// for one machine plus the post-condition checks that prove it came up right.
type Manifest struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Inputs      map[string]Input `yaml:"inputs,omitempty"`
	Steps       []Step           `yaml:"steps"`
	Checks      []Check          `yaml:"checks,omitempty"`
}

// Input defines a manifest-level input parameter.
type Input struct {
	Required    bool   `yaml:"required,omitempty"`
	Description string `yaml:"description,omitempty"`
	Default     string `yaml:"default,omitempty"`
}

// Step defines a single provisioning step.
// Exactly one of Run or Action must be set.
type Step struct {
	ID          string            `yaml:"id"`
	Description string            `yaml:"name,omitempty"`
	Run         string            `yaml:"run,omitempty"`
	Action      string            `yaml:"action,omitempty"`
	Params      map[string]string `yaml:"with,omitempty"`

	// Check is the idempotency predicate: a command whose zero exit means
	// the step's effect is already present and the step may be skipped.
	Check string `yaml:"check,omitempty"`

	Retry    *Retry   `yaml:"retry,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
	ExitCode int      `yaml:"exit_code,omitempty"` // expected exit code, default 0
	NonFatal bool     `yaml:"non_fatal,omitempty"`
	Disabled bool     `yaml:"disabled,omitempty"` // optional step, run only when enabled by id

	Needs    []string `yaml:"needs,omitempty"`    // resources this step consumes
	Produces []string `yaml:"produces,omitempty"` // resources this step makes available

	Outputs map[string]string `yaml:"outputs,omitempty"`
}

// Retry bounds re-execution of a step after a non-zero exit.
type Retry struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Backoff     Duration `yaml:"backoff,omitempty"`
	MaxBackoff  Duration `yaml:"max_backoff,omitempty"`
}

// Check is a post-condition verification. Exactly one of SQL or Command must
// be set. A command check with neither Equals nor Contains passes on exit 0.
type Check struct {
	ID       string `yaml:"id"`
	SQL      string `yaml:"sql,omitempty"`
	Command  string `yaml:"command,omitempty"`
	Equals   string `yaml:"equals,omitempty"`
	Contains string `yaml:"contains,omitempty"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }
