package plan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/groundwork-sh/groundwork/internal/action"
	gwerrors "github.com/groundwork-sh/groundwork/internal/errors"
)

var templateRefRe = regexp.MustCompile(`\{\{steps\.([^.}]+)\.outputs\.([^}]+)\}\}`)
var templateInputRe = regexp.MustCompile(`\{\{inputs\.([^}]+)\}\}`)

// Validate checks a manifest for structural correctness.
func Validate(m *Manifest, providedInputs map[string]string) error {
	seen := map[string]int{}
	stepOutputs := map[string]map[string]bool{}

	// Check required inputs (skip if providedInputs is nil, e.g. validate-only mode)
	if providedInputs != nil {
		for name, inp := range m.Inputs {
			if inp.Required {
				if _, ok := providedInputs[name]; !ok {
					if inp.Default == "" {
						return &gwerrors.RunError{
							Type:    gwerrors.ValidationError,
							Message: fmt.Sprintf("missing required input %q", name),
							Hint:    fmt.Sprintf("Provide --input %s=<value>", name),
						}
					}
				}
			}
		}
	}

	for i, s := range m.Steps {
		if s.ID == "" {
			return &gwerrors.RunError{
				Type:    gwerrors.ValidationError,
				Message: fmt.Sprintf("step at index %d has no id", i),
			}
		}
		if _, dup := seen[s.ID]; dup {
			return &gwerrors.RunError{
				Type:    gwerrors.ValidationError,
				Message: fmt.Sprintf("duplicate step id %q", s.ID),
			}
		}
		seen[s.ID] = i

		// Exactly one of run or action must be set
		hasRun := s.Run != ""
		hasAction := s.Action != ""
		if hasRun && hasAction {
			return &gwerrors.RunError{
				Type:    gwerrors.ValidationError,
				Message: fmt.Sprintf("step %q has both run and action", s.ID),
				Hint:    "A step must have exactly one of: run, action",
			}
		}
		if !hasRun && !hasAction {
			return &gwerrors.RunError{
				Type:    gwerrors.ValidationError,
				Message: fmt.Sprintf("step %q has neither run nor action", s.ID),
				Hint:    "A step must have exactly one of: run, action",
			}
		}

		if hasAction {
			act, err := action.Get(s.Action)
			if err != nil {
				return &gwerrors.RunError{
					Type:    gwerrors.ActionNotFound,
					Message: fmt.Sprintf("step %q: unknown action %q", s.ID, s.Action),
					Hint:    "Known actions: " + strings.Join(action.Names(), ", "),
				}
			}
			if err := act.Validate(s.Params); err != nil {
				return &gwerrors.RunError{
					Type:    gwerrors.ValidationError,
					StepID:  s.ID,
					Message: err.Error(),
				}
			}
		}

		if s.Retry != nil && s.Retry.MaxAttempts < 1 {
			return &gwerrors.RunError{
				Type:    gwerrors.ValidationError,
				Message: fmt.Sprintf("step %q: retry.max_attempts must be >= 1", s.ID),
			}
		}

		// Collect template refs from run, params, check
		refs := collectTemplateRefs(s)
		for _, ref := range refs {
			idx, exists := seen[ref.stepID]
			if !exists {
				return &gwerrors.RunError{
					Type:    gwerrors.ValidationError,
					Message: fmt.Sprintf("step %q references unknown step %q", s.ID, ref.stepID),
				}
			}
			if idx >= i {
				return &gwerrors.RunError{
					Type:    gwerrors.ValidationError,
					Message: fmt.Sprintf("step %q has forward reference to step %q", s.ID, ref.stepID),
				}
			}
			if outs, ok := stepOutputs[ref.stepID]; ok {
				if !outs[ref.outputName] {
					return &gwerrors.RunError{
						Type:    gwerrors.ValidationError,
						Message: fmt.Sprintf("step %q references non-existent output %q on step %q", s.ID, ref.outputName, ref.stepID),
					}
				}
			} else {
				return &gwerrors.RunError{
					Type:    gwerrors.ValidationError,
					Message: fmt.Sprintf("step %q references step %q which has no outputs", s.ID, ref.stepID),
				}
			}
		}

		// Check input refs
		for _, name := range collectInputRefs(s) {
			if _, ok := m.Inputs[name]; !ok {
				return &gwerrors.RunError{
					Type:    gwerrors.ValidationError,
					Message: fmt.Sprintf("step %q references unknown input %q", s.ID, name),
				}
			}
		}

		// Register outputs
		if len(s.Outputs) > 0 {
			stepOutputs[s.ID] = map[string]bool{}
			for k := range s.Outputs {
				stepOutputs[s.ID][k] = true
			}
		}
	}

	return validateChecks(m)
}

func validateChecks(m *Manifest) error {
	seen := map[string]bool{}
	for i, c := range m.Checks {
		if c.ID == "" {
			return &gwerrors.RunError{
				Type:    gwerrors.ValidationError,
				Message: fmt.Sprintf("check at index %d has no id", i),
			}
		}
		if seen[c.ID] {
			return &gwerrors.RunError{
				Type:    gwerrors.ValidationError,
				Message: fmt.Sprintf("duplicate check id %q", c.ID),
			}
		}
		seen[c.ID] = true

		hasSQL := c.SQL != ""
		hasCommand := c.Command != ""
		if hasSQL == hasCommand {
			return &gwerrors.RunError{
				Type:    gwerrors.ValidationError,
				Message: fmt.Sprintf("check %q must have exactly one of: sql, command", c.ID),
			}
		}
		if c.Equals != "" && c.Contains != "" {
			return &gwerrors.RunError{
				Type:    gwerrors.ValidationError,
				Message: fmt.Sprintf("check %q has both equals and contains", c.ID),
			}
		}
		if hasSQL && c.Equals == "" && c.Contains == "" {
			return &gwerrors.RunError{
				Type:    gwerrors.ValidationError,
				Message: fmt.Sprintf("check %q: sql checks need an equals or contains expectation", c.ID),
			}
		}
	}
	return nil
}

type templateRef struct {
	stepID     string
	outputName string
}

func collectTemplateRefs(s Step) []templateRef {
	var refs []templateRef
	for _, str := range stepStrings(s) {
		for _, m := range templateRefRe.FindAllStringSubmatch(str, -1) {
			refs = append(refs, templateRef{stepID: m[1], outputName: m[2]})
		}
	}
	return refs
}

func collectInputRefs(s Step) []string {
	var refs []string
	for _, str := range stepStrings(s) {
		for _, m := range templateInputRe.FindAllStringSubmatch(str, -1) {
			refs = append(refs, m[1])
		}
	}
	return refs
}

func stepStrings(s Step) []string {
	strs := []string{s.Run, s.Check}
	for _, v := range s.Params {
		strs = append(strs, v)
	}
	return strs
}
