package plan

import (
	"fmt"

	gwerrors "github.com/groundwork-sh/groundwork/internal/errors"
)

// ExecPlan is the ordered, validated execution plan for one run. Steps are
// the enabled steps in declared order; Inputs carries provided values merged
// with manifest defaults.
type ExecPlan struct {
	Manifest *Manifest
	Steps    []Step
	Checks   []Check
	Inputs   map[string]string
}

// BuildOptions selects optional steps and supplies input values.
type BuildOptions struct {
	Inputs map[string]string
	Enable []string
}

// Build validates the manifest and produces an execution plan. Disabled steps
// are dropped unless named in opts.Enable. Every step's consumed resources
// must be produced by an earlier enabled step; a violation fails here, before
// any side effect occurs.
func Build(m *Manifest, opts BuildOptions) (*ExecPlan, error) {
	inputs := map[string]string{}
	for k, v := range opts.Inputs {
		inputs[k] = v
	}
	for name, inp := range m.Inputs {
		if _, ok := inputs[name]; !ok && inp.Default != "" {
			inputs[name] = inp.Default
		}
	}

	if err := Validate(m, inputs); err != nil {
		return nil, err
	}

	steps, err := enabledSteps(m, opts.Enable)
	if err != nil {
		return nil, err
	}
	if err := checkOrdering(steps); err != nil {
		return nil, err
	}
	if err := checkTemplateRefs(steps); err != nil {
		return nil, err
	}

	return &ExecPlan{Manifest: m, Steps: steps, Checks: m.Checks, Inputs: inputs}, nil
}

// Ordering runs only the producer/consumer ordering check over the
// default-enabled steps, for validate-only mode.
func Ordering(m *Manifest) error {
	steps, err := enabledSteps(m, nil)
	if err != nil {
		return err
	}
	if err := checkOrdering(steps); err != nil {
		return err
	}
	return checkTemplateRefs(steps)
}

func enabledSteps(m *Manifest, enable []string) ([]Step, error) {
	enabled := map[string]bool{}
	for _, id := range enable {
		enabled[id] = true
	}
	known := map[string]bool{}
	for _, s := range m.Steps {
		known[s.ID] = true
	}
	for id := range enabled {
		if !known[id] {
			return nil, &gwerrors.RunError{
				Type:    gwerrors.ValidationError,
				Message: fmt.Sprintf("--enable names unknown step %q", id),
			}
		}
	}

	var steps []Step
	for _, s := range m.Steps {
		if s.Disabled && !enabled[s.ID] {
			continue
		}
		steps = append(steps, s)
	}
	if len(steps) == 0 {
		return nil, &gwerrors.RunError{
			Type:    gwerrors.ValidationError,
			Message: "no enabled steps in manifest",
		}
	}
	return steps, nil
}

// checkTemplateRefs re-validates step output references over the enabled
// steps only. Validate checks refs against the full manifest, so a reference
// to a disabled, not-enabled step would otherwise surface mid-run instead of
// here, after earlier steps have already mutated the machine.
func checkTemplateRefs(steps []Step) error {
	available := map[string]bool{}
	for _, s := range steps {
		for _, ref := range collectTemplateRefs(s) {
			if !available[ref.stepID] {
				return &gwerrors.RunError{
					Type:    gwerrors.ValidationError,
					StepID:  s.ID,
					Message: fmt.Sprintf("step %q references outputs of step %q, which is not enabled", s.ID, ref.stepID),
					Hint:    fmt.Sprintf("Enable step %q with --enable or remove the reference", ref.stepID),
				}
			}
		}
		available[s.ID] = true
	}
	return nil
}

func checkOrdering(steps []Step) error {
	produced := map[string]string{} // resource → producing step id
	for _, s := range steps {
		for _, need := range s.Needs {
			if _, ok := produced[need]; !ok {
				return gwerrors.NewOrderingViolation(s.ID,
					fmt.Sprintf("needs resource %q which no earlier enabled step produces", need))
			}
		}
		for _, res := range s.Produces {
			if by, dup := produced[res]; dup {
				return gwerrors.NewOrderingViolation(s.ID,
					fmt.Sprintf("produces resource %q already produced by step %q", res, by))
			}
			produced[res] = s.ID
		}
	}
	return nil
}
