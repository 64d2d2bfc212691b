package template

import (
	"fmt"
	"os"
	"regexp"
)

var stepRefRe = regexp.MustCompile(`\{\{steps\.([^.}]+)\.outputs\.([^}]+)\}\}`)
var inputRefRe = regexp.MustCompile(`\{\{inputs\.([^}]+)\}\}`)
var envRefRe = regexp.MustCompile(`\{\{env\.([^}]+)\}\}`)

// Context holds available values for template resolution.
type Context struct {
	Inputs      map[string]string
	StepOutputs map[string]map[string]string // stepID → outputName → value
}

// StepRefError reports a {{steps.X.outputs.Y}} reference with no value in the
// context. Callers can inspect StepID to explain why the value is missing.
type StepRefError struct {
	StepID string
	Output string
	// StepExists distinguishes a missing output on a known step from a
	// reference to a step that registered no outputs at all.
	StepExists bool
}

func (e *StepRefError) Error() string {
	if e.StepExists {
		return fmt.Sprintf("unresolved output %q on step %q", e.Output, e.StepID)
	}
	return fmt.Sprintf("unresolved step reference %q", e.StepID)
}

// Resolve replaces all {{steps.X.outputs.Y}}, {{inputs.Z}}, and {{env.N}} in s.
func Resolve(s string, ctx *Context) (string, error) {
	var resolveErr error

	result := stepRefRe.ReplaceAllStringFunc(s, func(match string) string {
		m := stepRefRe.FindStringSubmatch(match)
		stepID, outputName := m[1], m[2]
		outs, ok := ctx.StepOutputs[stepID]
		if !ok {
			resolveErr = &StepRefError{StepID: stepID, Output: outputName}
			return match
		}
		val, ok := outs[outputName]
		if !ok {
			resolveErr = &StepRefError{StepID: stepID, Output: outputName, StepExists: true}
			return match
		}
		return val
	})
	if resolveErr != nil {
		return "", resolveErr
	}

	result = inputRefRe.ReplaceAllStringFunc(result, func(match string) string {
		m := inputRefRe.FindStringSubmatch(match)
		name := m[1]
		val, ok := ctx.Inputs[name]
		if !ok {
			resolveErr = fmt.Errorf("unresolved input %q", name)
			return match
		}
		return val
	})
	if resolveErr != nil {
		return "", resolveErr
	}

	result = envRefRe.ReplaceAllStringFunc(result, func(match string) string {
		m := envRefRe.FindStringSubmatch(match)
		val, ok := os.LookupEnv(m[1])
		if !ok {
			resolveErr = fmt.Errorf("environment variable %q not set", m[1])
			return match
		}
		return val
	})
	if resolveErr != nil {
		return "", resolveErr
	}

	return result, nil
}
