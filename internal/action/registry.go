// Package action defines the typed provisioning operations a step can name.
// Each action validates its parameters up front and renders an explicit
// argument vector, so no step builds commands by string interpolation.
package action

import (
	"context"
	"fmt"
	"sort"

	gwerrors "github.com/groundwork-sh/groundwork/internal/errors"
)

// Action is a typed provisioning operation with explicit parameter fields.
type Action interface {
	Validate(params map[string]string) error
	Describe(params map[string]string) string
}

// CommandAction renders an argument vector executed by the step runner.
type CommandAction interface {
	Action
	Argv(params map[string]string) ([]string, error)
}

// DirectAction performs its effect in-process rather than via a subprocess.
type DirectAction interface {
	Action
	Execute(ctx context.Context, params map[string]string) (outputs map[string]string, err error)
}

var registry = map[string]Action{}

func init() {
	registry["pkg.update"] = &PkgUpdate{}
	registry["pkg.install"] = &PkgInstall{}
	registry["pkg.repo"] = &PkgRepo{}
	registry["pip.install"] = &PipInstall{}
	registry["db.create"] = &DBCreate{}
	registry["db.sql"] = &DBSQL{}
	registry["db.restore"] = &DBRestore{}
	registry["service.ctl"] = &ServiceCtl{}
	registry["file.write"] = &FileWrite{}
	registry["fetch.file"] = &FetchFile{}
}

// Get returns an action by name.
func Get(name string) (Action, error) {
	a, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", name)
	}
	return a, nil
}

// Known returns true if the action name is registered.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// Names returns the registered action names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Kind classifies a failure of the named action for error reporting.
func Kind(name string) string {
	switch {
	case name == "fetch.file":
		return gwerrors.DownloadFailure
	case name == "db.restore":
		return gwerrors.RestoreFailure
	case name == "pkg.update" || name == "pkg.install" || name == "pkg.repo" || name == "pip.install":
		return gwerrors.PackageFailure
	default:
		return gwerrors.StepFailed
	}
}

func required(params map[string]string, action string, keys ...string) error {
	for _, k := range keys {
		if params[k] == "" {
			return fmt.Errorf("%s: missing required param %q", action, k)
		}
	}
	return nil
}
