package action

import (
	"fmt"
	"strings"
)

// PkgUpdate implements pkg.update: refresh the package index.
type PkgUpdate struct{}

func (a *PkgUpdate) Validate(params map[string]string) error { return nil }

func (a *PkgUpdate) Argv(params map[string]string) ([]string, error) {
	return []string{"apt-get", "update"}, nil
}

func (a *PkgUpdate) Describe(params map[string]string) string {
	return "Would refresh the apt package index"
}

// PkgInstall implements pkg.install: install OS packages non-interactively.
type PkgInstall struct{}

func (a *PkgInstall) Validate(params map[string]string) error {
	return required(params, "pkg.install", "packages")
}

func (a *PkgInstall) Argv(params map[string]string) ([]string, error) {
	pkgs := strings.Fields(params["packages"])
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("pkg.install: 'packages' is empty")
	}
	return append([]string{"apt-get", "install", "-y"}, pkgs...), nil
}

func (a *PkgInstall) Describe(params map[string]string) string {
	return fmt.Sprintf("Would install packages: %s", params["packages"])
}

// PkgRepo implements pkg.repo: register an apt repository.
type PkgRepo struct{}

func (a *PkgRepo) Validate(params map[string]string) error {
	return required(params, "pkg.repo", "repo")
}

func (a *PkgRepo) Argv(params map[string]string) ([]string, error) {
	return []string{"add-apt-repository", "-y", params["repo"]}, nil
}

func (a *PkgRepo) Describe(params map[string]string) string {
	return fmt.Sprintf("Would register apt repository %q", params["repo"])
}

// PipInstall implements pip.install: install Python packages.
type PipInstall struct{}

func (a *PipInstall) Validate(params map[string]string) error {
	return required(params, "pip.install", "packages")
}

func (a *PipInstall) Argv(params map[string]string) ([]string, error) {
	pkgs := strings.Fields(params["packages"])
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("pip.install: 'packages' is empty")
	}
	return append([]string{"pip3", "install"}, pkgs...), nil
}

func (a *PipInstall) Describe(params map[string]string) string {
	return fmt.Sprintf("Would pip install: %s", params["packages"])
}
