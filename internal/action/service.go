package action

import "fmt"

var serviceOps = map[string]bool{
	"start":   true,
	"stop":    true,
	"restart": true,
	"enable":  true,
	"disable": true,
}

// ServiceCtl implements service.ctl: drive a service through systemctl.
type ServiceCtl struct{}

func (a *ServiceCtl) Validate(params map[string]string) error {
	if err := required(params, "service.ctl", "name", "op"); err != nil {
		return err
	}
	if !serviceOps[params["op"]] {
		return fmt.Errorf("service.ctl: unknown op %q (start, stop, restart, enable, disable)", params["op"])
	}
	return nil
}

func (a *ServiceCtl) Argv(params map[string]string) ([]string, error) {
	return []string{"systemctl", params["op"], params["name"]}, nil
}

func (a *ServiceCtl) Describe(params map[string]string) string {
	return fmt.Sprintf("Would %s service %q", params["op"], params["name"])
}
