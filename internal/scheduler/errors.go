package scheduler

import "fmt"

// UnknownTemplateError reports an invite naming a template that is not in
// the catalog.
type UnknownTemplateError struct {
	Name string
}

func (e *UnknownTemplateError) Error() string {
	return fmt.Sprintf("unknown agent template %q", e.Name)
}
