package core

import "fmt"

// ActionError attaches the failing action to the underlying cause.
type ActionError struct {
	Action string
	Kind   Kind
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %q (%s): %v", e.Action, e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
