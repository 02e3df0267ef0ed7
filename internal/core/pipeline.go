package core

import (
	"fmt"
	"sort"
	"strings"

	"depotci/internal/errs"
)

// Kind names an action type.
type Kind string

const (
	KindCheckout Kind = "checkout"
	KindCommand  Kind = "command"
	KindUpload   Kind = "upload"
)

// Definition is a parsed pipeline document: named scm sections and the
// ordered actions that use them.
type Definition struct {
	SCMs    map[string]map[string]interface{}
	Actions []ActionSpec
}

// ActionSpec is one declared action. Payload holds the kind's options
// undecoded; the dispatcher decodes it for the kind it recognizes.
type ActionSpec struct {
	Name    string
	Kind    Kind
	Payload map[string]interface{}
}

// CheckoutSpec is the payload of a checkout action.
type CheckoutSpec struct {
	SCMName  string `mapstructure:"scm_name"`
	Revision string `mapstructure:"revision"`
}

// CommandSpec is the payload of a command action.
type CommandSpec struct {
	Commands []string `mapstructure:"commands"`
}

// UploadSpec is the payload of an upload action.
type UploadSpec struct {
	SCMName string   `mapstructure:"scm_name"`
	Message string   `mapstructure:"message"`
	Paths   []string `mapstructure:"paths"`
}

// actionFromMap splits a raw action entry into its name and its single kind
// key. The kind is not checked against the known kinds here.
func actionFromMap(index int, raw map[string]interface{}) (ActionSpec, error) {
	spec := ActionSpec{}
	name, ok := raw["name"].(string)
	if !ok || name == "" {
		return spec, errs.Configf("action #%d: name is required", index+1)
	}
	spec.Name = name

	var kinds []string
	for key := range raw {
		if key != "name" {
			kinds = append(kinds, key)
		}
	}
	sort.Strings(kinds)
	switch len(kinds) {
	case 0:
		return spec, errs.Configf("action %q: invalid or unknown action type", name)
	case 1:
	default:
		return spec, errs.Configf("action %q: exactly one action type expected, got %s", name, strings.Join(kinds, ", "))
	}

	spec.Kind = Kind(kinds[0])
	switch payload := raw[kinds[0]].(type) {
	case map[string]interface{}:
		spec.Payload = payload
	case nil:
		spec.Payload = map[string]interface{}{}
	default:
		return spec, errs.Configf("action %q: %s options must be a table, got %T", name, spec.Kind, payload)
	}
	return spec, nil
}

func (s ActionSpec) String() string {
	return fmt.Sprintf("%s (%s)", s.Name, s.Kind)
}
