package secrets

import (
	"strings"

	"depotci/internal/errs"
)

// Scheme prefixes every secret reference.
const Scheme = "vault://"

const refFormat = "vault://<mount>/<path>#<key>"

// Ref points at one key of a secret in the store.
type Ref struct {
	Mount string
	Path  string
	Key   string
}

func (r Ref) String() string {
	return Scheme + r.Mount + "/" + r.Path + "#" + r.Key
}

// IsRef reports whether value is written as a secret reference.
func IsRef(value string) bool {
	return strings.HasPrefix(value, Scheme)
}

// ParseRef splits a reference of the form vault://<mount>/<path>#<key>.
// Malformed references are configuration errors.
func ParseRef(value string) (Ref, error) {
	if !IsRef(value) {
		return Ref{}, errs.Configf("secret reference %q must start with %s", value, Scheme)
	}
	address := strings.TrimSpace(strings.TrimPrefix(value, Scheme))

	location, key, found := strings.Cut(address, "#")
	if !found || key == "" {
		return Ref{}, errs.Configf("secret reference %q is missing a key, expected %s", value, refFormat)
	}

	mount, path, _ := strings.Cut(location, "/")
	if mount == "" {
		return Ref{}, errs.Configf("secret reference %q is missing a mount, expected %s", value, refFormat)
	}
	if path == "" {
		return Ref{}, errs.Configf("secret reference %q is missing a path, expected %s", value, refFormat)
	}

	return Ref{Mount: mount, Path: path, Key: key}, nil
}
