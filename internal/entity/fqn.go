package entity

import (
	"strings"

	"github.com/penguinwhisk/controller/internal/werr"
)

// BuildFQN builds a fully-qualified name /namespace/[package/]name.
func BuildFQN(namespace string, pkg *string, name string) string {
	if pkg != nil && *pkg != "" {
		return "/" + namespace + "/" + *pkg + "/" + name
	}
	return "/" + namespace + "/" + name
}

// ParseFQN splits a fully-qualified name into its components. The
// package component is nil for two-segment names.
func ParseFQN(fqn string) (namespace string, pkg *string, name string, err error) {
	parts := strings.Split(strings.Trim(fqn, "/"), "/")
	switch len(parts) {
	case 2:
		return parts[0], nil, parts[1], nil
	case 3:
		return parts[0], &parts[1], parts[2], nil
	default:
		return "", nil, "", werr.Newf(werr.KindValidation, "invalid fully qualified name: %s", fqn)
	}
}

// SplitPath splits an action path of the form "name" or "package/name"
// as it appears in request URLs.
func SplitPath(path string) (pkg *string, name string, err error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch len(parts) {
	case 1:
		return nil, parts[0], nil
	case 2:
		return &parts[0], parts[1], nil
	default:
		return nil, "", werr.Newf(werr.KindValidation, "invalid entity path: %s", path)
	}
}
