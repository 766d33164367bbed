package entity

import (
	"encoding/json"
	"regexp"

	"github.com/penguinwhisk/controller/internal/werr"
)

// Validation constants pinned by the OpenWhisk naming and sizing rules.
const (
	MaxNameLength    = 256
	MaxCodeSize      = 48 * 1024 * 1024 // 48 MiB
	MaxParameterSize = 1 * 1024 * 1024  // 1 MiB

	MinTimeoutMs = 100
	MaxTimeoutMs = 600000
	MinMemoryMB  = 128
	MaxMemoryMB  = 2048
	MinLogsMB    = 0
	MaxLogsMB    = 10
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_@.\-]+$`)

// execKinds is the catalog of supported runtimes. "blackbox" selects a
// custom image; "sequence" is handled by the orchestrator, not a runtime.
var execKinds = map[string]bool{
	"nodejs:18":   true,
	"nodejs:20":   true,
	"python:3.9":  true,
	"python:3.10": true,
	"python:3.11": true,
	"python:3.12": true,
	"python:3.13": true,
	"go:1.21":     true,
	"go:1.22":     true,
	"go:1.23":     true,
	"java:11":     true,
	"java:17":     true,
	"java:21":     true,
	"php:8.1":     true,
	"php:8.2":     true,
	"ruby:3.2":    true,
	"ruby:3.3":    true,
	"swift:5.9":   true,
	"rust:1.75":   true,
	"blackbox":    true,
}

// ValidateName checks an entity name against the naming rules.
func ValidateName(name, field string) error {
	if name == "" {
		return werr.Validation(field, field+" cannot be empty")
	}
	if len(name) > MaxNameLength {
		return werr.Validation(field, field+" exceeds maximum length of 256 characters")
	}
	if !namePattern.MatchString(name) {
		return werr.Validation(field, field+" must contain only letters, numbers, and characters: _ @ . -")
	}
	return nil
}

// ValidateCode checks the action code size cap.
func ValidateCode(code []byte) error {
	if len(code) == 0 {
		return werr.Validation("exec.code", "action code cannot be empty")
	}
	if len(code) > MaxCodeSize {
		return werr.Validation("exec.code", "action code exceeds maximum size of 48 MiB")
	}
	return nil
}

// ValidateExec checks the exec descriptor. Sequences require a non-empty
// component list; code-bearing kinds must be in the runtime catalog.
func ValidateExec(exec Exec) error {
	if exec.Kind == "" {
		return werr.Validation("exec.kind", "exec.kind cannot be empty")
	}
	if exec.IsSequence() {
		if len(exec.Components) == 0 {
			return werr.Validation("exec.components", "sequence must have at least one component")
		}
		for _, c := range exec.Components {
			if _, _, _, err := ParseFQN(c); err != nil {
				return werr.Validation("exec.components", "invalid component path: "+c)
			}
		}
		return nil
	}
	if !execKinds[exec.Kind] {
		return werr.Validation("exec.kind", "unsupported exec kind: "+exec.Kind)
	}
	return nil
}

// ValidateLimits checks the resource limit ranges.
func ValidateLimits(l Limits) error {
	if l.Timeout < MinTimeoutMs || l.Timeout > MaxTimeoutMs {
		return werr.Validation("limits.timeout", "timeout must be between 100ms and 600000ms")
	}
	if l.Memory < MinMemoryMB || l.Memory > MaxMemoryMB {
		return werr.Validation("limits.memory", "memory must be between 128MB and 2048MB")
	}
	if l.Logs < MinLogsMB || l.Logs > MaxLogsMB {
		return werr.Validation("limits.logs", "logs must be between 0MB and 10MB")
	}
	return nil
}

// ValidateParams checks the serialized size of a parameter or
// annotation mapping against the 1 MiB cap.
func ValidateParams(p Params, field string) error {
	if len(p) == 0 {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return werr.Validation(field, field+" is not serializable")
	}
	if len(raw) > MaxParameterSize {
		return werr.Validation(field, field+" exceeds maximum size of 1 MiB")
	}
	return nil
}
