package config

import (
	"fmt"
	"regexp"
)

// PermissionSet names the five named capability bundles the executor facade
// accepts. Values intentionally mirror the spec's data model so both the
// Permission Mapper and the Security Validator can share one vocabulary.
type PermissionSet string

const (
	PermissionMinimal     PermissionSet = "minimal"
	PermissionReadonly    PermissionSet = "readonly"
	PermissionFilesystem  PermissionSet = "filesystem"
	PermissionNetworkAPI  PermissionSet = "network-api"
	PermissionMCPStandard PermissionSet = "mcp-standard"
)

var validPermissionSets = map[PermissionSet]bool{
	PermissionMinimal:     true,
	PermissionReadonly:    true,
	PermissionFilesystem:  true,
	PermissionNetworkAPI:  true,
	PermissionMCPStandard: true,
}

// IsValidPermissionSet reports whether name is one of the five named bundles.
func IsValidPermissionSet(name PermissionSet) bool {
	return validPermissionSets[name]
}

// identifierPattern matches the identifier-safe grammar the spec requires
// of ExecutionRequest context keys: [A-Za-z_][A-Za-z0-9_]*
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsIdentifierSafe reports whether key is safe to inject as a scoped
// constant name inside the isolate.
func IsIdentifierSafe(key string) bool {
	return identifierPattern.MatchString(key)
}

// ValidateContextKeys checks every key of a context map against the
// identifier-safe grammar, returning the first offending key as an error.
func ValidateContextKeys(context map[string]interface{}) error {
	for key := range context {
		if !IsIdentifierSafe(key) {
			return fmt.Errorf("context key %q is not identifier-safe", key)
		}
	}
	return nil
}
