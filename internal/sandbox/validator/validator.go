// Package validator implements the pre-execution Security Validator (spec
// §4.2): a pure, non-mutating gate that rejects dangerous code or context
// before any admission or execution work happens.
package validator

import (
	"fmt"
	"regexp"

	"github.com/smart-mcp-proxy/sandboxrt/internal/config"
	"github.com/smart-mcp-proxy/sandboxrt/internal/errs"
)

// ErrorKind enumerates the reasons validate() can fail.
type ErrorKind string

const (
	KindCodeTooLong      ErrorKind = "code_too_long"
	KindInvalidContextKey ErrorKind = "invalid_context_key"
	KindDenylistedPattern ErrorKind = "denylisted_pattern"
)

// Error is the SecurityError the spec's error taxonomy names (§7). It
// carries enough structure for the executor facade to return it verbatim as
// the terminal ExecutionResult.error.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("security validation failed (%s): %s", e.Kind, e.Detail)
}

// ExecKind reports this error's place in the shared taxonomy (spec §7):
// every validator rejection is a SecurityError, regardless of which
// sub-kind triggered it.
func (e *Error) ExecKind() errs.Kind { return errs.SecurityError }

// Denylist is a single denied-pattern rule: an isolate-escape idiom or raw
// subprocess-spawn idiom that must never appear in submitted code, grounded
// on the same builder shape internal/security uses for sensitive-data
// patterns (NewPattern().WithRegex()...Build()) but scoped to code safety
// instead of secret detection.
type Denylist struct {
	Name   string
	Regex  *regexp.Regexp
	Detail string
}

// NewDenylist compiles a named denylist rule.
func NewDenylist(name, pattern, detail string) Denylist {
	return Denylist{Name: name, Regex: regexp.MustCompile(pattern), Detail: detail}
}

// defaultDenylist covers the two families the spec names explicitly:
// "escape sequences that attempt direct isolate-break" and "raw process
// spawn idioms if the target path is the isolate".
var defaultDenylist = []Denylist{
	NewDenylist("isolate_constructor_escape", `constructor\s*\.\s*constructor`, "constructor-chain isolate escape"),
	NewDenylist("isolate_global_escape", `globalThis\s*\[\s*["'\x60]constructor["'\x60]\s*\]`, "globalThis constructor-chain isolate escape"),
	NewDenylist("node_require", `\brequire\s*\(`, "direct module loading is not permitted inside the isolate"),
	NewDenylist("node_process_spawn", `\bchild_process\b`, "raw process-spawn module reference"),
	NewDenylist("node_process_exec", `\bprocess\s*\.\s*(binding|mainModule|exit)\s*\(`, "raw process manipulation"),
	NewDenylist("function_constructor", `\bFunction\s*\(\s*["'\x60]`, "dynamic Function constructor from a string"),
}

// Validator validates ExecutionRequest code/context before admission.
type Validator struct {
	maxCodeLength int
	denylist      []Denylist
}

// New builds a Validator from security configuration, falling back to
// spec-default settings (100,000 char max) when cfg is nil.
func New(cfg *config.SecurityConfig) *Validator {
	maxLen := 100000
	if cfg != nil && cfg.MaxCodeLength > 0 {
		maxLen = cfg.MaxCodeLength
	}
	return &Validator{
		maxCodeLength: maxLen,
		denylist:      defaultDenylist,
	}
}

// Validate implements validate(code, context) -> Ok | Err(kind, detail). It
// never mutates code or context.
func (v *Validator) Validate(code string, context map[string]interface{}) error {
	if len(code) > v.maxCodeLength {
		return &Error{
			Kind:   KindCodeTooLong,
			Detail: fmt.Sprintf("code length %d exceeds maximum %d", len(code), v.maxCodeLength),
		}
	}

	if err := config.ValidateContextKeys(context); err != nil {
		return &Error{Kind: KindInvalidContextKey, Detail: err.Error()}
	}

	for _, rule := range v.denylist {
		if rule.Regex.MatchString(code) {
			return &Error{
				Kind:   KindDenylistedPattern,
				Detail: fmt.Sprintf("%s: %s", rule.Name, rule.Detail),
			}
		}
	}

	return nil
}
