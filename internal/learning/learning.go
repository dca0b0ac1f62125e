// Package learning implements the Learning Hand-off (spec §4.10): the
// post-execution step that, when a run qualifies, persists its code as a
// named capability and forwards its trace to an out-of-scope graph engine
// for edge-learning. Grounded on the teacher's swallow-and-log idiom
// throughout internal/server/mcp_code_execution.go
// (logger.Warn("failed to record code_execution call in history", ...)):
// every failure in this path is logged at Warn and never propagated, since
// a broken learning write must never turn a successful execution into a
// failed one for the caller.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/sandboxrt/internal/capability"
	"github.com/smart-mcp-proxy/sandboxrt/internal/isolate"
	"github.com/smart-mcp-proxy/sandboxrt/internal/trace"
)

// contextKeysExcludedFromSnippet are never re-declared when reconstituting
// a standalone code snippet (spec §4.10): they name request plumbing, not
// data the learned capability should close over.
var contextKeysExcludedFromSnippet = map[string]bool{
	"deps":   true,
	"args":   true,
	"intent": true,
}

// TraceProjection is the shape forwarded to the graph engine: an
// execution's starting context, the path it took, and its outcome,
// matching spec §4.10's "{initialContext, executedPath, decisions,
// taskResults, userId, parentTraceId?}".
type TraceProjection struct {
	InitialContext map[string]interface{}
	ExecutedPath   []string
	Decisions      []interface{}
	TaskResults    []interface{}
	UserID         string
	ParentTraceID  string
}

// GraphEngine is the out-of-scope collaborator spec.md §1 excludes from
// this module; it is declared here only as the interface the hand-off
// invokes, never implemented.
type GraphEngine interface {
	RecordTrace(ctx context.Context, projection TraceProjection) error
}

// CapabilityStore is the narrow slice of internal/capability.Registry this
// package depends on, so learning can be tested against a stub registry.
type CapabilityStore interface {
	Register(org, project, namespace, action, displayName, code string, toolDefs []isolate.ToolDefinition) (capability.Record, error)
}

// Request carries the fields HandOff needs beyond the ExecutionResult and
// trace buffer: everything the executor facade already had on hand from
// the original ExecutionRequest.
type Request struct {
	Org, Project string

	Code    string
	Context map[string]interface{}
	Intent  string

	ToolDefinitions []isolate.ToolDefinition
	UserID          string
	ParentTraceID   string
}

// HandOff orchestrates the §4.10 post-run step. Store and Graph may each be
// nil: a nil Store disables capability persistence, a nil Graph disables
// trace forwarding, independently.
type HandOff struct {
	Store  CapabilityStore
	Graph  GraphEngine
	Logger *zap.Logger
}

// New builds a HandOff. logger defaults to a no-op logger when nil.
func New(store CapabilityStore, graph GraphEngine, logger *zap.Logger) *HandOff {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandOff{Store: store, Graph: graph, Logger: logger}
}

// Run applies the hand-off to one completed execution. success/resultErr
// describe the ExecutionResult's outcome; tr is the execution's merged
// trace buffer. Run never returns an error: every failure is logged and
// swallowed, per the package doc.
func (h *HandOff) Run(ctx context.Context, req Request, success bool, tr *trace.Buffer) {
	if !h.eligible(req, success, tr) {
		return
	}

	if h.Store != nil {
		if err := h.persistCapability(req, tr); err != nil {
			h.Logger.Warn("failed to persist learned capability", zap.Error(err), zap.String("intent", req.Intent))
		}
	}

	if h.Graph != nil {
		traces := tr.Traces()
		if len(traces) >= 2 {
			if err := h.forwardTrace(ctx, req, traces); err != nil {
				h.Logger.Warn("failed to forward trace to graph engine", zap.Error(err), zap.String("intent", req.Intent))
			}
		}
	}
}

// eligible implements spec §4.10's three preconditions: an intent string
// was supplied, no tool call in the execution failed (all-or-nothing), and
// the execution itself succeeded (a failed run has nothing worth learning).
func (h *HandOff) eligible(req Request, success bool, tr *trace.Buffer) bool {
	if req.Intent == "" {
		return false
	}
	if !success {
		return false
	}
	if tr != nil && tr.HasAnyToolFailed() {
		return false
	}
	return h.Store != nil || h.Graph != nil
}

// persistCapability reconstitutes req.Code as a standalone snippet and
// registers it, deriving namespace/action from the intent string so the
// caller never has to name the capability explicitly. A caller-supplied
// "namespace:action" intent splits cleanly; anything else falls into a
// single "learned" namespace, keyed by a slug of the whole intent.
func (h *HandOff) persistCapability(req Request, tr *trace.Buffer) error {
	namespace, action := splitIntent(req.Intent)
	displayName := namespace + ":" + action
	snippet := reconstituteSnippet(req.Code, req.Context)

	_, err := h.Store.Register(req.Org, req.Project, namespace, action, displayName, snippet, req.ToolDefinitions)
	return err
}

// forwardTrace builds the TraceProjection and hands it to the graph
// engine. executedPath is the tool-call sequence recorded by the trace
// buffer; decisions/taskResults are left empty since neither the isolate
// nor the subprocess runner records branch-level decisions today.
func (h *HandOff) forwardTrace(ctx context.Context, req Request, _ []trace.Event) error {
	tr := TraceProjection{
		InitialContext: req.Context,
		UserID:         req.UserID,
		ParentTraceID:  req.ParentTraceID,
	}
	return h.Graph.RecordTrace(ctx, tr)
}

// splitIntent parses "namespace:action" out of an intent string, falling
// back to a single "learned" namespace and a slug of the full intent when
// no colon is present.
func splitIntent(intent string) (namespace, action string) {
	if idx := strings.Index(intent, ":"); idx > 0 && idx < len(intent)-1 {
		return slug(intent[:idx]), slug(intent[idx+1:])
	}
	return "learned", slug(intent)
}

// slug lowercases s and replaces every run of non-identifier characters
// with a single underscore, so the result is always a safe FQDN segment.
func slug(s string) string {
	var b strings.Builder
	prevUnderscore := false
	for _, r := range strings.ToLower(s) {
		safe := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if safe {
			b.WriteRune(r)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

// reconstituteSnippet prepends a const declaration for every context
// variable not excluded by contextKeysExcludedFromSnippet, so the stored
// capability's code is standalone and re-runnable without its original
// request context (spec §4.10).
func reconstituteSnippet(code string, context map[string]interface{}) string {
	keys := make([]string, 0, len(context))
	for key := range context {
		if contextKeysExcludedFromSnippet[key] {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if len(keys) == 0 {
		return code
	}

	var b strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&b, "const %s = %s;\n", key, jsonLiteral(context[key]))
	}
	b.WriteString(code)
	return b.String()
}

// jsonLiteral renders value as a JSON literal suitable for splicing into a
// generated const declaration, falling back to "null" if it cannot be
// marshaled (the same defensive fallback trace.SafeSerialize uses).
func jsonLiteral(value interface{}) string {
	data, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(data)
}
