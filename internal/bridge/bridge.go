// Package bridge implements the RPC Bridge (spec §4.7): the component an
// Isolate Worker or Subprocess Runner dispatches every tool/capability call
// through. It resolves a call via the spec's four-step routing precedence,
// wraps every dispatch in a tool_start/tool_end trace pair, and publishes
// those events on internal/event for observers.
//
// Grounded on internal/server/mcp_code_execution.go's upstreamToolCaller:
// CallTool there becomes Dispatch here, and recordToolCall's
// before/after-timing bookkeeping becomes trace.NewToolStart/NewToolEnd.
// The routing precedence itself (capability ops, $cap+UUID, display-name,
// external client) has no teacher analogue — the teacher only ever dispatches
// to upstream MCP servers — and is built fresh from spec §4.7.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/smart-mcp-proxy/sandboxrt/internal/errs"
	"github.com/smart-mcp-proxy/sandboxrt/internal/event"
	"github.com/smart-mcp-proxy/sandboxrt/internal/isolate"
	"github.com/smart-mcp-proxy/sandboxrt/internal/security"
	"github.com/smart-mcp-proxy/sandboxrt/internal/trace"
)

// ToolClient is the out-of-scope collaborator that actually talks to an
// external MCP server. The executor facade supplies a concrete
// implementation; the bridge only depends on this narrow interface.
type ToolClient interface {
	CallTool(ctx context.Context, server, tool string, args map[string]interface{}) (interface{}, error)
}

// Capability is the subset of a registered capability record (spec §3) the
// bridge needs to run one: its code, the proxy table it should see, and
// identifying fields used in traces/errors.
type Capability struct {
	ID              string
	FQDN            string
	Code            string
	ToolDefinitions []isolate.ToolDefinition
}

// Registry is implemented by internal/capability. It is kept narrow so the
// bridge can be tested without a real bbolt-backed registry.
type Registry interface {
	ResolveByID(id string) (Capability, bool)
	ResolveByName(org, project, name string) (Capability, bool)
}

// Bridge routes one execution's RPC traffic. It implements
// isolate.Dispatcher, so an isolate.Worker can be handed a *Bridge directly.
type Bridge struct {
	Org, Project string

	Registry Registry
	Client   ToolClient
	Bus      *event.Bus
	Trace    *trace.Buffer

	// Detector, when set, scans tool call arguments/responses for secrets
	// before they are written into a trace event (spec §4.7's trace
	// redaction enrichment); nil disables scanning.
	Detector *security.Detector

	// RateLimiter, when set, throttles dispatches that reach the external
	// tool client (spec §4.7: "rate.Limiter throttles external-tool
	// dispatch per bridge instance"). Capability and pseudo-tool routing
	// bypass it; only the default external-client branch of route() waits
	// on it.
	RateLimiter *rate.Limiter

	ParentTraceID string
	RPCTimeout    time.Duration

	Logger *zap.Logger
}

// New builds a Bridge. Trace/Bus default to fresh, empty instances when nil.
// Detector is left nil (no redaction scanning); set it directly or via
// WithDetector when the executor facade has one configured.
func New(org, project string, registry Registry, client ToolClient, bus *event.Bus, logger *zap.Logger) *Bridge {
	if bus == nil {
		bus = event.NewBus()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		Org:      org,
		Project:  project,
		Registry: registry,
		Client:   client,
		Bus:      bus,
		Trace:    trace.NewBuffer(),
		Logger:   logger,
	}
}

// WithDetector sets b's sensitive-data detector and returns b for chaining.
func (b *Bridge) WithDetector(detector *security.Detector) *Bridge {
	b.Detector = detector
	return b
}

// WithRateLimit attaches a token-bucket limiter of the given rate/burst,
// used to throttle calls that fall through to the external tool client.
func (b *Bridge) WithRateLimit(ratePerSec float64, burst int) *Bridge {
	if ratePerSec > 0 {
		b.RateLimiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return b
}

// Dispatch implements isolate.Dispatcher: every call, of any kind, is traced
// as a tool_start/tool_end pair before and after routing.
func (b *Bridge) Dispatch(ctx context.Context, msg isolate.RPCCallMessage) isolate.RPCResultMessage {
	toolID := msg.Server + "." + msg.Tool
	traceID := uuid.NewString()
	parent := msg.ParentTraceID
	if parent == "" {
		parent = b.ParentTraceID
	}

	startEvt := trace.NewToolStart(traceID, parent, toolID, b.redact(msg.Args, nil))
	b.Trace.Push(startEvt)
	b.Bus.Publish(event.Event{Type: event.ToolStart, Payload: startEvt})

	callCtx := ctx
	var cancel context.CancelFunc
	if b.RPCTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.RPCTimeout)
		defer cancel()
	}

	result, callErr := b.route(callCtx, msg, traceID)

	success := callErr == nil
	errMsg := ""
	if callErr != nil {
		errMsg = callErr.Error()
	}
	endEvt := trace.NewToolEnd(startEvt, b.redact(nil, result), success, errMsg)
	b.Trace.Push(endEvt)
	b.Bus.Publish(event.Event{Type: event.ToolEnd, Payload: endEvt})

	b.Logger.Debug("rpc dispatch completed",
		zap.String("tool", toolID),
		zap.Bool("success", success),
		zap.Int64("duration_ms", *endEvt.DurationMs),
	)

	return isolate.RPCResultMessage{ID: msg.ID, Success: success, Result: result, Error: errMsg}
}

// redact scans args and/or result for sensitive data and, if anything is
// detected, replaces the offending side with a stub naming the categories
// found rather than storing the raw value in a trace event. Either argument
// may be nil; it is marshaled and scanned independently of the other.
func (b *Bridge) redact(args, result interface{}) interface{} {
	value := args
	if args == nil {
		value = result
	}
	if b.Detector == nil || value == nil {
		return value
	}

	argsJSON, _ := json.Marshal(args)
	resultJSON, _ := json.Marshal(result)
	scan := b.Detector.Scan(string(argsJSON), string(resultJSON))
	if scan == nil || !scan.Detected {
		return value
	}

	categories := make(map[string]bool)
	for _, d := range scan.Detections {
		categories[d.Category] = true
	}
	names := make([]string, 0, len(categories))
	for c := range categories {
		names = append(names, c)
	}
	return map[string]interface{}{
		"__redacted": true,
		"categories": names,
	}
}

// route implements spec §4.7's four-step precedence: capability-registry
// ops, $cap+UUID lookup, display-name resolution in (org,project) scope,
// then the external tool client. traceID is the id Dispatch already pushed
// for this call's tool_start/tool_end pair; a capability invoked from here
// is parented under it, not under the caller-supplied RPC envelope id, so
// the trace tree's capability_start correlates with the tool_start that
// triggered it (spec.md §8 S6).
func (b *Bridge) route(ctx context.Context, msg isolate.RPCCallMessage, traceID string) (interface{}, error) {
	switch {
	case msg.Server == "std" && strings.HasPrefix(msg.Tool, "cap_"):
		return b.dispatchCapabilityOp(ctx, msg)

	case msg.Server == "code" || msg.Server == "loop":
		return b.dispatchPseudoTool(ctx, msg)

	case msg.Server == "$cap":
		cap, ok := b.Registry.ResolveByID(msg.Tool)
		if !ok {
			return nil, fmt.Errorf("capability not found: %s", msg.Tool)
		}
		return b.invokeCapability(ctx, cap, msg.Args, traceID)

	default:
		if b.Registry != nil {
			if cap, ok := b.Registry.ResolveByName(b.Org, b.Project, msg.Server+":"+msg.Tool); ok {
				return b.invokeCapability(ctx, cap, msg.Args, traceID)
			}
		}
		if b.Client == nil {
			return nil, fmt.Errorf("no tool client configured for %s.%s", msg.Server, msg.Tool)
		}
		if b.RateLimiter != nil {
			if err := b.RateLimiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait for %s.%s: %w", msg.Server, msg.Tool, err)
			}
		}
		return b.Client.CallTool(ctx, msg.Server, msg.Tool, msg.Args)
	}
}

// dispatchCapabilityOp handles the std/cap_* pseudo-tools user code (or the
// learning hand-off) uses to interact with the capability registry directly
// — e.g. cap_resolve to look up a capability by display name before calling
// it via $cap. Mutating ops (register/alias/merge) belong to
// internal/capability's own API surface, not this pseudo-tool path; only
// read-style resolution is exposed here.
func (b *Bridge) dispatchCapabilityOp(_ context.Context, msg isolate.RPCCallMessage) (interface{}, error) {
	if b.Registry == nil {
		return nil, fmt.Errorf("capability registry unavailable")
	}
	switch msg.Tool {
	case "cap_resolve":
		name, _ := msg.Args["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("cap_resolve requires a name argument")
		}
		cap, ok := b.Registry.ResolveByName(b.Org, b.Project, name)
		if !ok {
			return nil, fmt.Errorf("capability not found: %s", name)
		}
		return map[string]interface{}{"id": cap.ID, "fqdn": cap.FQDN}, nil
	default:
		return nil, fmt.Errorf("unknown capability op: %s", msg.Tool)
	}
}

// dispatchPseudoTool handles the executor's internal control-flow helpers
// (code:eval for an inline nested expression, loop:map for applying a
// capability-less function-valued arg across a list). They are traced like
// any other call so the §8 tool-sequence invariants apply uniformly, and a
// failure here follows the same abort-on-failure policy as any other tool
// call (DESIGN.md Open Question 3) — the caller's own script controls
// whether it continues after the proxy returns {ok:false}.
func (b *Bridge) dispatchPseudoTool(_ context.Context, msg isolate.RPCCallMessage) (interface{}, error) {
	switch msg.Server + ":" + msg.Tool {
	case "code:eval":
		expr, _ := msg.Args["expr"].(string)
		return nil, fmt.Errorf("code:eval is not directly callable outside an isolate context: %s", expr)
	default:
		return nil, fmt.Errorf("unknown pseudo-tool: %s.%s", msg.Server, msg.Tool)
	}
}

// invokeCapability runs a resolved capability's code in a fresh, nested
// isolate.Worker so each capability invocation gets its own VM (per spec
// §4.7's "fresh bridge per capability invocation"). The nested bridge shares
// this bridge's registry/client/bus but keeps its own trace buffer, merged
// back into the parent afterward so the outer Traces() view is complete.
func (b *Bridge) invokeCapability(ctx context.Context, cap Capability, args map[string]interface{}, parentTraceID string) (interface{}, error) {
	nested := &Bridge{
		Org:           b.Org,
		Project:       b.Project,
		Registry:      b.Registry,
		Client:        b.Client,
		Bus:           b.Bus,
		Trace:         trace.NewBuffer(),
		Detector:      b.Detector,
		ParentTraceID: parentTraceID,
		RPCTimeout:    b.RPCTimeout,
		Logger:        b.Logger,
	}

	capTraceID := uuid.NewString()
	startEvt := trace.NewCapabilityStart(capTraceID, parentTraceID, cap.FQDN, cap.ID, args)
	nested.Trace.Push(startEvt)
	b.Bus.Publish(event.Event{Type: event.CapabilityStart, Payload: startEvt})

	worker := isolate.NewWorker(nested, func(e trace.Event) { nested.Trace.Push(e) })
	res := worker.Execute(ctx, isolate.InitMessage{
		Code:            cap.Code,
		ToolDefinitions: cap.ToolDefinitions,
		Context:         args,
		ParentTraceID:   capTraceID,
	})

	success := res.Success
	errMsg := ""
	if res.Error != nil {
		errMsg = res.Error.Message
	}
	endEvt := trace.NewCapabilityEnd(startEvt, res.Result, success, errMsg)
	nested.Trace.Push(endEvt)
	b.Bus.Publish(event.Event{Type: event.CapabilityEnd, Payload: endEvt})

	b.Trace.Merge(nested.Trace)

	if !res.Success {
		kind := errs.RuntimeError
		if res.Error != nil {
			kind = res.Error.Kind
		}
		return nil, fmt.Errorf("capability %s failed (%s): %s", cap.FQDN, kind, errMsg)
	}
	return res.Result, nil
}
