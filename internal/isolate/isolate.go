// Package isolate implements the Isolate Worker (spec §4.5): the goja-based
// JavaScript execution engine that runs submitted code inside a fresh VM per
// execution, with one typed proxy method per ToolDefinition instead of the
// teacher's single generic call_tool, pre-evaluated capability context
// functions, auto-return for pure expressions, and the shared errs.Kind
// classification (SyntaxError/RuntimeError/PermissionError) on completion.
//
// Directly adapted from internal/jsruntime/runtime.go, pool.go and
// errors.go: goja stays the execution engine, ExecutionContext's
// single-tool-caller shape generalizes into a per-(server,tool) dispatch
// table, and setupSandbox's "disable require/setTimeout" idiom is kept
// verbatim since nothing in the spec asks for timers inside the isolate.
package isolate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/smart-mcp-proxy/sandboxrt/internal/config"
	"github.com/smart-mcp-proxy/sandboxrt/internal/errs"
	"github.com/smart-mcp-proxy/sandboxrt/internal/trace"
)

// ToolDefinition is one entry of InitMessage.toolDefinitions (spec §3): it
// tells the isolate which proxy method to generate and whether the target
// is a capability (routed through the registry) or a plain external tool.
type ToolDefinition struct {
	Server         string
	Tool           string
	Description    string
	InputSchema    map[string]interface{}
	IsCapability   bool
	CapabilityFqdn string
}

// RPCCallMessage is posted by a generated tool proxy to the Dispatcher.
// ID is fresh per call so a Dispatcher serving many concurrent isolate
// executions can multiplex replies without cross-talk, per spec §4.7/§6.
type RPCCallMessage struct {
	ID            string
	Server        string
	Tool          string
	Args          map[string]interface{}
	ParentTraceID string
}

// RPCResultMessage is the Dispatcher's reply to an RPCCallMessage.
type RPCResultMessage struct {
	ID      string
	Success bool
	Result  interface{}
	Error   string
}

// Dispatcher is implemented by the RPC Bridge (internal/bridge). The
// isolate only knows how to build and send a call; routing, tracing and
// capability resolution all happen on the other side of this interface.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg RPCCallMessage) RPCResultMessage
}

// CapabilityEventSink receives capability_start/capability_end trace
// events as capability-context functions are pre-evaluated and invoked.
// It is the "dedicated broadcast channel" spec §4.5 calls for; in
// practice it is usually trace.Buffer.Push.
type CapabilityEventSink func(trace.Event)

// InitMessage is the isolate's single unit of work (spec §4.5's InitMessage).
type InitMessage struct {
	ExecutionID       string
	Code              string
	ToolDefinitions   []ToolDefinition
	Context           map[string]interface{}
	CapabilityContext string
	ParentTraceID     string
}

// ExecutionResult is what Execute returns: ExecutionCompleteMessage's
// payload (spec §4.5), folded success/error into one struct like the rest
// of this module's result types.
type ExecutionResult struct {
	Success         bool
	Result          interface{}
	Error           *errs.Error
	ExecutionTimeMs int64
}

// Worker runs one InitMessage at a time against a fresh goja.Runtime; it
// holds no VM-pool state because goja.Runtime cannot be safely reset
// in-place (the teacher's jsruntime.Pool discards and recreates the VM on
// every Release for the same reason) and the spec's per-execution isolate
// lifecycle has no reuse requirement to justify pooling complexity here.
type Worker struct {
	dispatcher Dispatcher
	capSink    CapabilityEventSink

	// activeCapabilityTraceID is the trace id of the capability function
	// currently executing on the goja thread, if any. bindToolProxies'
	// generated functions read it so a tool call made from inside a
	// capability body nests under that capability's own capability_start
	// instead of the execution's root ParentTraceID (spec.md §8 S6). goja
	// runtimes are single-threaded, so a plain field (no mutex) is safe to
	// mutate around each capability invocation.
	activeCapabilityTraceID string
}

// NewWorker builds a Worker. capSink may be nil when the execution has no
// capability context to pre-evaluate.
func NewWorker(dispatcher Dispatcher, capSink CapabilityEventSink) *Worker {
	return &Worker{dispatcher: dispatcher, capSink: capSink}
}

// Execute runs msg.Code to completion or until ctx is done, returning a
// terminal ExecutionResult. It never panics: goja exceptions and internal
// panics are both recovered and classified.
func (w *Worker) Execute(ctx context.Context, msg InitMessage) (result *ExecutionResult) {
	start := time.Now()
	defer func() {
		if result != nil {
			result.ExecutionTimeMs = time.Since(start).Milliseconds()
		}
		if r := recover(); r != nil {
			result = &ExecutionResult{
				Error: errs.New(errs.RuntimeError, fmt.Sprintf("panic during execution: %v", r)),
			}
			result.ExecutionTimeMs = time.Since(start).Milliseconds()
		}
	}()

	if err := config.ValidateContextKeys(msg.Context); err != nil {
		// Defense in depth: the Security Validator is authoritative and
		// should already have rejected this request.
		return &ExecutionResult{Error: errs.New(errs.PermissionError, err.Error())}
	}

	vm := goja.New()
	setupSandbox(vm)

	for key, value := range msg.Context {
		if err := vm.Set(key, value); err != nil {
			return &ExecutionResult{Error: errs.New(errs.RuntimeError, fmt.Sprintf("binding context key %q: %v", key, err))}
		}
	}

	if msg.CapabilityContext != "" {
		if err := w.evalCapabilityContext(ctx, vm, msg); err != nil {
			return &ExecutionResult{Error: err}
		}
	}

	if err := w.bindToolProxies(ctx, vm, msg); err != nil {
		return &ExecutionResult{Error: err}
	}

	done := make(chan *ExecutionResult, 1)
	go func() {
		done <- w.run(vm, msg.Code)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		_ = vm.Interrupt("execution timed out")
		<-done // let the goroutine unwind before returning
		return &ExecutionResult{Error: errs.New(errs.TimeoutError, "execution exceeded its timeout")}
	}
}

// run compiles and executes code against vm, classifying any failure.
func (w *Worker) run(vm *goja.Runtime, code string) *ExecutionResult {
	source, err := WrapWithAutoReturn(code)
	if err != nil {
		return &ExecutionResult{Error: errs.New(errs.SyntaxError, err.Error())}
	}

	program, err := goja.Compile("<isolate>", source, false)
	if err != nil {
		return &ExecutionResult{Error: errs.New(errs.SyntaxError, err.Error())}
	}

	value, err := vm.RunProgram(program)
	if err != nil {
		return &ExecutionResult{Error: classifyRuntimeError(err)}
	}

	exported := value.Export()
	safe, serErr := validateSerializable(exported)
	if serErr != nil {
		return &ExecutionResult{Error: errs.New(errs.RuntimeError, fmt.Sprintf("result is not JSON-serializable: %v", serErr))}
	}

	return &ExecutionResult{Success: true, Result: safe}
}

// classifyRuntimeError maps a goja execution error onto the shared
// taxonomy. goja reports disabled globals (require, process, ...) as plain
// ReferenceErrors, which is the isolate's only signal that user code
// attempted something the sandbox forbids; anything else is a RuntimeError.
func classifyRuntimeError(err error) *errs.Error {
	msg := err.Error()
	var stack string
	if exc, ok := err.(*goja.Exception); ok {
		stack = exc.String()
	}

	lower := strings.ToLower(msg)
	for _, forbidden := range []string{"require", "process", "child_process", "__proto__"} {
		if strings.Contains(lower, forbidden) && strings.Contains(lower, "is not defined") {
			return errs.WithStack(errs.PermissionError, msg, stack)
		}
	}
	return errs.WithStack(errs.RuntimeError, msg, stack)
}

// WrapWithAutoReturn implements spec §4.5's auto-return rule: if code is a
// single expression, its value becomes the result without an explicit
// return statement; otherwise code runs as a statement list and must
// return explicitly. Expression-ness is tested the cheap way: does
// "(<code>)" parse as a standalone expression program. Exported so the
// Subprocess Runner can apply the same auto-return rule to the external
// interpreter path, keeping both execution backends' language semantics
// identical; goja's parser is used as the shared probe for "is this an
// expression" even on the subprocess path, which is a deliberate
// simplification documented in DESIGN.md.
func WrapWithAutoReturn(code string) (string, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "(function(){ })()", nil
	}

	asExpr := "(" + trimmed + ")"
	if _, err := goja.Compile("<probe>", asExpr, false); err == nil {
		return "(function(){ return " + asExpr + "; })()", nil
	}

	asStatements := "(function(){ " + trimmed + " })()"
	if _, err := goja.Compile("<probe>", asStatements, false); err != nil {
		return "", err
	}
	return asStatements, nil
}

// setupSandbox disables the handful of goja globals that would otherwise
// leak host capability into the isolate, mirroring
// internal/jsruntime/runtime.go's setupSandbox: goja ships no require,
// filesystem or process bindings by default, so this is a defense-in-depth
// no-op against anything a future goja upgrade might add.
func setupSandbox(vm *goja.Runtime) {
	_ = vm.Set("require", goja.Undefined())
	_ = vm.Set("setTimeout", goja.Undefined())
	_ = vm.Set("setInterval", goja.Undefined())
	_ = vm.Set("clearTimeout", goja.Undefined())
	_ = vm.Set("clearInterval", goja.Undefined())
	_ = vm.Set("process", goja.Undefined())
}

// bindToolProxies builds one callable per ToolDefinition, grouped under a
// "tools" global object as tools.<server>.<tool>(args). Each call blocks
// the calling goroutine on a synchronous Dispatch; goja runtimes are not
// safe for concurrent use from multiple goroutines, so within one
// execution calls are necessarily sequential (spec §5: "single-threaded
// cooperative within one execution"). The RPCCallMessage.ID multiplexing
// the spec describes matters across executions sharing one Dispatcher, not
// within a single script's call sequence.
func (w *Worker) bindToolProxies(ctx context.Context, vm *goja.Runtime, msg InitMessage) *errs.Error {
	servers := map[string]map[string]ToolDefinition{}
	for _, def := range msg.ToolDefinitions {
		if !config.IsIdentifierSafe(def.Server) || !config.IsIdentifierSafe(def.Tool) {
			return errs.New(errs.PermissionError, fmt.Sprintf("unsafe tool identifier: %s.%s", def.Server, def.Tool))
		}
		if servers[def.Server] == nil {
			servers[def.Server] = map[string]ToolDefinition{}
		}
		servers[def.Server][def.Tool] = def
	}

	tools := vm.NewObject()
	for serverName, toolsOnServer := range servers {
		serverObj := vm.NewObject()
		for toolName, def := range toolsOnServer {
			def := def
			fn := func(call goja.FunctionCall) goja.Value {
				var args map[string]interface{}
				if len(call.Arguments) > 0 {
					if m, ok := call.Arguments[0].Export().(map[string]interface{}); ok {
						args = m
					}
				}
				parentTraceID := msg.ParentTraceID
				if w.activeCapabilityTraceID != "" {
					parentTraceID = w.activeCapabilityTraceID
				}
				reply := w.dispatcher.Dispatch(ctx, RPCCallMessage{
					ID:            uuid.NewString(),
					Server:        def.Server,
					Tool:          def.Tool,
					Args:          args,
					ParentTraceID: parentTraceID,
				})
				result := vm.NewObject()
				_ = result.Set("ok", reply.Success)
				if reply.Success {
					_ = result.Set("result", reply.Result)
				} else {
					_ = result.Set("error", reply.Error)
				}
				return result
			}
			_ = serverObj.Set(toolName, fn)
		}
		_ = tools.Set(serverName, serverObj)
	}
	if err := vm.Set("tools", tools); err != nil {
		return errs.New(errs.RuntimeError, fmt.Sprintf("binding tool proxies: %v", err))
	}
	return nil
}

// evalCapabilityContext runs msg.CapabilityContext (a block of JS defining
// named capability functions), wrapping every defined function so that
// calling it emits capability_start/capability_end over capSink, per spec
// §4.5. The wrapped functions replace the plain ones in global scope so
// user code sees no difference between calling a capability and calling a
// plain JS function.
func (w *Worker) evalCapabilityContext(ctx context.Context, vm *goja.Runtime, msg InitMessage) *errs.Error {
	program, err := goja.Compile("<capability-context>", msg.CapabilityContext, false)
	if err != nil {
		return errs.New(errs.SyntaxError, fmt.Sprintf("capability context: %v", err))
	}
	if _, err := vm.RunProgram(program); err != nil {
		return errs.New(errs.RuntimeError, fmt.Sprintf("capability context: %v", err))
	}

	global := vm.GlobalObject()
	for _, key := range global.Keys() {
		val := global.Get(key)
		fnVal, ok := goja.AssertFunction(val)
		if !ok {
			continue
		}
		capabilityID := key
		wrapped := func(call goja.FunctionCall) goja.Value {
			traceID := uuid.NewString()
			startEvt := trace.NewCapabilityStart(traceID, msg.ParentTraceID, capabilityID, capabilityID, exportArgs(call.Arguments))
			if w.capSink != nil {
				w.capSink(startEvt)
			}
			prevActive := w.activeCapabilityTraceID
			w.activeCapabilityTraceID = traceID
			res, callErr := fnVal(goja.Undefined(), call.Arguments...)
			w.activeCapabilityTraceID = prevActive
			success := callErr == nil
			var resultVal interface{}
			errMsg := ""
			if callErr != nil {
				errMsg = callErr.Error()
			} else {
				resultVal = res.Export()
			}
			if w.capSink != nil {
				w.capSink(trace.NewCapabilityEnd(startEvt, resultVal, success, errMsg))
			}
			if callErr != nil {
				panic(vm.ToValue(errMsg))
			}
			return res
		}
		_ = vm.Set(key, wrapped)
	}
	return nil
}

func exportArgs(args []goja.Value) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		out[i] = a.Export()
	}
	return out
}

// validateSerializable confirms a value round-trips through JSON, reusing
// trace.SafeSerialize's marshal/unmarshal probe but returning an error
// instead of a fallback placeholder: a non-serializable final result is a
// RuntimeError, not something to paper over.
func validateSerializable(value interface{}) (interface{}, error) {
	safe := trace.SafeSerialize(value)
	if m, ok := safe.(map[string]interface{}); ok {
		if t, ok := m["__type"]; ok && t == "non-serializable" {
			return nil, fmt.Errorf("value of type %v cannot be serialized", m["typeof"])
		}
	}
	return safe, nil
}
