// Package executor implements the Executor Facade (spec §4.8): the single
// entry point that orchestrates the Security Validator, Resource Limiter,
// Permission Mapper, Isolate Worker / Subprocess Runner, RPC Bridge and
// Learning Hand-off for one ExecutionRequest.
//
// Grounded on the teacher's handleCodeExecution in
// internal/server/mcp_code_execution.go: parse options, acquire a pool
// token, defer its release, run, log structured metrics, record history,
// hand off. This package keeps that shape but drops the MCP-tool-call
// entrypoint in favor of a plain Go API.
package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/sandboxrt/internal/bridge"
	"github.com/smart-mcp-proxy/sandboxrt/internal/capability"
	"github.com/smart-mcp-proxy/sandboxrt/internal/config"
	"github.com/smart-mcp-proxy/sandboxrt/internal/errs"
	"github.com/smart-mcp-proxy/sandboxrt/internal/event"
	"github.com/smart-mcp-proxy/sandboxrt/internal/isolate"
	"github.com/smart-mcp-proxy/sandboxrt/internal/learning"
	"github.com/smart-mcp-proxy/sandboxrt/internal/observability"
	"github.com/smart-mcp-proxy/sandboxrt/internal/resultcache"
	"github.com/smart-mcp-proxy/sandboxrt/internal/sandbox/limiter"
	"github.com/smart-mcp-proxy/sandboxrt/internal/sandbox/permission"
	"github.com/smart-mcp-proxy/sandboxrt/internal/sandbox/validator"
	"github.com/smart-mcp-proxy/sandboxrt/internal/secureenv"
	"github.com/smart-mcp-proxy/sandboxrt/internal/security"
	"github.com/smart-mcp-proxy/sandboxrt/internal/subprocrunner"
	"github.com/smart-mcp-proxy/sandboxrt/internal/trace"
)

// Request is one ExecutionRequest (spec §3): everything a caller submits
// for a single run. Immutable once passed to Execute/ExecuteWithTools.
type Request struct {
	Code          string
	Context       map[string]interface{}
	PermissionSet config.PermissionSet
	TimeoutMs     int
	MemoryLimitMb int
	Intent        string
	ParentTraceID string

	// ToolDefinitions/Client/CapabilityContext are only meaningful for
	// ExecuteWithTools; Execute runs with none of the three.
	ToolDefinitions   []isolate.ToolDefinition
	Client            bridge.ToolClient
	CapabilityContext string

	UserID string
}

// Result is the facade's return value: ExecutionResult (spec §3) plus the
// accessor methods spec §4.8 names for surfacing traces and called-tools
// lists.
type Result struct {
	Success         bool
	Value           interface{}
	Error           *errs.Error
	ExecutionTimeMs int64

	trace *trace.Buffer
}

// Traces returns the chronological trace view for this execution.
func (r *Result) Traces() []trace.Event { return r.trace.Traces() }

// ToolsCalled returns the distinct set of tool ids invoked, in first-seen order.
func (r *Result) ToolsCalled() []string { return r.trace.ToolsCalled() }

// ToolsSequence returns every tool_end's tool id in call order, including repeats.
func (r *Result) ToolsSequence() []string { return r.trace.ToolsSequence() }

// ToolInvocations returns the paired tool_start/tool_end view.
func (r *Result) ToolInvocations() []trace.ToolInvocation { return r.trace.ToolInvocations() }

// HasAnyToolFailed reports whether any tool_end in this execution recorded failure.
func (r *Result) HasAnyToolFailed() bool { return r.trace.HasAnyToolFailed() }

// Executor owns every collaborator named in spec §4.8's control flow, plus
// the shared bbolt database backing the capability registry and the
// subprocess-path result cache (same database, one bucket per entity,
// matching the teacher's internal/storage/bbolt.go idiom).
type Executor struct {
	cfg *config.Config

	validator  *validator.Validator
	permMapper *permission.Mapper
	limiter    *limiter.Limiter
	detector   *security.Detector

	db       *bbolt.DB
	Registry *capability.Registry
	cache    *resultcache.Manager

	envMgr      *secureenv.Manager
	interpreter string

	bus      *event.Bus
	learning *learning.HandOff

	metrics *observability.MetricsManager

	logger *zap.Logger
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithInterpreter sets the external interpreter binary path the Subprocess
// Runner shells out to. Required if any request is expected to take the
// subprocess path.
func WithInterpreter(path string) Option {
	return func(e *Executor) { e.interpreter = path }
}

// WithGraphEngine wires the out-of-scope graph-engine collaborator into the
// Learning Hand-off. Without it, learned capabilities still persist but no
// trace is ever forwarded for edge-learning.
func WithGraphEngine(g learning.GraphEngine) Option {
	return func(e *Executor) {
		e.learning = learning.New(e.Registry, g, e.logger)
	}
}

// WithEventBus overrides the bus every bridge publishes tool/capability
// events to. Defaults to a fresh, unshared bus when not set.
func WithEventBus(bus *event.Bus) Option {
	return func(e *Executor) { e.bus = bus }
}

// WithMetrics wires a Prometheus MetricsManager into the facade. Without it,
// Execute/ExecuteWithTools behave identically but nothing is recorded.
func WithMetrics(mm *observability.MetricsManager) Option {
	return func(e *Executor) { e.metrics = mm }
}

// New builds an Executor. It opens (or reuses, if the workspace is shared
// with another host subsystem) a single bbolt database under
// cfg.DataDir/sandboxrt.db, the same database the host process uses for
// other sandboxrt state, and wires the capability registry and result
// cache onto it.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Executor, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("executor: invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dbPath := filepath.Join(cfg.DataDir, "sandboxrt.db")
	db, err := bbolt.Open(dbPath, 0644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("executor: opening state database: %w", err)
	}

	registry, err := capability.Open(db, cfg.Capability.HashPrefixLen, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("executor: opening capability registry: %w", err)
	}

	cache, err := resultcache.NewManager(db, cfg.Cache, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("executor: opening result cache: %w", err)
	}

	e := &Executor{
		cfg:        cfg,
		validator:  validator.New(cfg.Security),
		permMapper: permission.New(cfg.DataDir, ""),
		limiter:    limiter.New(cfg),
		detector:   security.NewDetector(cfg.SensitiveData),
		db:         db,
		Registry:   registry,
		cache:      cache,
		envMgr:     secureenv.NewManager(cfg.Environment),
		bus:        event.NewBus(),
		logger:     logger,
	}
	e.learning = learning.New(e.Registry, nil, logger)

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Close releases the Executor's database handle and flushes the result
// cache's background cleanup goroutine.
func (e *Executor) Close() error {
	e.cache.Close()
	return e.db.Close()
}

// Execute runs req with no tool definitions: user code may only use the
// "code"/"loop" pseudo-tools and capability resolution, never an external
// tool client.
func (e *Executor) Execute(ctx context.Context, req Request) *Result {
	return e.run(ctx, req)
}

// ExecuteWithTools runs req with its ToolDefinitions/Client/CapabilityContext
// bound, so user code may additionally invoke external tools and
// pre-evaluated capability functions.
func (e *Executor) ExecuteWithTools(ctx context.Context, req Request) *Result {
	return e.run(ctx, req)
}

// run implements spec §4.8's common algorithm: validate, admit, choose
// path, execute, apply learning hand-off, release on every exit path.
func (e *Executor) run(ctx context.Context, req Request) *Result {
	start := time.Now()
	path := "subprocess"
	if e.usesIsolatePath(req) {
		path = "isolate"
	}

	if req.PermissionSet == "" {
		req.PermissionSet = config.PermissionMinimal
	}
	timeoutMs := req.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = e.cfg.TimeoutMs
	}
	memoryMb := req.MemoryLimitMb
	if memoryMb <= 0 {
		memoryMb = e.cfg.MemoryLimitMb
	}

	if err := e.validator.Validate(req.Code, req.Context); err != nil {
		e.recordExecution(path, "error", start)
		return errorResult(err)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	token, err := e.limiter.Acquire(runCtx, memoryMb)
	if err != nil {
		if e.metrics != nil {
			kind := "concurrency"
			var limitErr *limiter.Error
			if errors.As(err, &limitErr) {
				kind = string(limitErr.Kind)
			}
			e.metrics.RecordLimiterRejection(kind)
		}
		e.recordExecution(path, "error", start)
		return errorResult(err)
	}
	defer func() {
		if relErr := e.limiter.Release(token); relErr != nil {
			e.logger.Warn("resource limiter release failed", zap.Error(relErr))
		}
		if e.metrics != nil {
			snap := e.limiter.Stats()
			e.metrics.SetExecutionsInFlight(snap.Current)
			e.metrics.SetReservedMemoryMb(snap.ReservedMb)
		}
	}()
	if e.metrics != nil {
		snap := e.limiter.Stats()
		e.metrics.SetExecutionsInFlight(snap.Current)
		e.metrics.SetReservedMemoryMb(snap.ReservedMb)
	}

	cacheKey := ""
	if e.cache != nil && e.cfg.Cache.Enabled && !e.usesIsolatePath(req) {
		cacheKey = resultcache.GenerateKey(req.Code, req.Context)
		if entry, ok := e.cache.Get(cacheKey); ok {
			if e.metrics != nil {
				e.metrics.RecordCacheHit()
			}
			outcome := cachedResult(entry)
			e.recordExecution(path, outcomeStatus(outcome), start)
			return outcome
		}
		if e.metrics != nil {
			e.metrics.RecordCacheMiss()
		}
	}

	org, project := "", ""
	if e.cfg.Capability != nil {
		org, project = e.cfg.Capability.Org, e.cfg.Capability.Project
	}

	flags := e.permMapper.Map(req.PermissionSet)
	br := bridge.New(org, project, e.Registry, req.Client, e.bus, e.logger).
		WithDetector(e.detector).
		WithRateLimit(e.cfg.RPCRateLimitPerSec, e.cfg.RPCRateBurst)
	br.ParentTraceID = req.ParentTraceID
	br.RPCTimeout = time.Duration(e.cfg.RPCTimeoutMs) * time.Millisecond

	var outcome *Result
	if e.usesIsolatePath(req) {
		outcome = e.runIsolate(runCtx, req, br)
	} else {
		outcome = e.runSubprocess(runCtx, req, flags, memoryMb, timeoutMs)
		outcome.trace = br.Trace
	}

	if cacheKey != "" {
		kind, msg := "", ""
		if outcome.Error != nil {
			kind, msg = string(outcome.Error.Kind), outcome.Error.Message
		}
		if cacheErr := e.cache.Store(cacheKey, outcome.Success, outcome.Value, kind, msg); cacheErr != nil {
			e.logger.Warn("result cache store failed", zap.Error(cacheErr))
		}
	}

	e.learning.Run(ctx, learning.Request{
		Org:             br.Org,
		Project:         br.Project,
		Code:            req.Code,
		Context:         req.Context,
		Intent:          req.Intent,
		ToolDefinitions: req.ToolDefinitions,
		UserID:          req.UserID,
		ParentTraceID:   req.ParentTraceID,
	}, outcome.Success, outcome.trace)

	if e.metrics != nil {
		e.metrics.SetCapabilitiesTotal(e.Registry.Count())
	}
	e.recordExecution(path, outcomeStatus(outcome), start)
	return outcome
}

// recordExecution records one completed run's path/status/duration if a
// MetricsManager is wired; a no-op otherwise.
func (e *Executor) recordExecution(path, status string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordExecution(path, status, time.Since(start))
}

// outcomeStatus maps a Result to the "status" label RecordExecution expects.
func outcomeStatus(r *Result) string {
	if r.Success {
		return "success"
	}
	if r.Error != nil && r.Error.Kind == errs.TimeoutError {
		return "timeout"
	}
	return "error"
}

// usesIsolatePath decides between the Isolate Worker and Subprocess Runner
// (spec §4.8 step 3): the isolate is the default path, but any permission
// set beyond "minimal"/"readonly" needs OS-level enforcement the isolate
// cannot provide on its own, and isolate_for_basic_run=false forces the
// subprocess path unconditionally.
func (e *Executor) usesIsolatePath(req Request) bool {
	if !e.cfg.IsolateForBasicRun {
		return false
	}
	switch req.PermissionSet {
	case config.PermissionMinimal, config.PermissionReadonly:
		return true
	default:
		return false
	}
}

// runIsolate drives the goja-based Isolate Worker, wiring br as its
// Dispatcher and merging any capability-context trace events it emits
// directly into br's trace buffer.
func (e *Executor) runIsolate(ctx context.Context, req Request, br *bridge.Bridge) *Result {
	worker := isolate.NewWorker(br, func(evt trace.Event) { br.Trace.Push(evt) })
	res := worker.Execute(ctx, isolate.InitMessage{
		Code:              req.Code,
		ToolDefinitions:   req.ToolDefinitions,
		Context:           req.Context,
		CapabilityContext: req.CapabilityContext,
		ParentTraceID:     req.ParentTraceID,
	})
	return &Result{
		Success:         res.Success,
		Value:           res.Result,
		Error:           res.Error,
		ExecutionTimeMs: res.ExecutionTimeMs,
		trace:           br.Trace,
	}
}

// runSubprocess drives the Subprocess Runner, building its OS-level
// environment from the Permission Mapper's flags via internal/secureenv.
func (e *Executor) runSubprocess(ctx context.Context, req Request, flags *permission.Flags, memoryMb, timeoutMs int) *Result {
	runner := subprocrunner.New(e.interpreter, e.logger)
	res := runner.Run(ctx, subprocrunner.Options{
		Code:          req.Code,
		Context:       req.Context,
		Flags:         flags,
		Env:           flags.BuildEnv(e.envMgr),
		TimeoutMs:     timeoutMs,
		MemoryLimitMb: memoryMb,
	})
	return &Result{
		Success:         res.Success,
		Value:           res.Result,
		Error:           res.Error,
		ExecutionTimeMs: res.ExecutionTimeMs,
	}
}

// errorResult wraps a pre-execution failure (validator/limiter rejection)
// as a terminal Result, classifying it through errs.FromClassified so
// every caller sees the same {kind,message} shape regardless of which
// collaborator raised it.
func errorResult(err error) *Result {
	return &Result{Error: errs.FromClassified(err), trace: trace.NewBuffer()}
}

// cachedResult replays a stored resultcache.Entry as a Result with a fresh,
// empty trace buffer: a cache hit never re-runs user code, so no new trace
// events exist for this invocation.
func cachedResult(entry *resultcache.Entry) *Result {
	var execErr *errs.Error
	if !entry.Success {
		execErr = errs.New(errs.Kind(entry.ErrorKind), entry.ErrorMessage)
	}
	return &Result{
		Success: entry.Success,
		Value:   entry.Value,
		Error:   execErr,
		trace:   trace.NewBuffer(),
	}
}
