// Package subprocrunner implements the Subprocess Runner (spec §4.6): the
// external-interpreter execution path used when isolate_for_basic_run is
// false, or a script needs runtime capability goja can't provide. Code is
// written to a temp file, run under an external interpreter with the
// Permission Mapper's flags, and its result is read back over a sentinel
// line on stdout rather than a pipe protocol, since a single process run
// has no use for the isolate's bidirectional RPC channel.
//
// Grounded on the teacher's internal/secureenv (environment construction)
// and internal/logs (the process-wide zap core already sanitizes secrets
// out of anything this package logs, so it logs through whatever *zap.Logger
// it is given rather than re-implementing masking). golang.org/x/sys/unix is
// used for the memory-cap rlimit, the same ecosystem package the teacher
// uses for Windows registry / RSS sampling elsewhere in this module.
package subprocrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/sandboxrt/internal/errs"
	"github.com/smart-mcp-proxy/sandboxrt/internal/isolate"
	"github.com/smart-mcp-proxy/sandboxrt/internal/sandbox/permission"
)

const resultSentinel = "__SANDBOX_RESULT__:"

// Options configures one subprocess run.
type Options struct {
	Code          string
	Context       map[string]interface{}
	Flags         *permission.Flags
	Env           []string
	TimeoutMs     int
	MemoryLimitMb int
	WorkDir       string
}

// Result is the terminal outcome of a subprocess run, shaped like
// isolate.ExecutionResult so the Executor Facade can treat both paths
// uniformly.
type Result struct {
	Success         bool
	Result          interface{}
	Error           *errs.Error
	ExecutionTimeMs int64
}

// Runner shells out to interpreter (e.g. a Deno or Node binary path) for
// every Run call. It holds no subprocess state between calls.
type Runner struct {
	interpreter string
	logger      *zap.Logger
}

// New builds a Runner targeting the given interpreter binary.
func New(interpreter string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{interpreter: interpreter, logger: logger}
}

// Run writes opts.Code to a temp file, executes it under the interpreter
// with opts.Flags' permission args, and parses the sentinel-line result.
// The temp file is always removed, regardless of outcome.
func (r *Runner) Run(ctx context.Context, opts Options) (result *Result) {
	start := time.Now()
	defer func() {
		if result != nil {
			result.ExecutionTimeMs = time.Since(start).Milliseconds()
		}
	}()

	scriptPath, err := r.writeScript(opts)
	if err != nil {
		return &Result{Error: errs.New(errs.RuntimeError, fmt.Sprintf("writing sandbox script: %v", err))}
	}
	defer os.Remove(scriptPath)

	timeout := time.Duration(opts.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var args []string
	if opts.Flags != nil {
		args = append(args, opts.Flags.ToArgs()...)
	}
	args = append(args, scriptPath)

	cmd := exec.CommandContext(runCtx, r.interpreter, args...)
	cmd.Env = opts.Env
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := runWithMemoryLimit(cmd, opts.MemoryLimitMb)
	r.logger.Debug("subprocess run completed",
		zap.String("interpreter", r.interpreter),
		zap.Int("stdout_len", stdout.Len()),
		zap.String("stderr", stderr.String()),
	)

	if runCtx.Err() == context.DeadlineExceeded {
		return &Result{Error: errs.New(errs.TimeoutError, "subprocess execution exceeded its timeout")}
	}

	envelope, parseErr := parseSentinelResult(stdout.String())
	if parseErr != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = parseErr.Error()
		}
		return &Result{Error: errs.New(classifyExitError(runErr, detail), detail)}
	}

	if !envelope.OK {
		return &Result{Error: errs.New(errs.RuntimeError, envelope.ErrorMessage)}
	}
	return &Result{Success: true, Result: envelope.Value}
}

// writeScript renders opts.Code plus its bound context into a temp file
// that prints exactly one sentinel line with its JSON-encoded outcome.
func (r *Runner) writeScript(opts Options) (string, error) {
	tmp, err := os.CreateTemp("", "sandboxrt-*.js")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	body, err := isolate.WrapWithAutoReturn(opts.Code)
	if err != nil {
		return "", fmt.Errorf("auto-return wrap: %w", err)
	}

	var b strings.Builder
	for key, val := range opts.Context {
		data, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("encoding context key %q: %w", key, err)
		}
		fmt.Fprintf(&b, "const %s = %s;\n", key, data)
	}

	fmt.Fprintf(&b, "try {\n  const __result = %s;\n", body)
	fmt.Fprintf(&b, "  console.log(%q + JSON.stringify({ok: true, value: __result}));\n", resultSentinel)
	b.WriteString("} catch (e) {\n")
	fmt.Fprintf(&b, "  console.log(%q + JSON.stringify({ok: false, error: String((e && e.message) || e)}));\n", resultSentinel)
	b.WriteString("}\n")

	if _, err := tmp.WriteString(b.String()); err != nil {
		return "", err
	}
	return tmp.Name(), nil
}

type sentinelEnvelope struct {
	OK           bool        `json:"ok"`
	Value        interface{} `json:"value,omitempty"`
	ErrorMessage string      `json:"error,omitempty"`
}

// parseSentinelResult scans stdout bottom-up for the last resultSentinel
// line, tolerating arbitrary console.log noise a script may emit before it.
func parseSentinelResult(stdout string) (*sentinelEnvelope, error) {
	lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], resultSentinel) {
			payload := strings.TrimPrefix(lines[i], resultSentinel)
			var env sentinelEnvelope
			if err := json.Unmarshal([]byte(payload), &env); err != nil {
				return nil, fmt.Errorf("parsing sentinel result: %w", err)
			}
			return &env, nil
		}
	}
	return nil, fmt.Errorf("no %s line found in subprocess output", resultSentinel)
}

// classifyExitError distinguishes a syntax-error exit (interpreters
// reliably print "SyntaxError" for parse failures), an out-of-memory exit
// (either the interpreter's own heap-exhaustion message, or the child being
// signal-killed by the RLIMIT_AS cap runWithMemoryLimit installs — glibc
// allocators typically raise SIGSEGV/SIGABRT rather than returning ENOMEM
// when RLIMIT_AS is hit), and a permission failure from any other runtime
// failure when the sentinel line itself never appeared.
func classifyExitError(runErr error, detail string) errs.Kind {
	if runErr == nil {
		return errs.RuntimeError
	}
	lower := strings.ToLower(detail)
	if strings.Contains(lower, "syntaxerror") {
		return errs.SyntaxError
	}
	if strings.Contains(lower, "out of memory") || strings.Contains(lower, "heap limit") ||
		strings.Contains(lower, "allocation failed") || strings.Contains(lower, "cannot allocate memory") {
		return errs.MemoryError
	}
	if isOOMSignal(runErr) {
		return errs.MemoryError
	}
	if strings.Contains(lower, "permission") || strings.Contains(lower, "not allowed") || strings.Contains(lower, "requires ") {
		return errs.PermissionError
	}
	return errs.RuntimeError
}
