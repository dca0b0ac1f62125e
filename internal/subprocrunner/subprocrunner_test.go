package subprocrunner

import (
	"os"
	"strings"
	"testing"

	"github.com/smart-mcp-proxy/sandboxrt/internal/errs"
)

func TestParseSentinelResultSuccess(t *testing.T) {
	stdout := "some noise\n" + resultSentinel + `{"ok":true,"value":42}` + "\n"
	env, err := parseSentinelResult(stdout)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !env.OK {
		t.Fatalf("expected ok=true")
	}
	if v, ok := env.Value.(float64); !ok || v != 42 {
		t.Errorf("expected value 42, got %v", env.Value)
	}
}

func TestParseSentinelResultError(t *testing.T) {
	stdout := resultSentinel + `{"ok":false,"error":"boom"}` + "\n"
	env, err := parseSentinelResult(stdout)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.OK || env.ErrorMessage != "boom" {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestParseSentinelResultMissingSentinel(t *testing.T) {
	if _, err := parseSentinelResult("no sentinel here\n"); err == nil {
		t.Fatal("expected an error when no sentinel line is present")
	}
}

func TestParseSentinelResultPicksLastLine(t *testing.T) {
	stdout := resultSentinel + `{"ok":true,"value":1}` + "\n" + resultSentinel + `{"ok":true,"value":2}` + "\n"
	env, err := parseSentinelResult(stdout)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := env.Value.(float64); !ok || v != 2 {
		t.Errorf("expected the last sentinel line to win, got %v", env.Value)
	}
}

func TestClassifyExitErrorSyntax(t *testing.T) {
	if got := classifyExitError(errFake{}, "Uncaught SyntaxError: unexpected token"); got != errs.SyntaxError {
		t.Errorf("expected SyntaxError, got %s", got)
	}
}

func TestClassifyExitErrorPermission(t *testing.T) {
	if got := classifyExitError(errFake{}, "PermissionDenied: requires read access"); got != errs.PermissionError {
		t.Errorf("expected PermissionError, got %s", got)
	}
}

func TestClassifyExitErrorDefaultsToRuntime(t *testing.T) {
	if got := classifyExitError(errFake{}, "TypeError: x is not a function"); got != errs.RuntimeError {
		t.Errorf("expected RuntimeError, got %s", got)
	}
}

func TestClassifyExitErrorMemoryFromInterpreterText(t *testing.T) {
	if got := classifyExitError(errFake{}, "FATAL ERROR: Reached heap limit Allocation failed - JavaScript heap out of memory"); got != errs.MemoryError {
		t.Errorf("expected MemoryError, got %s", got)
	}
}

func TestClassifyExitErrorMemoryFromRSSCap(t *testing.T) {
	if got := classifyExitError(errFake{}, "Cannot allocate memory"); got != errs.MemoryError {
		t.Errorf("expected MemoryError, got %s", got)
	}
}

func TestWriteScriptBindsContextAndSentinel(t *testing.T) {
	r := New("node", nil)
	path, err := r.writeScript(Options{
		Code:    "input_value + 1",
		Context: map[string]interface{}{"input_value": 41},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.Remove(path)

	raw, rerr := os.ReadFile(path)
	if rerr != nil {
		t.Fatalf("reading generated script: %v", rerr)
	}
	data := string(raw)
	if !strings.Contains(data, "const input_value = 41;") {
		t.Errorf("expected context binding in script, got:\n%s", data)
	}
	if !strings.Contains(data, resultSentinel) {
		t.Errorf("expected sentinel emission in script, got:\n%s", data)
	}
}

type errFake struct{}

func (errFake) Error() string { return "exit status 1" }
