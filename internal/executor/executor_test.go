package executor

import (
	"context"
	"os"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-mcp-proxy/sandboxrt/internal/config"
	"github.com/smart-mcp-proxy/sandboxrt/internal/observability"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	dataDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.Cache.Enabled = true

	e, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestExecuteRunsPureExpressionWithAutoReturn(t *testing.T) {
	e := newTestExecutor(t)

	result := e.Execute(context.Background(), Request{Code: "21 * 2"})

	require.True(t, result.Success, "expected success, got error %+v", result.Error)
	assert.EqualValues(t, 42, result.Value)
}

func TestExecuteInjectsContextAsScopedConstants(t *testing.T) {
	e := newTestExecutor(t)

	result := e.Execute(context.Background(), Request{
		Code:    "a + b",
		Context: map[string]interface{}{"a": 10, "b": 32},
	})

	require.True(t, result.Success)
	assert.EqualValues(t, 42, result.Value)
}

func TestExecuteRejectsCodeExceedingMaxLength(t *testing.T) {
	e := newTestExecutor(t)

	longCode := make([]byte, 200000)
	for i := range longCode {
		longCode[i] = 'a'
	}

	result := e.Execute(context.Background(), Request{Code: string(longCode)})

	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, "SecurityError", string(result.Error.Kind))
}

func TestExecuteRejectsDenylistedEscapeAttempt(t *testing.T) {
	e := newTestExecutor(t)

	result := e.Execute(context.Background(), Request{Code: "this.constructor.constructor('return process')()"})

	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, "SecurityError", string(result.Error.Kind))
}

func TestExecuteCachesSubprocessPathResult(t *testing.T) {
	e := newTestExecutor(t)
	e.cfg.IsolateForBasicRun = false
	e.interpreter = fakeInterpreterScript(t)

	req := Request{Code: "1 + 1", PermissionSet: config.PermissionMinimal}

	first := e.Execute(context.Background(), req)
	require.True(t, first.Success)

	second := e.Execute(context.Background(), req)
	require.True(t, second.Success)
	assert.Equal(t, first.Value, second.Value)
}

func TestLearningHandOffPersistsCapabilityAfterEligibleRun(t *testing.T) {
	e := newTestExecutor(t)

	result := e.Execute(context.Background(), Request{
		Code:    "x + y",
		Context: map[string]interface{}{"x": 1, "y": 2},
		Intent:  "math:add",
	})
	require.True(t, result.Success)

	_, ok := e.Registry.ResolveByName("local", "default", "math:add")
	assert.True(t, ok)
}

func TestExecuteRecordsMetricsWhenWired(t *testing.T) {
	dataDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir

	mm := observability.NewMetricsManager(nil)
	e, err := New(cfg, nil, WithMetrics(mm))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	result := e.Execute(context.Background(), Request{Code: "1 + 1"})
	require.True(t, result.Success)

	families, err := mm.Registry().Gather()
	require.NoError(t, err)
	assert.Equal(t, float64(1), counterFamilyTotal(families, "sandboxrt_executions_total"))
}

// counterFamilyTotal sums every metric's counter value across all label
// combinations for the named family, mirroring how a scraper would read it.
func counterFamilyTotal(families []*dto.MetricFamily, name string) float64 {
	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// fakeInterpreterScript writes a trivial shell script that mimics the
// sentinel-line protocol subprocrunner.Runner expects, standing in for a
// real Node/Deno binary in tests that only need the subprocess path
// exercised end-to-end without a real external interpreter dependency.
func fakeInterpreterScript(t *testing.T) string {
	t.Helper()
	path := t.TempDir() + "/fake-interpreter.sh"
	script := "#!/bin/sh\necho '__SANDBOX_RESULT__:{\"ok\":true,\"value\":2}'\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}
