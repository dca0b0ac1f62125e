package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-mcp-proxy/sandboxrt/internal/capability"
	"github.com/smart-mcp-proxy/sandboxrt/internal/isolate"
	"github.com/smart-mcp-proxy/sandboxrt/internal/trace"
)

type stubStore struct {
	registered bool
	org, project, namespace, action, displayName, code string
}

func (s *stubStore) Register(org, project, namespace, action, displayName, code string, _ []isolate.ToolDefinition) (capability.Record, error) {
	s.registered = true
	s.org, s.project, s.namespace, s.action, s.displayName, s.code = org, project, namespace, action, displayName, code
	return capability.Record{ID: "cap-1"}, nil
}

type stubGraph struct {
	calls []TraceProjection
}

func (g *stubGraph) RecordTrace(_ context.Context, projection TraceProjection) error {
	g.calls = append(g.calls, projection)
	return nil
}

func buffWithEvents(n int) *trace.Buffer {
	b := trace.NewBuffer()
	for i := 0; i < n; i++ {
		start := trace.NewToolStart("t1", "", "weather.forecast", nil)
		b.Push(start)
	}
	return b
}

func TestRunSkipsWithoutIntent(t *testing.T) {
	store := &stubStore{}
	h := New(store, nil, nil)

	h.Run(context.Background(), Request{Org: "acme", Project: "proj1", Code: "1+1"}, true, trace.NewBuffer())

	assert.False(t, store.registered)
}

func TestRunSkipsWhenExecutionFailed(t *testing.T) {
	store := &stubStore{}
	h := New(store, nil, nil)

	h.Run(context.Background(), Request{Org: "acme", Project: "proj1", Code: "1+1", Intent: "math:add"}, false, trace.NewBuffer())

	assert.False(t, store.registered)
}

func TestRunSkipsWhenAToolFailed(t *testing.T) {
	store := &stubStore{}
	h := New(store, nil, nil)

	b := trace.NewBuffer()
	start := trace.NewToolStart("t1", "", "weather.forecast", nil)
	b.Push(start)
	b.Push(trace.NewToolEnd(start, nil, false, "boom"))

	h.Run(context.Background(), Request{Org: "acme", Project: "proj1", Code: "1+1", Intent: "math:add"}, true, b)

	assert.False(t, store.registered)
}

func TestRunPersistsEligibleCapabilityWithReconstitutedSnippet(t *testing.T) {
	store := &stubStore{}
	h := New(store, nil, nil)

	req := Request{
		Org: "acme", Project: "proj1",
		Code:    "x + y",
		Context: map[string]interface{}{"x": 1, "y": 2, "deps": []string{"ignored"}},
		Intent:  "math:add",
	}

	h.Run(context.Background(), req, true, trace.NewBuffer())

	require.True(t, store.registered)
	assert.Equal(t, "math", store.namespace)
	assert.Equal(t, "add", store.action)
	assert.Equal(t, "math:add", store.displayName)
	assert.Contains(t, store.code, "const x = 1;")
	assert.Contains(t, store.code, "const y = 2;")
	assert.NotContains(t, store.code, "deps")
}

func TestRunForwardsTraceWhenGraphConfiguredAndEnoughEvents(t *testing.T) {
	graph := &stubGraph{}
	h := New(nil, graph, nil)

	req := Request{Org: "acme", Project: "proj1", Code: "1+1", Intent: "math:add", UserID: "u1"}

	h.Run(context.Background(), req, true, buffWithEvents(2))

	require.Len(t, graph.calls, 1)
	assert.Equal(t, "u1", graph.calls[0].UserID)
}

func TestRunSkipsGraphForwardWhenFewerThanTwoEvents(t *testing.T) {
	graph := &stubGraph{}
	h := New(nil, graph, nil)

	req := Request{Org: "acme", Project: "proj1", Code: "1+1", Intent: "math:add"}

	h.Run(context.Background(), req, true, buffWithEvents(1))

	assert.Empty(t, graph.calls)
}

func TestSplitIntentFallsBackToLearnedNamespace(t *testing.T) {
	ns, action := splitIntent("summarize a document")
	assert.Equal(t, "learned", ns)
	assert.Equal(t, "summarize_a_document", action)
}

func TestSplitIntentUsesNamespaceActionForm(t *testing.T) {
	ns, action := splitIntent("Weather:Forecast")
	assert.Equal(t, "weather", ns)
	assert.Equal(t, "forecast", action)
}
