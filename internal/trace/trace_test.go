package trace

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestSafeSerializeRoundTrip(t *testing.T) {
	v := map[string]interface{}{"a": 1, "b": []interface{}{"x", "y"}}
	out := SafeSerialize(v)

	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("expected serializable output, got error: %v", err)
	}

	var back interface{}
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("round-trip unmarshal failed: %v", err)
	}
}

func TestSafeSerializeNonSerializable(t *testing.T) {
	ch := make(chan int)
	out := SafeSerialize(ch)

	m, ok := out.(map[string]interface{})
	if !ok {
		t.Fatalf("expected fallback map, got %T", out)
	}
	if m["__type"] != "non-serializable" {
		t.Errorf("expected __type=non-serializable, got %v", m["__type"])
	}
	if _, ok := m["typeof"]; !ok {
		t.Errorf("expected typeof field in fallback")
	}
}

func TestSafeSerializeNil(t *testing.T) {
	if out := SafeSerialize(nil); out != nil {
		t.Errorf("expected nil for nil input, got %v", out)
	}
}

func TestBufferPairing(t *testing.T) {
	b := NewBuffer()
	start := NewToolStart("t1", "", "filesystem:readFile", map[string]interface{}{"path": "/tmp/x"})
	b.Push(start)
	b.Push(NewToolEnd(start, "hi", true, ""))

	if err := b.CheckPairing(); err != nil {
		t.Errorf("expected balanced pairing, got error: %v", err)
	}
}

func TestBufferUnpairedStart(t *testing.T) {
	b := NewBuffer()
	b.Push(NewToolStart("t1", "", "filesystem:readFile", nil))

	if err := b.CheckPairing(); err == nil {
		t.Errorf("expected pairing error for unmatched start")
	}
}

func TestToolInvocationsSequenceAndDedup(t *testing.T) {
	b := NewBuffer()

	s1 := NewToolStart("t1", "", "filesystem:readFile", nil)
	b.Push(s1)
	b.Push(NewToolEnd(s1, "a", true, ""))

	s2 := NewToolStart("t2", "", "filesystem:readFile", nil)
	b.Push(s2)
	b.Push(NewToolEnd(s2, "b", true, ""))

	s3 := NewToolStart("t3", "", "net:fetch", nil)
	b.Push(s3)
	b.Push(NewToolEnd(s3, "c", false, "connection refused"))

	invocations := b.ToolInvocations()
	if len(invocations) != 3 {
		t.Fatalf("expected 3 invocations, got %d", len(invocations))
	}
	if invocations[0].ID != "filesystem:readFile#0" || invocations[1].ID != "filesystem:readFile#1" {
		t.Errorf("expected per-tool occurrence counters in IDs, got %q, %q", invocations[0].ID, invocations[1].ID)
	}
	for i, inv := range invocations {
		if inv.SequenceIndex != i {
			t.Errorf("expected dense zero-based sequence index %d, got %d", i, inv.SequenceIndex)
		}
	}

	called := b.ToolsCalled()
	if len(called) != 2 {
		t.Fatalf("expected 2 unique tools, got %v", called)
	}

	if !b.HasAnyToolFailed() {
		t.Errorf("expected HasAnyToolFailed to be true after a success=false tool_end")
	}
}

// TestToolInvocationsMatchesExpectedShape pins down the exact
// ToolInvocation rows the learning hand-off reconstitutes a capability
// from, aside from the wall-clock timestamp, via a deep-equality diff
// rather than field-by-field assertions.
func TestToolInvocationsMatchesExpectedShape(t *testing.T) {
	b := NewBuffer()

	s1 := NewToolStart("t1", "parent-1", "filesystem:readFile", map[string]interface{}{"path": "/tmp/a"})
	b.Push(s1)
	b.Push(NewToolEnd(s1, "contents", true, ""))

	s2 := NewToolStart("t2", "parent-1", "net:fetch", nil)
	b.Push(s2)
	b.Push(NewToolEnd(s2, nil, false, "connection refused"))

	got := b.ToolInvocations()
	want := []ToolInvocation{
		{ID: "filesystem:readFile#0", ToolID: "filesystem:readFile", TraceID: "t1", Success: true, SequenceIndex: 0},
		{ID: "net:fetch#0", ToolID: "net:fetch", TraceID: "t2", Success: false, SequenceIndex: 1, Error: "connection refused"},
	}

	diff := cmp.Diff(want, got, cmpopts.IgnoreFields(ToolInvocation{}, "Ts", "DurationMs"))
	if diff != "" {
		t.Errorf("ToolInvocations() mismatch (-want +got):\n%s", diff)
	}
}

func TestBufferMerge(t *testing.T) {
	outer := NewBuffer()
	inner := NewBuffer()

	s := NewToolStart("inner-1", "outer-1", "filesystem:readFile", nil)
	inner.Push(s)
	inner.Push(NewToolEnd(s, "ok", true, ""))

	outer.Merge(inner)

	if len(outer.Traces()) != 2 {
		t.Fatalf("expected merged buffer to contain 2 events, got %d", len(outer.Traces()))
	}
}
