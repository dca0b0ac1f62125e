// Package trace implements the execution trace model: start/end event
// pairs for tool and capability calls, a safe JSON serializer that never
// panics or throws, and the chronological/derived views the learning
// hand-off and executor facade read back.
package trace

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smart-mcp-proxy/sandboxrt/internal/truncate"
)

// Kind distinguishes the two halves of a start/end pair.
type Kind string

const (
	KindStart Kind = "start"
	KindEnd   Kind = "end"
)

// EventType discriminates the union described in spec §3: ToolTraceEvent vs
// CapabilityTraceEvent. Go has no sum types, so the two shapes are folded
// into one struct with type-specific fields left zero-valued for the other.
type EventType string

const (
	EventTool       EventType = "tool"
	EventCapability EventType = "capability"
)

// Event is a single trace record. Only the fields relevant to Type/Kind are
// populated; see NewToolStart/NewCapabilityStart and their *End counterparts.
type Event struct {
	Type          EventType   `json:"type"`
	Kind          Kind        `json:"kind"`
	TraceID       string      `json:"traceId"`
	ParentTraceID string      `json:"parentTraceId,omitempty"`
	ToolID        string      `json:"toolId,omitempty"`
	Capability    string      `json:"capability,omitempty"`
	CapabilityID  string      `json:"capabilityId,omitempty"`
	Ts            time.Time   `json:"ts"`
	Args          interface{} `json:"args,omitempty"`
	Result        interface{} `json:"result,omitempty"`
	Success       *bool       `json:"success,omitempty"`
	DurationMs    *int64      `json:"durationMs,omitempty"`
	Error         string      `json:"error,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// NewToolStart builds a tool_start event.
func NewToolStart(traceID, parentTraceID, toolID string, args interface{}) Event {
	return Event{
		Type:          EventTool,
		Kind:          KindStart,
		TraceID:       traceID,
		ParentTraceID: parentTraceID,
		ToolID:        toolID,
		Ts:            time.Now(),
		Args:          SafeSerialize(args),
	}
}

// NewToolEnd builds a tool_end event paired to start by TraceID. durationMs
// is computed by the caller from the monotonic span between start.Ts and now
// (time.Time retains a monotonic reading across Sub, so this stays correct
// even across wall-clock adjustments).
func NewToolEnd(start Event, result interface{}, success bool, callErr string) Event {
	now := time.Now()
	d := now.Sub(start.Ts).Milliseconds()
	return Event{
		Type:          EventTool,
		Kind:          KindEnd,
		TraceID:       start.TraceID,
		ParentTraceID: start.ParentTraceID,
		ToolID:        start.ToolID,
		Ts:            now,
		Result:        SafeSerialize(result),
		Success:       boolPtr(success),
		DurationMs:    &d,
		Error:         callErr,
	}
}

// NewCapabilityStart builds a capability_start event.
func NewCapabilityStart(traceID, parentTraceID, capability, capabilityID string, args interface{}) Event {
	return Event{
		Type:          EventCapability,
		Kind:          KindStart,
		TraceID:       traceID,
		ParentTraceID: parentTraceID,
		Capability:    capability,
		CapabilityID:  capabilityID,
		Ts:            time.Now(),
		Args:          SafeSerialize(args),
	}
}

// NewCapabilityEnd builds a capability_end event paired to start by TraceID.
func NewCapabilityEnd(start Event, result interface{}, success bool, callErr string) Event {
	now := time.Now()
	d := now.Sub(start.Ts).Milliseconds()
	return Event{
		Type:          EventCapability,
		Kind:          KindEnd,
		TraceID:       start.TraceID,
		ParentTraceID: start.ParentTraceID,
		Capability:    start.Capability,
		CapabilityID:  start.CapabilityID,
		Ts:            now,
		Result:        SafeSerialize(result),
		Success:       boolPtr(success),
		DurationMs:    &d,
		Error:         callErr,
	}
}

// SafeSerialize attempts to produce a JSON-round-trippable projection of v.
// On failure — circular graphs, channels, functions, or a panic from a
// pathological cyclic structure — it falls back to a typed stub and never
// propagates an error to the caller, per §4.1.
func SafeSerialize(v interface{}) (out interface{}) {
	if v == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			out = nonSerializable(v)
		}
	}()

	data, err := json.Marshal(v)
	if err != nil {
		return nonSerializable(v)
	}

	var round interface{}
	if err := json.Unmarshal(data, &round); err != nil {
		return nonSerializable(v)
	}

	return round
}

func nonSerializable(v interface{}) map[string]interface{} {
	return map[string]interface{}{
		"__type":   "non-serializable",
		"typeof":   fmt.Sprintf("%T", v),
		"toString": truncate.String(fmt.Sprintf("%v", v), truncate.DefaultMaxLen),
	}
}

// Buffer is a mutex-guarded, append-only collector of trace events for one
// execution. It is the bridge's per-execution trace store and is also used
// to merge in a capability's dedicated broadcast-channel events (§5).
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// NewBuffer returns an empty trace buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Push appends an event to the buffer. Safe for concurrent use.
func (b *Buffer) Push(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

// Merge appends another buffer's events into this one, preserving each
// side's relative order (used when a capability's inner bridge traces are
// attached to the outer bridge's buffer via parentTraceId, per §4.7).
func (b *Buffer) Merge(other *Buffer) {
	if other == nil {
		return
	}
	other.mu.Lock()
	incoming := make([]Event, len(other.events))
	copy(incoming, other.events)
	other.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, incoming...)
}

// Traces returns a stable, chronologically sorted snapshot of every event:
// ties broken by original insertion order per §4.1.
func (b *Buffer) Traces() []Event {
	b.mu.Lock()
	snapshot := make([]Event, len(b.events))
	copy(snapshot, b.events)
	b.mu.Unlock()

	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].Ts.Before(snapshot[j].Ts)
	})
	return snapshot
}

// CheckPairing verifies that every *_end event has exactly one matching
// *_start with the same TraceID, per the §4.1/§8 invariant. Intended for use
// in tests.
func (b *Buffer) CheckPairing() error {
	traces := b.Traces()
	starts := make(map[string]int)
	ends := make(map[string]int)

	for _, e := range traces {
		switch e.Kind {
		case KindStart:
			starts[e.TraceID]++
		case KindEnd:
			ends[e.TraceID]++
		}
	}

	for id, n := range starts {
		if ends[id] != n {
			return fmt.Errorf("trace %s: %d start(s), %d end(s)", id, n, ends[id])
		}
	}
	for id, n := range ends {
		if starts[id] != n {
			return fmt.Errorf("trace %s: %d end(s), %d start(s)", id, n, starts[id])
		}
	}
	return nil
}

// ToolInvocation is the post-execution view derived by pairing tool_end
// events, per the data model's ToolInvocation entity.
type ToolInvocation struct {
	ID            string `json:"id"`
	ToolID        string `json:"toolId"`
	TraceID       string `json:"traceId"`
	Ts            time.Time `json:"ts"`
	DurationMs    int64  `json:"durationMs"`
	Success       bool   `json:"success"`
	SequenceIndex int    `json:"sequenceIndex"`
	Error         string `json:"error,omitempty"`
}

// ToolInvocations returns one entry per tool_end event, stably sorted by ts,
// with a dense zero-based SequenceIndex and a per-tool occurrence counter
// embedded in ID ("<toolId>#<seq>"), preserving repeats and order (§3, §8.3).
func (b *Buffer) ToolInvocations() []ToolInvocation {
	occurrence := make(map[string]int)
	var out []ToolInvocation

	for i, e := range b.Traces() {
		if e.Type != EventTool || e.Kind != KindEnd {
			continue
		}
		seq := occurrence[e.ToolID]
		occurrence[e.ToolID] = seq + 1

		success := e.Success != nil && *e.Success
		var duration int64
		if e.DurationMs != nil {
			duration = *e.DurationMs
		}

		out = append(out, ToolInvocation{
			ID:            fmt.Sprintf("%s#%d", e.ToolID, seq),
			ToolID:        e.ToolID,
			TraceID:       e.TraceID,
			Ts:            e.Ts,
			DurationMs:    duration,
			Success:       success,
			SequenceIndex: len(out),
			Error:         e.Error,
		})
		_ = i
	}
	return out
}

// ToolsSequence returns the ordered sequence of tool ids from tool_end
// events, including repeats (§8.4).
func (b *Buffer) ToolsSequence() []string {
	invocations := b.ToolInvocations()
	seq := make([]string, len(invocations))
	for i, inv := range invocations {
		seq[i] = inv.ToolID
	}
	return seq
}

// ToolsCalled returns the deduplicated set of tool ids, in first-appearance
// order. Must equal uniq(ToolsSequence()) per §8.4.
func (b *Buffer) ToolsCalled() []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range b.ToolsSequence() {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// HasAnyToolFailed reports whether any tool_end event recorded success=false,
// the learning hand-off's all-or-nothing precondition (§4.10, §8.7).
func (b *Buffer) HasAnyToolFailed() bool {
	for _, e := range b.Traces() {
		if e.Type == EventTool && e.Kind == KindEnd && e.Success != nil && !*e.Success {
			return true
		}
	}
	return false
}
