package isolate

import (
	"context"
	"testing"
	"time"

	"github.com/smart-mcp-proxy/sandboxrt/internal/errs"
	"github.com/smart-mcp-proxy/sandboxrt/internal/trace"
)

type stubDispatcher struct {
	reply RPCResultMessage
	calls []RPCCallMessage
}

func (s *stubDispatcher) Dispatch(ctx context.Context, msg RPCCallMessage) RPCResultMessage {
	s.calls = append(s.calls, msg)
	reply := s.reply
	reply.ID = msg.ID
	return reply
}

func TestExecutePureExpressionAutoReturns(t *testing.T) {
	w := NewWorker(&stubDispatcher{}, nil)
	res := w.Execute(context.Background(), InitMessage{Code: "1 + 2"})
	if !res.Success {
		t.Fatalf("expected success, got error %+v", res.Error)
	}
	if res.Result != int64(3) && res.Result != float64(3) {
		t.Errorf("expected 3, got %v (%T)", res.Result, res.Result)
	}
}

func TestExecuteExplicitReturnStatement(t *testing.T) {
	w := NewWorker(&stubDispatcher{}, nil)
	res := w.Execute(context.Background(), InitMessage{Code: "let x = 2; return x * 5;"})
	if !res.Success {
		t.Fatalf("expected success, got error %+v", res.Error)
	}
	if res.Result != int64(10) && res.Result != float64(10) {
		t.Errorf("expected 10, got %v", res.Result)
	}
}

func TestExecuteSyntaxError(t *testing.T) {
	w := NewWorker(&stubDispatcher{}, nil)
	res := w.Execute(context.Background(), InitMessage{Code: "let x = ;;;"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error.Kind != errs.SyntaxError {
		t.Errorf("expected SyntaxError, got %s", res.Error.Kind)
	}
}

func TestExecuteRuntimeError(t *testing.T) {
	w := NewWorker(&stubDispatcher{}, nil)
	res := w.Execute(context.Background(), InitMessage{Code: "null.foo"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error.Kind != errs.RuntimeError {
		t.Errorf("expected RuntimeError, got %s", res.Error.Kind)
	}
}

func TestExecuteDeniesForbiddenGlobal(t *testing.T) {
	w := NewWorker(&stubDispatcher{}, nil)
	res := w.Execute(context.Background(), InitMessage{Code: "require('fs')"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error.Kind != errs.PermissionError {
		t.Errorf("expected PermissionError, got %s: %s", res.Error.Kind, res.Error.Message)
	}
}

func TestExecuteContextBinding(t *testing.T) {
	w := NewWorker(&stubDispatcher{}, nil)
	res := w.Execute(context.Background(), InitMessage{
		Code:    "input_value * 2",
		Context: map[string]interface{}{"input_value": 21},
	})
	if !res.Success {
		t.Fatalf("unexpected error: %+v", res.Error)
	}
	if res.Result != int64(42) && res.Result != float64(42) {
		t.Errorf("expected 42, got %v", res.Result)
	}
}

func TestExecuteRejectsUnsafeContextKey(t *testing.T) {
	w := NewWorker(&stubDispatcher{}, nil)
	res := w.Execute(context.Background(), InitMessage{
		Code:    "1",
		Context: map[string]interface{}{"bad-key!": 1},
	})
	if res.Success || res.Error.Kind != errs.PermissionError {
		t.Fatalf("expected PermissionError for unsafe context key, got %+v", res.Error)
	}
}

func TestExecuteToolProxyDispatch(t *testing.T) {
	stub := &stubDispatcher{reply: RPCResultMessage{Success: true, Result: "pong"}}
	w := NewWorker(stub, nil)
	res := w.Execute(context.Background(), InitMessage{
		Code: "tools.echo_server.ping({hello: 'world'}).result",
		ToolDefinitions: []ToolDefinition{
			{Server: "echo_server", Tool: "ping"},
		},
	})
	if !res.Success {
		t.Fatalf("unexpected error: %+v", res.Error)
	}
	if res.Result != "pong" {
		t.Errorf("expected pong, got %v", res.Result)
	}
	if len(stub.calls) != 1 || stub.calls[0].Server != "echo_server" || stub.calls[0].Tool != "ping" {
		t.Errorf("expected one dispatched call to echo_server.ping, got %+v", stub.calls)
	}
}

func TestExecuteTimeout(t *testing.T) {
	w := NewWorker(&stubDispatcher{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := w.Execute(ctx, InitMessage{Code: "while (true) {}"})
	if res.Success || res.Error.Kind != errs.TimeoutError {
		t.Fatalf("expected TimeoutError, got %+v", res.Error)
	}
}

func TestExecuteCapabilityContextEmitsTraceEvents(t *testing.T) {
	var buf trace.Buffer
	w := NewWorker(&stubDispatcher{}, func(e trace.Event) { buf.Push(e) })

	res := w.Execute(context.Background(), InitMessage{
		Code:              "double(21)",
		CapabilityContext: "function double(n) { return n * 2; }",
	})
	if !res.Success {
		t.Fatalf("unexpected error: %+v", res.Error)
	}
	if res.Result != int64(42) && res.Result != float64(42) {
		t.Errorf("expected 42, got %v", res.Result)
	}

	events := buf.Traces()
	if len(events) != 2 {
		t.Fatalf("expected 2 capability trace events, got %d", len(events))
	}
	if events[0].Kind != trace.KindStart || events[1].Kind != trace.KindEnd {
		t.Errorf("expected start then end, got %+v", events)
	}
}
