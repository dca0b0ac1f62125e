// Package mcpclient implements bridge.ToolClient over a real MCP server
// reached via stdio, so ExecuteWithTools can dispatch to an external
// process rather than only to capabilities and pseudo-tools.
//
// Grounded on internal/upstream/client.go's stdio connect/Initialize/
// ListTools/CallTool sequence, trimmed to this module's single-server,
// no-OAuth, no-reconnect-retry need: the executor facade owns one Client
// per external server for the lifetime of the process, not a managed pool
// of upstreams with health tracking.
package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/sandboxrt/internal/isolate"
)

// Client is a single stdio-connected MCP server, callable as a
// bridge.ToolClient and introspectable for its ToolDefinitions.
type Client struct {
	name string

	mu        sync.RWMutex
	mcp       *client.Client
	connected bool

	schemas map[string]*jsonschema.Schema

	logger *zap.Logger
}

// New spawns command (with args) over stdio and speaks MCP to it. name
// identifies this server in every ToolDefinition/trace the executor
// produces; it need not match the spawned binary.
func New(name, command string, args, env []string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	stdioTransport := transport.NewStdio(command, env, args...)
	c := &Client{
		name:    name,
		mcp:     client.NewClient(stdioTransport),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger,
	}
	return c, nil
}

// Connect starts the subprocess and performs the MCP initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.mcp.Start(ctx); err != nil {
		return fmt.Errorf("mcpclient %s: starting transport: %w", c.name, err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{Name: "sandboxrt", Version: "1.0.0"}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	if _, err := c.mcp.Initialize(ctx, initRequest); err != nil {
		return fmt.Errorf("mcpclient %s: initializing: %w", c.name, err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Close terminates the subprocess.
func (c *Client) Close() error {
	return c.mcp.Close()
}

// ToolDefinitions lists the server's tools, shaped for isolate.InitMessage.
// Each tool's InputSchema is also compiled with jsonschema so CallTool can
// validate arguments locally before round-tripping to the subprocess.
func (c *Client) ToolDefinitions(ctx context.Context) ([]isolate.ToolDefinition, error) {
	res, err := c.mcp.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcpclient %s: listing tools: %w", c.name, err)
	}

	defs := make([]isolate.ToolDefinition, 0, len(res.Tools))
	for _, t := range res.Tools {
		schemaMap := toolInputSchemaMap(t)
		if compiled, err := compileSchema(t.Name, schemaMap); err == nil {
			c.mu.Lock()
			c.schemas[t.Name] = compiled
			c.mu.Unlock()
		} else {
			c.logger.Debug("tool input schema did not compile, skipping local validation",
				zap.String("server", c.name), zap.String("tool", t.Name), zap.Error(err))
		}
		defs = append(defs, isolate.ToolDefinition{
			Server:      c.name,
			Tool:        t.Name,
			Description: t.Description,
			InputSchema: schemaMap,
		})
	}
	return defs, nil
}

// CallTool implements bridge.ToolClient. server is expected to equal
// c.name; tool must have been present in ToolDefinitions' last result for
// local schema validation to apply (its absence is not itself an error —
// servers may add tools between calls).
func (c *Client) CallTool(ctx context.Context, server, tool string, args map[string]interface{}) (interface{}, error) {
	c.mu.RLock()
	connected := c.connected
	schema := c.schemas[tool]
	c.mu.RUnlock()

	if !connected {
		return nil, fmt.Errorf("mcpclient %s: not connected", c.name)
	}
	if server != c.name {
		return nil, fmt.Errorf("mcpclient %s: unknown server %q", c.name, server)
	}
	if schema != nil {
		if err := schema.Validate(toRawArgs(args)); err != nil {
			return nil, fmt.Errorf("mcpclient %s: arguments for %s failed schema validation: %w", c.name, tool, err)
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	result, err := c.mcp.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcpclient %s: calling %s: %w", c.name, tool, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("mcpclient %s: tool %s reported an error result", c.name, tool)
	}
	if len(result.Content) > 0 {
		return result.Content, nil
	}
	return result, nil
}

func toolInputSchemaMap(t mcp.Tool) map[string]interface{} {
	data, err := t.InputSchema.MarshalJSON()
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// compileSchema re-marshals schemaMap and compiles it as an in-memory
// jsonschema resource, keyed under a synthetic mem:// URL per tool name so
// compiling many tools' schemas on the same Compiler can't collide.
func compileSchema(name string, schemaMap map[string]interface{}) (*jsonschema.Schema, error) {
	if len(schemaMap) == 0 {
		return nil, fmt.Errorf("empty schema")
	}
	data, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, err
	}
	res, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := "mem://" + name + ".json"
	if err := compiler.AddResource(url, res); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

func toRawArgs(args map[string]interface{}) interface{} {
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}
