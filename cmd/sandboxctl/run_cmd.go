package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/sandboxrt/internal/cliout"
	"github.com/smart-mcp-proxy/sandboxrt/internal/config"
	"github.com/smart-mcp-proxy/sandboxrt/internal/executor"
	"github.com/smart-mcp-proxy/sandboxrt/internal/logs"
	"github.com/smart-mcp-proxy/sandboxrt/internal/mcpclient"
)

var (
	runCode          string
	runFile          string
	runContext       string
	runContextFile   string
	runPermissionSet string
	runTimeoutMs     int
	runMemoryLimitMb int
	runIntent        string
	runParentTraceID string

	runMCPServerName    string
	runMCPServerCommand string
	runMCPServerArgs    string
)

// GetRunCommand returns the "run" subcommand, sandboxctl's equivalent of
// the teacher's "code exec": execute one snippet through the Executor
// Facade and print its ExecutionResult as JSON.
func GetRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a code snippet through the sandbox",
		Long: `Execute JavaScript/TypeScript source through the Executor Facade.

The code runs with the given permission set (minimal by default) and may
reference --context entries as top-level constants.

Exit codes:
  0 - Execution succeeded
  2 - Execution failed (syntax error, runtime error, timeout, security
      rejection, resource limit, ...)
  3 - Configuration error
  4 - Invalid command-line arguments`,
		Example: `  # Evaluate a pure expression
  sandboxctl run --code="21 * 2"

  # Pass context values in as scoped constants
  sandboxctl run --code="a + b" --context='{"a":10,"b":32}'

  # Run from a file with a named intent, enabling learning hand-off
  sandboxctl run --file=script.js --intent="math:add"`,
		RunE: runRunCmd,
	}

	cmd.Flags().StringVar(&runCode, "code", "", "Source to execute (required if --file is not provided)")
	cmd.Flags().StringVar(&runFile, "file", "", "Path to a source file to execute")
	cmd.Flags().StringVar(&runContext, "context", "{}", "Context values as a JSON object, injected as scoped constants")
	cmd.Flags().StringVar(&runContextFile, "context-file", "", "Path to a JSON file of context values")
	cmd.Flags().StringVar(&runPermissionSet, "permission-set", string(config.PermissionMinimal),
		"Permission set: minimal, readonly, filesystem, network-api, mcp-standard")
	cmd.Flags().IntVar(&runTimeoutMs, "timeout-ms", 0, "Execution timeout in milliseconds (0 = configured default)")
	cmd.Flags().IntVar(&runMemoryLimitMb, "memory-limit-mb", 0, "Memory limit in MB (0 = configured default)")
	cmd.Flags().StringVar(&runIntent, "intent", "", "Intent string; non-empty enables the learning hand-off on success")
	cmd.Flags().StringVar(&runParentTraceID, "parent-trace-id", "", "Parent trace id to attribute this run's trace events to (default: freshly generated)")

	cmd.Flags().StringVar(&runMCPServerName, "mcp-server-name", "tools", "Name the external MCP server's tools are exposed under")
	cmd.Flags().StringVar(&runMCPServerCommand, "mcp-server-command", "", "Command to spawn an external MCP server over stdio; enables ExecuteWithTools")
	cmd.Flags().StringVar(&runMCPServerArgs, "mcp-server-args", "", "Space-separated arguments passed to --mcp-server-command")

	return cmd
}

func runRunCmd(cmd *cobra.Command, _ []string) error {
	code, err := loadRunSource()
	if err != nil {
		return newExitError(ExitCodeUsageError, "%v", err)
	}

	runCtx, err := loadRunContext()
	if err != nil {
		return newExitError(ExitCodeUsageError, "%v", err)
	}

	permSet := config.PermissionSet(runPermissionSet)
	if !config.IsValidPermissionSet(permSet) {
		return newExitError(ExitCodeUsageError, "invalid --permission-set %q", runPermissionSet)
	}

	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		return newExitError(ExitCodeConfigError, "%v", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	logger, err := logs.SetupCommandLogger(false, logLevel, logToFile, logDir)
	if err != nil {
		return newExitError(ExitCodeConfigError, "failed to set up logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	exec, err := executor.New(cfg, logger)
	if err != nil {
		return newExitError(ExitCodeConfigError, "failed to construct executor: %v", err)
	}
	defer func() {
		if closeErr := exec.Close(); closeErr != nil {
			logger.Warn("error closing executor", zap.Error(closeErr))
		}
	}()

	parentTraceID := runParentTraceID
	if parentTraceID == "" {
		parentTraceID = ulid.Make().String()
	}

	req := executor.Request{
		Code:          code,
		Context:       runCtx,
		PermissionSet: permSet,
		TimeoutMs:     runTimeoutMs,
		MemoryLimitMb: runMemoryLimitMb,
		Intent:        runIntent,
		ParentTraceID: parentTraceID,
	}

	if runMCPServerCommand == "" {
		return printRunResult(exec.Execute(cmd.Context(), req))
	}

	mcpClient, err := mcpclient.New(runMCPServerName, runMCPServerCommand, strings.Fields(runMCPServerArgs), nil, logger)
	if err != nil {
		return newExitError(ExitCodeConfigError, "failed to construct MCP client: %v", err)
	}
	if err := mcpClient.Connect(cmd.Context()); err != nil {
		return newExitError(ExitCodeConfigError, "failed to connect to MCP server %q: %v", runMCPServerName, err)
	}
	defer func() {
		if closeErr := mcpClient.Close(); closeErr != nil {
			logger.Warn("error closing MCP client", zap.Error(closeErr))
		}
	}()

	toolDefs, err := mcpClient.ToolDefinitions(cmd.Context())
	if err != nil {
		return newExitError(ExitCodeConfigError, "failed to list tools from MCP server %q: %v", runMCPServerName, err)
	}

	req.ToolDefinitions = toolDefs
	req.Client = mcpClient

	return printRunResult(exec.ExecuteWithTools(cmd.Context(), req))
}

func loadRunSource() (string, error) {
	if runCode == "" && runFile == "" {
		return "", fmt.Errorf("either --code or --file must be provided")
	}
	if runCode != "" && runFile != "" {
		return "", fmt.Errorf("--code and --file are mutually exclusive")
	}
	if runFile != "" {
		data, err := os.ReadFile(runFile)
		if err != nil {
			return "", fmt.Errorf("reading --file: %w", err)
		}
		return string(data), nil
	}
	return runCode, nil
}

func loadRunContext() (map[string]interface{}, error) {
	var raw []byte
	var err error
	if runContextFile != "" {
		raw, err = os.ReadFile(runContextFile)
		if err != nil {
			return nil, fmt.Errorf("reading --context-file: %w", err)
		}
	} else {
		raw = []byte(runContext)
	}

	var ctx map[string]interface{}
	if err := json.Unmarshal(raw, &ctx); err != nil {
		return nil, fmt.Errorf("parsing context JSON: %w", err)
	}
	return ctx, nil
}

// runOutput is the CLI-facing projection of executor.Result: the same
// shape a caller embedding this module directly would serialize.
type runOutput struct {
	OK              bool        `json:"ok" yaml:"ok"`
	Value           interface{} `json:"value,omitempty" yaml:"value,omitempty"`
	Error           interface{} `json:"error,omitempty" yaml:"error,omitempty"`
	ExecutionTimeMs int64       `json:"execution_time_ms" yaml:"execution_time_ms"`
	ToolsCalled     []string    `json:"tools_called,omitempty" yaml:"tools_called,omitempty"`
}

func printRunResult(result *executor.Result) error {
	out := runOutput{
		OK:              result.Success,
		Value:           result.Value,
		ExecutionTimeMs: result.ExecutionTimeMs,
		ToolsCalled:     result.ToolsCalled(),
	}
	if result.Error != nil {
		out.Error = result.Error
	}

	formatter, err := cliout.New(outputFormat)
	if err != nil {
		return newExitError(ExitCodeUsageError, "%v", err)
	}
	encoded, err := formatter.Format(out)
	if err != nil {
		return newExitError(ExitCodeGeneralError, "formatting result: %v", err)
	}
	fmt.Println(encoded)

	if !result.Success {
		return newExitError(ExitCodeExecutionFailed, "execution failed")
	}
	return nil
}
