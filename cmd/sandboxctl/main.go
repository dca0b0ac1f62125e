// Command sandboxctl is the CLI entry point for the sandboxed
// code-execution runtime: it wires the Executor Facade up to a terminal,
// grounded on the teacher's cmd/mcpproxy root-command-plus-subcommands
// idiom (cobra, persistent --config/--data-dir/--log-level flags, a
// dedicated exit-code table per failure class).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile   string
	dataDir      string
	logLevel     string
	logToFile    bool
	logDir       string
	outputFormat string

	version = "v0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "sandboxctl",
		Short:   "Sandboxed code-execution runtime control CLI",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path (TOML)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory for the capability registry and result cache")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Enable logging to file alongside the console")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json", "Output format: json, yaml")

	rootCmd.AddCommand(GetRunCommand())
	rootCmd.AddCommand(GetCapabilitiesCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(classifyError(err))
	}
}

func classifyError(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	if ec, ok := err.(exitCodeError); ok {
		return ec.code
	}
	return ExitCodeGeneralError
}

// exitCodeError carries a specific exit code through cobra's RunE return
// path without cobra itself printing the generic "Error: %v" wrapper twice.
type exitCodeError struct {
	code int
	msg  string
}

func (e exitCodeError) Error() string { return e.msg }

func newExitError(code int, format string, args ...interface{}) error {
	return exitCodeError{code: code, msg: fmt.Sprintf(format, args...)}
}
