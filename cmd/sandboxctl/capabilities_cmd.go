package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smart-mcp-proxy/sandboxrt/internal/capability"
	"github.com/smart-mcp-proxy/sandboxrt/internal/cliout"
	"github.com/smart-mcp-proxy/sandboxrt/internal/config"
	"github.com/smart-mcp-proxy/sandboxrt/internal/logs"
)

var (
	whoisOrg     string
	whoisProject string
)

// GetCapabilitiesCommand returns the "capabilities" command group for
// inspecting and curating what the Learning Hand-off has persisted into
// the Capability Registry (spec §4.9), the CLI equivalent of the teacher's
// "tools list"/"tools call" command pair.
func GetCapabilitiesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "capabilities",
		Aliases: []string{"cap"},
		Short:   "Inspect and curate the capability registry",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every registered capability",
		RunE:  runCapabilitiesList,
	})

	whoisCmd := &cobra.Command{
		Use:   "whois <id-or-display-name>",
		Short: "Show the full record a capability id or alias resolves to",
		Args:  cobra.ExactArgs(1),
		RunE:  runCapabilitiesWhois,
	}
	whoisCmd.Flags().StringVar(&whoisOrg, "org", "", "Org scope for display-name resolution (required with --project)")
	whoisCmd.Flags().StringVar(&whoisProject, "project", "", "Project scope for display-name resolution (required with --org)")
	cmd.AddCommand(whoisCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <old-id> <new-id>",
		Short: "Repoint every alias targeting old-id at new-id",
		Args:  cobra.ExactArgs(2),
		RunE:  runCapabilitiesRename,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "merge <source-id> <target-id>",
		Short: "Fold source-id's capability into target-id and delete source-id",
		Args:  cobra.ExactArgs(2),
		RunE:  runCapabilitiesMerge,
	})

	return cmd
}

// withRegistry loads config, sets up the command logger and opens the
// registry database, running fn with it and closing everything up
// afterward regardless of fn's outcome. Shared by every "capabilities"
// subcommand to avoid repeating the open/close boilerplate four times.
func withRegistry(fn func(*capability.Registry) error) error {
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

	db, registry, err := openRegistry(cfg, logger)
	if err != nil {
		return newExitError(ExitCodeConfigError, "%v", err)
	}
	defer db.Close()

	return fn(registry)
}

func printFormatted(v interface{}) error {
	formatter, err := cliout.New(outputFormat)
	if err != nil {
		return newExitError(ExitCodeUsageError, "%v", err)
	}
	encoded, err := formatter.Format(v)
	if err != nil {
		return newExitError(ExitCodeGeneralError, "formatting output: %v", err)
	}
	fmt.Println(encoded)
	return nil
}

func runCapabilitiesList(_ *cobra.Command, _ []string) error {
	return withRegistry(func(registry *capability.Registry) error {
		records, err := registry.List()
		if err != nil {
			return newExitError(ExitCodeGeneralError, "%v", err)
		}
		return printFormatted(records)
	})
}

func runCapabilitiesWhois(_ *cobra.Command, args []string) error {
	target := args[0]
	return withRegistry(func(registry *capability.Registry) error {
		var record capability.Record
		var ok bool
		if whoisOrg != "" || whoisProject != "" {
			if whoisOrg == "" || whoisProject == "" {
				return newExitError(ExitCodeUsageError, "--org and --project must be given together")
			}
			record, ok = registry.GetByName(whoisOrg, whoisProject, target)
		} else {
			record, ok = registry.GetByID(target)
		}
		if !ok {
			return newExitError(ExitCodeGeneralError, "capability not found: %s", target)
		}
		return printFormatted(record)
	})
}

func runCapabilitiesRename(_ *cobra.Command, args []string) error {
	oldID, newID := args[0], args[1]
	return withRegistry(func(registry *capability.Registry) error {
		if _, ok := registry.GetByID(oldID); !ok {
			return newExitError(ExitCodeGeneralError, "capability not found: %s", oldID)
		}
		if err := registry.Rename(oldID, newID); err != nil {
			return newExitError(ExitCodeGeneralError, "renaming %s to %s: %v", oldID, newID, err)
		}
		fmt.Printf("renamed %s to %s\n", oldID, newID)
		return nil
	})
}

func runCapabilitiesMerge(_ *cobra.Command, args []string) error {
	sourceID, targetID := args[0], args[1]
	return withRegistry(func(registry *capability.Registry) error {
		if err := registry.Merge(sourceID, targetID); err != nil {
			return newExitError(ExitCodeGeneralError, "merging %s into %s: %v", sourceID, targetID, err)
		}
		fmt.Printf("merged %s into %s\n", sourceID, targetID)
		return nil
	})
}
