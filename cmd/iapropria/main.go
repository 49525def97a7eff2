// Package main implements the iapropria command: the HTTP server plus
// direct document and settings operations against the configured vector
// store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	envFiles   []string
	outputJSON bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "iapropria",
		Short: "Tenant-scoped vector store access",
		Long: `iapropria serves semantic search over tenant documents stored in a
vector index, with a REST fallback when the primary transport fails.

Configuration is read from ~/.config/iapropria/config.yaml (or --config)
and IAPROPRIA_* environment variables. Runtime overrides such as the vector
store API key live in the settings file and can be changed with
"iapropria settings set".`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.config/iapropria/config.yaml)")
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading the environment")
	root.PersistentFlags().BoolVar(&outputJSON, "json", false, "print results as JSON")

	root.AddCommand(
		newServeCmd(),
		newQueryCmd(),
		newUpsertCmd(),
		newDeleteCmd(),
		newStatusCmd(),
		newSettingsCmd(),
	)
	return root
}
