package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iapropria/iapropria/internal/config"
	"github.com/iapropria/iapropria/internal/settings"
)

type settingAlias struct {
	get func(*settings.Store) (string, bool)
	set func(*settings.Store, string) error
	// secret values are masked when printed.
	secret bool
}

// settingAliases maps the names accepted by "settings get/set" to the
// accessors of the settings store.
var settingAliases = map[string]settingAlias{
	"api-key": {
		get:    func(s *settings.Store) (string, bool) { return s.APIKey(settings.ProviderVectorStore) },
		set:    func(s *settings.Store, v string) error { return s.SetAPIKey(settings.ProviderVectorStore, v) },
		secret: true,
	},
	"index": {
		get: (*settings.Store).VectorIndex,
		set: (*settings.Store).SetVectorIndex,
	},
	"db": {
		get:    (*settings.Store).DBOverride,
		set:    (*settings.Store).SetDBOverride,
		secret: true,
	},
	"session-user": {
		get: (*settings.Store).SessionUser,
		set: (*settings.Store).SetSessionUser,
	},
}

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and change runtime settings",
		Long: `Read and change the runtime settings file. Changes are picked up by a
running server without a restart.

Keys: api-key, index, db, session-user.`,
	}
	cmd.AddCommand(
		newSettingsListCmd(),
		newSettingsGetCmd(),
		newSettingsSetCmd(),
		newSettingsFiltersCmd(),
		newSettingsModelCmd(),
	)
	return cmd
}

func newSettingsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openSettings()
			if err != nil {
				return err
			}
			keys := store.Keys()
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), keys)
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

func newSettingsGetCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:       "get <key>",
		Short:     "Print a setting",
		Args:      cobra.ExactArgs(1),
		ValidArgs: aliasNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias, err := lookupAlias(args[0])
			if err != nil {
				return err
			}
			store, err := openSettings()
			if err != nil {
				return err
			}
			v, ok := alias.get(store)
			if !ok {
				return fmt.Errorf("%s is not set", args[0])
			}
			if alias.secret && !reveal {
				v = config.Secret(v).String()
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print secret values unmasked")
	return cmd
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> [value]",
		Short: "Change a setting; an omitted value clears it",
		Long: `Change a setting; an omitted value clears it.

Examples:
  iapropria settings set api-key pc-xxxxxxxx
  iapropria settings set index iapropria-prod
  iapropria settings set db`,
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: aliasNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias, err := lookupAlias(args[0])
			if err != nil {
				return err
			}
			store, err := openSettings()
			if err != nil {
				return err
			}
			value := ""
			if len(args) == 2 {
				value = args[1]
			}
			if err := alias.set(store, value); err != nil {
				return err
			}
			if value == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", args[0])
			}
			return nil
		},
	}
}

func newSettingsFiltersCmd() *cobra.Command {
	var (
		set    []string
		remove bool
	)
	cmd := &cobra.Command{
		Use:   "filters <user>",
		Short: "Show or replace a user's saved search filter",
		Long: `Show or replace a user's saved search filter. The saved filter applies
to searches that do not send one.

Examples:
  iapropria settings filters acme
  iapropria settings filters acme --set category=invoice,receipt --set year=2024
  iapropria settings filters acme --clear`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSettings()
			if err != nil {
				return err
			}
			user := args[0]
			switch {
			case remove:
				return store.SetUserFilters(user, nil)
			case len(set) > 0:
				filter, err := parseFilter(set)
				if err != nil {
					return err
				}
				return store.SetUserFilters(user, filter)
			}

			filters, _, err := store.UserFilters(user)
			if err != nil {
				return err
			}
			if outputJSON {
				if filters == nil {
					filters = map[string][]string{}
				}
				return writeJSON(cmd.OutOrStdout(), filters)
			}
			printFilters(cmd.OutOrStdout(), filters)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&set, "set", nil, "filter key=v1,v2 (repeatable)")
	cmd.Flags().BoolVar(&remove, "clear", false, "remove the saved filter")
	cmd.MarkFlagsMutuallyExclusive("set", "clear")
	return cmd
}

func newSettingsModelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "model <user> [model]",
		Short: "Show or change a user's preferred model",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSettings()
			if err != nil {
				return err
			}
			if len(args) == 2 {
				return store.SetUserModel(args[0], args[1])
			}
			model, ok := store.UserModel(args[0])
			if !ok {
				return fmt.Errorf("no model set for %s", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), model)
			return nil
		},
	}
}

// openSettings opens only the settings file; none of the settings commands
// need the vector store.
func openSettings() (*settings.Store, error) {
	cfg, err := config.LoadWithFile(configPath, envFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	path, err := config.ExpandHome(cfg.Settings.Path)
	if err != nil {
		return nil, err
	}
	return settings.Open(path, nil)
}

func lookupAlias(name string) (settingAlias, error) {
	alias, ok := settingAliases[name]
	if !ok {
		return settingAlias{}, fmt.Errorf("unknown setting %q (want one of %s)", name, strings.Join(aliasNames(), ", "))
	}
	return alias, nil
}

func aliasNames() []string {
	names := make([]string, 0, len(settingAliases))
	for k := range settingAliases {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func printFilters(w io.Writer, filters map[string][]string) {
	if len(filters) == 0 {
		fmt.Fprintln(w, "no saved filter")
		return
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s=%s\n", k, strings.Join(filters[k], ","))
	}
}
