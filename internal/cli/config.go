package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func (a *App) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage queue configuration",
	}

	getCmd := &cobra.Command{
		Use:   "get [key]",
		Short: "Show configuration values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				key := args[0]
				value, ok, err := a.queue.GetConfigValue(cmd.Context(), key)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("configuration key not found: %s", key)
				}
				fmt.Printf("%s = %s\n", key, value)
				return nil
			}

			values, err := a.queue.AllConfig(cmd.Context())
			if err != nil {
				return err
			}
			for _, key := range sortedKeys(values) {
				fmt.Printf("%s = %s\n", key, values[key])
			}
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value (max-retries, backoff-base, workers)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.queue.SetConfig(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Configuration updated: %s = %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.AddCommand(getCmd, setCmd)
	return cmd
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
