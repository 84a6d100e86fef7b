package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/swaplab/swapd/internal/config"
	"github.com/swaplab/swapd/internal/output"
)

func addConfigCommands(parent *cobra.Command) {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write swapd configuration",
	}

	getCmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Print one config value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetConfigDir(ConfigDir)
			v, err := config.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set one config value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetConfigDir(ConfigDir)
			return config.Set(args[0], args[1])
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetConfigDir(ConfigDir)
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.PrintJSON(cmd.OutOrStdout(), cfg)
			}
			keys := config.Keys()
			sort.Strings(keys)
			for _, k := range keys {
				v, err := cfg.Field(k)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", k, v)
			}
			return nil
		},
	}

	configCmd.AddCommand(getCmd, setCmd, listCmd)
	parent.AddCommand(configCmd)
}
