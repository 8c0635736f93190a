package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/go-chronicle/internal/config"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the saved configuration",
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Save settings to the config file",
		Long:  "Save the given global flags (customer-id, project-id, region, base-url, time-window, output) to the config file.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			values := map[string]any{}
			for _, key := range config.SettableKeys {
				for flag, k := range flagKeys {
					if k == key && cmd.Flags().Changed(flag) {
						values[key] = a.v.Get(key)
					}
				}
			}
			if len(values) == 0 {
				return fmt.Errorf("nothing to save; pass at least one of --customer-id, --project-id, --region, --base-url, --time-window or --output")
			}
			if err := config.Set(a.configPath, values); err != nil {
				return err
			}
			return a.printText(fmt.Sprintf("Configuration saved to %s", a.configPath))
		},
	}

	view := &cobra.Command{
		Use:   "view",
		Short: "Show the saved settings",
		RunE: func(_ *cobra.Command, _ []string) error {
			stored, err := config.Stored(a.configPath)
			if err != nil {
				return err
			}
			if len(stored) == 0 {
				return a.printText("No configuration saved.")
			}
			return a.print(stored)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the config file",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := config.Clear(a.configPath); err != nil {
				return err
			}
			return a.printText("Configuration cleared.")
		},
	}

	cmd.AddCommand(set, view, clearCmd)
	return cmd
}
