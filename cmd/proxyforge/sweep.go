package main

import (
	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete config files with no active record",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				glog.Fatalf("Failed to load config: %v", err)
			}
			eng := setupEngine(cfg, logger)

			var scopeID *string
			if group != "" {
				scopeID = &group
			}
			removed, err := eng.Sweep(cmd.Context(), scopeID)
			if err != nil {
				return err
			}
			if removed == nil {
				removed = []string{}
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"removed": removed})
		},
	}

	cmd.Flags().StringVar(&group, "group", "", "Limit the sweep to one group id")
	return cmd
}
