package main

import (
	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

func newMergeCmd() *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Collapse duplicate records sharing a path and checksum",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				glog.Fatalf("Failed to load config: %v", err)
			}
			eng := setupEngine(cfg, logger)

			var groupID *string
			if group != "" {
				groupID = &group
			}
			removed, err := eng.MergeDuplicates(groupID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"removed": removed})
		},
	}

	cmd.Flags().StringVar(&group, "group", "", "Limit the merge to one group id")
	return cmd
}
