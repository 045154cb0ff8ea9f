package main

import (
	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/proxyforge/proxyforge/internal/reconcile"
)

func newReconcileCmd() *cobra.Command {
	var (
		group string
		force bool
		sweep bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and print the summary",
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
			opts := reconcile.DefaultOptions()
			opts.Force = force
			opts.Sweep = sweep
			opts.Materialize.BackupExisting = cfg.BackupOnOverwrite

			summary, err := eng.Reconcile(cmd.Context(), scopeID, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().StringVar(&group, "group", "", "Limit the pass to one group id")
	cmd.Flags().BoolVar(&force, "force", false, "Walk every record in scope instead of only changed ones")
	cmd.Flags().BoolVar(&sweep, "sweep", false, "Run the orphan sweeper after the pass")
	return cmd
}
