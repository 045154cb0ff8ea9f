package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/proxyforge/proxyforge/internal/model"
	"github.com/proxyforge/proxyforge/internal/store"
)

func newListCmd() *cobra.Command {
	var (
		group      string
		class      string
		activeOnly bool
		output     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List config records",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				glog.Fatalf("Failed to load config: %v", err)
			}
			eng := setupEngine(cfg, logger)

			filter := store.ListFilter{ActiveOnly: activeOnly}
			if group != "" {
				filter.GroupID = &group
			}
			if class != "" {
				c := model.ConfigClass(class)
				filter.Classification = &c
			}

			recs, err := eng.ListConfigs(filter)
			if err != nil {
				return err
			}

			if output == "json" {
				return printJSON(cmd.OutOrStdout(), recs)
			}
			return printTable(cmd.OutOrStdout(), recs)
		},
	}

	cmd.Flags().StringVar(&group, "group", "", "Filter by group id")
	cmd.Flags().StringVar(&class, "classification", "", "Filter by classification (static, dynamic)")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only active records")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(w io.Writer, recs []model.ConfigRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCLASS\tACTIVE\tSTATUS\tPATH")
	for _, rec := range recs {
		path := ""
		if rec.ConfigPath != nil {
			path = *rec.ConfigPath
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
			rec.ID, rec.Name, rec.Classification, rec.IsActive, rec.SyncStatus, path)
	}
	return tw.Flush()
}
