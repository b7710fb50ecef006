package main

import (
	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/activities"
)

func activitiesCmd() *cobra.Command {
	var (
		category string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "activities",
		Short: "List the built-in activity catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			descs := activities.NewDefaultRegistry().List()
			if category != "" {
				filtered := descs[:0]
				for _, d := range descs {
					if d.Category == category {
						filtered = append(filtered, d)
					}
				}
				descs = filtered
			}
			if asJSON {
				return printJSON(cmd, descs)
			}
			writeCatalog(cmd.OutOrStdout(), descs)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only list this category")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print descriptors as JSON")
	return cmd
}
