package cmd

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
)

// newRegionsCmd lists the city and county codes usable with crawl --region.
func newRegionsCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "Lists region codes from the cached region tree",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			tree, err := appInstance.Regions().Tree(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			renderRegions(cmd, tree)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "reload the tree from the portal and rewrite the cache")
	return cmd
}

func renderRegions(cmd *cobra.Command, tree []crawler.RegionNode) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Code", "City", "District"})
	for _, city := range tree {
		t.AppendRow(table.Row{city.ID, city.Name, ""})
		for _, district := range city.Children {
			t.AppendRow(table.Row{district.ID, "", district.Name})
		}
		t.AppendSeparator()
	}
	t.Render()
}
