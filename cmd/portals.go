package main

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"tenderscan/scanner-service/internal/config"
)

func portalsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "portals",
		Short: "List the portal catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			portals, err := config.LoadPortals(cfg.PortalsFile, cfg.DefaultMaxPages)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Name", "Kind", "Enabled", "Region", "Strategies", "Max Pages", "Bonus", "Login"})
			for _, p := range portals {
				t.AppendRow(table.Row{
					p.Name,
					p.Kind,
					p.Enabled,
					p.Region,
					strings.Join(p.EffectiveStrategies(), ", "),
					p.MaxPages,
					p.PriorityBonus,
					!p.Credentials.Empty(),
				})
			}
			t.Render()
			return nil
		},
	}
}
