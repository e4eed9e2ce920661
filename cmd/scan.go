package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"tenderscan/scanner-service/internal/config"
	"tenderscan/scanner-service/internal/db"
	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/sink"
)

func scanCommand() *cobra.Command {
	var (
		only    []string
		persist bool
		asJSON  bool
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan now and print the results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()

			portals, err := config.SelectPortals(a.portals, only)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt)
			defer stop()

			sinks := sink.Multi{sink.NewLog(a.logger)}
			if persist {
				if a.cfg.DatabaseURL == "" {
					return fmt.Errorf("--persist needs DATABASE_URL")
				}
				pool, err := db.NewPostgresPool(ctx, a.cfg.DatabaseURL, 2)
				if err != nil {
					return fmt.Errorf("postgres: %w", err)
				}
				defer pool.Close()
				if err := db.Migrate(ctx, pool); err != nil {
					return err
				}
				sinks = append(sinks, sink.NewPostgres(pool, a.logger))
			}

			orch, err := a.orchestrator(portals, sinks)
			if err != nil {
				return err
			}
			run, err := orch.RunScan(ctx, portals)
			if run != nil {
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if encErr := enc.Encode(run); encErr != nil {
						return encErr
					}
				} else {
					printRun(cmd.OutOrStdout(), run, limit)
				}
			}
			if err != nil {
				return err
			}
			if run.Status == model.RunFailed {
				return fmt.Errorf("scan %s failed", run.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&only, "portal", nil, "scan only these portals (repeatable)")
	cmd.Flags().BoolVar(&persist, "persist", false, "also write results to DATABASE_URL")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full run as JSON")
	cmd.Flags().IntVar(&limit, "limit", 25, "tenders to list, 0 for all")
	return cmd
}

func printRun(w io.Writer, run *model.ScanRun, limit int) {
	pt := table.NewWriter()
	pt.SetOutputMirror(w)
	pt.SetStyle(table.StyleLight)
	pt.SetTitle(fmt.Sprintf("Run %s: %s", run.ID, run.Status))
	pt.AppendHeader(table.Row{"Portal", "Status", "Raw", "Kept", "Dropped", "Strategies", "Error"})
	for _, name := range run.PortalNames() {
		p := run.Portals[name]
		pt.AppendRow(table.Row{p.Portal, p.Status, p.Records, p.Kept, p.Dropped, strategySummary(p.Strategies), truncate(p.Error, 60)})
	}
	pt.Render()

	rt := table.NewWriter()
	rt.SetOutputMirror(w)
	rt.SetStyle(table.StyleLight)
	rt.AppendHeader(table.Row{"#", "Score", "Tier", "Title", "Organization", "Portal", "Closes", "Courses"})
	for i, r := range run.Records {
		if limit > 0 && i >= limit {
			break
		}
		closes := ""
		if r.ClosingAt != nil {
			closes = r.ClosingAt.Format("2006-01-02")
		}
		rt.AppendRow(table.Row{i + 1, fmt.Sprintf("%.0f", r.Score), r.Tier, truncate(r.Title, 60), truncate(r.Organization, 30), r.Portal, closes, strings.Join(r.MatchedCourses, ", ")})
	}
	s := run.Summary()
	rt.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d tenders (high %d, medium %d, low %d)",
		s.Total, s.ByTier["high"], s.ByTier["medium"], s.ByTier["low"])})
	rt.Render()

	if run.Err != "" {
		fmt.Fprintf(w, "note: %s\n", run.Err)
	}
}

func strategySummary(outcomes []model.StrategyOutcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		term := o.Term
		if term == "" {
			term = "*"
		}
		parts = append(parts, fmt.Sprintf("%s:%s/%dp", term, o.Status, o.Pages))
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
