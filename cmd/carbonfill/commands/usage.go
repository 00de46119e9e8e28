package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/carbonfill/ai/tracker"
	"github.com/teranos/carbonfill/errors"
)

// UsageCmd shows inference usage recorded in the database
var UsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show inference usage and recent runs",
	Long: `Summarize the inference calls and enrichment runs recorded in the usage
database. Requires database.path to be set.

Examples:
  carbonfill usage
  carbonfill usage --since 24h --runs 5`,
	Args: cobra.NoArgs,
	RunE: runUsage,
}

var (
	usageSince time.Duration
	usageRuns  int
)

func init() {
	UsageCmd.Flags().DurationVar(&usageSince, "since", 30*24*time.Hour, "Only count calls newer than this")
	UsageCmd.Flags().IntVar(&usageRuns, "runs", 10, "Number of recent runs to list")
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.Path == "" {
		return errors.WithHint(errors.New("usage tracking is off"),
			"set database.path in am.toml or CARBONFILL_DATABASE_PATH")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	usage := tracker.NewUsageTracker(database)
	since := time.Now().Add(-usageSince)
	out := cmd.OutOrStdout()

	stats, err := usage.GetUsageStats(since)
	if err != nil {
		return err
	}
	err = pterm.DefaultTable.WithHasHeader().WithBoxed().WithWriter(out).WithData(pterm.TableData{
		{"Requests", "Successful", "Success rate", "Tokens", "Models"},
		{
			strconv.Itoa(stats.TotalRequests),
			strconv.Itoa(stats.SuccessfulRequests),
			fmt.Sprintf("%.1f%%", stats.SuccessRate*100),
			strconv.Itoa(stats.TotalTokens),
			strconv.Itoa(stats.UniqueModels),
		},
	}).Render()
	if err != nil {
		return err
	}

	breakdown, err := usage.GetStageBreakdown(since)
	if err != nil {
		return err
	}
	if len(breakdown) > 0 {
		data := pterm.TableData{{"Stage", "Provider", "Model", "Requests", "Tokens", "Avg ms", "Est. USD"}}
		for _, b := range breakdown {
			avg := "-"
			if b.AvgResponseTimeMs != nil {
				avg = fmt.Sprintf("%.0f", *b.AvgResponseTimeMs)
			}
			cost := "-"
			if b.EstimatedCostUSD != nil {
				cost = fmt.Sprintf("%.4f", *b.EstimatedCostUSD)
			}
			data = append(data, []string{
				b.Stage, b.ModelProvider, b.ModelName,
				strconv.Itoa(b.RequestCount), strconv.Itoa(b.TotalTokens), avg, cost,
			})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(data).Render(); err != nil {
			return err
		}
	}

	runs, err := usage.RecentRuns(usageRuns)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No enrichment runs recorded")
		return nil
	}
	data := pterm.TableData{{"Run", "Started", "Nodes", "AI matched", "Manual", "Groups", "Degraded"}}
	for _, r := range runs {
		data = append(data, []string{
			r.RunID, r.StartedAt.Local().Format(time.DateTime),
			strconv.Itoa(r.TotalNodes), strconv.Itoa(r.AIMatched), strconv.Itoa(r.ManualRequired),
			strconv.Itoa(r.GroupsTotal), strconv.Itoa(r.GroupsDegraded),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(data).Render()
}
