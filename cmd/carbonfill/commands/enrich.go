package commands

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/carbonfill/enrich"
	"github.com/teranos/carbonfill/errors"
	"github.com/teranos/carbonfill/lca"
)

// EnrichCmd enriches a batch of nodes
var EnrichCmd = &cobra.Command{
	Use:   "enrich [file|-]",
	Short: "Fill carbon factors for a JSON array of nodes",
	Long: `Read a JSON array of LCA nodes from a file or stdin, enrich every node, and
write the enriched array to stdout in input order.

Examples:
  carbonfill enrich nodes.json
  carbonfill enrich - < nodes.json > enriched.json
  carbonfill enrich nodes.json --stats`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEnrich,
}

var enrichStats bool

func init() {
	EnrichCmd.Flags().BoolVar(&enrichStats, "stats", false, "Print match statistics and stage groups to stderr")
}

func runEnrich(cmd *cobra.Command, args []string) error {
	var items []map[string]any
	if err := readJSON(cmd, args, &items); err != nil {
		return err
	}
	nodes, err := lca.DecodeBatch(items)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.pipeline.Run(cmd.Context(), nodes)
	if err != nil {
		return errors.Wrap(err, "enrichment failed")
	}

	if err := writeJSON(cmd.OutOrStdout(), lca.EncodeBatch(report.Nodes)); err != nil {
		return err
	}
	if enrichStats {
		return renderReport(cmd.ErrOrStderr(), report)
	}
	return nil
}

func renderReport(w io.Writer, report enrich.Report) error {
	st := report.Stats
	summary := pterm.TableData{
		{"Total", "AI matched", "Manual required", "DB matched"},
		{strconv.Itoa(st.Total), strconv.Itoa(st.AIMatched), strconv.Itoa(st.ManualRequired), strconv.Itoa(st.DBMatched)},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(summary).WithWriter(w).Render(); err != nil {
		return err
	}

	groups := pterm.TableData{{"Stage", "Nodes", "Outcome", "Backend", "Extractor", "Cause"}}
	for _, g := range report.Groups {
		groups = append(groups, []string{
			g.Stage.Label(), strconv.Itoa(g.Size), string(g.Outcome), g.Backend, g.Extractor, g.Cause,
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(groups).WithWriter(w).Render(); err != nil {
		return err
	}

	if len(st.MatchSources) > 0 {
		sources := make([]string, 0, len(st.MatchSources))
		for s := range st.MatchSources {
			sources = append(sources, s)
		}
		sort.Strings(sources)
		data := pterm.TableData{{"Data source", "Nodes"}}
		for _, s := range sources {
			data = append(data, []string{s, strconv.Itoa(st.MatchSources[s])})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render(); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "run %s\n", report.RunID)
	return err
}
