package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/carbonfill/enrich"
	"github.com/teranos/carbonfill/errors"
	"github.com/teranos/carbonfill/lca"
)

// OptimizeCmd enriches one node as a given stage
var OptimizeCmd = &cobra.Command{
	Use:   "optimize --stage <stage> [file|-]",
	Short: "Fill the carbon factor of a single node",
	Long: `Read one JSON node from a file or stdin, force it to the given lifecycle
stage, enrich it, and print the enriched node.

Stages: raw_material, manufacturing, distribution, usage, disposal
(English names and 原材料 / 生产制造 / 分销和储存 / 产品使用 / 废弃处置 are accepted).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOptimize,
}

var optimizeStage string

func init() {
	OptimizeCmd.Flags().StringVar(&optimizeStage, "stage", "", "Lifecycle stage to enrich the node as")
	_ = OptimizeCmd.MarkFlagRequired("stage")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	stage, err := lca.ParseStage(optimizeStage)
	if err != nil {
		return err
	}

	var item map[string]any
	if err := readJSON(cmd, args, &item); err != nil {
		return err
	}
	if item == nil {
		return errors.NewInvalidRequestError("input must be a JSON object")
	}
	item["lifecycleStage"] = string(stage)
	node, err := lca.Decode(item)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	out, report, err := a.pipeline.Optimize(cmd.Context(), node)
	if err != nil {
		return errors.Wrap(err, "optimize failed")
	}
	if report.Outcome != enrich.OutcomeSuccess {
		pterm.Warning.WithWriter(cmd.ErrOrStderr()).Printfln("%s group %s: %s", stage.Label(), report.Outcome, report.Cause)
	}
	return writeJSON(cmd.OutOrStdout(), lca.Encode(out))
}
