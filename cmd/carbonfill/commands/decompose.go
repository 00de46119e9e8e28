package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/carbonfill/decompose"
	"github.com/teranos/carbonfill/enrich"
	"github.com/teranos/carbonfill/errors"
)

// DecomposeCmd breaks a product into weighted base materials
var DecomposeCmd = &cobra.Command{
	Use:   "decompose <product name> --weight <weight>",
	Short: "Break a product into base materials with carbon factors",
	Long: `Ask the model which base materials a product is made of, with the share,
weight and carbon factor of each, and print the decomposition as JSON.
Material weights are rescaled to the product weight when they drift.

Examples:
  carbonfill decompose "Stainless steel kettle" --weight 1.2 --unit kg
  carbonfill decompose "Cotton T-shirt" --weight 180 --table`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecompose,
}

var (
	decomposeWeight float64
	decomposeUnit   string
	decomposeTable  bool
)

func init() {
	DecomposeCmd.Flags().Float64Var(&decomposeWeight, "weight", 0, "Total product weight")
	DecomposeCmd.Flags().StringVar(&decomposeUnit, "unit", decompose.UnitGram, "Weight unit: g or kg")
	DecomposeCmd.Flags().BoolVar(&decomposeTable, "table", false, "Print the materials as a table to stderr")
	_ = DecomposeCmd.MarkFlagRequired("weight")
}

func runDecompose(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.decomposer.Decompose(cmd.Context(), decompose.Request{
		ProductName: strings.Join(args, " "),
		TotalWeight: decomposeWeight,
		Unit:        decomposeUnit,
	})
	if err != nil {
		return errors.Wrap(err, "decomposition failed")
	}
	if res.Outcome != enrich.OutcomeSuccess {
		pterm.Warning.WithWriter(cmd.ErrOrStderr()).Printfln("decomposition %s: %s", res.Outcome, res.Cause)
	}

	if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if decomposeTable {
		return renderMaterials(cmd.ErrOrStderr(), res)
	}
	return nil
}

func renderMaterials(w io.Writer, res decompose.Result) error {
	data := pterm.TableData{{"Material", "Share", "Weight (" + res.Unit + ")", "Factor (kg CO2e/kg)", "Footprint (kg CO2e)", "Source"}}
	for _, m := range res.Materials {
		data = append(data, []string{
			m.Name,
			fmt.Sprintf("%.1f%%", m.Percentage),
			fmt.Sprintf("%.4g", m.Weight),
			fmt.Sprintf("%.4g", m.CarbonFactor),
			fmt.Sprintf("%.4g", m.CarbonFootprint),
			m.DataSource,
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).WithWriter(w).Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s: %.4g kg CO2e (%s)\n", res.ProductName, res.TotalCarbonFootprint, res.Status)
	return err
}
