package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/tollgate-labs/tollgate/internal/domain/toll"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List the route catalog",
	Long: `List every route with its checkpoints, total toll cost and the gas an
on-chain payment per toll would have cost.

The catalog is the built-in one unless toll.routes_file is set.`,
	RunE: runRoutes,
}

var routesVerbose bool

func init() {
	routesCmd.Flags().BoolVarP(&routesVerbose, "verbose", "v", false, "List every checkpoint")
	rootCmd.AddCommand(routesCmd)
}

func runRoutes(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg.Toll.RoutesFile)
	if err != nil {
		return err
	}
	gas, err := parseAmount("toll.gas_saved_per_toll", cfg.Toll.GasSavedPerToll)
	if err != nil {
		return err
	}
	return printRoutes(cmd.OutOrStdout(), catalog, gas, routesVerbose)
}

func printRoutes(out io.Writer, catalog *toll.Catalog, gasPerToll decimal.Decimal, verbose bool) error {
	header := color.New(color.Bold).SprintFunc()
	money := color.New(color.FgGreen).SprintFunc()

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, header("ROUTE\tNAME\tROAD\tMILES\tTOLLS\tCOST\tGAS SAVED"))
	for _, r := range catalog.Routes() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.Name, r.Road, r.Distance, len(r.Tolls),
			money(toll.RouteCost(r).StringFixed(2)),
			toll.GasSaved(len(r.Tolls), gasPerToll).StringFixed(2),
		)
		if !verbose {
			continue
		}
		for _, cp := range r.Tolls {
			fmt.Fprintf(tw, "  %s\t%s\t\tmile %d\t\t%s\t\n", cp.ID, cp.Name, cp.Mile, cp.Fee.StringFixed(2))
		}
	}
	return tw.Flush()
}
