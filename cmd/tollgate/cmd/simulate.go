package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tollgate-labs/tollgate/internal/config"
	"github.com/tollgate-labs/tollgate/internal/domain/toll"
	"github.com/tollgate-labs/tollgate/internal/service"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive a route and pay every checkpoint",
	Long: `Open a session, drive along a catalog route and pay each checkpoint
in order, one every toll.simulation_interval. The drive stops at the first
failed payment. The session is closed at the end.

Examples:
  tollgate simulate --route boston-nyc
  tollgate simulate --route boston-nyc --deposit 5`,
	RunE: runSimulate,
}

var (
	simRoute   string
	simDeposit string
)

func init() {
	simulateCmd.Flags().StringVar(&simRoute, "route", "", "Route id (default: first catalog route)")
	simulateCmd.Flags().StringVar(&simDeposit, "deposit", "", "Session deposit, overrides toll.default_deposit")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireWallet(); err != nil {
		return err
	}
	if simDeposit != "" {
		cfg.Toll.DefaultDeposit = simDeposit
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	logger := newLogger(cfg)
	st, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.shutdown(context.Background())

	route, err := pickRoute(st.catalog, simRoute)
	if err != nil {
		return err
	}
	if _, err := st.connect(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	interval := config.ParseDuration(cfg.Toll.SimulationInterval, service.DefaultSimulationInterval)
	fmt.Fprintf(out, "Driving %s (%d tolls, about %s)\n",
		route.Name, len(route.Tolls), toll.SimulationTime(len(route.Tolls), interval))

	sim := service.NewSimulator(st.tolls, interval, logger)
	sum, runErr := sim.Run(ctx, route, func(step service.SimulationStep) {
		printStep(out, step)
	})
	printSummary(out, sum, route)
	if runErr != nil {
		fmt.Fprintln(os.Stderr, color.RedString("drive stopped: %v", runErr))
	}
	return runErr
}

// pickRoute returns the named route, or the first one when id is empty.
func pickRoute(c *toll.Catalog, id string) (toll.Route, error) {
	if id != "" {
		return c.Route(id)
	}
	routes := c.Routes()
	if len(routes) == 0 {
		return toll.Route{}, toll.ErrRouteNotFound
	}
	return routes[0], nil
}

func printStep(out io.Writer, step service.SimulationStep) {
	prefix := fmt.Sprintf("[%3d%%] %d/%d %s", step.Progress, step.Index+1, step.Total, step.Checkpoint.Name)
	if !step.Result.Success {
		fmt.Fprintf(out, "%s %s\n", prefix, color.RedString("FAILED: %v", step.Result.Err))
		return
	}
	fmt.Fprintf(out, "%s %s  balance %s  %s\n",
		prefix,
		color.GreenString("paid %s", step.Checkpoint.Fee.StringFixed(2)),
		step.Result.NewBalance.StringFixed(2),
		color.CyanString(step.Result.TransactionID),
	)
}

func printSummary(out io.Writer, sum service.SimulationSummary, route toll.Route) {
	fmt.Fprintf(out, "%s %d/%d tolls paid, %s spent\n",
		color.New(color.Bold).Sprint("Summary:"),
		sum.Paid, len(route.Tolls), sum.Spent.StringFixed(2))
}
