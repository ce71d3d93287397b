package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tollgate-labs/tollgate/internal/domain/toll"
)

// DefaultSimulationInterval is the pause between checkpoints of a simulated drive.
const DefaultSimulationInterval = 2 * time.Second

// TollPayer charges a single checkpoint. *TollService implements it.
type TollPayer interface {
	PayToll(ctx context.Context, req PayTollRequest) PayTollResult
}

// SimulationStep reports one checkpoint of a drive.
type SimulationStep struct {
	Index      int
	Total      int
	Checkpoint toll.Checkpoint
	Result     PayTollResult
	// Progress is the rounded percentage of checkpoints passed.
	Progress int64
}

// SimulationSummary totals a finished or stopped drive.
type SimulationSummary struct {
	RouteID string
	Paid    int
	Spent   decimal.Decimal
}

// Simulator drives along a route and pays every checkpoint in order.
type Simulator struct {
	payer    TollPayer
	interval time.Duration
	logger   *slog.Logger
}

// NewSimulator creates a Simulator. A non-positive interval uses the default.
func NewSimulator(payer TollPayer, interval time.Duration, logger *slog.Logger) *Simulator {
	if interval <= 0 {
		interval = DefaultSimulationInterval
	}
	return &Simulator{
		payer:    payer,
		interval: interval,
		logger:   logger.With("component", "simulator"),
	}
}

// Run pays the first checkpoint immediately and each following one after
// the interval. It stops at the first failed payment and returns its error.
func (s *Simulator) Run(ctx context.Context, route toll.Route, onStep func(SimulationStep)) (SimulationSummary, error) {
	sum := SimulationSummary{RouteID: route.ID, Spent: decimal.Zero}
	total := len(route.Tolls)
	s.logger.Info("simulation started", "route", route.ID, "tolls", total, "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for i, cp := range route.Tolls {
		if i > 0 {
			select {
			case <-ctx.Done():
				return sum, ctx.Err()
			case <-ticker.C:
			}
		}

		res := s.payer.PayToll(ctx, PayTollRequest{
			TollID:   cp.ID,
			TollName: cp.Name,
			Fee:      cp.Fee,
			Location: cp.Location,
			RoadID:   route.Road,
		})
		if res.Success {
			sum.Paid++
			sum.Spent = sum.Spent.Add(cp.Fee)
		}
		if onStep != nil {
			onStep(SimulationStep{
				Index:      i,
				Total:      total,
				Checkpoint: cp,
				Result:     res,
				Progress:   toll.RouteProgress(i+1, total),
			})
		}
		if !res.Success {
			s.logger.Warn("simulation stopped", "route", route.ID, "toll_id", cp.ID, "error", res.Err)
			return sum, fmt.Errorf("toll %s: %w", cp.ID, res.Err)
		}
	}

	s.logger.Info("simulation finished", "route", route.ID, "paid", sum.Paid, "spent", sum.Spent)
	return sum, nil
}
