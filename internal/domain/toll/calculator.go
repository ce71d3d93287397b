package toll

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MilesPerToll is the rough distance credited to each paid toll.
const MilesPerToll = 15

// DefaultGasCost is the estimated on-chain gas cost of one toll payment.
var DefaultGasCost = decimal.RequireFromString("2.50")

// DashboardStats summarizes a set of transactions.
type DashboardStats struct {
	TotalTolls    int             `json:"total_tolls"`
	TotalSpent    decimal.Decimal `json:"total_spent"`
	TotalDistance int             `json:"total_distance"`
	GasSaved      decimal.Decimal `json:"gas_saved"`
	AvgTollCost   decimal.Decimal `json:"avg_toll_cost"`
}

// MonthlySummary is the settlement view of one calendar month.
type MonthlySummary struct {
	Month           time.Month      `json:"month"`
	Year            int             `json:"year"`
	TotalTolls      int             `json:"total_tolls"`
	TotalSpent      decimal.Decimal `json:"total_spent"`
	TotalDistance   int             `json:"total_distance"`
	GasSaved        decimal.Decimal `json:"gas_saved"`
	TraditionalCost decimal.Decimal `json:"traditional_cost"`
	Savings         decimal.Decimal `json:"savings"`
	Transactions    []Transaction   `json:"transactions"`
}

// RouteCost sums the fees of every checkpoint on a route.
func RouteCost(r Route) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range r.Tolls {
		sum = sum.Add(t.Fee)
	}
	return sum
}

// GasSaved estimates the gas avoided by settling n tolls off-chain.
func GasSaved(n int, perToll decimal.Decimal) decimal.Decimal {
	return perToll.Mul(decimal.NewFromInt(int64(n)))
}

// Stats computes dashboard statistics for txs.
func Stats(txs []Transaction, gasPerToll decimal.Decimal) DashboardStats {
	spent := decimal.Zero
	for _, tx := range txs {
		spent = spent.Add(tx.Fee)
	}
	avg := decimal.Zero
	if len(txs) > 0 {
		avg = spent.Div(decimal.NewFromInt(int64(len(txs)))).Round(2)
	}
	return DashboardStats{
		TotalTolls:    len(txs),
		TotalSpent:    spent,
		TotalDistance: len(txs) * MilesPerToll,
		GasSaved:      GasSaved(len(txs), gasPerToll),
		AvgTollCost:   avg,
	}
}

// Monthly summarizes the transactions that fall in the month of at (UTC).
func Monthly(txs []Transaction, at time.Time, gasPerToll decimal.Decimal) MonthlySummary {
	at = at.UTC()
	var inMonth []Transaction
	for _, tx := range txs {
		ts := tx.Timestamp.UTC()
		if ts.Year() == at.Year() && ts.Month() == at.Month() {
			inMonth = append(inMonth, tx)
		}
	}

	stats := Stats(inMonth, gasPerToll)
	return MonthlySummary{
		Month:           at.Month(),
		Year:            at.Year(),
		TotalTolls:      stats.TotalTolls,
		TotalSpent:      stats.TotalSpent,
		TotalDistance:   stats.TotalDistance,
		GasSaved:        stats.GasSaved,
		TraditionalCost: stats.TotalSpent.Add(stats.GasSaved),
		Savings:         stats.GasSaved,
		Transactions:    inMonth,
	}
}

// SavingsPercentage is gasSaved as a rounded percentage of what the same
// tolls would cost settled on-chain.
func SavingsPercentage(totalSpent, gasSaved decimal.Decimal) int64 {
	traditional := totalSpent.Add(gasSaved)
	if traditional.IsZero() {
		return 0
	}
	return gasSaved.Div(traditional).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// RouteProgress is the rounded percentage of checkpoints passed.
func RouteProgress(passed, total int) int64 {
	if total == 0 {
		return 0
	}
	return decimal.NewFromInt(int64(passed)).
		Div(decimal.NewFromInt(int64(total))).
		Mul(decimal.NewFromInt(100)).
		Round(0).IntPart()
}

// SimulationTime formats how long a simulated drive of n tolls takes.
func SimulationTime(n int, interval time.Duration) string {
	total := time.Duration(n) * interval
	if total < time.Minute {
		return fmt.Sprintf("%gs", total.Seconds())
	}
	minutes := int(total / time.Minute)
	seconds := (total % time.Minute).Seconds()
	return fmt.Sprintf("%dm %gs", minutes, seconds)
}
