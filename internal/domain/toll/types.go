// Package toll models toll checkpoints, routes, and the transaction
// records produced by confirmed payments.
package toll

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Location is a WGS84 coordinate.
type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Checkpoint is one toll booth on a route. Fee is in display units.
type Checkpoint struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Fee      decimal.Decimal `json:"fee"`
	Mile     int             `json:"mile"`
	Location Location        `json:"location"`
}

// Route is an ordered list of checkpoints along a road.
type Route struct {
	ID            string          `json:"route_id"`
	Name          string          `json:"name"`
	Road          string          `json:"road"`
	Distance      int             `json:"distance"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
	Entry         Location        `json:"entry_point"`
	Exit          Location        `json:"exit_point"`
	Tolls         []Checkpoint    `json:"tolls"`
}

// Transaction is an immutable record of one confirmed toll charge.
type Transaction struct {
	ID        string          `json:"transaction_id"`
	SessionID string          `json:"session_id"`
	TollID    string          `json:"toll_id"`
	Name      string          `json:"name"`
	Fee       decimal.Decimal `json:"fee"`
	Timestamp time.Time       `json:"timestamp"`
	Location  Location        `json:"location"`
	RoadID    string          `json:"road_id"`
	Settled   bool            `json:"settled"`
}

var (
	// ErrRouteNotFound is returned for an unknown route id.
	ErrRouteNotFound = errors.New("route not found")

	// ErrTollNotFound is returned for an unknown toll id.
	ErrTollNotFound = errors.New("toll not found")

	// ErrInvalidQR is returned when QR content is not a toll or driver payload.
	ErrInvalidQR = errors.New("invalid qr payload")
)
