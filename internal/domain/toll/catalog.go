package toll

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Catalog indexes routes by id and checkpoints by toll id.
type Catalog struct {
	routes []Route
	byID   map[string]int
	tolls  map[string]tollRef
}

type tollRef struct {
	route int
	toll  int
}

// NewCatalog builds a catalog. Route ids and toll ids must be unique.
func NewCatalog(routes []Route) (*Catalog, error) {
	c := &Catalog{
		routes: routes,
		byID:   make(map[string]int, len(routes)),
		tolls:  make(map[string]tollRef),
	}
	for i, r := range routes {
		if r.ID == "" {
			return nil, fmt.Errorf("routes[%d]: id is required", i)
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("routes[%d]: duplicate route id %q", i, r.ID)
		}
		c.byID[r.ID] = i
		for j, cp := range r.Tolls {
			if cp.ID == "" {
				return nil, fmt.Errorf("routes[%d].tolls[%d]: id is required", i, j)
			}
			if _, dup := c.tolls[cp.ID]; dup {
				return nil, fmt.Errorf("routes[%d].tolls[%d]: duplicate toll id %q", i, j, cp.ID)
			}
			if cp.Fee.IsNegative() {
				return nil, fmt.Errorf("routes[%d].tolls[%d]: negative fee", i, j)
			}
			c.tolls[cp.ID] = tollRef{route: i, toll: j}
		}
	}
	return c, nil
}

// DefaultCatalog returns the built-in demo routes.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultRoutes())
	if err != nil {
		panic(err)
	}
	return c
}

// Routes returns all routes in catalog order.
func (c *Catalog) Routes() []Route {
	out := make([]Route, len(c.routes))
	copy(out, c.routes)
	return out
}

// Route looks up a route by id.
func (c *Catalog) Route(id string) (Route, error) {
	i, ok := c.byID[id]
	if !ok {
		return Route{}, fmt.Errorf("%w: %q", ErrRouteNotFound, id)
	}
	return c.routes[i], nil
}

// Checkpoint looks up a toll by id and returns it with its route.
func (c *Catalog) Checkpoint(tollID string) (Route, Checkpoint, error) {
	ref, ok := c.tolls[tollID]
	if !ok {
		return Route{}, Checkpoint{}, fmt.Errorf("%w: %q", ErrTollNotFound, tollID)
	}
	r := c.routes[ref.route]
	return r, r.Tolls[ref.toll], nil
}

// catalogFile is the YAML layout of a route catalog. Fees are read as
// strings so that "1.50" keeps its exact decimal value.
type catalogFile struct {
	Routes []struct {
		ID            string   `yaml:"id"`
		Name          string   `yaml:"name"`
		Road          string   `yaml:"road"`
		Distance      int      `yaml:"distance"`
		EstimatedCost string   `yaml:"estimated_cost"`
		Entry         Location `yaml:"entry"`
		Exit          Location `yaml:"exit"`
		Tolls         []struct {
			ID       string   `yaml:"id"`
			Name     string   `yaml:"name"`
			Fee      string   `yaml:"fee"`
			Mile     int      `yaml:"mile"`
			Location Location `yaml:"location"`
		} `yaml:"tolls"`
	} `yaml:"routes"`
}

// ParseCatalog decodes a YAML route catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse route catalog: %w", err)
	}

	routes := make([]Route, 0, len(f.Routes))
	for i, fr := range f.Routes {
		r := Route{
			ID:       fr.ID,
			Name:     fr.Name,
			Road:     fr.Road,
			Distance: fr.Distance,
			Entry:    fr.Entry,
			Exit:     fr.Exit,
		}
		if fr.EstimatedCost != "" {
			cost, err := decimal.NewFromString(fr.EstimatedCost)
			if err != nil {
				return nil, fmt.Errorf("routes[%d].estimated_cost: %w", i, err)
			}
			r.EstimatedCost = cost
		}
		for j, ft := range fr.Tolls {
			fee, err := decimal.NewFromString(ft.Fee)
			if err != nil {
				return nil, fmt.Errorf("routes[%d].tolls[%d].fee: %w", i, j, err)
			}
			r.Tolls = append(r.Tolls, Checkpoint{
				ID:       ft.ID,
				Name:     ft.Name,
				Fee:      fee,
				Mile:     ft.Mile,
				Location: ft.Location,
			})
		}
		routes = append(routes, r)
	}
	return NewCatalog(routes)
}

// LoadCatalog reads a YAML route catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read route catalog: %w", err)
	}
	return ParseCatalog(data)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// DefaultRoutes returns the built-in demo routes.
func DefaultRoutes() []Route {
	return []Route{
		{
			ID:            "boston-nyc",
			Name:          "Boston → New York City",
			Road:          "I-95 South",
			Distance:      215,
			EstimatedCost: d("28.50"),
			Entry:         Location{Lat: 42.3601, Lng: -71.0589},
			Exit:          Location{Lat: 40.7128, Lng: -74.0060},
			Tolls: []Checkpoint{
				{ID: "TOLL_01", Name: "Mass Pike - Boston", Fee: d("1.50"), Mile: 0, Location: Location{42.3601, -71.0589}},
				{ID: "TOLL_02", Name: "Mass Pike - Worcester", Fee: d("2.00"), Mile: 45, Location: Location{42.2626, -71.8023}},
				{ID: "TOLL_03", Name: "Mass Pike - Springfield", Fee: d("1.75"), Mile: 90, Location: Location{42.1015, -72.5898}},
				{ID: "TOLL_04", Name: "CT Welcome", Fee: d("2.50"), Mile: 105, Location: Location{42.0120, -72.5790}},
				{ID: "TOLL_05", Name: "Hartford Plaza", Fee: d("2.00"), Mile: 125, Location: Location{41.7658, -72.6734}},
				{ID: "TOLL_06", Name: "New Haven Exit", Fee: d("2.25"), Mile: 155, Location: Location{41.3083, -72.9279}},
				{ID: "TOLL_07", Name: "Bridgeport Plaza", Fee: d("1.75"), Mile: 170, Location: Location{41.1792, -73.1894}},
				{ID: "TOLL_08", Name: "Stamford Gateway", Fee: d("2.50"), Mile: 185, Location: Location{41.0534, -73.5387}},
				{ID: "TOLL_09", Name: "Greenwich Border", Fee: d("3.00"), Mile: 195, Location: Location{41.0262, -73.6282}},
				{ID: "TOLL_10", Name: "Bronx Entry", Fee: d("3.50"), Mile: 200, Location: Location{40.8448, -73.8648}},
				{ID: "TOLL_11", Name: "Triborough Bridge", Fee: d("4.00"), Mile: 208, Location: Location{40.7841, -73.9212}},
				{ID: "TOLL_12", Name: "Manhattan Exit", Fee: d("1.75"), Mile: 215, Location: Location{40.7128, -74.0060}},
			},
		},
		{
			ID:            "la-sf",
			Name:          "Los Angeles → San Francisco",
			Road:          "I-5 North",
			Distance:      382,
			EstimatedCost: d("18.00"),
			Entry:         Location{Lat: 34.0522, Lng: -118.2437},
			Exit:          Location{Lat: 37.7749, Lng: -122.4194},
			Tolls: []Checkpoint{
				{ID: "TOLL_LA_01", Name: "LA Metro Express", Fee: d("2.50"), Mile: 0, Location: Location{34.0522, -118.2437}},
				{ID: "TOLL_LA_02", Name: "Grapevine Pass", Fee: d("1.50"), Mile: 60, Location: Location{34.9592, -118.8757}},
				{ID: "TOLL_LA_03", Name: "Bakersfield Plaza", Fee: d("2.00"), Mile: 120, Location: Location{35.3733, -119.0187}},
				{ID: "TOLL_LA_04", Name: "Central Valley", Fee: d("1.75"), Mile: 180, Location: Location{36.7378, -119.7871}},
				{ID: "TOLL_LA_05", Name: "Modesto Exit", Fee: d("2.25"), Mile: 280, Location: Location{37.6391, -120.9969}},
				{ID: "TOLL_LA_06", Name: "Bay Bridge Approach", Fee: d("4.00"), Mile: 360, Location: Location{37.8199, -122.3786}},
				{ID: "TOLL_LA_07", Name: "SF Downtown", Fee: d("4.00"), Mile: 382, Location: Location{37.7749, -122.4194}},
			},
		},
		{
			ID:            "chicago-detroit",
			Name:          "Chicago → Detroit",
			Road:          "I-94 East",
			Distance:      283,
			EstimatedCost: d("15.25"),
			Entry:         Location{Lat: 41.8781, Lng: -87.6298},
			Exit:          Location{Lat: 42.3314, Lng: -83.0458},
			Tolls: []Checkpoint{
				{ID: "TOLL_CHI_01", Name: "Chicago Skyway", Fee: d("3.00"), Mile: 0, Location: Location{41.8781, -87.6298}},
				{ID: "TOLL_CHI_02", Name: "Indiana Welcome", Fee: d("2.50"), Mile: 25, Location: Location{41.6734, -87.5070}},
				{ID: "TOLL_CHI_03", Name: "Gary Plaza", Fee: d("1.75"), Mile: 40, Location: Location{41.5934, -87.3465}},
				{ID: "TOLL_CHI_04", Name: "South Bend Exit", Fee: d("2.00"), Mile: 90, Location: Location{41.6764, -86.2520}},
				{ID: "TOLL_CHI_05", Name: "Kalamazoo Gate", Fee: d("2.00"), Mile: 160, Location: Location{42.2917, -85.5872}},
				{ID: "TOLL_CHI_06", Name: "Ann Arbor Junction", Fee: d("2.25"), Mile: 230, Location: Location{42.2808, -83.7430}},
				{ID: "TOLL_CHI_07", Name: "Detroit Entry", Fee: d("1.75"), Mile: 283, Location: Location{42.3314, -83.0458}},
			},
		},
	}
}
