package heatmap

import (
	"sort"

	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/features"
)

// Point is a grid point annotated with heatmap predictions.
type Point struct {
	GridPoint
	Value      float64 `json:"value"`
	Demand     float64 `json:"demand"`
	Investment float64 `json:"investment"`
	Risk       float64 `json:"risk"`
	Intensity  float64 `json:"intensity"`
}

// Filters carries the property attributes evaluated at every grid point and
// the predicates applied to the results. Nil predicates do not constrain.
type Filters struct {
	features.HeatmapAttributes

	MinValue      *float64 `json:"min_value,omitempty"`
	MaxValue      *float64 `json:"max_value,omitempty"`
	MinDemand     *float64 `json:"min_demand,omitempty"`
	MinInvestment *float64 `json:"min_investment,omitempty"`
	MaxRisk       *float64 `json:"max_risk,omitempty"`
	// MaxPoints truncates the ranked result when positive.
	MaxPoints int `json:"max_points,omitempty"`
}

type predicate func(Point) bool

func (f Filters) predicates() []predicate {
	var ps []predicate
	if f.MinValue != nil {
		v := *f.MinValue
		ps = append(ps, func(p Point) bool { return p.Value >= v })
	}
	if f.MaxValue != nil {
		v := *f.MaxValue
		ps = append(ps, func(p Point) bool { return p.Value <= v })
	}
	if f.MinDemand != nil {
		v := *f.MinDemand
		ps = append(ps, func(p Point) bool { return p.Demand >= v })
	}
	if f.MinInvestment != nil {
		v := *f.MinInvestment
		ps = append(ps, func(p Point) bool { return p.Investment >= v })
	}
	if f.MaxRisk != nil {
		v := *f.MaxRisk
		ps = append(ps, func(p Point) bool { return p.Risk <= v })
	}
	return ps
}

// FilterAndRank applies the value, demand, investment and risk predicates
// in that order, sorts the survivors by intensity descending (ties keep
// their input order) and truncates to MaxPoints. The input is not modified.
func FilterAndRank(points []Point, f Filters) []Point {
	out := append([]Point(nil), points...)
	for _, keep := range f.predicates() {
		n := 0
		for _, p := range out {
			if keep(p) {
				out[n] = p
				n++
			}
		}
		out = out[:n]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Intensity > out[j].Intensity })
	if f.MaxPoints > 0 && len(out) > f.MaxPoints {
		out = out[:f.MaxPoints]
	}
	return out
}

// Calibration is the value window mapped onto intensity [0,1].
type Calibration struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultCalibration is the AED per square metre range of the UAE market.
var DefaultCalibration = Calibration{Min: 2000, Max: 25000}

// Normalize maps v linearly onto [0,1] and clamps.
func (c Calibration) Normalize(v float64) float64 {
	if c.Max <= c.Min {
		return 0
	}
	n := (v - c.Min) / (c.Max - c.Min)
	switch {
	case n < 0, n != n:
		return 0
	case n > 1:
		return 1
	}
	return n
}
