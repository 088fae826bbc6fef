// Package features turns property records into the positional feature
// vectors each model kind expects. Every function here is pure.
package features

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/nn"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// Vector is one model input row.
type Vector []float64

// Defaults applied when an attribute is missing. Zero and non-finite values
// count as missing.
const (
	DefaultPropertyType   = 0
	DefaultSize           = 100
	DefaultAge            = 5
	DefaultAmenitiesScore = 70

	DefaultBedrooms       = 2
	DefaultBathrooms      = 2
	DefaultAmenitiesCount = 10
	DefaultDistrictScore  = 70
	DefaultMarketTrend    = 1.05

	DefaultLocationStability = 0.8
	DefaultMarketVolatility  = 0.3
	DefaultDeveloperRating   = 4.0
	DefaultLegalStatus       = 1.0
	DefaultFinancialLeverage = 0.5

	DefaultROIPotential    = 0.12
	DefaultLiquidity       = 0.7
	DefaultGrowthPotential = 0.8
	DefaultYieldRate       = 0.08
)

// TrendMonths is the length of the market history fed to the trend model.
const TrendMonths = 12

// Observation is one month of area market history, each value normalized
// to [0,1].
type Observation struct {
	Price    float64 `json:"price"`
	Volume   float64 `json:"volume"`
	Economic float64 `json:"economic"`
}

// Property is a partially populated property record.
type Property struct {
	ID        string   `json:"id"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	PropertyType   float64 `json:"property_type,omitempty"`
	Size           float64 `json:"size,omitempty"`
	Bedrooms       float64 `json:"bedrooms,omitempty"`
	Bathrooms      float64 `json:"bathrooms,omitempty"`
	Age            float64 `json:"age,omitempty"`
	AmenitiesCount float64 `json:"amenities_count,omitempty"`
	AmenitiesScore float64 `json:"amenities_score,omitempty"`
	DistrictScore  float64 `json:"district_score,omitempty"`
	MarketTrend    float64 `json:"market_trend,omitempty"`

	LocationStability float64 `json:"location_stability,omitempty"`
	MarketVolatility  float64 `json:"market_volatility,omitempty"`
	DeveloperRating   float64 `json:"developer_rating,omitempty"`
	LegalStatus       float64 `json:"legal_status,omitempty"`
	FinancialLeverage float64 `json:"financial_leverage,omitempty"`

	ROIPotential    float64 `json:"roi_potential,omitempty"`
	Liquidity       float64 `json:"liquidity,omitempty"`
	GrowthPotential float64 `json:"growth_potential,omitempty"`
	YieldRate       float64 `json:"yield_rate,omitempty"`

	// History overrides the generated market series when it has
	// TrendMonths entries.
	History []Observation `json:"history,omitempty"`
}

// Coordinates returns a Property located at lat, lng.
func Coordinates(lat, lng float64) Property {
	return Property{Latitude: &lat, Longitude: &lng}
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

func or(v, def float64) float64 {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}

// Location returns the validated coordinates of p.
func (p Property) Location() (lat, lng float64, err error) {
	if p.Latitude == nil || p.Longitude == nil {
		return 0, 0, errors.InvalidFeature("latitude and longitude are required")
	}
	lat, lng = *p.Latitude, *p.Longitude
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return 0, 0, errors.InvalidFeature("latitude and longitude must be finite")
	}
	return lat, lng, nil
}

// HeatmapAttributes are the non-spatial heatmap inputs shared by every point
// of a grid.
type HeatmapAttributes struct {
	PropertyType   float64 `json:"property_type,omitempty"`
	Size           float64 `json:"size,omitempty"`
	Age            float64 `json:"age,omitempty"`
	AmenitiesScore float64 `json:"amenities_score,omitempty"`
}

// Resolved returns a with defaults applied.
func (a HeatmapAttributes) Resolved() HeatmapAttributes {
	return HeatmapAttributes{
		PropertyType:   or(a.PropertyType, DefaultPropertyType),
		Size:           or(a.Size, DefaultSize),
		Age:            or(a.Age, DefaultAge),
		AmenitiesScore: or(a.AmenitiesScore, DefaultAmenitiesScore),
	}
}

// Heatmap builds [lat, lng, property_type, size, age, amenities_score].
func Heatmap(lat, lng float64, a HeatmapAttributes) Vector {
	r := a.Resolved()
	return Vector{lat, lng, r.PropertyType, r.Size, r.Age, r.AmenitiesScore}
}

// InvestmentInputs are the upstream predictions the investment model
// consumes.
type InvestmentInputs struct {
	ValuationConfidence float64
	OverallRisk         float64
	// TrendDirection is in [-1,1].
	TrendDirection float64
}

// Investment builds [confidence, 1-risk, (direction+1)/2, roi, liquidity,
// growth, yield].
func Investment(p Property, in InvestmentInputs) Vector {
	return Vector{
		in.ValuationConfidence,
		1 - in.OverallRisk,
		in.TrendDirection*0.5 + 0.5,
		or(p.ROIPotential, DefaultROIPotential),
		or(p.Liquidity, DefaultLiquidity),
		or(p.GrowthPotential, DefaultGrowthPotential),
		or(p.YieldRate, DefaultYieldRate),
	}
}

// Build returns p's input vector for kind. Investment inputs depend on
// other models' outputs and are built with Investment; image kinds take
// descriptors from the imaging package.
func Build(p Property, kind common.ModelKind) (Vector, error) {
	var lat, lng float64
	if kind.IsSpatial() {
		var err error
		if lat, lng, err = p.Location(); err != nil {
			return nil, err
		}
	}

	switch kind {
	case common.KindHeatmap:
		return Heatmap(lat, lng, HeatmapAttributes{
			PropertyType:   p.PropertyType,
			Size:           p.Size,
			Age:            p.Age,
			AmenitiesScore: p.AmenitiesScore,
		}), nil

	case common.KindValuation:
		return Vector{
			lat,
			lng,
			or(p.Size, DefaultSize),
			or(p.Bedrooms, DefaultBedrooms),
			or(p.Bathrooms, DefaultBathrooms),
			or(p.Age, DefaultAge),
			or(p.AmenitiesCount, DefaultAmenitiesCount),
			or(p.DistrictScore, DefaultDistrictScore),
			or(p.MarketTrend, DefaultMarketTrend),
		}, nil

	case common.KindRisk:
		return Vector{
			or(p.Age, DefaultAge),
			or(p.LocationStability, DefaultLocationStability),
			or(p.MarketVolatility, DefaultMarketVolatility),
			or(p.DeveloperRating, DefaultDeveloperRating),
			or(p.LegalStatus, DefaultLegalStatus),
			or(p.FinancialLeverage, DefaultFinancialLeverage),
		}, nil

	case common.KindTrend:
		return trendSeries(p, lat, lng)

	case common.KindInvestment:
		return nil, errors.InvalidFeature("investment features are derived from valuation, risk and trend predictions")
	}
	return nil, errors.InvalidFeature(fmt.Sprintf("no property features for model kind %q", kind))
}

// trendSeries flattens the 12x3 market history. Without a supplied history
// the series is generated from a seed derived from the coordinates, so the
// same location always yields the same input.
func trendSeries(p Property, lat, lng float64) (Vector, error) {
	out := make(Vector, 0, TrendMonths*3)
	if len(p.History) > 0 {
		if len(p.History) != TrendMonths {
			return nil, errors.InvalidFeature(fmt.Sprintf("market history needs %d months, got %d", TrendMonths, len(p.History)))
		}
		for _, o := range p.History {
			out = append(out, o.Price, o.Volume, o.Economic)
		}
		return out, nil
	}

	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(lat))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(lng))
	h.Write(buf[:])
	r := rand.New(rand.NewSource(int64(h.Sum64())))
	for i := 0; i < TrendMonths*3; i++ {
		out = append(out, r.Float64())
	}
	return out, nil
}

// Stack copies equal-width vectors into a matrix with width columns.
func Stack(rows []Vector, width int) (*nn.Matrix, error) {
	m := nn.NewMatrix(len(rows), width)
	for i, r := range rows {
		if len(r) != width {
			return nil, errors.ShapeMismatch(fmt.Sprintf("row %d has %d features, want %d", i, len(r), width))
		}
		copy(m.Row(i), r)
	}
	return m, nil
}
