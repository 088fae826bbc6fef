// Package bootstrap produces the synthetic training sets used to train a
// model kind from scratch when no persisted weights exist. The data encodes
// domain priors for the UAE property market: prime-location multipliers, age
// depreciation and district scores.
package bootstrap

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/nn"
)

// PrimeLocation is a named market with a price multiplier.
type PrimeLocation struct {
	Name       string
	Lat        float64
	Lng        float64
	Multiplier float64
}

// PrimeLocations anchors the heatmap training set.
var PrimeLocations = []PrimeLocation{
	{Name: "Dubai Marina", Lat: 25.0760, Lng: 55.1302, Multiplier: 1.8},
	{Name: "Downtown Dubai", Lat: 25.2048, Lng: 55.2708, Multiplier: 2.2},
	{Name: "Abu Dhabi Central", Lat: 24.4539, Lng: 54.3773, Multiplier: 1.9},
	{Name: "DIFC", Lat: 25.1972, Lng: 55.2744, Multiplier: 2.0},
	{Name: "JBR", Lat: 25.1127, Lng: 55.1390, Multiplier: 1.7},
	{Name: "Saadiyat Island", Lat: 24.4219, Lng: 54.4319, Multiplier: 2.1},
	{Name: "Palm Jumeirah", Lat: 25.0657, Lng: 55.1713, Multiplier: 2.5},
	{Name: "Business Bay", Lat: 25.0343, Lng: 55.1413, Multiplier: 1.6},
	{Name: "Al Reem Island", Lat: 24.3700, Lng: 54.4217, Multiplier: 1.8},
	{Name: "Jumeirah Lakes Towers", Lat: 25.0925, Lng: 55.1562, Multiplier: 1.5},
}

// DefaultSamples is the training set size per kind.
var DefaultSamples = map[common.ModelKind]int{
	common.KindHeatmap:           1000,
	common.KindValuation:         2000,
	common.KindRisk:              1500,
	common.KindTrend:             1000,
	common.KindInvestment:        1800,
	common.KindImagePropertyType: 1000,
	common.KindImageCondition:    800,
	common.KindImageFeatures:     1200,
	common.KindImageRoom:         700,
	common.KindImagePrice:        900,
}

// Generator builds synthetic datasets. Each kind draws from its own
// generator seeded from Seed, so a kind's data does not depend on which
// other kinds were generated before it.
type Generator struct {
	Seed int64
}

// NewGenerator returns a Generator for seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{Seed: seed}
}

// Generate returns n rows of features and labels for kind. n <= 0 selects
// DefaultSamples.
func (g *Generator) Generate(kind common.ModelKind, n int) (x, y *nn.Matrix, err error) {
	if n <= 0 {
		n = DefaultSamples[kind]
	}
	if n <= 0 {
		return nil, nil, fmt.Errorf("bootstrap: no sample count for kind %q", kind)
	}
	rng := rand.New(rand.NewSource(g.Seed + kindOffset(kind)))

	var fill func(r *rand.Rand, xr, yr []float64)
	switch kind {
	case common.KindHeatmap:
		fill = heatmapRow
	case common.KindValuation:
		fill = valuationRow
	case common.KindRisk:
		fill = riskRow
	case common.KindTrend:
		fill = trendRow
	case common.KindInvestment:
		fill = investmentRow
	case common.KindImagePropertyType, common.KindImageCondition, common.KindImageRoom:
		fill = imageClassRow
	case common.KindImageFeatures:
		fill = imageFeatureRow
	case common.KindImagePrice:
		fill = imagePriceRow
	default:
		return nil, nil, fmt.Errorf("bootstrap: unsupported kind %q", kind)
	}

	desc := common.MustDescribe(kind)
	x = nn.NewMatrix(n, desc.InputWidth)
	y = nn.NewMatrix(n, desc.OutputWidth())
	for i := 0; i < n; i++ {
		fill(rng, x.Row(i), y.Row(i))
	}
	return x, y, nil
}

func kindOffset(kind common.ModelKind) int64 {
	var h int64
	for _, c := range kind {
		h = h*31 + int64(c)
	}
	return h
}

func uniform(r *rand.Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// ---------------------------------------------------------------------------
// Core kinds
// ---------------------------------------------------------------------------

func heatmapRow(r *rand.Rand, x, y []float64) {
	loc := PrimeLocations[r.Intn(len(PrimeLocations))]
	lat := loc.Lat + (r.Float64()-0.5)*0.02
	lng := loc.Lng + (r.Float64()-0.5)*0.02
	propertyType := float64(r.Intn(5))
	size := uniform(r, 50, 550)
	age := uniform(r, 0, 20)
	amenities := uniform(r, 0, 100)

	base := 5000 + size*8 + amenities*20
	value := base * loc.Multiplier * (1 - age*0.02)

	copy(x, []float64{lat, lng, propertyType, size, age, amenities})
	copy(y, []float64{value, uniform(r, 60, 100), uniform(r, 50, 100), uniform(r, 0, 50)})
}

func valuationRow(r *rand.Rand, x, y []float64) {
	lat := uniform(r, 24, 26)
	lng := uniform(r, 54, 56)
	size := uniform(r, 50, 550)
	bedrooms := float64(1 + r.Intn(5))
	bathrooms := float64(1 + r.Intn(4))
	age := uniform(r, 0, 20)
	amenities := float64(r.Intn(20))
	district := uniform(r, 50, 100)
	trend := uniform(r, 0.95, 1.10)

	base := 5000 + size*8 + bedrooms*50000 + bathrooms*30000
	value := base * (1 - age*0.02) * (district / 100) * trend

	copy(x, []float64{lat, lng, size, bedrooms, bathrooms, age, amenities, district, trend})
	copy(y, []float64{value, uniform(r, 0.7, 1.0), value / size, uniform(r, 0, 100)})
}

// riskRow clamps labels into [0,1] for the sigmoid heads.
func riskRow(r *rand.Rand, x, y []float64) {
	age := uniform(r, 0, 20)
	stability := r.Float64()
	volatility := r.Float64()
	rating := uniform(r, 1, 5)
	legal := 0.0
	if r.Float64() > 0.1 {
		legal = 1
	}
	leverage := r.Float64()

	overall := (age*0.02 + volatility*0.4 + leverage*0.3 + (1-stability)*0.3) / 4
	liquidity := volatility*0.6 + leverage*0.4
	market := volatility*0.8 + age*0.01
	credit := leverage*0.7 + (1-legal)*0.3
	operational := age*0.03 + (5-rating)*0.2

	copy(x, []float64{age, stability, volatility, rating, legal, leverage})
	copy(y, []float64{clamp01(overall), clamp01(liquidity), clamp01(market), clamp01(credit), clamp01(operational)})
}

// trendRow writes a 12-month [price, volume, economic] series, month-major.
func trendRow(r *rand.Rand, x, y []float64) {
	price := uniform(r, 5000, 15000)
	trend := uniform(r, -0.1, 0.1)
	for month := 0; month < 12; month++ {
		noise := (r.Float64() - 0.5) * 0.1
		price *= 1 + trend + noise
		x[month*3] = price / 10000
		x[month*3+1] = uniform(r, 50, 250) / 250
		x[month*3+2] = uniform(r, 0.5, 1)
	}
	copy(y, []float64{trend, math.Abs(trend) * 5, uniform(r, 3, 12), uniform(r, 0, 0.5)})
}

// investmentRow uses the safety score (1-risk) in column 1, matching the
// features assembled at analysis time.
func investmentRow(r *rand.Rand, x, y []float64) {
	valuation := r.Float64()
	risk := r.Float64()
	trend := r.Float64()
	roi := uniform(r, 0.05, 0.20)
	liquidity := r.Float64()
	growth := r.Float64()
	yield := uniform(r, 0.03, 0.15)

	overall := valuation*0.25 + (1-risk)*0.2 + trend*0.2 + roi*5*0.15 + liquidity*0.1 + growth*0.1
	short := overall * uniform(r, 0.8, 1.2)
	long := overall * uniform(r, 0.9, 1.1)
	adjusted := overall * (1 - risk*0.3)

	copy(x, []float64{valuation, 1 - risk, trend, roi, liquidity, growth, yield})
	copy(y, []float64{clamp01(overall), clamp01(short), clamp01(long), clamp01(adjusted)})
}

// ---------------------------------------------------------------------------
// Image heads
// ---------------------------------------------------------------------------

// Synthetic descriptors are noisy thumbnails where the label brightens a
// band of cells. The heads therefore have a learnable signal while the
// background stays random.

func noiseDescriptor(r *rand.Rand, x []float64) {
	for i := range x {
		x[i] = 0.6 * r.Float64()
	}
}

func brighten(x []float64, band, bands int) {
	width := len(x) / bands
	for i := band * width; i < (band+1)*width; i++ {
		x[i] = clamp01(x[i] + 0.4)
	}
}

func imageClassRow(r *rand.Rand, x, y []float64) {
	noiseDescriptor(r, x)
	class := r.Intn(len(y))
	brighten(x, class, len(y))
	for i := range y {
		y[i] = 0
	}
	y[class] = 1
}

func imageFeatureRow(r *rand.Rand, x, y []float64) {
	noiseDescriptor(r, x)
	for j := range y {
		y[j] = 0
		if r.Float64() > 0.7 {
			y[j] = 1
			brighten(x, j, len(y))
		}
	}
}

func imagePriceRow(r *rand.Rand, x, y []float64) {
	price := uniform(r, 500000, 5000000)
	normalized := price / 5000000
	for i := range x {
		x[i] = clamp01(0.5*r.Float64() + 0.5*normalized)
	}
	y[0] = normalized
}
