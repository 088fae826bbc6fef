package heatmap

import (
	"context"
	"math"

	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/features"
)

// earthRadiusKm is the mean Earth radius used by Haversine.
const earthRadiusKm = 6371.0

// kmPerDegree converts an arc in degrees of latitude to kilometres.
const kmPerDegree = 111.32

// PrimeArea is a circular premium district.
type PrimeArea struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// Radius is in degrees of arc.
	Radius float64 `json:"radius"`
}

// PrimeAreas are the districts that raise location confidence.
var PrimeAreas = []PrimeArea{
	{Name: "Dubai Marina", Latitude: 25.0760, Longitude: 55.1302, Radius: 0.02},
	{Name: "Downtown Dubai", Latitude: 25.2048, Longitude: 55.2708, Radius: 0.015},
	{Name: "Abu Dhabi Central", Latitude: 24.4539, Longitude: 54.3773, Radius: 0.02},
	{Name: "DIFC", Latitude: 25.1972, Longitude: 55.2744, Radius: 0.01},
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// PrimeAreaAt returns the first prime area containing the coordinate.
func PrimeAreaAt(lat, lng float64) (PrimeArea, bool) {
	for _, a := range PrimeAreas {
		if Haversine(lat, lng, a.Latitude, a.Longitude) <= a.Radius*kmPerDegree {
			return a, true
		}
	}
	return PrimeArea{}, false
}

// LocationConfidence is 0.9 inside a prime area and 0.8 elsewhere.
func LocationConfidence(lat, lng float64) float64 {
	factor := 0.1
	if _, ok := PrimeAreaAt(lat, lng); ok {
		factor = 0.2
	}
	return math.Min(0.95, 0.7+factor)
}

// Recommendation buckets investment and risk scores on a 0-100 scale.
func Recommendation(investment, risk float64) string {
	switch {
	case investment > 80 && risk < 20:
		return "Excellent investment opportunity"
	case investment > 60 && risk < 40:
		return "Good investment potential"
	case investment > 40 && risk < 60:
		return "Moderate investment option"
	default:
		return "High risk investment"
	}
}

// LocationPrediction is the heatmap model's view of one coordinate.
type LocationPrediction struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Value          float64 `json:"value"`
	Demand         float64 `json:"demand"`
	Investment     float64 `json:"investment"`
	Risk           float64 `json:"risk"`
	Intensity      float64 `json:"intensity"`
	Confidence     float64 `json:"confidence"`
	PrimeArea      string  `json:"prime_area,omitempty"`
	Recommendation string  `json:"recommendation"`
}

// PredictLocation runs a single heatmap model call for lat, lng.
func (e *Evaluator) PredictLocation(ctx context.Context, lat, lng float64, attrs features.HeatmapAttributes) (*LocationPrediction, error) {
	if _, _, err := features.Coordinates(lat, lng).Location(); err != nil {
		return nil, err
	}
	out, err := e.predictBatch(ctx, []GridPoint{{Latitude: lat, Longitude: lng}}, attrs)
	if err != nil {
		return nil, err
	}
	row := out.Row(0)
	p := &LocationPrediction{
		Latitude:       lat,
		Longitude:      lng,
		Value:          row[0],
		Demand:         row[1],
		Investment:     row[2],
		Risk:           row[3],
		Intensity:      e.calibration.Normalize(row[0]),
		Confidence:     LocationConfidence(lat, lng),
		Recommendation: Recommendation(row[2], row[3]),
	}
	if a, ok := PrimeAreaAt(lat, lng); ok {
		p.PrimeArea = a.Name
	}
	return p, nil
}
