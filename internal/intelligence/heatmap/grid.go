// Package heatmap evaluates the heatmap model over a geographic lattice and
// filters, ranks and interprets the resulting points.
package heatmap

import (
	"math"

	"github.com/turtacn/GeoValue-Intelligence/internal/config"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// Bounds is a bounding box in decimal degrees.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// UAEBounds covers the United Arab Emirates.
var UAEBounds = Bounds{North: 26.084, South: 22.633, East: 56.396, West: 51.583}

// DefaultResolution yields a 51x51 lattice.
const DefaultResolution = 50

// BoundsFromConfig converts the configured bounding box.
func BoundsFromConfig(c config.BoundsConfig) Bounds {
	return Bounds{North: c.North, South: c.South, East: c.East, West: c.West}
}

// Validate rejects inverted, empty or non-finite boxes.
func (b Bounds) Validate() error {
	for _, v := range []float64{b.North, b.South, b.East, b.West} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.InvalidParam("bounds must be finite")
		}
	}
	if b.North <= b.South || b.East <= b.West {
		return errors.Newf(errors.CodeInvalidParam, "invalid bounds n=%g s=%g e=%g w=%g", b.North, b.South, b.East, b.West)
	}
	if b.North > 90 || b.South < -90 || b.East > 180 || b.West < -180 {
		return errors.InvalidParam("bounds exceed the coordinate range")
	}
	return nil
}

// GridPoint is one lattice coordinate.
type GridPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GenerateGrid returns the (resolution+1)^2 lattice over b, south to north,
// and west to east within each row.
func GenerateGrid(b Bounds, resolution int) ([]GridPoint, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if resolution < 1 {
		return nil, errors.Newf(errors.CodeInvalidParam, "resolution must be positive, got %d", resolution)
	}
	latStep := (b.North - b.South) / float64(resolution)
	lngStep := (b.East - b.West) / float64(resolution)
	points := make([]GridPoint, 0, (resolution+1)*(resolution+1))
	for i := 0; i <= resolution; i++ {
		for j := 0; j <= resolution; j++ {
			points = append(points, GridPoint{
				Latitude:  b.South + float64(i)*latStep,
				Longitude: b.West + float64(j)*lngStep,
			})
		}
	}
	return points, nil
}

// Chunk splits points into consecutive batches of at most size.
func Chunk(points []GridPoint, size int) [][]GridPoint {
	if size < 1 {
		size = len(points)
	}
	var out [][]GridPoint
	for start := 0; start < len(points); start += size {
		end := start + size
		if end > len(points) {
			end = len(points)
		}
		out = append(out, points[start:end])
	}
	return out
}
