package features

import (
	"fmt"

	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/nn"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// Label defaults for observed samples that carry only a price.
const (
	DefaultDemandScore     = 70
	DefaultInvestmentScore = 70
	DefaultRiskScore       = 30
)

// Sample is an observed transaction used to fine-tune the heatmap model.
type Sample struct {
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	Type           float64  `json:"type,omitempty"`
	Size           float64  `json:"size,omitempty"`
	Age            float64  `json:"age,omitempty"`
	AmenitiesScore float64  `json:"amenities_score,omitempty"`

	PricePerSqm     float64 `json:"price_per_sqm,omitempty"`
	Value           float64 `json:"value,omitempty"`
	DemandScore     float64 `json:"demand_score,omitempty"`
	InvestmentScore float64 `json:"investment_score,omitempty"`
	RiskScore       float64 `json:"risk_score,omitempty"`
}

// HeatmapTrainingSet converts samples into heatmap features and
// [value, demand, investment, risk] labels. The value label is the price
// per square metre, falling back to the total value.
func HeatmapTrainingSet(samples []Sample) (x, y *nn.Matrix, err error) {
	if len(samples) == 0 {
		return nil, nil, errors.InvalidFeature("no samples")
	}
	desc := common.MustDescribe(common.KindHeatmap)
	x = nn.NewMatrix(len(samples), desc.InputWidth)
	y = nn.NewMatrix(len(samples), desc.OutputWidth())
	for i, s := range samples {
		lat, lng, err := Property{Latitude: s.Latitude, Longitude: s.Longitude}.Location()
		if err != nil {
			return nil, nil, errors.InvalidFeature(fmt.Sprintf("sample %d: %s", i, err.Error()))
		}
		value := or(s.PricePerSqm, s.Value)
		if value == 0 {
			return nil, nil, errors.InvalidFeature(fmt.Sprintf("sample %d has neither price_per_sqm nor value", i))
		}
		copy(x.Row(i), Heatmap(lat, lng, HeatmapAttributes{
			PropertyType:   s.Type,
			Size:           s.Size,
			Age:            s.Age,
			AmenitiesScore: s.AmenitiesScore,
		}))
		copy(y.Row(i), []float64{
			value,
			or(s.DemandScore, DefaultDemandScore),
			or(s.InvestmentScore, DefaultInvestmentScore),
			or(s.RiskScore, DefaultRiskScore),
		})
	}
	return x, y, nil
}
