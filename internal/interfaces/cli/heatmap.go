package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/turtacn/GeoValue-Intelligence/internal/application/valuation"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/heatmap"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

type heatmapOptions struct {
	propertyType   float64
	size           float64
	age            float64
	amenitiesScore float64

	minValue      float64
	maxValue      float64
	minDemand     float64
	minInvestment float64
	maxRisk       float64
	maxPoints     int
	top           int
}

func newHeatmapCmd() *cobra.Command {
	o := &heatmapOptions{}
	cmd := &cobra.Command{
		Use:   "heatmap",
		Short: "Generate the property value heatmap",
		Long: "Evaluate the heatmap model over the configured grid and print the points\n" +
			"ranked by value. Predicate flags are applied only when set.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := o.filters(cmd)
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, cc *CLIContext, svc valuation.Service) error {
				points, err := svc.GenerateHeatmap(ctx, f)
				if err != nil {
					return err
				}
				return PrintResult(cmd, heatmapView{points: points, top: o.top})
			})
		},
	}

	fl := cmd.Flags()
	fl.Float64Var(&o.propertyType, "type", 0, "property type code used at every grid point")
	fl.Float64Var(&o.size, "size", 0, "property size in sqm")
	fl.Float64Var(&o.age, "age", 0, "building age in years")
	fl.Float64Var(&o.amenitiesScore, "amenities-score", 0, "amenities score (0-1)")
	fl.Float64Var(&o.minValue, "min-value", 0, "minimum AED/sqm")
	fl.Float64Var(&o.maxValue, "max-value", 0, "maximum AED/sqm")
	fl.Float64Var(&o.minDemand, "min-demand", 0, "minimum demand probability")
	fl.Float64Var(&o.minInvestment, "min-investment", 0, "minimum investment score")
	fl.Float64Var(&o.maxRisk, "max-risk", 0, "maximum risk probability")
	fl.IntVar(&o.maxPoints, "max-points", 0, "truncate the ranked result (0 keeps all)")
	fl.IntVar(&o.top, "top", 20, "rows shown in text output (0 shows all)")
	return cmd
}

// filters maps flags onto heatmap.Filters. Predicates are set only for flags
// the user changed so that an explicit zero still constrains.
func (o *heatmapOptions) filters(cmd *cobra.Command) (heatmap.Filters, error) {
	var f heatmap.Filters
	f.PropertyType = o.propertyType
	f.Size = o.size
	f.Age = o.age
	f.AmenitiesScore = o.amenitiesScore
	if o.maxPoints < 0 {
		return f, errors.InvalidParam("max-points must not be negative")
	}
	f.MaxPoints = o.maxPoints

	set := func(name string, v float64) *float64 {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		return &v
	}
	f.MinValue = set("min-value", o.minValue)
	f.MaxValue = set("max-value", o.maxValue)
	f.MinDemand = set("min-demand", o.minDemand)
	f.MinInvestment = set("min-investment", o.minInvestment)
	f.MaxRisk = set("max-risk", o.maxRisk)

	if f.MinValue != nil && f.MaxValue != nil && *f.MinValue > *f.MaxValue {
		return f, errors.InvalidParam("min-value exceeds max-value")
	}
	return f, nil
}
