package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/turtacn/GeoValue-Intelligence/internal/application/valuation"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/features"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

type analyzeOptions struct {
	file     string
	id       string
	lat      float64
	lng      float64
	property features.Property
}

func newAnalyzeCmd() *cobra.Command {
	o := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the valuation, risk, trend and investment models on one property",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := o.resolve(cmd)
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, cc *CLIContext, svc valuation.Service) error {
				a, err := svc.AnalyzeProperty(ctx, p)
				if err != nil {
					return err
				}
				return PrintResult(cmd, analysisView{a: a})
			})
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&o.file, "file", "f", "", "JSON file holding the property; flags override its fields")
	fl.StringVar(&o.id, "id", "", "property identifier")
	fl.Float64Var(&o.lat, "lat", 0, "latitude")
	fl.Float64Var(&o.lng, "lng", 0, "longitude")
	fl.Float64Var(&o.property.PropertyType, "type", 0, "property type code")
	fl.Float64Var(&o.property.Size, "size", 0, "size in sqm")
	fl.Float64Var(&o.property.Bedrooms, "bedrooms", 0, "bedrooms")
	fl.Float64Var(&o.property.Bathrooms, "bathrooms", 0, "bathrooms")
	fl.Float64Var(&o.property.Age, "age", 0, "building age in years")
	fl.Float64Var(&o.property.AmenitiesScore, "amenities-score", 0, "amenities score (0-1)")
	return cmd
}

func (o *analyzeOptions) resolve(cmd *cobra.Command) (features.Property, error) {
	p := features.Property{}
	if o.file != "" {
		data, err := os.ReadFile(o.file)
		if err != nil {
			return p, errors.InvalidParam("read property file: " + err.Error())
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return p, errors.InvalidParam("decode property file: " + err.Error())
		}
	}

	changed := cmd.Flags().Changed
	if changed("id") {
		p.ID = o.id
	}
	if changed("lat") {
		lat := o.lat
		p.Latitude = &lat
	}
	if changed("lng") {
		lng := o.lng
		p.Longitude = &lng
	}
	for name, pair := range map[string][2]*float64{
		"type":            {&p.PropertyType, &o.property.PropertyType},
		"size":            {&p.Size, &o.property.Size},
		"bedrooms":        {&p.Bedrooms, &o.property.Bedrooms},
		"bathrooms":       {&p.Bathrooms, &o.property.Bathrooms},
		"age":             {&p.Age, &o.property.Age},
		"amenities-score": {&p.AmenitiesScore, &o.property.AmenitiesScore},
	} {
		if changed(name) {
			*pair[0] = *pair[1]
		}
	}
	if p.ID == "" {
		p.ID = "cli"
	}
	return p, nil
}

type predictOptions struct {
	lat   float64
	lng   float64
	attrs features.HeatmapAttributes
}

func newPredictCmd() *cobra.Command {
	o := &predictOptions{}
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict value, demand, investment and risk at a coordinate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, cc *CLIContext, svc valuation.Service) error {
				p, err := svc.GetPredictionForLocation(ctx, o.lat, o.lng, o.attrs)
				if err != nil {
					return err
				}
				return PrintResult(cmd, predictionView{p: p})
			})
		},
	}

	fl := cmd.Flags()
	fl.Float64Var(&o.lat, "lat", 0, "latitude (required)")
	fl.Float64Var(&o.lng, "lng", 0, "longitude (required)")
	fl.Float64Var(&o.attrs.PropertyType, "type", 0, "property type code")
	fl.Float64Var(&o.attrs.Size, "size", 0, "size in sqm")
	fl.Float64Var(&o.attrs.Age, "age", 0, "building age in years")
	fl.Float64Var(&o.attrs.AmenitiesScore, "amenities-score", 0, "amenities score (0-1)")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")
	return cmd
}
