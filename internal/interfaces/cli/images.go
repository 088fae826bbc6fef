package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/turtacn/GeoValue-Intelligence/internal/application/valuation"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/imaging"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

func newImagesCmd() *cobra.Command {
	var threshold float64
	cmd := &cobra.Command{
		Use:   "images URI [URI...]",
		Short: "Analyze property photographs",
		Long: "Classify type, condition and room, detect amenities and estimate a price\n" +
			"from each photo. URIs are file paths, file:// or, with MinIO storage, s3://bucket/key.\n" +
			"More than one URI runs a bulk analysis that reports per-photo failures.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if threshold < 0 || threshold >= 1 {
				return errors.InvalidParam("threshold must be in [0, 1)")
			}
			opts := imaging.Options{FeatureThreshold: threshold}
			return withService(cmd, func(ctx context.Context, cc *CLIContext, svc valuation.Service) error {
				if len(args) == 1 {
					a, err := svc.AnalyzeImage(ctx, args[0], opts)
					if err != nil {
						return err
					}
					return PrintResult(cmd, singleImageView{imageView: imageView{results: []*imaging.Analysis{a}}, a: a})
				}
				res, err := svc.AnalyzeImagesBulk(ctx, args, opts)
				if err != nil {
					return err
				}
				return PrintResult(cmd, bulkImageView{imageView: imageView{results: res.Results}, r: res})
			})
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "feature detection threshold (0 uses the default)")
	return cmd
}
