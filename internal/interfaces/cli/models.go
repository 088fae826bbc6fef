package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/turtacn/GeoValue-Intelligence/internal/application/valuation"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

func newUpdateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Fine-tune the heatmap model with observed samples",
		Long: "Read a JSON array of samples, or {\"samples\": [...]}, from --file or stdin\n" +
			"and fine-tune the heatmap model. Cached heatmaps are invalidated.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			samples, err := valuation.DecodeSamples(data)
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, cc *CLIContext, svc valuation.Service) error {
				res, err := svc.UpdateModelWithNewData(ctx, samples)
				if err != nil {
					return err
				}
				cc.Logger.Info("heatmap model updated",
					logging.String("version", res.Version),
					logging.Int("samples", len(samples)))
				return PrintResult(cmd, fineTuneView{r: res})
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "samples file, - for stdin")
	return cmd
}

func readInput(cmd *cobra.Command, file string) ([]byte, error) {
	var r io.Reader = cmd.InOrStdin()
	if file != "" && file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, errors.InvalidParam("open " + file + ": " + err.Error())
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.InvalidParam("read input: " + err.Error())
	}
	return data, nil
}

func newTrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "train",
		Aliases: []string{"models"},
		Short:   "Load or train the core models and list them",
		Long: "Load every core model from the artifact store, training and persisting\n" +
			"the ones that are missing, then print the registry.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, cc *CLIContext, svc valuation.Service) error {
				return PrintResult(cmd, modelsView(svc.Models()))
			})
		},
	}
}
