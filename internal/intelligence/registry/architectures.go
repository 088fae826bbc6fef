package registry

import (
	"fmt"

	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/nn"
)

const l2Factor = 0.001

// buildNetwork instantiates the untrained network for kind.
func buildNetwork(desc common.ModelDescriptor, seed int64) (*nn.Network, error) {
	out := desc.OutputWidth()
	var layers []nn.Layer

	switch desc.Kind {
	case common.KindHeatmap:
		layers = []nn.Layer{
			nn.NewDense(64, nn.ReLU), nn.NewDropout(0.2),
			nn.NewDense(128, nn.ReLU), nn.NewDropout(0.3),
			nn.NewDense(64, nn.ReLU), nn.NewDropout(0.2),
			nn.NewDense(32, nn.ReLU),
			nn.NewDense(16, nn.ReLU),
			nn.NewDense(out, nn.Linear),
		}
	case common.KindValuation:
		layers = []nn.Layer{
			nn.NewDense(128, nn.ReLU, nn.WithL2(l2Factor)), nn.NewBatchNorm(), nn.NewDropout(0.3),
			nn.NewDense(256, nn.ReLU, nn.WithL2(l2Factor)), nn.NewBatchNorm(), nn.NewDropout(0.4),
			nn.NewDense(128, nn.ReLU), nn.NewDropout(0.3),
			nn.NewDense(64, nn.ReLU), nn.NewDropout(0.2),
			nn.NewDense(out, nn.Linear),
		}
	case common.KindRisk:
		layers = []nn.Layer{
			nn.NewDense(64, nn.ReLU), nn.NewDropout(0.2),
			nn.NewDense(128, nn.ReLU), nn.NewDropout(0.3),
			nn.NewDense(64, nn.ReLU), nn.NewDropout(0.2),
			nn.NewDense(32, nn.ReLU),
			nn.NewDense(out, nn.Sigmoid),
		}
	case common.KindTrend:
		layers = []nn.Layer{
			nn.NewLSTM(64, desc.SeqLen, true), nn.NewDropout(0.2),
			nn.NewLSTM(32, desc.SeqLen, false), nn.NewDropout(0.2),
			nn.NewDense(32, nn.ReLU),
			nn.NewDense(out, nn.Linear),
		}
	case common.KindInvestment:
		layers = []nn.Layer{
			nn.NewDense(128, nn.ReLU), nn.NewBatchNorm(), nn.NewDropout(0.3),
			nn.NewDense(256, nn.ReLU), nn.NewBatchNorm(), nn.NewDropout(0.4),
			nn.NewDense(128, nn.ReLU), nn.NewDropout(0.3),
			nn.NewDense(64, nn.ReLU),
			nn.NewDense(out, nn.Sigmoid),
		}
	case common.KindImagePropertyType, common.KindImageCondition, common.KindImageRoom:
		layers = imageTrunk(nn.NewDense(out, nn.Softmax))
	case common.KindImageFeatures:
		layers = imageTrunk(nn.NewDense(out, nn.Sigmoid))
	case common.KindImagePrice:
		layers = imageTrunk(nn.NewDense(out, nn.Linear))
	default:
		return nil, fmt.Errorf("no architecture for kind %q", desc.Kind)
	}
	return nn.New(desc.InputWidth, lossFor(desc.Loss), seed, layers...)
}

// imageTrunk is the dense head shared by the photo models.
func imageTrunk(head nn.Layer) []nn.Layer {
	return []nn.Layer{
		nn.NewDense(128, nn.ReLU), nn.NewDropout(0.5),
		nn.NewDense(64, nn.ReLU), nn.NewDropout(0.3),
		head,
	}
}

func lossFor(l common.LossKind) nn.Loss {
	switch l {
	case common.LossBCE:
		return nn.BinaryCrossEntropy
	case common.LossCCE:
		return nn.CategoricalCrossEntropy
	default:
		return nn.MeanSquaredError
	}
}
