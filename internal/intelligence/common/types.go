package common

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// ModelKind
// ---------------------------------------------------------------------------

// ModelKind identifies one of the engine's prediction models.
type ModelKind string

const (
	KindHeatmap    ModelKind = "heatmap"
	KindValuation  ModelKind = "valuation"
	KindRisk       ModelKind = "risk"
	KindTrend      ModelKind = "trend"
	KindInvestment ModelKind = "investment"

	KindImagePropertyType ModelKind = "image_property_type"
	KindImageCondition    ModelKind = "image_condition"
	KindImageFeatures     ModelKind = "image_features"
	KindImageRoom         ModelKind = "image_room"
	KindImagePrice        ModelKind = "image_price"
)

func (k ModelKind) String() string { return string(k) }

// IsImage reports whether k is one of the photo analysis heads.
func (k ModelKind) IsImage() bool {
	switch k {
	case KindImagePropertyType, KindImageCondition, KindImageFeatures, KindImageRoom, KindImagePrice:
		return true
	}
	return false
}

// IsSpatial reports whether k requires latitude and longitude.
func (k ModelKind) IsSpatial() bool {
	return k == KindHeatmap || k == KindValuation || k == KindTrend
}

// ---------------------------------------------------------------------------
// LossKind
// ---------------------------------------------------------------------------

// LossKind names the training objective of a model.
type LossKind string

const (
	LossMSE LossKind = "mse"
	LossBCE LossKind = "binary_crossentropy"
	LossCCE LossKind = "categorical_crossentropy"
)

// BackendType identifies the inference backend serving a kind.
type BackendType string

const (
	BackendNative BackendType = "native"
	BackendONNX   BackendType = "onnx"
)

// ---------------------------------------------------------------------------
// ModelDescriptor
// ---------------------------------------------------------------------------

// ModelDescriptor is the static description of a model kind: its I/O layout,
// training schedule and the version stamped on freshly trained weights.
type ModelDescriptor struct {
	Kind    ModelKind `json:"kind"`
	Version string    `json:"version"`

	// InputWidth is the flattened feature width. Sequence models also set
	// SeqLen and SeqFeatures with InputWidth = SeqLen*SeqFeatures.
	InputWidth  int `json:"input_width"`
	SeqLen      int `json:"seq_len,omitempty"`
	SeqFeatures int `json:"seq_features,omitempty"`

	Outputs []string `json:"outputs"`
	Loss    LossKind `json:"loss"`

	Epochs    int `json:"epochs"`
	BatchSize int `json:"batch_size"`

	// ProgressEvery is the epoch interval between training_progress events.
	ProgressEvery int `json:"progress_every"`

	// ScaleOutputs standardizes regression targets during training.
	ScaleOutputs bool `json:"scale_outputs"`
}

// OutputWidth returns the number of model outputs.
func (d ModelDescriptor) OutputWidth() int { return len(d.Outputs) }

// ImageDescriptorWidth is the flattened 8x8 RGB thumbnail fed to image heads.
const ImageDescriptorWidth = 8 * 8 * 3

var descriptors = map[ModelKind]ModelDescriptor{
	KindHeatmap: {
		Kind: KindHeatmap, Version: "1.0.0", InputWidth: 6,
		Outputs: []string{"value", "demand", "investment", "risk"},
		Loss:    LossMSE, Epochs: 50, BatchSize: 32, ProgressEvery: 10, ScaleOutputs: true,
	},
	KindValuation: {
		Kind: KindValuation, Version: "1.2.0", InputWidth: 9,
		Outputs: []string{"estimated_value", "confidence", "price_per_sqm", "market_position"},
		Loss:    LossMSE, Epochs: 100, BatchSize: 32, ProgressEvery: 10, ScaleOutputs: true,
	},
	KindRisk: {
		Kind: KindRisk, Version: "1.1.0", InputWidth: 6,
		Outputs: []string{"overall", "liquidity", "market", "credit", "operational"},
		Loss:    LossBCE, Epochs: 80, BatchSize: 32, ProgressEvery: 10,
	},
	KindTrend: {
		Kind: KindTrend, Version: "1.0.0", InputWidth: 36, SeqLen: 12, SeqFeatures: 3,
		Outputs: []string{"direction", "strength", "duration", "volatility"},
		Loss:    LossMSE, Epochs: 60, BatchSize: 16, ProgressEvery: 10, ScaleOutputs: true,
	},
	KindInvestment: {
		Kind: KindInvestment, Version: "1.3.0", InputWidth: 7,
		Outputs: []string{"overall", "short_term", "long_term", "risk_adjusted"},
		Loss:    LossMSE, Epochs: 120, BatchSize: 32, ProgressEvery: 10,
	},
	KindImagePropertyType: {
		Kind: KindImagePropertyType, Version: "1.0.0", InputWidth: ImageDescriptorWidth,
		Outputs: []string{"apartment", "villa", "townhouse", "office", "retail", "warehouse"},
		Loss:    LossCCE, Epochs: 50, BatchSize: 16, ProgressEvery: 1,
	},
	KindImageCondition: {
		Kind: KindImageCondition, Version: "1.0.0", InputWidth: ImageDescriptorWidth,
		Outputs: []string{"excellent", "good", "fair", "poor"},
		Loss:    LossCCE, Epochs: 40, BatchSize: 16, ProgressEvery: 1,
	},
	KindImageFeatures: {
		Kind: KindImageFeatures, Version: "1.0.0", InputWidth: ImageDescriptorWidth,
		Outputs: []string{
			"swimming_pool", "garden", "parking", "balcony", "gym", "security",
			"elevator", "central_ac", "kitchen_modern", "bathroom_modern",
			"marble_flooring", "wooden_flooring", "ceramic_tiles", "granite_counters",
			"built_in_wardrobes", "maid_room", "driver_room", "study_room",
		},
		Loss: LossBCE, Epochs: 45, BatchSize: 12, ProgressEvery: 1,
	},
	KindImageRoom: {
		Kind: KindImageRoom, Version: "1.0.0", InputWidth: ImageDescriptorWidth,
		Outputs: []string{"living_room", "bedroom", "kitchen", "bathroom", "dining", "balcony", "study"},
		Loss:    LossCCE, Epochs: 35, BatchSize: 16, ProgressEvery: 1,
	},
	KindImagePrice: {
		Kind: KindImagePrice, Version: "1.0.0", InputWidth: ImageDescriptorWidth,
		Outputs: []string{"normalized_price"},
		Loss:    LossMSE, Epochs: 60, BatchSize: 8, ProgressEvery: 1,
	},
}

// Describe returns the descriptor registered for kind.
func Describe(kind ModelKind) (ModelDescriptor, error) {
	d, ok := descriptors[kind]
	if !ok {
		return ModelDescriptor{}, fmt.Errorf("unknown model kind %q", kind)
	}
	d.Outputs = append([]string(nil), d.Outputs...)
	return d, nil
}

// MustDescribe is Describe for kinds known at compile time.
func MustDescribe(kind ModelKind) ModelDescriptor {
	d, err := Describe(kind)
	if err != nil {
		panic(err)
	}
	return d
}

// CoreKinds are the five numeric models owned by the valuation engine.
func CoreKinds() []ModelKind {
	return []ModelKind{KindHeatmap, KindValuation, KindRisk, KindTrend, KindInvestment}
}

// ImageKinds are the photo analysis heads.
func ImageKinds() []ModelKind {
	return []ModelKind{KindImagePropertyType, KindImageCondition, KindImageFeatures, KindImageRoom, KindImagePrice}
}

// AllKinds returns every registered kind in a stable order.
func AllKinds() []ModelKind {
	out := make([]ModelKind, 0, len(descriptors))
	for k := range descriptors {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
