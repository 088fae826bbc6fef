package nn

import (
	"encoding/json"
	"fmt"
)

// snapshotFormat is bumped whenever the encoded layout changes.
const snapshotFormat = 1

// LayerSpec is the serialized form of one layer: its architecture plus weights.
type LayerSpec struct {
	Type            string               `json:"type"`
	Units           int                  `json:"units,omitempty"`
	Activation      Activation           `json:"activation,omitempty"`
	L2              float64              `json:"l2,omitempty"`
	Rate            float64              `json:"rate,omitempty"`
	Steps           int                  `json:"steps,omitempty"`
	ReturnSequences bool                 `json:"return_sequences,omitempty"`
	Momentum        float64              `json:"momentum,omitempty"`
	Epsilon         float64              `json:"epsilon,omitempty"`
	Weights         map[string][]float64 `json:"weights,omitempty"`
}

// Snapshot is the serialized form of a Network.
type Snapshot struct {
	Format       int           `json:"format"`
	InputWidth   int           `json:"input_width"`
	Loss         Loss          `json:"loss"`
	Optimizer    Adam          `json:"optimizer"`
	Layers       []LayerSpec   `json:"layers"`
	InputScaler  *Standardizer `json:"input_scaler,omitempty"`
	OutputScaler *Standardizer `json:"output_scaler,omitempty"`
}

func (d *Dense) spec() LayerSpec {
	return LayerSpec{
		Type: d.Type(), Units: d.Units, Activation: d.Activation, L2: d.L2,
		Weights: map[string][]float64{"kernel": d.w.Value, "bias": d.b.Value},
	}
}

func (d *Dropout) spec() LayerSpec { return LayerSpec{Type: d.Type(), Rate: d.Rate} }

func (b *BatchNorm) spec() LayerSpec {
	return LayerSpec{
		Type: b.Type(), Momentum: b.Momentum, Epsilon: b.Epsilon,
		Weights: map[string][]float64{
			"gamma": b.gamma.Value, "beta": b.beta.Value,
			"moving_mean": b.runMean, "moving_variance": b.runVar,
		},
	}
}

func (l *LSTM) spec() LayerSpec {
	return LayerSpec{
		Type: l.Type(), Units: l.Units, Steps: l.Steps, ReturnSequences: l.ReturnSequences,
		Weights: map[string][]float64{"kernel": l.w.Value, "recurrent_kernel": l.u.Value, "bias": l.b.Value},
	}
}

// Snapshot captures the architecture and weights of n.
func (n *Network) Snapshot() (*Snapshot, error) {
	if n.released {
		return nil, ErrReleased
	}
	s := &Snapshot{
		Format:       snapshotFormat,
		InputWidth:   n.inputWidth,
		Loss:         n.loss,
		Optimizer:    n.optimizer,
		InputScaler:  n.inputScaler,
		OutputScaler: n.outputScaler,
	}
	for _, l := range n.layers {
		s.Layers = append(s.Layers, l.spec())
	}
	return s, nil
}

// MarshalBinary encodes n as JSON.
func (n *Network) MarshalBinary() ([]byte, error) {
	s, err := n.Snapshot()
	if err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

// Unmarshal decodes a Network previously encoded with MarshalBinary.
func Unmarshal(data []byte) (*Network, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("nn: decode snapshot: %w", err)
	}
	return FromSnapshot(&s)
}

// FromSnapshot rebuilds a Network and checks every weight tensor's size.
func FromSnapshot(s *Snapshot) (*Network, error) {
	if s.Format != snapshotFormat {
		return nil, fmt.Errorf("nn: unsupported snapshot format %d", s.Format)
	}
	layers := make([]Layer, 0, len(s.Layers))
	for i, ls := range s.Layers {
		switch ls.Type {
		case "dense":
			layers = append(layers, NewDense(ls.Units, ls.Activation, WithL2(ls.L2)))
		case "dropout":
			layers = append(layers, NewDropout(ls.Rate))
		case "batch_norm":
			layers = append(layers, &BatchNorm{Momentum: ls.Momentum, Epsilon: ls.Epsilon})
		case "lstm":
			layers = append(layers, NewLSTM(ls.Units, ls.Steps, ls.ReturnSequences))
		default:
			return nil, fmt.Errorf("nn: layer %d has unknown type %q", i, ls.Type)
		}
	}
	n, err := New(s.InputWidth, s.Loss, 0, layers...)
	if err != nil {
		return nil, err
	}
	for i, l := range n.layers {
		if err := loadWeights(l, s.Layers[i].Weights); err != nil {
			return nil, fmt.Errorf("nn: layer %d (%s): %w", i, l.Type(), err)
		}
	}
	if s.Optimizer.LearningRate > 0 {
		n.optimizer = Adam{
			LearningRate: s.Optimizer.LearningRate, Beta1: s.Optimizer.Beta1,
			Beta2: s.Optimizer.Beta2, Epsilon: s.Optimizer.Epsilon,
		}
	}
	n.inputScaler, n.outputScaler = s.InputScaler, s.OutputScaler
	if n.inputScaler != nil && len(n.inputScaler.Mean) != n.inputWidth {
		return nil, fmt.Errorf("nn: input scaler width %d does not match %d", len(n.inputScaler.Mean), n.inputWidth)
	}
	if n.outputScaler != nil && len(n.outputScaler.Mean) != n.OutputWidth() {
		return nil, fmt.Errorf("nn: output scaler width %d does not match %d", len(n.outputScaler.Mean), n.OutputWidth())
	}
	return n, nil
}

func loadWeights(l Layer, weights map[string][]float64) error {
	set := func(dst []float64, name string) error {
		src, ok := weights[name]
		if !ok {
			return fmt.Errorf("missing weights %q", name)
		}
		if len(src) != len(dst) {
			return fmt.Errorf("weights %q have %d values, expected %d", name, len(src), len(dst))
		}
		copy(dst, src)
		return nil
	}
	switch t := l.(type) {
	case *BatchNorm:
		for name, dst := range map[string][]float64{
			"gamma": t.gamma.Value, "beta": t.beta.Value,
			"moving_mean": t.runMean, "moving_variance": t.runVar,
		} {
			if err := set(dst, name); err != nil {
				return err
			}
		}
	default:
		for _, p := range l.params() {
			if err := set(p.Value, p.Name); err != nil {
				return err
			}
		}
	}
	return nil
}
