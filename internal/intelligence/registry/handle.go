package registry

import (
	"fmt"
	"sync"

	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/nn"
)

// Model is the inference surface of a loaded model. *nn.Network satisfies
// it, as do read-only backends such as ONNX sessions.
type Model interface {
	Predict(x *nn.Matrix) (*nn.Matrix, error)
	Release()
}

// Handle owns the weights of one model kind. Inference holds a read lock for
// the duration of a call; weight swaps and release take the write lock, so
// callers always see either the old or the new weights in full.
type Handle struct {
	desc    common.ModelDescriptor
	backend common.BackendType

	mu       sync.RWMutex
	model    Model
	version  string
	revision int
	disposed bool

	// tuneMu serializes training runs against this handle.
	tuneMu sync.Mutex
}

func newHandle(desc common.ModelDescriptor, backend common.BackendType, model Model, version string, revision int) *Handle {
	return &Handle{desc: desc, backend: backend, model: model, version: version, revision: revision}
}

func (h *Handle) Kind() common.ModelKind             { return h.desc.Kind }
func (h *Handle) Descriptor() common.ModelDescriptor { return h.desc }
func (h *Handle) Backend() common.BackendType        { return h.backend }

// Version returns the semantic version of the current weights.
func (h *Handle) Version() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version
}

// Revision counts fine-tune rounds applied since initial training.
func (h *Handle) Revision() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.revision
}

// Disposed reports whether the handle was released.
func (h *Handle) Disposed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.disposed
}

// Predict runs the current weights on x.
func (h *Handle) Predict(x *nn.Matrix) (*nn.Matrix, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.disposed {
		return nil, nn.ErrReleased
	}
	return h.model.Predict(x)
}

// network returns a private copy of the native weights for training.
func (h *Handle) network() (*nn.Network, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.disposed {
		return nil, nn.ErrReleased
	}
	net, ok := h.model.(*nn.Network)
	if !ok {
		return nil, fmt.Errorf("%s backend does not support training", h.backend)
	}
	return net.Clone(), nil
}

// snapshot serializes the native weights under the read lock.
func (h *Handle) snapshot() (*nn.Snapshot, string, int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.disposed {
		return nil, "", 0, nn.ErrReleased
	}
	net, ok := h.model.(*nn.Network)
	if !ok {
		return nil, "", 0, fmt.Errorf("%s backend cannot be saved", h.backend)
	}
	s, err := net.Snapshot()
	return s, h.version, h.revision, err
}

// swap installs trained weights and releases the previous ones.
func (h *Handle) swap(net *nn.Network, version string, revision int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		net.Release()
		return nn.ErrReleased
	}
	old := h.model
	h.model = net
	h.version = version
	h.revision = revision
	if old != nil {
		old.Release()
	}
	return nil
}

// release frees the weights. It reports false when already released.
func (h *Handle) release() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return false
	}
	h.disposed = true
	if h.model != nil {
		h.model.Release()
	}
	return true
}

// fineTunedVersion stamps a fine-tune revision onto a base version.
func fineTunedVersion(base string, revision int) string {
	if revision == 0 {
		return base
	}
	return fmt.Sprintf("%s+ft.%d", base, revision)
}
