package events

// ProgressPayload reports a percentage in [0,100].
type ProgressPayload struct {
	Progress int `json:"progress"`
}

// HeatmapCompletedPayload accompanies HeatmapGenerationCompleted.
type HeatmapCompletedPayload struct {
	Points int  `json:"points"`
	Cached bool `json:"cached"`
}

// AnalysisPayload accompanies AnalysisStarted and AnalysisCompleted.
type AnalysisPayload struct {
	PropertyID   string  `json:"property_id"`
	OverallScore float64 `json:"overall_score,omitempty"`
	Cached       bool    `json:"cached,omitempty"`
}

// TrainingPayload accompanies the training events. Epoch is 0-based.
type TrainingPayload struct {
	Model   string  `json:"model"`
	Epoch   int     `json:"epoch,omitempty"`
	Epochs  int     `json:"epochs"`
	Loss    float64 `json:"loss,omitempty"`
	ValLoss float64 `json:"val_loss,omitempty"`
	Samples int     `json:"samples,omitempty"`
}

// ModelUpdatedPayload accompanies ModelUpdated.
type ModelUpdatedPayload struct {
	Model      string `json:"model"`
	Version    string `json:"version"`
	DataPoints int    `json:"data_points"`
}

// ImagePayload accompanies the single image analysis events.
type ImagePayload struct {
	URI        string  `json:"uri"`
	Confidence float64 `json:"confidence,omitempty"`
	Cached     bool    `json:"cached,omitempty"`
}

// BulkPayload accompanies the bulk image analysis events.
type BulkPayload struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Progress  int `json:"progress"`
	Failed    int `json:"failed,omitempty"`
}

// ErrorPayload accompanies Error.
type ErrorPayload struct {
	Operation string `json:"operation"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}
