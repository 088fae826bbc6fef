package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/GeoValue-Intelligence/internal/application/valuation"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/features"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/heatmap"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/imaging"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// maxSamplesBody caps the fine-tune upload size.
const maxSamplesBody = 8 << 20

// EngineHandler exposes the valuation engine over HTTP.
type EngineHandler struct {
	svc    valuation.Service
	logger logging.Logger
}

func NewEngineHandler(svc valuation.Service, logger logging.Logger) *EngineHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &EngineHandler{svc: svc, logger: logger.Named("engine_handler")}
}

// RegisterRoutes mounts the engine endpoints on r.
func (h *EngineHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/heatmap", h.GenerateHeatmap)
	r.POST("/analysis", h.AnalyzeProperty)
	r.GET("/predictions", h.PredictLocation)
	r.POST("/models/heatmap/samples", h.UpdateModel)
	r.GET("/models", h.ListModels)
	r.POST("/images/analysis", h.AnalyzeImages)
}

type HeatmapResponse struct {
	Count  int             `json:"count"`
	Points []heatmap.Point `json:"points"`
}

// GenerateHeatmap handles POST /heatmap. An empty body means no filters.
func (h *EngineHandler) GenerateHeatmap(c *gin.Context) {
	var f heatmap.Filters
	if err := c.ShouldBindJSON(&f); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid heatmap filters: "+err.Error())
		return
	}
	points, err := h.svc.GenerateHeatmap(c.Request.Context(), f)
	if err != nil {
		writeAppError(c, err)
		return
	}
	if points == nil {
		points = []heatmap.Point{}
	}
	c.JSON(http.StatusOK, HeatmapResponse{Count: len(points), Points: points})
}

// AnalyzeProperty handles POST /analysis.
func (h *EngineHandler) AnalyzeProperty(c *gin.Context) {
	var p features.Property
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, "invalid property: "+err.Error())
		return
	}
	a, err := h.svc.AnalyzeProperty(c.Request.Context(), p)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// PredictLocation handles GET /predictions?lat=&lng= with optional
// type, size, age and amenities_score attributes.
func (h *EngineHandler) PredictLocation(c *gin.Context) {
	lat, latSet, ok1 := queryFloat(c, "lat")
	lng, lngSet, ok2 := queryFloat(c, "lng")
	if !ok1 || !ok2 || !latSet || !lngSet {
		badRequest(c, "lat and lng are required numbers")
		return
	}
	var attrs features.HeatmapAttributes
	for name, dst := range map[string]*float64{
		"type":            &attrs.PropertyType,
		"size":            &attrs.Size,
		"age":             &attrs.Age,
		"amenities_score": &attrs.AmenitiesScore,
	} {
		v, _, ok := queryFloat(c, name)
		if !ok {
			badRequest(c, name+" must be a number")
			return
		}
		*dst = v
	}

	pred, err := h.svc.GetPredictionForLocation(c.Request.Context(), lat, lng, attrs)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, pred)
}

// UpdateModel handles POST /models/heatmap/samples. The body is either a
// JSON array of samples or {"samples": [...]}.
func (h *EngineHandler) UpdateModel(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSamplesBody))
	if err != nil {
		badRequest(c, "read body: "+err.Error())
		return
	}
	samples, err := valuation.DecodeSamples(body)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeSerialization) {
			badRequest(c, "invalid samples payload")
			return
		}
		writeAppError(c, err)
		return
	}
	res, err := h.svc.UpdateModelWithNewData(c.Request.Context(), samples)
	if err != nil {
		writeAppError(c, err)
		return
	}
	h.logger.WithContext(c.Request.Context()).Info("heatmap model fine-tuned",
		logging.String("version", res.Version),
		logging.Int("samples", len(samples)))
	c.JSON(http.StatusOK, res)
}

// ListModels handles GET /models.
func (h *EngineHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.svc.Models()})
}

// ImageRequest selects single mode with URI or bulk mode with URIs.
type ImageRequest struct {
	URI              string   `json:"uri,omitempty"`
	URIs             []string `json:"uris,omitempty"`
	FeatureThreshold float64  `json:"feature_threshold,omitempty"`
}

// AnalyzeImages handles POST /images/analysis.
func (h *EngineHandler) AnalyzeImages(c *gin.Context) {
	var req ImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid image request: "+err.Error())
		return
	}
	opts := imaging.Options{FeatureThreshold: req.FeatureThreshold}
	ctx := c.Request.Context()

	switch {
	case req.URI != "" && len(req.URIs) > 0:
		badRequest(c, "set either uri or uris, not both")
	case len(req.URIs) > 0:
		res, err := h.svc.AnalyzeImagesBulk(ctx, req.URIs, opts)
		if err != nil {
			writeAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	default:
		a, err := h.svc.AnalyzeImage(ctx, req.URI, opts)
		if err != nil {
			writeAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}
