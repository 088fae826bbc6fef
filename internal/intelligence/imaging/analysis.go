package imaging

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// Currency of every price estimate.
	Currency = "AED"

	// DefaultFeatureThreshold is the probability a feature must exceed to count as detected.
	DefaultFeatureThreshold = 0.5

	// DefaultBulkConcurrency bounds the number of photos analyzed at once.
	DefaultBulkConcurrency = 5

	// DefaultItemTimeout bounds one photo in a bulk run. The first photo
	// may pay for training the image heads.
	DefaultItemTimeout = 2 * time.Minute
	// DefaultBatchTimeout bounds a whole bulk run.
	DefaultBatchTimeout = 15 * time.Minute
)

// PriceScale converts the normalized price head output to AED.
var PriceScale = decimal.NewFromInt(5_000_000)

var (
	rangeLow  = decimal.RequireFromString("0.8")
	rangeHigh = decimal.RequireFromString("1.2")
)

var conditionScores = map[string]float64{
	"excellent": 95,
	"good":      80,
	"fair":      60,
	"poor":      35,
}

var featureImpacts = map[string]float64{
	"swimming_pool":    0.15,
	"garden":           0.10,
	"parking":          0.08,
	"gym":              0.12,
	"security":         0.08,
	"elevator":         0.06,
	"central_ac":       0.07,
	"marble_flooring":  0.05,
	"granite_counters": 0.04,
	"maid_room":        0.06,
	"driver_room":      0.04,
	"study_room":       0.03,
}

const defaultFeatureImpact = 0.02

var luxuryFeatures = map[string]bool{
	"swimming_pool":    true,
	"gym":              true,
	"marble_flooring":  true,
	"granite_counters": true,
	"maid_room":        true,
}

// ConditionScore maps a condition class to its 0-100 score. Unknown classes score 50.
func ConditionScore(condition string) float64 {
	if s, ok := conditionScores[condition]; ok {
		return s
	}
	return 50
}

// FeatureImpact is the fractional value uplift attributed to a detected feature.
func FeatureImpact(feature string) float64 {
	if v, ok := featureImpacts[feature]; ok {
		return v
	}
	return defaultFeatureImpact
}

// Options tunes a single analysis. Zero values select defaults.
type Options struct {
	FeatureThreshold float64 `json:"feature_threshold,omitempty"`
}

func (o Options) threshold() float64 {
	if o.FeatureThreshold <= 0 || o.FeatureThreshold >= 1 {
		return DefaultFeatureThreshold
	}
	return o.FeatureThreshold
}

// PropertyTypeResult is the property type head output.
type PropertyTypeResult struct {
	Type          string             `json:"type"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// ConditionResult is the condition head output.
type ConditionResult struct {
	Condition     string             `json:"condition"`
	Confidence    float64            `json:"confidence"`
	Score         float64            `json:"score"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// DetectedFeature is one amenity above the detection threshold.
type DetectedFeature struct {
	Feature    string  `json:"feature"`
	Confidence float64 `json:"confidence"`
	Impact     float64 `json:"impact"`
}

// FeatureResult is the feature head output.
type FeatureResult struct {
	Detected    []DetectedFeature `json:"detected"`
	Count       int               `json:"count"`
	LuxuryScore float64           `json:"luxury_score"`
	ValueImpact float64           `json:"value_impact"`
}

// RoomResult is the room head output.
type RoomResult struct {
	RoomType      string             `json:"room_type"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// PriceRange brackets an estimate.
type PriceRange struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// PriceEstimate is the price head output in AED.
type PriceEstimate struct {
	EstimatedValue decimal.Decimal `json:"estimated_value"`
	Currency       string          `json:"currency"`
	Confidence     float64         `json:"confidence"`
	Range          PriceRange      `json:"range"`
}

// Analysis is the full result for one photograph.
type Analysis struct {
	ImageURI        string             `json:"image_uri"`
	Timestamp       time.Time          `json:"timestamp"`
	PropertyType    PropertyTypeResult `json:"property_type"`
	Condition       ConditionResult    `json:"condition"`
	Features        FeatureResult      `json:"features"`
	RoomType        RoomResult         `json:"room_type"`
	PriceEstimate   PriceEstimate      `json:"price_estimate"`
	Confidence      float64            `json:"confidence"`
	Recommendations []string           `json:"recommendations"`
}

// argmax returns the winning label, its probability and the full distribution.
func argmax(labels []string, probs []float64) (string, float64, map[string]float64) {
	dist := make(map[string]float64, len(labels))
	best, bestP := "", math.Inf(-1)
	for i, l := range labels {
		dist[l] = probs[i]
		if probs[i] > bestP {
			best, bestP = l, probs[i]
		}
	}
	return best, bestP, dist
}

func classifyType(labels []string, probs []float64) PropertyTypeResult {
	t, c, dist := argmax(labels, probs)
	return PropertyTypeResult{Type: t, Confidence: c, Probabilities: dist}
}

func classifyCondition(labels []string, probs []float64) ConditionResult {
	c, conf, dist := argmax(labels, probs)
	return ConditionResult{Condition: c, Confidence: conf, Score: ConditionScore(c), Probabilities: dist}
}

func classifyRoom(labels []string, probs []float64) RoomResult {
	r, c, dist := argmax(labels, probs)
	return RoomResult{RoomType: r, Confidence: c, Probabilities: dist}
}

// DetectFeatures keeps every label whose probability exceeds threshold,
// in label order.
func DetectFeatures(labels []string, probs []float64, threshold float64) FeatureResult {
	detected := make([]DetectedFeature, 0)
	for i, l := range labels {
		if probs[i] > threshold {
			detected = append(detected, DetectedFeature{Feature: l, Confidence: probs[i], Impact: FeatureImpact(l)})
		}
	}
	return FeatureResult{
		Detected:    detected,
		Count:       len(detected),
		LuxuryScore: LuxuryScore(detected),
		ValueImpact: ValueImpact(detected),
	}
}

// LuxuryScore is 20 points per luxury amenity, capped at 100.
func LuxuryScore(detected []DetectedFeature) float64 {
	n := 0
	for _, f := range detected {
		if luxuryFeatures[f.Feature] {
			n++
		}
	}
	return math.Min(100, float64(n*20))
}

// ValueImpact sums the impacts of the detected features.
func ValueImpact(detected []DetectedFeature) float64 {
	var sum float64
	for _, f := range detected {
		sum += f.Impact
	}
	return sum
}

// EstimatePrice scales the normalized price to AED, rounded to whole dirhams.
func EstimatePrice(normalized float64) PriceEstimate {
	value := decimal.NewFromFloat(normalized).Mul(PriceScale).Round(0)
	return PriceEstimate{
		EstimatedValue: value,
		Currency:       Currency,
		Confidence:     PriceConfidence(normalized),
		Range: PriceRange{
			Min: value.Mul(rangeLow).Round(0),
			Max: value.Mul(rangeHigh).Round(0),
		},
	}
}

// PriceConfidence peaks at mid-range predictions and never drops below 0.6.
func PriceConfidence(normalized float64) float64 {
	return math.Max(0.6, 1-math.Abs(normalized-0.5)*2)
}

// OverallConfidence weights the five heads. Photos with no detected
// features contribute 0.5 for the feature term.
func OverallConfidence(pt PropertyTypeResult, c ConditionResult, f FeatureResult, r RoomResult, p PriceEstimate) float64 {
	featureConf := 0.5
	if len(f.Detected) > 0 {
		var sum float64
		for _, d := range f.Detected {
			sum += d.Confidence
		}
		featureConf = sum / float64(len(f.Detected))
	}
	return pt.Confidence*0.25 + c.Confidence*0.25 + featureConf*0.2 + r.Confidence*0.15 + p.Confidence*0.15
}

// Recommendations derives listing advice from one analysis.
func Recommendations(pt PropertyTypeResult, c ConditionResult, f FeatureResult) []string {
	recs := make([]string, 0, 4)
	switch {
	case c.Score >= 90:
		recs = append(recs, "Excellent property condition - ideal for premium pricing")
	case c.Score < 60:
		recs = append(recs, "Property may need renovations before listing")
	}
	if f.LuxuryScore >= 60 {
		recs = append(recs, "High-end features detected - target luxury market")
	}
	if pt.Confidence > 0.8 {
		recs = append(recs, fmt.Sprintf("Property type clearly identified as %s", pt.Type))
	}
	if f.ValueImpact > 0.3 {
		recs = append(recs, "Multiple value-adding features detected")
	}
	return recs
}

// Summary aggregates a bulk run.
type Summary struct {
	TotalImages              int             `json:"total_images"`
	AverageValue             decimal.Decimal `json:"average_value"`
	AverageConfidence        float64         `json:"average_confidence"`
	PropertyTypeDistribution map[string]int  `json:"property_type_distribution"`
	ConditionDistribution    map[string]int  `json:"condition_distribution"`
	CommonFeatures           []FeatureCount  `json:"common_features"`
	Recommendations          []string        `json:"recommendations"`
}

// FeatureCount is how many photos showed a feature.
type FeatureCount struct {
	Feature string `json:"feature"`
	Count   int    `json:"count"`
}

// maxCommonFeatures caps Summary.CommonFeatures.
const maxCommonFeatures = 10

// Summarize aggregates successful analyses. An empty input yields a zero summary.
func Summarize(results []*Analysis) Summary {
	s := Summary{
		TotalImages:              len(results),
		AverageValue:             decimal.Zero,
		PropertyTypeDistribution: map[string]int{},
		ConditionDistribution:    map[string]int{},
		CommonFeatures:           []FeatureCount{},
		Recommendations:          []string{},
	}
	if len(results) == 0 {
		return s
	}
	total := decimal.Zero
	var conf float64
	counts := map[string]int{}
	for _, r := range results {
		s.PropertyTypeDistribution[r.PropertyType.Type]++
		s.ConditionDistribution[r.Condition.Condition]++
		for _, f := range r.Features.Detected {
			counts[f.Feature]++
		}
		total = total.Add(r.PriceEstimate.EstimatedValue)
		conf += r.Confidence
	}
	n := len(results)
	s.AverageValue = total.Div(decimal.NewFromInt(int64(n))).Round(0)
	s.AverageConfidence = conf / float64(n)

	for f, c := range counts {
		s.CommonFeatures = append(s.CommonFeatures, FeatureCount{Feature: f, Count: c})
	}
	sort.Slice(s.CommonFeatures, func(i, j int) bool {
		a, b := s.CommonFeatures[i], s.CommonFeatures[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Feature < b.Feature
	})
	if len(s.CommonFeatures) > maxCommonFeatures {
		s.CommonFeatures = s.CommonFeatures[:maxCommonFeatures]
	}
	s.Recommendations = PortfolioRecommendations(results)
	return s
}

// PortfolioRecommendations advises on a set of analyzed photos.
func PortfolioRecommendations(results []*Analysis) []string {
	recs := []string{}
	if len(results) == 0 {
		return recs
	}
	var excellent, poor int
	var luxury float64
	for _, r := range results {
		if r.Condition.Score >= 90 {
			excellent++
		}
		if r.Condition.Score < 60 {
			poor++
		}
		luxury += r.Features.LuxuryScore
	}
	n := float64(len(results))
	if float64(excellent) > n*0.6 {
		recs = append(recs, "High-quality portfolio suitable for premium market positioning")
	}
	if float64(poor) > n*0.3 {
		recs = append(recs, "Consider renovation strategy for multiple properties")
	}
	if luxury/n > 60 {
		recs = append(recs, "Portfolio shows strong luxury appeal")
	}
	return recs
}
