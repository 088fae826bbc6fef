// Package scoring combines the valuation, risk, trend and investment models
// into a single property analysis.
package scoring

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/features"
)

// Valuation is the valuation model's output for one property.
type Valuation struct {
	EstimatedValue float64 `json:"estimated_value"`
	Confidence     float64 `json:"confidence"`
	PricePerSqm    float64 `json:"price_per_sqm"`
	// MarketPosition is the percentile in the market.
	MarketPosition float64                 `json:"market_position"`
	Interpretation ValuationInterpretation `json:"interpretation"`
}

type ValuationInterpretation struct {
	Summary    string   `json:"summary"`
	Factors    []string `json:"factors"`
	Comparison string   `json:"comparison"`
}

// Risk holds the independent risk probabilities.
type Risk struct {
	Overall        float64            `json:"overall_risk"`
	Liquidity      float64            `json:"liquidity_risk"`
	Market         float64            `json:"market_risk"`
	Credit         float64            `json:"credit_risk"`
	Operational    float64            `json:"operational_risk"`
	Grade          string             `json:"risk_grade"`
	Interpretation RiskInterpretation `json:"interpretation"`
}

type RiskInterpretation struct {
	Summary    string   `json:"summary"`
	MainRisks  []string `json:"main_risks"`
	Mitigation string   `json:"mitigation"`
}

// Trend is the market trend forecast. Direction runs from -1 (bearish) to
// 1 (bullish); Duration is in months.
type Trend struct {
	Direction      float64             `json:"trend_direction"`
	Strength       float64             `json:"strength"`
	Duration       float64             `json:"duration_forecast"`
	Volatility     float64             `json:"volatility"`
	Interpretation TrendInterpretation `json:"interpretation"`
}

type TrendInterpretation struct {
	Summary    string `json:"summary"`
	Outlook    string `json:"outlook"`
	Confidence string `json:"confidence"`
}

// Investment scores the property as an investment.
type Investment struct {
	Overall        float64                  `json:"overall_score"`
	ShortTerm      float64                  `json:"short_term_potential"`
	LongTerm       float64                  `json:"long_term_potential"`
	RiskAdjusted   float64                  `json:"risk_adjusted_return"`
	Grade          string                   `json:"grade"`
	Interpretation InvestmentInterpretation `json:"interpretation"`
}

type InvestmentInterpretation struct {
	Summary        string `json:"summary"`
	Timeframe      string `json:"timeframe"`
	Recommendation string `json:"recommendation"`
}

// Analysis is the combined result of one Analyze call.
type Analysis struct {
	PropertyID      string     `json:"property_id"`
	Timestamp       time.Time  `json:"timestamp"`
	Valuation       Valuation  `json:"valuation"`
	Risk            Risk       `json:"risk"`
	Trend           Trend      `json:"trend"`
	Investment      Investment `json:"investment"`
	OverallScore    float64    `json:"overall_score"`
	Recommendations []string   `json:"recommendations"`
	Confidence      float64    `json:"confidence"`
}

// OverallScore blends the four models with equal weights.
func OverallScore(v Valuation, r Risk, t Trend, i Investment) float64 {
	return 0.25*v.Confidence +
		0.25*(1-r.Overall) +
		0.25*(0.5*t.Direction+0.5) +
		0.25*i.Overall
}

// Confidence averages valuation confidence, safety, trend strength and the
// investment score.
func Confidence(v Valuation, r Risk, t Trend, i Investment) float64 {
	return (v.Confidence + (1 - r.Overall) + t.Strength + i.Overall) / 4
}

// RiskGrade buckets an overall risk probability.
func RiskGrade(risk float64) string {
	switch {
	case risk < 0.2:
		return "A"
	case risk < 0.4:
		return "B"
	case risk < 0.6:
		return "C"
	case risk < 0.8:
		return "D"
	}
	return "F"
}

// InvestmentGrade buckets an overall investment score.
func InvestmentGrade(score float64) string {
	switch {
	case score > 0.8:
		return "Excellent"
	case score > 0.6:
		return "Good"
	case score > 0.4:
		return "Fair"
	case score > 0.2:
		return "Poor"
	}
	return "High Risk"
}

// Recommendations applies the threshold rules. The investment rule always
// contributes one entry; the risk and timing rules add to it.
func Recommendations(r Risk, t Trend, i Investment) []string {
	var out []string
	switch {
	case i.Overall > 0.7:
		out = append(out, "Strong buy recommendation")
	case i.Overall > 0.5:
		out = append(out, "Consider for investment")
	default:
		out = append(out, "High risk - proceed with caution")
	}
	if r.Overall > 0.6 {
		out = append(out, "Implement risk mitigation strategies")
	}
	if t.Direction > 0.5 {
		out = append(out, "Market timing favorable")
	}
	return out
}

func interpretValuation(estimated float64) ValuationInterpretation {
	return ValuationInterpretation{
		Summary:    "Property valued at AED " + humanize.Comma(int64(math.Round(estimated))),
		Factors:    []string{"Location premium", "Size efficiency", "Market conditions"},
		Comparison: "Above market average",
	}
}

func interpretRisk(grade string) RiskInterpretation {
	return RiskInterpretation{
		Summary:    grade + " risk rating",
		MainRisks:  []string{"Market volatility", "Liquidity constraints"},
		Mitigation: "Diversification recommended",
	}
}

func interpretTrend(direction, strength float64) TrendInterpretation {
	summary := "Negative market trend"
	if direction > 0 {
		summary = "Positive market trend"
	}
	return TrendInterpretation{
		Summary:    summary,
		Outlook:    "12-month forecast available",
		Confidence: fmt.Sprintf("%d%%", int(math.Round(strength*100))),
	}
}

func interpretInvestment(grade string) InvestmentInterpretation {
	return InvestmentInterpretation{
		Summary:        grade + " investment opportunity",
		Timeframe:      "Long-term potential higher than short-term",
		Recommendation: "Consider for diversified portfolio",
	}
}

// CacheKey identifies an analysis by property id, location and size.
func CacheKey(p features.Property) string {
	return fmt.Sprintf("%s_%s_%s_%s", p.ID, coord(p.Latitude), coord(p.Longitude), strconv.FormatFloat(p.Size, 'g', -1, 64))
}

func coord(v *float64) string {
	if v == nil {
		return "nil"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
