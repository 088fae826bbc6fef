package scoring

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/features"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/nn"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// Predictor runs one model over a batch of feature rows.
type Predictor interface {
	Predict(ctx context.Context, kind common.ModelKind, x *nn.Matrix) (*nn.Matrix, error)
}

// Analyzer runs the four-model ensemble.
type Analyzer struct {
	predictor Predictor
	metrics   common.IntelligenceMetrics
	logger    logging.Logger
	clock     func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

func WithMetrics(m common.IntelligenceMetrics) Option {
	return func(a *Analyzer) {
		if m != nil {
			a.metrics = m
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.clock = now
		}
	}
}

// NewAnalyzer creates an analyzer backed by p.
func NewAnalyzer(p Predictor, opts ...Option) *Analyzer {
	a := &Analyzer{
		predictor: p,
		metrics:   common.NewNoopIntelligenceMetrics(),
		logger:    logging.NewNopLogger(),
		clock:     time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.Named("scoring")
	return a
}

// Analyze values p. Valuation, risk and trend run concurrently; the
// investment model then runs once on features derived from their outputs.
func (a *Analyzer) Analyze(ctx context.Context, p features.Property) (*Analysis, error) {
	start := a.clock()

	valX, err := features.Build(p, common.KindValuation)
	if err != nil {
		return nil, err
	}
	riskX, err := features.Build(p, common.KindRisk)
	if err != nil {
		return nil, err
	}
	trendX, err := features.Build(p, common.KindTrend)
	if err != nil {
		return nil, err
	}

	var val Valuation
	var risk Risk
	var trend Trend
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := a.predictOne(gctx, common.KindValuation, valX)
		if err != nil {
			return err
		}
		val = Valuation{EstimatedValue: out[0], Confidence: out[1], PricePerSqm: out[2], MarketPosition: out[3]}
		val.Interpretation = interpretValuation(val.EstimatedValue)
		return nil
	})
	g.Go(func() error {
		out, err := a.predictOne(gctx, common.KindRisk, riskX)
		if err != nil {
			return err
		}
		risk = Risk{Overall: out[0], Liquidity: out[1], Market: out[2], Credit: out[3], Operational: out[4]}
		risk.Grade = RiskGrade(risk.Overall)
		risk.Interpretation = interpretRisk(risk.Grade)
		return nil
	})
	g.Go(func() error {
		out, err := a.predictOne(gctx, common.KindTrend, trendX)
		if err != nil {
			return err
		}
		trend = Trend{Direction: out[0], Strength: out[1], Duration: out[2], Volatility: out[3]}
		trend.Interpretation = interpretTrend(trend.Direction, trend.Strength)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	invX := features.Investment(p, features.InvestmentInputs{
		ValuationConfidence: val.Confidence,
		OverallRisk:         risk.Overall,
		TrendDirection:      trend.Direction,
	})
	out, err := a.predictOne(ctx, common.KindInvestment, invX)
	if err != nil {
		return nil, err
	}
	inv := Investment{Overall: out[0], ShortTerm: out[1], LongTerm: out[2], RiskAdjusted: out[3]}
	inv.Grade = InvestmentGrade(inv.Overall)
	inv.Interpretation = interpretInvestment(inv.Grade)

	analysis := &Analysis{
		PropertyID:      p.ID,
		Timestamp:       start.UTC(),
		Valuation:       val,
		Risk:            risk,
		Trend:           trend,
		Investment:      inv,
		OverallScore:    OverallScore(val, risk, trend, inv),
		Recommendations: Recommendations(risk, trend, inv),
		Confidence:      Confidence(val, risk, trend, inv),
	}
	elapsed := float64(a.clock().Sub(start).Microseconds()) / 1000
	a.metrics.RecordAssessment(ctx, risk.Grade, elapsed)
	a.logger.Debug("property analyzed",
		logging.String("property_id", p.ID),
		logging.Float64("overall_score", analysis.OverallScore),
		logging.String("risk_grade", risk.Grade))
	return analysis, nil
}

func (a *Analyzer) predictOne(ctx context.Context, kind common.ModelKind, v features.Vector) ([]float64, error) {
	x, err := features.Stack([]features.Vector{v}, common.MustDescribe(kind).InputWidth)
	if err != nil {
		return nil, err
	}
	out, err := a.predictor.Predict(ctx, kind, x)
	if err != nil {
		return nil, err
	}
	if want := common.MustDescribe(kind).OutputWidth(); out.Rows != 1 || out.Cols != want {
		return nil, errors.ShapeMismatch(fmt.Sprintf("%s model returned %dx%d, want 1x%d", kind, out.Rows, out.Cols, want))
	}
	return out.Row(0), nil
}
