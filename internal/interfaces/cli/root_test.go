package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/GeoValue-Intelligence/internal/application/valuation"
	"github.com/turtacn/GeoValue-Intelligence/internal/config"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/messaging/events"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/features"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/heatmap"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/imaging"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/registry"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/scoring"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Initialize(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *mockService) GenerateHeatmap(ctx context.Context, f heatmap.Filters) ([]heatmap.Point, error) {
	args := m.Called(ctx, f)
	pts, _ := args.Get(0).([]heatmap.Point)
	return pts, args.Error(1)
}

func (m *mockService) AnalyzeProperty(ctx context.Context, p features.Property) (*scoring.Analysis, error) {
	args := m.Called(ctx, p)
	a, _ := args.Get(0).(*scoring.Analysis)
	return a, args.Error(1)
}

func (m *mockService) GetPredictionForLocation(ctx context.Context, lat, lng float64, d features.HeatmapAttributes) (*heatmap.LocationPrediction, error) {
	args := m.Called(ctx, lat, lng, d)
	p, _ := args.Get(0).(*heatmap.LocationPrediction)
	return p, args.Error(1)
}

func (m *mockService) UpdateModelWithNewData(ctx context.Context, samples []features.Sample) (*registry.FineTuneResult, error) {
	args := m.Called(ctx, samples)
	r, _ := args.Get(0).(*registry.FineTuneResult)
	return r, args.Error(1)
}

func (m *mockService) AnalyzeImage(ctx context.Context, uri string, opts imaging.Options) (*imaging.Analysis, error) {
	args := m.Called(ctx, uri, opts)
	a, _ := args.Get(0).(*imaging.Analysis)
	return a, args.Error(1)
}

func (m *mockService) AnalyzeImagesBulk(ctx context.Context, uris []string, opts imaging.Options) (*imaging.BulkResult, error) {
	args := m.Called(ctx, uris, opts)
	r, _ := args.Get(0).(*imaging.BulkResult)
	return r, args.Error(1)
}

func (m *mockService) Models() []registry.ModelInfo {
	infos, _ := m.Called().Get(0).([]registry.ModelInfo)
	return infos
}

func (m *mockService) Subscribe(l events.Listener) *events.Subscription { return nil }

func (m *mockService) Unsubscribe(s *events.Subscription) bool { return false }

func (m *mockService) Dispose() valuation.DisposeReport { return valuation.DisposeReport{} }

type CLITestSuite struct {
	suite.Suite
	svc      *mockService
	built    int
	started  int
	closed   int
	buildErr error
	startErr error
	stdout   *bytes.Buffer
	stderr   *bytes.Buffer

	metricsAddr string
}

func TestCLISuite(t *testing.T) {
	suite.Run(t, new(CLITestSuite))
}

func (s *CLITestSuite) SetupTest() {
	s.svc = new(mockService)
	s.built, s.started, s.closed = 0, 0, 0
	s.buildErr, s.startErr = nil, nil
	s.stdout = new(bytes.Buffer)
	s.stderr = new(bytes.Buffer)
}

func (s *CLITestSuite) factory(ctx context.Context, cfg *config.Config, log logging.Logger) (*Session, error) {
	s.built++
	if s.buildErr != nil {
		return nil, s.buildErr
	}
	return &Session{
		Service: s.svc,
		Start:   func(context.Context) error { s.started++; return s.startErr },
		Close:   func(context.Context) error { s.closed++; return nil },
	}, nil
}

func (s *CLITestSuite) run(stdin string, args ...string) error {
	cfg := config.NewDefaultConfig()
	cfg.Log.Level = logging.LevelError
	root := NewRootCommand(WithConfig(cfg), WithServiceFactory(s.factory))
	root.SetArgs(args)
	root.SetOut(s.stdout)
	root.SetErr(s.stderr)
	root.SetIn(strings.NewReader(stdin))
	return root.ExecuteContext(context.Background())
}

func (s *CLITestSuite) TestRootStructure() {
	root := NewRootCommand()
	s.Equal("geovalue", root.Use)

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"heatmap", "analyze", "predict", "update", "train", "images", "version"} {
		s.True(names[want], "missing subcommand %s", want)
	}
	for _, flag := range []string{"config", "env-file", "log-level", "output", "no-color", "timeout", "metrics-addr"} {
		s.NotNil(root.PersistentFlags().Lookup(flag), "missing flag %s", flag)
	}
}

func (s *CLITestSuite) TestVersion() {
	s.Require().NoError(s.run("", "version"))
	s.Contains(s.stdout.String(), "geovalue "+Version)
	s.Zero(s.built)
}

func (s *CLITestSuite) TestInvalidOutputFormat() {
	err := s.run("", "models", "-o", "yaml")
	s.True(errors.IsCode(err, errors.CodeInvalidParam))
	s.Zero(s.built)
}

func (s *CLITestSuite) TestHeatmapJSON() {
	points := []heatmap.Point{
		{GridPoint: heatmap.GridPoint{Latitude: 25.2, Longitude: 55.3}, Value: 22000},
		{GridPoint: heatmap.GridPoint{Latitude: 24.4, Longitude: 54.4}, Value: 12000},
	}
	s.svc.On("GenerateHeatmap", mock.Anything, mock.MatchedBy(func(f heatmap.Filters) bool {
		return f.MinValue != nil && *f.MinValue == 10000 &&
			f.MaxRisk != nil && *f.MaxRisk == 0 &&
			f.MaxValue == nil && f.Size == 150
	})).Return(points, nil).Once()

	s.Require().NoError(s.run("", "heatmap", "-o", "json", "--min-value", "10000", "--max-risk", "0", "--size", "150"))

	var got []heatmap.Point
	s.Require().NoError(json.Unmarshal(s.stdout.Bytes(), &got))
	s.Len(got, 2)
	s.Equal(1, s.built)
	s.Equal(1, s.closed)
	s.svc.AssertExpectations(s.T())
}

func (s *CLITestSuite) TestHeatmapTextTop() {
	s.svc.On("GenerateHeatmap", mock.Anything, mock.Anything).Return([]heatmap.Point{
		{GridPoint: heatmap.GridPoint{Latitude: 25.2, Longitude: 55.3}, Value: 22000},
		{GridPoint: heatmap.GridPoint{Latitude: 24.4, Longitude: 54.4}, Value: 12000},
	}, nil).Once()

	s.Require().NoError(s.run("", "heatmap", "--top", "1"))
	out := s.stdout.String()
	s.Contains(out, "22,000")
	s.NotContains(out, "12,000")
	s.Contains(out, "2 points, showing top 1")
}

func (s *CLITestSuite) TestHeatmapRejectsInvertedRange() {
	err := s.run("", "heatmap", "--min-value", "20000", "--max-value", "1000")
	s.True(errors.IsCode(err, errors.CodeInvalidParam))
	s.Zero(s.built)
}

func (s *CLITestSuite) TestAnalyzeFileWithOverrides() {
	path := filepath.Join(s.T().TempDir(), "property.json")
	s.Require().NoError(os.WriteFile(path, []byte(`{"id":"villa-7","latitude":25.08,"longitude":55.14,"size":120}`), 0o600))

	s.svc.On("AnalyzeProperty", mock.Anything, mock.MatchedBy(func(p features.Property) bool {
		return p.ID == "villa-7" && *p.Latitude == 25.08 && p.Size == 300 && p.Bedrooms == 4
	})).Return(&scoring.Analysis{
		PropertyID:   "villa-7",
		Valuation:    scoring.Valuation{EstimatedValue: 2500000},
		Risk:         scoring.Risk{Grade: "B"},
		OverallScore: 0.7125,
	}, nil).Once()

	s.Require().NoError(s.run("", "analyze", "-f", path, "--size", "300", "--bedrooms", "4", "--no-color"))
	out := s.stdout.String()
	s.Contains(out, "AED 2,500,000")
	s.Contains(out, "0.7125")
	s.svc.AssertExpectations(s.T())
}

func (s *CLITestSuite) TestAnalyzeMissingFile() {
	err := s.run("", "analyze", "-f", filepath.Join(s.T().TempDir(), "absent.json"))
	s.True(errors.IsCode(err, errors.CodeInvalidParam))
	s.Zero(s.built)
}

func (s *CLITestSuite) TestPredictRequiresCoordinates() {
	s.Error(s.run("", "predict", "--lat", "25.1"))
	s.Zero(s.built)
}

func (s *CLITestSuite) TestPredict() {
	s.svc.On("GetPredictionForLocation", mock.Anything, 25.08, 55.14, features.HeatmapAttributes{Age: 3}).
		Return(&heatmap.LocationPrediction{Latitude: 25.08, Longitude: 55.14, PrimeArea: "Dubai Marina", Confidence: 0.9}, nil).Once()

	s.Require().NoError(s.run("", "predict", "--lat", "25.08", "--lng", "55.14", "--age", "3"))
	s.Contains(s.stdout.String(), "Dubai Marina")
	s.svc.AssertExpectations(s.T())
}

func (s *CLITestSuite) TestUpdateFromStdin() {
	s.svc.On("UpdateModelWithNewData", mock.Anything, mock.MatchedBy(func(x []features.Sample) bool { return len(x) == 1 })).
		Return(&registry.FineTuneResult{Kind: common.KindHeatmap, Version: "1.0.1", Revision: 1, Samples: 1}, nil).Once()

	s.Require().NoError(s.run(`[{"latitude":25.1,"longitude":55.2,"price_per_sqm":15000}]`, "update", "-o", "json"))

	var res registry.FineTuneResult
	s.Require().NoError(json.Unmarshal(s.stdout.Bytes(), &res))
	s.Equal("1.0.1", res.Version)
	s.Equal(1, s.closed)
}

func (s *CLITestSuite) TestUpdateRejectsEmptyInput() {
	err := s.run("", "update")
	s.True(errors.IsCode(err, errors.CodeInvalidParam))
	s.Zero(s.built)
}

func (s *CLITestSuite) TestModels() {
	s.svc.On("Models").Return([]registry.ModelInfo{
		{Kind: common.KindHeatmap, Version: "1.0.0", Backend: common.BackendNative},
		{Kind: common.KindRisk, Version: "1.0.0", Backend: common.BackendNative},
	}).Once()

	s.Require().NoError(s.run("", "models"))
	s.Contains(s.stdout.String(), string(common.KindRisk))
}

func (s *CLITestSuite) TestImagesSingleAndBulk() {
	s.svc.On("AnalyzeImage", mock.Anything, "villa.png", imaging.Options{FeatureThreshold: 0.85}).
		Return(&imaging.Analysis{ImageURI: "villa.png", PropertyType: imaging.PropertyTypeResult{Type: "villa"}}, nil).Once()
	s.Require().NoError(s.run("", "images", "villa.png", "--threshold", "0.85"))
	s.Contains(s.stdout.String(), "villa")

	s.stdout.Reset()
	s.svc.On("AnalyzeImagesBulk", mock.Anything, []string{"a.png", "b.png"}, imaging.Options{}).
		Return(&imaging.BulkResult{
			Results: []*imaging.Analysis{{ImageURI: "a.png"}},
			Errors:  []imaging.ItemError{{Index: 1, URI: "b.png", Error: "no such file"}},
		}, nil).Once()
	s.Require().NoError(s.run("", "images", "a.png", "b.png", "--no-color"))
	out := s.stdout.String()
	s.Contains(out, "1 analyzed, 1 failed")
	s.Contains(out, "b.png: no such file")
	s.Equal(2, s.closed)
	s.svc.AssertExpectations(s.T())
}

func (s *CLITestSuite) TestFactoryErrorPropagates() {
	s.buildErr = errors.InvalidParam("unknown storage backend tape")
	err := s.run("", "train")
	s.True(errors.IsCode(err, errors.CodeInvalidParam))
	s.Zero(s.closed)
}

func (s *CLITestSuite) TestStartErrorClosesSession() {
	s.startErr = errors.TrainingFailure(assert.AnError, "heatmap training diverged")
	err := s.run("", "train")
	s.True(errors.IsCode(err, errors.CodeTrainingFailure))
	s.Equal(1, s.started)
	s.Equal(1, s.closed)
	s.svc.AssertNotCalled(s.T(), "Models")
}

func (s *CLITestSuite) TestMetricsAddrServesDuringCommand() {
	var scraped int
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scraped++
		_, _ = w.Write([]byte("geovalue_up 1\n"))
	})
	s.svc.On("Models").Return([]registry.ModelInfo{}).Run(func(mock.Arguments) {
		resp, err := http.Get("http://" + s.metricsAddr + "/metrics")
		s.Require().NoError(err)
		resp.Body.Close()
		s.Equal(http.StatusOK, resp.StatusCode)
	}).Once()

	factory := func(ctx context.Context, cfg *config.Config, log logging.Logger) (*Session, error) {
		return &Session{Service: s.svc, Metrics: metrics}, nil
	}
	s.metricsAddr = freeAddr(s.T())
	root := NewRootCommand(WithConfig(config.NewDefaultConfig()), WithServiceFactory(factory))
	root.SetArgs([]string{"train", "--metrics-addr", s.metricsAddr})
	root.SetOut(s.stdout)
	root.SetErr(s.stderr)
	s.Require().NoError(root.ExecuteContext(context.Background()))
	s.Equal(1, scraped)
}

func freeAddr(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestInitConfig_ExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "geovalue.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  resolution: 12\n"), 0o600))

	cfg, err := initConfig(&RootOptions{ConfigPath: path, EnvFile: filepath.Join(dir, "missing.env")})
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Engine.Resolution)
}

func TestInitConfig_LoadsEnvFileBeforeConfig(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("GEOVALUE_ENGINE_RESOLUTION=7\n"), 0o600))
	t.Setenv("GEOVALUE_ENGINE_RESOLUTION", "")
	require.NoError(t, os.Unsetenv("GEOVALUE_ENGINE_RESOLUTION"))

	cfg, err := initConfig(&RootOptions{ConfigPath: filepath.Join(dir, "none.yaml"), EnvFile: envPath})
	assert.Error(t, err, "an explicit config path must exist")
	assert.Nil(t, cfg)
	assert.Equal(t, "7", os.Getenv("GEOVALUE_ENGINE_RESOLUTION"))
}
