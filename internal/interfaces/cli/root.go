package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/GeoValue-Intelligence/internal/application/valuation"
	"github.com/turtacn/GeoValue-Intelligence/internal/config"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	EnvFile      string
	LogLevel     string
	OutputFormat string
	NoColor      bool
	Timeout      time.Duration
	MetricsAddr  string
}

// Session is an engine built for one command. Start trains or loads the
// models; Close disposes everything Start and the factory opened. Metrics
// and Start may be nil.
type Session struct {
	Service valuation.Service
	Metrics http.Handler
	Start   func(ctx context.Context) error
	Close   func(ctx context.Context) error
}

// ServiceFactory builds a Session from configuration.
type ServiceFactory func(ctx context.Context, cfg *config.Config, log logging.Logger) (*Session, error)

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config       *config.Config
	Logger       logging.Logger
	OutputFormat string
	Timeout      time.Duration
	MetricsAddr  string

	newService ServiceFactory
}

type rootSettings struct {
	config  *config.Config
	factory ServiceFactory
}

// RootOption customizes NewRootCommand.
type RootOption func(*rootSettings)

// WithConfig skips config discovery and uses cfg.
func WithConfig(cfg *config.Config) RootOption {
	return func(s *rootSettings) { s.config = cfg }
}

// WithServiceFactory replaces the default runtime-backed engine.
func WithServiceFactory(f ServiceFactory) RootOption {
	return func(s *rootSettings) { s.factory = f }
}

// NewRootCommand creates the root command with global flags and subcommands.
func NewRootCommand(options ...RootOption) *cobra.Command {
	settings := &rootSettings{factory: runtimeService}
	for _, o := range options {
		o(settings)
	}
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "geovalue",
		Short: "GeoValue-Intelligence CLI for property valuation heatmaps and analysis",
		Long: "GeoValue-Intelligence trains and serves the property valuation models:\n" +
			"value heatmaps over a region, per-property analysis, location predictions,\n" +
			"photo analysis and incremental fine-tuning from observed transactions.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts, settings)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./geovalue.yaml)")
	pf.StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before configuration")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error); overrides log.level")
	pf.StringVarP(&opts.OutputFormat, "output", "o", "text", "output format (text, json)")
	pf.BoolVar(&opts.NoColor, "no-color", false, "disable colored output")
	pf.DurationVar(&opts.Timeout, "timeout", 10*time.Minute, "overall operation timeout including model training")
	pf.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")

	cmd.AddCommand(
		newHeatmapCmd(),
		newAnalyzeCmd(),
		newPredictCmd(),
		newUpdateCmd(),
		newTrainCmd(),
		newImagesCmd(),
		newVersionCmd(),
	)
	return cmd
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions, s *rootSettings) error {
	switch opts.OutputFormat {
	case "text", "json":
	default:
		return errors.InvalidParam("unsupported output format " + opts.OutputFormat)
	}
	if opts.NoColor {
		color.NoColor = true
	}

	cfg := s.config
	if cfg == nil {
		var err error
		if cfg, err = initConfig(opts); err != nil {
			return fmt.Errorf("config initialization failed: %w", err)
		}
	}

	logger, err := initLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}

	cliCtx := &CLIContext{
		Config:       cfg,
		Logger:       logger,
		OutputFormat: opts.OutputFormat,
		Timeout:      opts.Timeout,
		MetricsAddr:  opts.MetricsAddr,
		newService:   s.factory,
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cliCtx))
	return nil
}

// initConfig loads the env file, then the first config file found. Without
// a file, configuration comes from GEOVALUE_* variables and defaults.
func initConfig(opts *RootOptions) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.EnvFile); err != nil {
		return nil, err
	}
	if opts.ConfigPath != "" {
		return config.Load(opts.ConfigPath)
	}

	searchPaths := []string{"./geovalue.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".geovalue", "config.yaml"))
	}
	searchPaths = append(searchPaths, "/etc/geovalue/config.yaml")

	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return config.Load(p)
		}
	}
	return config.LoadFromEnv()
}

// initLogger writes console logs to stderr so stdout stays parseable.
func initLogger(cfg *config.Config, opts *RootOptions) (logging.Logger, error) {
	level := cfg.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	if level == "" {
		level = logging.LevelWarn
	}
	return logging.NewLogger(logging.LogConfig{
		Level:            level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

// runtimeService builds the full runtime from cfg.
func runtimeService(ctx context.Context, cfg *config.Config, log logging.Logger) (*Session, error) {
	rt, err := valuation.Build(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &Session{
		Service: rt.Engine,
		Metrics: rt.MetricsHandler(),
		Start:   rt.Start,
		Close:   rt.Close,
	}, nil
}

// GetCLIContext extracts CLIContext from a command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.InvalidParam("command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.InvalidParam("CLIContext not found in command context")
	}
	return cliCtx, nil
}

// withService runs fn against a freshly initialized engine and disposes it
// afterwards.
func withService(cmd *cobra.Command, fn func(ctx context.Context, cc *CLIContext, svc valuation.Service) error) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if cc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cc.Timeout)
		defer cancel()
	}

	sess, err := cc.newService(ctx, cc.Config, cc.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if sess.Close == nil {
			return
		}
		if cerr := sess.Close(context.Background()); cerr != nil {
			cc.Logger.Warn("engine shutdown failed", logging.Err(cerr))
		}
	}()

	if cc.MetricsAddr != "" && sess.Metrics != nil {
		stop, err := serveMetrics(cc.MetricsAddr, sess.Metrics, cc.Logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	if sess.Start != nil {
		start := time.Now()
		if err := sess.Start(ctx); err != nil {
			return err
		}
		cc.Logger.Debug("engine ready", logging.Duration("startup", time.Since(start)))
	}
	return fn(ctx, cc, sess.Service)
}

// serveMetrics exposes h on addr until the returned stop function runs.
func serveMetrics(addr string, h http.Handler, log logging.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidParam, "listen on metrics address "+addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	log.Info("metrics available", logging.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print version information",
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "geovalue %s\n  commit: %s\n  built:  %s\n  go:     %s\n",
				Version, GitCommit, BuildDate, runtime.Version())
			return nil
		},
	}
}

// Execute is the main entry point for the CLI application.
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}
