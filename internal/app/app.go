package app

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/animus-coder/testpilot/internal/agent"
	"github.com/animus-coder/testpilot/internal/artifact"
	"github.com/animus-coder/testpilot/internal/config"
	"github.com/animus-coder/testpilot/internal/generation"
	"github.com/animus-coder/testpilot/internal/observability"
	"github.com/animus-coder/testpilot/internal/rpc"
	"github.com/animus-coder/testpilot/internal/verify"
)

// App holds the components built from configuration.
type App struct {
	Config   *config.Config
	Store    *artifact.FileStore
	Resolver *artifact.ContextResolver
	Client   *generation.Client
	Verifier *verify.Runner
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

// Build constructs the store, generation client and verifier from cfg.
// metrics may be nil.
func Build(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var history *artifact.History
	if strings.TrimSpace(cfg.Artifact.HistoryDir) != "" {
		history = &artifact.History{Dir: cfg.Artifact.HistoryDir, Limit: cfg.Artifact.HistoryLimit}
	}
	store, err := artifact.NewFileStore(cfg.Artifact.ProjectRoot, artifact.Layout{
		TestRoot: cfg.Artifact.TestRoot,
		Suffix:   cfg.Artifact.Suffix,
	}, history)
	if err != nil {
		return nil, fmt.Errorf("build store: %w", err)
	}

	client := generation.NewClient(generation.Options{
		BaseURL:        cfg.Generation.BaseURL,
		Token:          cfg.Generation.APIKey,
		LicenseKey:     cfg.Generation.LicenseKey,
		Model:          cfg.Generation.Model,
		RequestTimeout: cfg.Generation.RequestTimeout,
		PollInterval:   cfg.Generation.PollInterval,
		PollTimeout:    cfg.Generation.PollTimeout,
		Retry:          backoff(cfg.Generation.RetryConfig),
		QuotaRetry:     backoff(cfg.Quota),
		FeedbackRetry:  backoff(cfg.Feedback),
	}, logger.Named("generation"))
	if metrics != nil {
		client.Metrics = metrics
	}

	workDir := cfg.Verify.WorkingDir
	if strings.TrimSpace(workDir) == "" {
		workDir = store.Root()
	} else if !filepath.IsAbs(workDir) {
		workDir = filepath.Join(store.Root(), workDir)
	}
	exec := &verify.Executor{
		WorkingDir: workDir,
		Allowed:    cfg.Verify.AllowedCommands,
		Denied:     cfg.Verify.DeniedCommands,
		Env:        cfg.Verify.Env,
	}
	verifier := verify.NewRunner(verify.NewGoToolchain(exec, cfg.Verify.Command),
		cfg.Verify.CompileTimeout, cfg.Verify.TestTimeout, logger.Named("verify"))

	return &App{
		Config:   cfg,
		Store:    store,
		Resolver: artifact.NewContextResolver(store, ".go", cfg.Loop.MaxContextRefs, cfg.Loop.MaxContextBytes),
		Client:   client,
		Verifier: verifier,
		Metrics:  metrics,
		Logger:   logger,
	}, nil
}

// Overrides adjusts a single run without touching the loaded configuration.
type Overrides struct {
	Model                 string
	MaxAttempts           int
	ContinueOnClientError bool
}

// NewLoop builds a convergence loop over the app's components.
func (a *App) NewLoop(o Overrides) *agent.Loop {
	gen := a.Config.Generation
	models := agent.ModelStrategy{
		Default:     gen.Model,
		Initial:     gen.InitialModel,
		Incremental: gen.IncrementalModel,
		Fallbacks:   gen.FallbackModels,
	}
	if o.Model != "" {
		models.Default, models.Initial, models.Incremental = o.Model, "", ""
	}
	maxAttempts := a.Config.Loop.MaxAttempts
	if o.MaxAttempts > 0 {
		maxAttempts = o.MaxAttempts
	}

	loop := agent.NewLoop(a.Client, a.Verifier, a.Store, a.Resolver, agent.Options{
		MaxAttempts:           maxAttempts,
		ContinueOnClientError: a.Config.Loop.ContinueOnClientError || o.ContinueOnClientError,
		Models:                models,
	}, a.Logger.Named("loop"))
	if a.Metrics != nil {
		loop.Metrics = a.Metrics
	}
	return loop
}

// LoopForRequest adapts NewLoop to RPC requests.
func (a *App) LoopForRequest(req rpc.GenerateRequest) agent.UnitRunner {
	return a.NewLoop(Overrides{Model: req.Model, ContinueOnClientError: req.ContinueOnClientError})
}

func backoff(r config.RetryConfig) generation.Backoff {
	return generation.Backoff{
		Attempts:  r.MaxRetries,
		Initial:   r.InitialBackoff,
		Max:       r.MaxBackoff,
		Factor:    2,
		MaxJitter: r.MaxJitter,
	}
}
