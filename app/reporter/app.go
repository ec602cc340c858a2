package reporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/woof-software/streamer-report/pkg/blocks"
	"github.com/woof-software/streamer-report/pkg/claims"
	"github.com/woof-software/streamer-report/pkg/config"
	"github.com/woof-software/streamer-report/pkg/contracts"
	"github.com/woof-software/streamer-report/pkg/facts"
	"github.com/woof-software/streamer-report/pkg/logging"
	"github.com/woof-software/streamer-report/pkg/report"
	"github.com/woof-software/streamer-report/pkg/rpc"
	"github.com/woof-software/streamer-report/pkg/simulate"
)

// App wires the report pipeline to its RPC endpoints.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Client    *rpc.HTTPClient
	Fork      *rpc.ForkClient
	Reader    *facts.Reader
	Assembler *report.Assembler

	// Cron is set only when a schedule is configured.
	Cron *cron.Cron
}

// Initialize loads configuration and connects every collaborator. Nothing is
// read from the chain here.
func Initialize(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return nil, &config.Error{Field: "LOG_ENCODING", Err: err}
	}

	return New(ctx, cfg, logger)
}

// New builds an App from an already loaded configuration.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	registry, err := config.LoadRegistry(cfg.StreamsFile)
	if err != nil {
		return nil, err
	}
	abis, err := contracts.LoadSet(cfg.ABIV1Path, cfg.ABIV2Path)
	if err != nil {
		return nil, &config.Error{Field: "ABI_V1_PATH/ABI_V2_PATH", Err: err}
	}

	opts := rpc.Opts{Endpoint: cfg.RPCEndpoint, Timeout: cfg.RPCTimeout, RPS: cfg.RPCRPS, Burst: cfg.RPCBurst}
	client, err := rpc.Dial(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect chain rpc: %w", err)
	}

	reader := facts.NewReader(client, abis, registry.Assets, cfg.ReadParallelism, logger)
	app := &App{
		Config: cfg,
		Logger: logger,
		Client: client,
		Reader: reader,
		Assembler: &report.Assembler{
			Registry: registry,
			ABIs:     abis,
			Head:     client,
			Facts:    reader,
			Blocks:   blocks.NewResolver(client, logger),
			Claims:   claims.NewAggregator(client, cfg.ClaimLogWindow, logger),
			Logger:   logger,
		},
	}

	if cfg.SimulationEnabled() {
		forkOpts := opts
		forkOpts.Endpoint = cfg.ForkEndpoint
		fork, err := rpc.DialFork(ctx, forkOpts)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("connect fork sandbox: %w", err)
		}
		sim, err := simulate.New(fork, cfg.RPCEndpoint, abis, cfg.SimulateAdvance, logger)
		if err != nil {
			fork.Close()
			app.Close()
			return nil, &config.Error{Field: "FORK_RPC", Err: err}
		}
		app.Fork = fork
		app.Assembler.Simulator = sim
	}

	logger.Info("reporter initialized",
		zap.Int("streams", len(registry.Targets)),
		zap.Uint64("block", cfg.Block),
		zap.Bool("simulate", cfg.SimulationEnabled()),
		zap.String("output", cfg.Output))
	return app, nil
}

// RunOnce builds the report and writes it to the configured output.
func (a *App) RunOnce(ctx context.Context) error {
	started := time.Now()
	res, err := a.Assembler.Run(ctx, a.Config.Block)
	if err != nil {
		return err
	}
	if err := report.WriteFile(a.Config.Output, res.Rows); err != nil {
		return err
	}
	a.Logger.Info("created report",
		zap.String("path", a.Config.Output),
		zap.Uint64("block", res.Block),
		zap.Int("rows", len(res.Rows)),
		zap.Duration("took", time.Since(started)))
	return nil
}

// Start runs the report once, then on every schedule tick until ctx is done.
// Without a schedule it returns the result of the single run.
func (a *App) Start(ctx context.Context) error {
	if a.Config.Schedule == "" {
		return a.RunOnce(ctx)
	}

	if err := a.SetupScheduler(ctx); err != nil {
		return err
	}
	if err := a.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("report run failed", zap.Error(err))
	}

	a.Cron.Start()
	a.Logger.Info("report schedule started", zap.String("schedule", a.Config.Schedule))
	<-ctx.Done()
	a.StopCron()
	return nil
}

// SetupScheduler registers the report run on the configured schedule. Runs
// never overlap, since every run drives the same fork sandbox.
func (a *App) SetupScheduler(ctx context.Context) error {
	logger := cronLogger{a.Logger.Sugar()}
	a.Cron = cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	_, err := a.Cron.AddFunc(a.Config.Schedule, func() {
		if err := a.RunOnce(ctx); err != nil {
			a.Logger.Error("scheduled report run failed", zap.Error(err))
		}
	})
	if err != nil {
		return &config.Error{Field: "REPORT_SCHEDULE", Err: err}
	}
	return nil
}

// StopCron stops the scheduler and waits for a running report to finish.
func (a *App) StopCron() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
}

// Close releases pools and connections.
func (a *App) Close() {
	if a.Reader != nil {
		a.Reader.Close()
	}
	if a.Fork != nil {
		a.Fork.Close()
	}
	if a.Client != nil {
		a.Client.Close()
	}
	_ = a.Logger.Sync()
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
