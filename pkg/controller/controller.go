package controller

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cuemby/coco/pkg/blocklist"
	"github.com/cuemby/coco/pkg/cocoerr"
	"github.com/cuemby/coco/pkg/config"
	"github.com/cuemby/coco/pkg/endpoint"
	"github.com/cuemby/coco/pkg/forwarder"
	"github.com/cuemby/coco/pkg/frontend"
	"github.com/cuemby/coco/pkg/hostset"
	"github.com/cuemby/coco/pkg/log"
	"github.com/cuemby/coco/pkg/metrics"
	"github.com/cuemby/coco/pkg/notify"
	"github.com/cuemby/coco/pkg/queue"
	"github.com/cuemby/coco/pkg/state"
	"github.com/cuemby/coco/pkg/worker"
	"github.com/rs/zerolog"
)

// Version is stamped into comet's /start registration.
const Version = "0.1.0"

// Controller holds every collaborator coco needs to run and sequences
// their startup and shutdown.
type Controller struct {
	cfg *config.Config

	state      *state.State
	blocklist  *blocklist.Blocklist
	forwarder  *forwarder.Forwarder
	engine     *endpoint.Engine
	queue      *queue.Queue
	worker     *worker.Worker
	frontend   *frontend.Frontend
	registrar  *notify.Registrar
	metricsSrv *http.Server

	logger zerolog.Logger
}

// New loads the configuration at path and wires every component. It
// does not start anything yet; call Run to bring the controller up.
func New(path string) (*Controller, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: true})

	slackForwarder := notify.NewSlackForwarder(cfg.Slack)
	log.Logger = log.Logger.Output(zerolog.MultiLevelWriter(os.Stdout, slackForwarder))

	st, err := state.Open(cfg.StoragePath, cfg.InitialState, cfg.ExcludeFromReset)
	if err != nil {
		return nil, cocoerr.WrapInternalError("open state store", err)
	}
	metrics.RegisterComponent("state", true, "store opened")

	knownHosts := allHosts(cfg.Groups)
	bl, err := blocklist.Open(cfg.BlocklistPath, knownHosts)
	if err != nil {
		return nil, cocoerr.WrapInternalError("open blocklist", err)
	}

	fwd := forwarder.New(cfg.SessionLimit, cfg.Timeout, bl)
	eng := endpoint.New(cfg.Registry, fwd, st)

	q, err := queue.Open(cfg.StoragePath+"/queue.db", cfg.QueueLength)
	if err != nil {
		return nil, cocoerr.WrapInternalError("open queue", err)
	}
	metrics.RegisterComponent("queue", true, "queue opened")

	for _, spec := range cfg.Registry.Specs() {
		metrics.InitDropCounter(spec.Name)
	}

	w := worker.New(q, eng, cfg.Registry, st)
	fe := frontend.New(frontend.Config{
		Port:     cfg.Port,
		Timeout:  cfg.FrontendTimeout,
		NWorkers: cfg.NWorkers,
	}, cfg.Registry, q, bl)

	return &Controller{
		cfg:       cfg,
		state:     st,
		blocklist: bl,
		forwarder: fwd,
		engine:    eng,
		queue:     q,
		worker:    w,
		frontend:  fe,
		registrar: notify.NewRegistrar(cfg.CometBroker),
		logger:    log.WithComponent("controller"),
	}, nil
}

// Run brings every component up, blocks until ctx is cancelled, and
// then shuts everything down in reverse order.
func (c *Controller) Run(ctx context.Context) error {
	metrics.SetVersion(Version)

	if err := c.registrar.RegisterStart(ctx, Version); err != nil {
		c.logger.Warn().Err(err).Msg("comet start registration failed")
	}
	if err := c.registrar.RegisterConfig(ctx, c.cfg); err != nil {
		c.logger.Warn().Err(err).Msg("comet config registration failed")
	}

	if c.cfg.MetricsPort > 0 {
		c.startMetrics()
	}

	c.worker.RunStartupEndpoints(ctx)
	c.worker.Start()

	metrics.RegisterComponent("frontend", true, "serving")
	c.logger.Info().Int("port", c.cfg.Port).Msg("coco starting")
	err := c.frontend.Start(ctx)

	metrics.RegisterComponent("frontend", false, "stopped")
	c.worker.Stop()
	if stopErr := c.stopMetrics(); stopErr != nil {
		c.logger.Warn().Err(stopErr).Msg("metrics server shutdown failed")
	}
	if closeErr := c.queue.Close(); closeErr != nil {
		c.logger.Warn().Err(closeErr).Msg("queue close failed")
	}
	if closeErr := c.state.Close(); closeErr != nil {
		c.logger.Warn().Err(closeErr).Msg("state close failed")
	}
	return err
}

func (c *Controller) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	c.metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", c.cfg.MetricsPort), Handler: mux}

	go func() {
		if err := c.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}

func (c *Controller) stopMetrics() error {
	if c.metricsSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.metricsSrv.Shutdown(ctx)
}

// Config returns the loaded configuration, for callers that only need
// to validate it (the check-config subcommand).
func (c *Controller) Config() *config.Config { return c.cfg }

// State exposes the state store directly, for the reset subcommand.
func (c *Controller) State() *state.State { return c.state }

// Close releases every collaborator's resources without running the
// frontend or worker, for short-lived CLI invocations.
func (c *Controller) Close() error {
	if err := c.queue.Close(); err != nil {
		return err
	}
	return c.state.Close()
}

func allHosts(groups []hostset.Group) []hostset.Host {
	var hosts []hostset.Host
	for _, g := range groups {
		hosts = append(hosts, g.Hosts...)
	}
	return hosts
}
