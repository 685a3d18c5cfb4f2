// companion: session orchestrator for an always-on camera companion device.
// Devices connect over /ws/device; dashboards watch /ws/status.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teslashibe/go-companion/internal/config"
	"github.com/teslashibe/go-companion/internal/httpc"
	"github.com/teslashibe/go-companion/internal/log"
	"github.com/teslashibe/go-companion/pkg/bridge"
	"github.com/teslashibe/go-companion/pkg/conversation"
	"github.com/teslashibe/go-companion/pkg/devicelink"
	"github.com/teslashibe/go-companion/pkg/dvr"
	"github.com/teslashibe/go-companion/pkg/hub"
	"github.com/teslashibe/go-companion/pkg/orchestrator"
	"github.com/teslashibe/go-companion/pkg/protocol"
	"github.com/teslashibe/go-companion/pkg/web"
)

var version = "1.0.0"

func main() {
	configPath := flag.String("config", os.Getenv("COMPANION_CONFIG"), "Path to YAML config file")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	debug := flag.Bool("debug", false, "Enable request logging and debug output")
	healthcheckFlag := flag.Bool("healthcheck", false, "Probe a running instance's /health and exit")
	flag.Parse()

	log.Init("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.L().Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if *port > 0 {
		cfg.Server.Addr = fmt.Sprintf(":%d", *port)
	}
	log.Configure(cfg.Log.Level, cfg.Log.JSON)

	if *healthcheckFlag {
		os.Exit(healthcheck(cfg.Server.Addr))
	}

	if err := cfg.Validate(); err != nil {
		log.L().Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *debug); err != nil {
		log.L().Error("companion stopped", "error", err)
		os.Exit(1)
	}
}

// healthcheck is used by container health checks.
func healthcheck(addr string) int {
	ctx, cancel := context.WithTimeout(context.Background(), httpc.DefaultTimeout)
	defer cancel()
	url := "http://localhost" + addr + "/health"
	if err := httpc.CheckHealth(ctx, url); err != nil {
		fmt.Fprintf(os.Stderr, "unhealthy: %v\n", err)
		return 1
	}
	return 0
}

// handler lets the device link and bridge be built before the orchestrator
// they deliver signals to.
type handler struct {
	orch *orchestrator.Orchestrator
}

func (h *handler) HandleSignal(ctx context.Context, msg *protocol.Message) error {
	if h.orch == nil {
		return errors.New("companion: not ready")
	}
	return h.orch.HandleSignal(ctx, msg)
}

func run(ctx context.Context, cfg *config.Config, debug bool) error {
	logger := log.L()
	logger.Info("starting companion",
		"version", version,
		"addr", cfg.Server.Addr,
		"device_id", cfg.Device.ID,
		"model", cfg.LLM.Model,
		"config", cfg.Path)

	dvrCfg := cfg.Recorder()
	dvrCfg.Logger = logger
	recorder, err := dvr.NewRecorder(dvrCfg)
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}

	opts := append(cfg.ConversationOptions(), conversation.WithLogger(logger))
	factory := func() (conversation.Session, error) {
		s, err := conversation.NewOpenAI(opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	h := &handler{}
	status := hub.New("status", logger)

	linkCfg := cfg.DeviceLink()
	linkCfg.Logger = logger
	link := devicelink.New(h, linkCfg)

	pubs := orchestrator.Publishers{status, link}

	var br *bridge.Bridge
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		br = bridge.New(rdb, cfg.Device.ID, h, logger)
		pubs = append(pubs, br)
	}

	oc := cfg.Orchestrator()
	oc.Logger = logger
	orch := orchestrator.New(oc, orchestrator.Deps{
		Factory:   factory,
		Recorder:  recorder,
		Publisher: pubs,
	})
	h.orch = orch

	srv := web.NewServer(web.Config{
		Addr:           cfg.Server.Addr,
		RequestTimeout: cfg.Server.RequestTimeout,
		Controller:     orch,
		Status:         status,
		Devices:        link,
		Clips:          recorder,
		Version:        version,
		Debug:          debug,
		Logger:         logger,
	})

	go status.Run(ctx)

	orchDone := make(chan error, 1)
	go func() { orchDone <- orch.Run(ctx) }()

	if br != nil {
		go func() {
			if err := br.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("redis bridge stopped", "error", err)
			}
		}()
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			"addr", cfg.Server.Addr,
			"device_ws", "/ws/device",
			"status_ws", "/ws/status")
		srvErr <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-srvErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	select {
	case err := <-orchDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-shutdownCtx.Done():
		logger.Warn("orchestrator did not stop in time")
	}
	return nil
}
