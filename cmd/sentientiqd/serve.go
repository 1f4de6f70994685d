package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sentientiq/pulse-engine/internal/bus"
	"github.com/sentientiq/pulse-engine/internal/config"
	"github.com/sentientiq/pulse-engine/internal/emotion"
	"github.com/sentientiq/pulse-engine/internal/identity"
	"github.com/sentientiq/pulse-engine/internal/ingest"
	"github.com/sentientiq/pulse-engine/internal/intervention"
	"github.com/sentientiq/pulse-engine/internal/obs"
	"github.com/sentientiq/pulse-engine/internal/outcome"
	"github.com/sentientiq/pulse-engine/internal/pattern"
	"github.com/sentientiq/pulse-engine/internal/session"
	"github.com/sentientiq/pulse-engine/internal/shard"
	"github.com/sentientiq/pulse-engine/internal/wiring"
	"github.com/sentientiq/pulse-engine/internal/ws"
)

const idleSweepInterval = 60 * time.Second

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		devMode    bool
		simulate   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest/classify/intervene/broadcast pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, port, devMode, simulate)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file (defaults to XDG config dir)")
	cmd.Flags().IntVar(&port, "port", 0, "override server listen port")
	cmd.Flags().BoolVar(&devMode, "dev", false, "development mode: human-readable logs")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "drive synthetic telemetry through the pipeline instead of waiting for real traffic")
	return cmd
}

func runServe(configPath string, port int, devMode, simulate bool) error {
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		os.Exit(exitIOError)
	}
	if port > 0 {
		cfg.Server.ListenAddr = ":" + strconv.Itoa(port)
	}

	log, err := obs.NewLogger(devMode)
	if err != nil {
		os.Exit(exitIOError)
	}
	defer log.Sync()

	metrics := obs.NewMetrics(prometheus.DefaultRegisterer)
	health := obs.NewHealthTracker(5)

	store := session.NewStore()

	identityStore := identity.NewRedisStore(cfg.Identity.StoreURL)
	identityResolver := identity.NewResolver(identityStore, log)

	emotionCfg := emotion.DefaultConfig()
	emotionCfg.EarlySessionWindow = cfg.Pipeline.EarlySessionWindow
	classifier := emotion.New(emotionCfg)
	detector := pattern.New()

	broadcaster := ws.NewBroadcaster(store, cfg.Server.SnapshotInterval, cfg.Server.MaxConnections, log)
	defer broadcaster.Stop()

	var publisher *bus.Publisher
	if conn, err := bus.Connect(cfg.Bus.URL, log); err != nil {
		log.Warn("bus unavailable at startup, continuing without it", zap.Error(err))
		health.Fail("bus", err)
	} else {
		publisher = conn
		defer publisher.Close()
		health.Heartbeat("bus")
	}

	sink := wiring.NewBroadcastSink(broadcaster, publisher)
	interventions := intervention.New(sink)
	interventions.SetCooldown(cfg.Pipeline.InterventionCooldown)

	hotStore, err := outcome.NewFileHotStore(cfg.Outcome.HotDir)
	if err != nil {
		os.Exit(exitIOError)
	}
	coldStore := outcome.NewFileColdStore(cfg.Outcome.ColdBucket)
	recorder := outcome.NewRecorder(hotStore, coldStore, log)

	pool := shard.New(shard.Config{
		Shards:           cfg.Pipeline.Shards,
		QueueSize:        cfg.Pipeline.MaxQueueDepth,
		Store:            store,
		Identity:         identityResolver,
		Classifier:       classifier,
		Detector:         detector,
		Interventions:    interventions,
		EmotionSink:      sink,
		InterventionSink: sink,
		OutcomeEvents:    recorder.Events(),
		Metrics:          metrics,
		Health:           health,
		Log:              log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Run(ctx)
	go recorder.Run(ctx)
	go runIdleSweep(ctx, store, cfg.Pipeline.SessionIdle, recorder.Events())

	if simulate {
		log.Info("simulate mode enabled: driving synthetic telemetry")
		go ingest.NewSimulator(pool).Run(ctx)
	}

	ingestServer := ingest.NewServer(pool, store, cfg.Server.TenantRateLimit, cfg.Server.TenantRateBurst, log)
	wsServer := ws.NewServer(store, broadcaster, cfg.Server.AllowedOrigins, cfg.Server.AuthToken, log)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	ingestServer.Mount(r)
	wsServer.Mount(r)
	r.Get("/healthz", healthzHandler(health))
	r.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{Addr: cfg.Server.ListenAddr, Handler: r}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Server.ListenAddr))
		var err error
		if cfg.Server.TLSCertPath != "" {
			err = httpServer.ListenAndServeTLS(cfg.Server.TLSCertPath, cfg.Server.TLSKeyPath)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		log.Error("server error", zap.Error(err))
		os.Exit(exitUnavailable)
	case <-sigCh:
		log.Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	cancel()
	return nil
}

func runIdleSweep(ctx context.Context, store *session.Store, maxIdle time.Duration, events chan<- outcome.Event) {
	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for _, snap := range store.ExpireIdle(now, maxIdle) {
				select {
				case events <- outcome.Event{Outcome: outcome.FromSnapshot(snap.TenantID, snap, outcome.FinalOutcomeIdleTimeout, now)}:
				default:
				}
			}
		}
	}
}

func healthzHandler(h *obs.HealthTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.Overall()
		w.Header().Set("Content-Type", "application/json")
		if status == obs.StatusDead {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(struct {
			Status     obs.Status              `json:"status"`
			Components []obs.ComponentSnapshot `json:"components"`
		}{Status: status, Components: h.Snapshot()})
	}
}
