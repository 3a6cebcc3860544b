// Command camerasyncd is a demo/integration harness: it wires configuration,
// logging, the sync controller, trace recording, metrics, and the status
// feed together and drives the controller with a simulated per-frame clock.
// A real deployment replaces the simulated driver with the actual capture
// pipeline's per-frame callback; everything else here is production wiring.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"camerasync/internal/clocksync"
	"camerasync/internal/config"
	httpapi "camerasync/internal/http"
	"camerasync/internal/logging"
	"camerasync/internal/statusfeed"
	"camerasync/internal/syncmetrics"
	"camerasync/internal/tracelog"
)

func main() {
	params := config.EnvParamSource{}

	syncCfg, err := config.LoadSync(params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load sync configuration: %v\n", err)
		os.Exit(1)
	}
	serverCfg, err := config.LoadServer(params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load server configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(serverCfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	mode := parseMode(params)
	controller := clocksync.NewController(syncCfg.Group, syncCfg.Port, syncCfg.SyncPeriod, syncCfg.ReadyFrame, syncCfg.WindowCapacity, syncCfg.FrameDurationUs, logger)
	controller.SwitchMode(mode)
	defer func() { _ = controller.Close() }()

	registry := prometheus.NewRegistry()
	collector := syncmetrics.NewCollector(prometheus.Labels{"role": mode.String()})
	registry.MustRegister(collector)

	hub := statusfeed.NewHub(logger)
	stopHub := make(chan struct{})
	go hub.Run(stopHub)
	defer close(stopHub)

	var writer *tracelog.Writer
	if strings.TrimSpace(syncCfg.TraceDir) != "" {
		w, _, err := tracelog.NewWriter(syncCfg.TraceDir, syncCfg.SessionID, time.Now)
		if err != nil {
			logger.Error("failed to open trace writer", logging.Error(err))
		} else {
			writer = w
			writer.SetHeaderMetadata(syncCfg.SessionID, mode.String(), tracelog.SyncParameters{
				"sync_period":      float64(syncCfg.SyncPeriod),
				"ready_frame":      float64(syncCfg.ReadyFrame),
				"window_capacity":  float64(syncCfg.WindowCapacity),
				"frame_duration_us": float64(syncCfg.FrameDurationUs),
			})
			defer func() { _ = writer.Close() }()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sequence uint64
	loop := newFrameLoop(time.Duration(syncCfg.FrameDurationUs)*time.Microsecond, func(time.Duration) {
		in := clocksync.FrameInput{
			WallClockUs:     time.Now().UnixMicro(),
			SensorTimestamp: uint64(time.Now().UnixNano()),
			Sequence:        sequence,
		}
		out := controller.Step(in)
		sequence++

		collector.Update(syncmetrics.Snapshot{
			Mode:            controller.Mode().String(),
			SyncReady:       out.Ready,
			CorrectionState: controller.CorrectionState().String(),
			OffsetUs:        out.FrameDurationOffsetUs,
			LagUs:           out.SyncLagUs,
			FrameCount:      sequence,
		})
		hub.Publish(statusfeed.Status{
			Mode:            controller.Mode().String(),
			SyncReady:       out.Ready,
			CorrectionState: controller.CorrectionState().String(),
			OffsetUs:        out.FrameDurationOffsetUs,
			LagUs:           out.SyncLagUs,
			Sequence:        sequence,
		})
		if writer != nil {
			_ = writer.AppendEvent(sequence, in.WallClockUs, "frame", nil)
		}
	})
	loop.start(ctx)
	defer loop.stop()

	mux := buildMux(registry, hub, serverCfg, logger)
	server := &http.Server{Addr: serverCfg.Address, Handler: mux}

	go func() {
		logger.Info("status/metrics server listening", logging.String("address", serverCfg.Address))
		if serverCfg.TLSCertPath != "" && serverCfg.TLSKeyPath != "" {
			if err := server.ListenAndServeTLS(serverCfg.TLSCertPath, serverCfg.TLSKeyPath); err != nil && err != http.ErrServerClosed {
				logger.Fatal("status server terminated", logging.Error(err))
			}
			return
		}
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("status server terminated", logging.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}

func parseMode(params config.ParamSource) clocksync.Mode {
	raw, ok := params.Lookup("CAMERASYNC_MODE")
	if !ok {
		return clocksync.ModeOff
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "leader":
		return clocksync.ModeLeader
	case "follower":
		return clocksync.ModeFollower
	default:
		return clocksync.ModeOff
	}
}

func buildMux(registry *prometheus.Registry, hub *statusfeed.Hub, cfg *config.ServerConfig, logger *logging.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	upgrader := websocket.Upgrader{CheckOrigin: statusfeed.BuildOriginChecker(logger, cfg.AllowedOrigins)}
	var authenticator statusfeed.Authenticator = statusfeed.AllowAllAuthenticator{}
	if cfg.AdminToken != "" {
		hmacAuth, err := statusfeed.NewHMACAuthenticator(cfg.AdminToken)
		if err != nil {
			logger.Error("failed to build status feed authenticator", logging.Error(err))
		} else {
			authenticator = hmacAuth
		}
	}

	var limiter *httpapi.SlidingWindowLimiter
	if cfg.TraceDumpWindow > 0 && cfg.TraceDumpBurst > 0 {
		limiter = httpapi.NewSlidingWindowLimiter(cfg.TraceDumpWindow, cfg.TraceDumpBurst, nil)
	}

	mux.HandleFunc("/debug/status", func(w http.ResponseWriter, r *http.Request) {
		if limiter != nil && !limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		if err := statusfeed.ServeWS(hub, upgrader, authenticator, logger, w, r); err != nil {
			logger.Warn("status feed subscription failed", logging.Error(err))
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return logging.HTTPTraceMiddleware(logger)(mux)
}
