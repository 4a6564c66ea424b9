package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/core/services"
	httphandlers "peercall/internal/handlers/http"
	"peercall/internal/infrastructure/gateway"
	"peercall/internal/infrastructure/media"
	"peercall/internal/infrastructure/middleware"
	"peercall/internal/infrastructure/monitoring"
	"peercall/internal/infrastructure/repositories"
	webrtcinfra "peercall/internal/infrastructure/webrtc"
	"peercall/pkg/config"
	"peercall/pkg/logger"
	"peercall/pkg/tracing"
)

func main() {
	startTime := time.Now()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/peercall/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	selfID := domain.UserID(cfg.Identity.UserID)
	groupID := domain.GroupID(cfg.Identity.GroupID)

	// Tracing
	if cfg.Tracing.Enabled {
		tracerCfg := tracing.DefaultConfig()
		tracerCfg.Enabled = true
		tracerCfg.JaegerURL = cfg.Tracing.JaegerURL
		tracerCfg.SampleRate = cfg.Tracing.SampleRate
		tp, err := tracing.Init(tracerCfg)
		if err != nil {
			log.Warnw("failed to initialize tracing", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(ctx)
			}()
			log.Info("tracing enabled")
		}
	}

	// Signaling store
	repoFactory, err := repositories.NewFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create store factory", "error", err)
	}
	defer repoFactory.Close()
	callRepo := repoFactory.CreateCallRepository()

	// Local media
	micAccess, err := media.ParseDeviceAccess(cfg.Media.Microphone)
	if err != nil {
		log.Fatalw("invalid media configuration", "error", err)
	}
	displayAccess, err := media.ParseDeviceAccess(cfg.Media.Display)
	if err != nil {
		log.Fatalw("invalid media configuration", "error", err)
	}
	mediaProvider := media.NewStaticProvider()
	mediaProvider.Microphone = micAccess
	mediaProvider.Display = displayAccess

	// Negotiator factory
	var negotiatorConfig webrtcinfra.Config
	for _, s := range cfg.WebRTC.ICEServers {
		negotiatorConfig.ICEServers = append(negotiatorConfig.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	negotiatorConfig.PortRange.Min = cfg.WebRTC.PortRange.Min
	negotiatorConfig.PortRange.Max = cfg.WebRTC.PortRange.Max
	negotiatorFactory := webrtcinfra.NewFactory(negotiatorConfig, mediaProvider, log)

	// Metrics
	metricsService := services.NewMetricsService()
	var recorder ports.MetricsRecorder = metricsService
	if cfg.Monitoring.PrometheusEnabled {
		recorder = services.TeeMetrics{metricsService, monitoring.NewPrometheusCollector()}
	}

	// Call session facade
	callService := services.NewCallService(
		callRepo, negotiatorFactory, mediaProvider, recorder, log,
		services.CallServiceConfig{SetupTimeout: cfg.Call.SetupTimeout.Std()},
	)
	defer callService.Close()

	if err := callService.Listen(context.Background(), groupID, selfID); err != nil {
		log.Fatalw("failed to start incoming-call discovery", "error", err)
	}

	// Gateway
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(logger.NewContextLogger(zapLogger)))
	router.Use(middleware.RateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	if cfg.Auth.Enabled {
		router.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	}

	callHandler := httphandlers.NewCallHandler(callService, metricsService, selfID, groupID)
	callHandler.SetupRoutes(router)

	wsServer := gateway.NewWebSocketServer(callService, selfID, groupID, gateway.Options{
		PingInterval: cfg.Gateway.PingInterval.Std(),
		PongTimeout:  cfg.Gateway.PongTimeout.Std(),
		WriteTimeout: cfg.Gateway.WriteTimeout.Std(),
	}, log)
	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddStoreCheck(callRepo)
	router.GET("/ready", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status": status.Status,
			"checks": status.Checks,
			"uptime": time.Since(startTime).String(),
		})
	})

	srv := &http.Server{
		Addr:         cfg.Gateway.Address,
		Handler:      router,
		ReadTimeout:  cfg.Gateway.ReadTimeout.Std(),
		WriteTimeout: cfg.Gateway.WriteTimeout.Std(),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting peercall gateway",
			"address", cfg.Gateway.Address,
			"user_id", selfID,
			"group_id", groupID,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("gateway failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	// Hang up before the gateway goes away so the record does not leak a
	// ghost call.
	endCtx, endCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := callService.EndCall(endCtx, selfID); err != nil {
		log.Warnw("failed to end active call during shutdown", "error", err)
	}
	endCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout.Std())
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during gateway shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing gateway", "error", closeErr)
		}
	}

	log.Info("peercall stopped")
}
