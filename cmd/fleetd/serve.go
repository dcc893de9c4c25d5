package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/lead-fleet/internal/auth"
	"github.com/capitalize-ai/lead-fleet/internal/config"
	"github.com/capitalize-ai/lead-fleet/internal/handler"
	"github.com/capitalize-ai/lead-fleet/internal/hub"
	natsclient "github.com/capitalize-ai/lead-fleet/internal/nats"
	"github.com/capitalize-ai/lead-fleet/internal/scheduler"
	"github.com/capitalize-ai/lead-fleet/internal/service"
	"github.com/capitalize-ai/lead-fleet/internal/store"
	"github.com/capitalize-ai/lead-fleet/internal/supervisor"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
	"github.com/capitalize-ai/lead-fleet/pkg/tracing"
)

func runServe(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting fleet supervisor")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "lead-fleet", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	// The audit log is optional.
	var (
		auditLog *natsclient.AuditLog
		audit    hub.Audit
	)
	if cfg.NATSURL != "" {
		auditLog, err = natsclient.Open(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			Token:    cfg.NATSToken,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			MaxAge:   cfg.AuditRetention,
		}, log)
		if err != nil {
			return err
		}
		defer auditLog.Close()
		audit = auditLog
		log.Info("fleet audit log enabled", zap.String("stream", natsclient.StreamName))
	}

	spawner, err := supervisor.NewExecSpawner()
	if err != nil {
		return err
	}
	sup := supervisor.New(spawner, supervisor.Options{RestartDelay: cfg.RestartDelay}, log)

	fleetSvc := service.NewFleetService(st, sup, log)
	leadSvc := service.NewLeadService(st, sup, log)
	scheduleSvc := service.NewScheduleService(st, fleetSvc, log)

	viewers := hub.New(fleetSvc, leadSvc, audit, log)
	fleetSvc.SetNotifier(viewers)
	leadSvc.SetNotifier(viewers)
	scheduleSvc.SetNotifier(viewers)

	go viewers.Run(ctx)
	go viewers.Consume(ctx, sup.Events())

	executor := scheduler.New(st, fleetSvc, viewers, cfg.SchedulerInterval, log)
	go executor.Start(ctx)

	if err := fleetSvc.StartEnabled(ctx); err != nil {
		log.Error("failed to start enabled bots", zap.Error(err))
	}

	handlers := handler.Handlers{
		Health:    handler.NewHealthHandler(st, auditLog),
		Bots:      handler.NewBotHandler(fleetSvc, log),
		Schedules: handler.NewScheduleHandler(scheduleSvc, log),
		Leads:     handler.NewLeadHandler(leadSvc, log),
		WS:        handler.NewWSHandler(viewers),
	}
	if auditLog != nil {
		handlers.Events = handler.NewEventHandler(auditLog, fleetSvc, log)
	}

	router := handler.NewRouter(handlers, handler.RouterOptions{
		Issuer:            auth.NewIssuer(cfg.JWTSecret, cfg.JWTExpiration),
		Roles:             auth.NewStaticRoles(cfg.AdminEmails, cfg.OperatorEmails),
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Logger:            log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		log.Error("server error", zap.Error(serveErr))
		stop()
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	sup.StopAll(shutdownCtx)

	log.Info("fleet stopped")
	return serveErr
}
