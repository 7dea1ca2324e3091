package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"golang.org/x/time/rate"

	"printfleet/dashboard-server/internal/config"
	"printfleet/dashboard-server/internal/escpos"
	"printfleet/dashboard-server/internal/fleet"
	"printfleet/dashboard-server/internal/live"
	"printfleet/dashboard-server/internal/metrics"
	"printfleet/dashboard-server/internal/model"
	"printfleet/dashboard-server/internal/mqttbroker"
	"printfleet/dashboard-server/internal/store"
)

// App wires together the dashboard services and manages their lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	store  *store.Store
	broker *mqttbroker.Broker
	fleet  *fleet.Service

	printers  *live.Store[model.Printer]
	logs      *live.Store[model.LogEntry]
	templates *live.Store[model.ReceiptTemplate]

	liveness *liveness
	limiter  *rate.Limiter
	mdns     *zeroconf.Server

	// templateMu serializes read-modify-write edits of template line decorations.
	templateMu sync.Mutex

	sendPrint func(ctx context.Context, addr string, payload []byte) error
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger, sendPrint: escpos.Send}
}

// setup opens the document store and builds the services that sit on it.
func (a *App) setup(ctx context.Context) error {
	db, err := store.Open(a.cfg.DatabasePath, a.logger)
	if err != nil {
		return err
	}
	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return err
	}
	a.store = db

	a.fleet = fleet.NewService(db, a.logger)
	a.printers = fleet.NewPrinterStore(db, a.logger)
	a.logs = fleet.NewLogStore(db, a.cfg.LogLimit, a.logger)
	a.templates = fleet.NewTemplateStore(db, a.logger)
	a.liveness = newLiveness(a.cfg.HeartbeatTimeout)
	a.limiter = rate.NewLimiter(rate.Limit(a.cfg.WriteRate), a.cfg.WriteBurst)

	for _, s := range a.refreshers() {
		s.Refresh()
	}
	return nil
}

// teardown closes the live stores before the backend they read from.
func (a *App) teardown() {
	if a.printers != nil {
		a.printers.Close()
		a.logs.Close()
		a.templates.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("close store", "error", err)
		}
	}
}

// refresher is the part of a live store the HTTP surface drives by name.
type refresher interface {
	Name() string
	Refresh()
}

func (a *App) refreshers() []refresher {
	return []refresher{a.printers, a.logs, a.templates}
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	if err := a.setup(ctx); err != nil {
		return err
	}
	defer a.teardown()

	broker := mqttbroker.New(a.logger)
	broker.SetPublishHandler(a.handleMQTTPublish)
	brokerErrCh, err := broker.Start(a.cfg.MQTTBindAddress)
	if err != nil {
		return err
	}
	a.broker = broker

	sweeper, err := a.startLivenessSweep(ctx)
	if err != nil {
		_ = broker.Stop()
		return err
	}
	defer func() { <-sweeper.Stop().Done() }()

	if a.cfg.MDNSEnabled {
		if tcp, ok := broker.Addr().(*net.TCPAddr); ok {
			if err := a.startMDNS(tcp.Port); err != nil {
				a.logger.Warn("mDNS advertisement failed", "error", err)
			}
		}
		defer a.stopMDNS()
	}

	httpErrCh := make(chan error, 2)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var metricsServer *http.Server
	if a.cfg.MetricsPort > 0 {
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.MetricsPort),
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("metrics server started", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErrCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	shutdownHTTP := func(ctx context.Context) error {
		if metricsServer != nil {
			_ = metricsServer.Shutdown(ctx)
		}
		return httpServer.Shutdown(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := shutdownHTTP(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown: %w", err)
			}
			a.logger.Info("http server stopped")

			if err := a.broker.Stop(); err != nil {
				return err
			}
			a.logger.Info("mqtt broker stopped")
			return nil
		case err := <-httpErrCh:
			if err != nil {
				_ = shutdownHTTP(context.Background())
				_ = a.broker.Stop()
				return err
			}
		case err, ok := <-brokerErrCh:
			if !ok {
				brokerErrCh = nil
				continue
			}
			if err != nil {
				_ = shutdownHTTP(context.Background())
				_ = a.broker.Stop()
				return err
			}
		}
	}
}
