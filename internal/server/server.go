// Package server assembles the relay: registry, hub, relay core,
// Telegram transport and the HTTP surface, with graceful shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-telegram/bot/models"

	"github.com/astanek/livechat-relay/internal/config"
	"github.com/astanek/livechat-relay/internal/realtime"
	"github.com/astanek/livechat-relay/internal/relay"
	"github.com/astanek/livechat-relay/internal/session"
	"github.com/astanek/livechat-relay/internal/telegram"
	"github.com/astanek/livechat-relay/pkg/health"
	"github.com/astanek/livechat-relay/pkg/httpmiddleware"
	"github.com/astanek/livechat-relay/pkg/logger"
	"github.com/astanek/livechat-relay/pkg/metrics"
	"github.com/astanek/livechat-relay/pkg/utils"
)

// Server owns the relay's long-running pieces and their shutdown order.
type Server struct {
	cfg config.AppConfig
	log logger.Logger

	registry *session.Registry
	hub      *realtime.Hub
	core     *relay.Relay
	tg       *telegram.Connector
	checker  *health.Checker
	metrics  *metrics.Metrics

	httpServer *http.Server
}

// New wires the relay components. The Telegram transport is only created
// when configured; without it visitor traffic still flows between
// browser connections.
func New(cfg config.AppConfig, log logger.Logger) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		log:     log,
		metrics: metrics.NewMetrics(log),
		checker: health.New(health.WithLogger(log)),
	}

	s.registry = session.NewRegistry(log)
	s.hub = realtime.NewHub(s.registry, log)

	var sender relay.TelegramSender = relay.NopSender{}
	if cfg.Telegram.Enabled() {
		// The connector's update handler closes over s.core, which is
		// assigned below before any update can arrive.
		tg, err := telegram.NewConnector(telegram.Config{
			BotToken:    cfg.Telegram.BotToken,
			AdminChatID: cfg.Telegram.AdminChatID,
			WebhookURL:  cfg.Telegram.WebhookURL,
			Debug:       cfg.Telegram.Debug,
		}, func(update *models.Update) { s.core.HandleTelegramUpdate(update) }, log)
		if err != nil {
			return nil, fmt.Errorf("telegram transport: %w", err)
		}
		s.tg = tg
		sender = tg

		s.checker.AddReadinessCheck(health.NewCheckFunc("telegram", func(ctx context.Context) error {
			_, err := tg.BotInfo(ctx)
			return err
		}))
	}

	s.core = relay.New(relay.Config{
		AdminChatID:     cfg.Telegram.AdminChatID,
		TelegramTimeout: cfg.Telegram.SendTimeout,
	}, s.registry, s.hub, sender, log, s.metrics)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("Server initialized",
		logger.IntField("http_port", cfg.Server.Port),
		logger.BoolField("telegram", cfg.Telegram.Enabled()),
		logger.BoolField("webhook_mode", cfg.UseWebhook()))
	return s, nil
}

// router builds the HTTP surface. The websocket route skips the request
// timeout middleware since its connections are long-lived.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	mw := httpmiddleware.DefaultConfig()
	mw.Logger = s.log
	mw.EnableLogging = true
	mw.AllowedOrigins = s.cfg.Realtime.AllowedOrigins
	mw.EnableTimeout = false
	httpmiddleware.Apply(r, mw)
	r.Use(s.metrics.HTTPMiddleware())

	wsHandler := realtime.NewHandler(s.hub, s.core, s.log, s.cfg.Realtime.AllowedOrigins)
	r.Get("/ws", wsHandler.ServeHTTP)

	r.Get("/healthz", s.checker.LivenessHandler())
	r.Get("/readyz", s.checker.ReadinessHandler())

	if s.tg != nil && s.cfg.UseWebhook() {
		receiver := telegram.NewWebhookReceiver(s.core.HandleTelegramUpdate, s.log)
		r.Post("/telegram/webhook", receiver.ServeHTTP)
	}

	return r
}

// Run starts all listeners and blocks until a shutdown signal or a fatal
// listener error.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := make(chan error, 1)
	go func() {
		defer close(httpErr)
		s.log.Info("HTTP listener started", logger.StringField("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErr <- err
		}
	}()

	metricsErr := make(chan error, 1)
	if s.cfg.Metrics.Enabled {
		go func() {
			defer close(metricsErr)
			if err := s.metrics.Listen(ctx, s.cfg.Metrics.Port); err != nil && err != http.ErrServerClosed {
				metricsErr <- err
			}
		}()
	} else {
		close(metricsErr)
	}

	tgErr := make(chan error, 1)
	go func() {
		defer close(tgErr)
		if err := s.startTelegram(ctx); err != nil {
			tgErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	merged := utils.MergeErrorChans(httpErr, metricsErr, tgErr)

	select {
	case sig := <-sigChan:
		s.log.Info("Shutdown signal received", logger.StringField("signal", sig.String()))
		s.shutdown(cancel)
		return nil
	case err, ok := <-merged:
		if !ok || err == nil {
			s.shutdown(cancel)
			return nil
		}
		s.log.Error("Fatal listener error", logger.ErrorField(err))
		s.shutdown(cancel)
		return err
	}
}

// startTelegram runs the inbound side of the Telegram transport: either
// webhook registration or the blocking polling loop.
func (s *Server) startTelegram(ctx context.Context) error {
	if s.tg == nil {
		return nil
	}

	if s.cfg.UseWebhook() {
		if err := s.tg.RegisterWebhook(ctx); err != nil {
			return fmt.Errorf("register webhook: %w", err)
		}
		<-ctx.Done()

		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tg.RemoveWebhook(cleanupCtx); err != nil {
			s.log.Warn("Webhook removal failed", logger.ErrorField(err))
		}
		return nil
	}

	return s.tg.StartPolling(ctx)
}

// shutdown stops the listeners in dependency order: HTTP intake first,
// then live websockets, then in-flight Telegram sends.
func (s *Server) shutdown(cancel context.CancelFunc) {
	shutdownCtx, done := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer done()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP shutdown error", logger.ErrorField(err))
	}

	s.hub.CloseAll()

	// Stops the poller and the metrics listener.
	cancel()

	s.core.Close()
	s.log.Info("Server stopped")
}
