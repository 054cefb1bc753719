// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/outreach-funnel/internal/app"
	"github.com/unclebandit/outreach-funnel/internal/config"
	"github.com/unclebandit/outreach-funnel/internal/controller"
	"github.com/unclebandit/outreach-funnel/internal/db"
	"github.com/unclebandit/outreach-funnel/internal/handler"
	"github.com/unclebandit/outreach-funnel/internal/logging"
	"github.com/unclebandit/outreach-funnel/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := checkWebhookAuth(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	if err := a.LogFunnelEvents(); err != nil {
		return err
	}
	// Without a broker the sends published here must also be consumed here.
	if a.InProcessQueue() {
		if err := a.Queue.Subscribe(queue.TopicCampaignSends, a.Worker.Handle); err != nil {
			return err
		}
	}
	if cfg.WebhookToken == "" {
		log.Warn("WEBHOOK_TOKEN is empty, webhook authentication is disabled", zap.String("driver", cfg.DatabaseDriver))
	}

	router := handler.NewRouter(handler.Options{
		Log:          log.Named("http"),
		Metrics:      a.Metrics,
		WebhookToken: cfg.WebhookToken,
	}, handler.Controllers{
		Campaigns: &controller.CampaignController{CampaignService: a.Campaign, ActivationService: a.Activation, Log: log},
		Webhook:   &controller.WebhookController{FunnelService: a.Funnel, Log: log},
		Integrity: &controller.IntegrityController{Reconciler: a.Reconciler, Log: log},
		Quota:     &controller.QuotaController{QuotaGuard: a.Quota, Log: log},
		Cadence:   &controller.CadenceController{Scheduler: a.Cadence},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server running", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.Reconciler.Run(ctx, cfg.ReconcileInterval)
	})

	err = g.Wait()
	log.Info("server stopped")
	return err
}

// checkWebhookAuth refuses to serve an unauthenticated webhook against a
// postgres datastore. Only the local sqlite setup may run without a token.
func checkWebhookAuth(cfg config.Config) error {
	if cfg.WebhookToken == "" && cfg.DatabaseDriver != db.DriverSQLite {
		return fmt.Errorf("WEBHOOK_TOKEN is required with the %s driver", cfg.DatabaseDriver)
	}
	return nil
}
