package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-funnel/internal/app"
	"github.com/unclebandit/outreach-funnel/internal/config"
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

	if err := checkBroker(cfg); err != nil {
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

	if err := a.Queue.Subscribe(queue.TopicCampaignSends, a.Worker.Handle); err != nil {
		return err
	}

	log.Info("worker running, waiting for messages", zap.String("topic", queue.TopicCampaignSends))
	<-ctx.Done()
	log.Info("worker stopping")
	return nil
}

// checkBroker rejects configurations where this process could never receive
// a job: the in-memory queue only delivers inside the server process.
func checkBroker(cfg config.Config) error {
	if cfg.AMQPURL == "" {
		return errors.New("worker requires AMQP_URL; without a broker the server consumes sends in-process")
	}
	return nil
}
