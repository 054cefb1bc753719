// Package app assembles the shared runtime graph used by every binary.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-funnel/internal/cadence"
	"github.com/unclebandit/outreach-funnel/internal/config"
	"github.com/unclebandit/outreach-funnel/internal/db"
	"github.com/unclebandit/outreach-funnel/internal/execution"
	"github.com/unclebandit/outreach-funnel/internal/metrics"
	"github.com/unclebandit/outreach-funnel/internal/queue"
	"github.com/unclebandit/outreach-funnel/internal/repository"
	"github.com/unclebandit/outreach-funnel/internal/service"
)

type App struct {
	Config  config.Config
	Log     *zap.Logger
	DB      *sql.DB
	Metrics *metrics.Metrics
	Queue   queue.Queue

	Campaigns *repository.CampaignRepository
	Prospects *repository.ProspectRepository
	Sends     *repository.SendQueueRepository
	Accounts  *repository.AccountRepository
	Members   *repository.WorkspaceRepository

	Cadence    *cadence.Scheduler
	Quota      *service.QuotaGuard
	Funnel     *service.FunnelService
	Activation *service.ActivationService
	Campaign   *service.CampaignService
	Reconciler *service.Reconciler
	Worker     *service.SendWorker
}

// New opens and migrates the database, picks the queue backend and builds
// every service. Close releases what New opened.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	conn, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	q, err := openQueue(cfg, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	scheduler := cadence.NewScheduler(log)
	if cfg.CadenceFile != "" {
		if err := scheduler.LoadFile(cfg.CadenceFile); err != nil {
			_ = q.Close()
			_ = conn.Close()
			return nil, err
		}
	}

	a := &App{
		Config:    cfg,
		Log:       log,
		DB:        conn,
		Metrics:   m,
		Queue:     q,
		Campaigns: &repository.CampaignRepository{DB: conn},
		Prospects: &repository.ProspectRepository{DB: conn},
		Sends:     &repository.SendQueueRepository{DB: conn},
		Accounts:  &repository.AccountRepository{DB: conn},
		Members:   &repository.WorkspaceRepository{DB: conn},
		Cadence:   scheduler,
	}

	a.Quota = service.NewQuotaGuard(a.Accounts, cfg.QuotaSuspensionThreshold, m, log.Named("quota"))
	a.Funnel = service.NewFunnelService(a.Prospects, q, m, log.Named("funnel"))
	a.Activation = &service.ActivationService{
		Campaigns: a.Campaigns,
		Members:   a.Members,
		Quota:     a.Quota,
		Executor:  execution.New(cfg.ExecutionBaseURL, cfg.HTTPTimeout, log.Named("execution")),
		Retry:     cfg.RetryOptions(),
		Metrics:   m,
		Log:       log.Named("activation"),
	}
	a.Campaign = &service.CampaignService{
		CampaignRepo: a.Campaigns,
		ProspectRepo: a.Prospects,
		SendRepo:     a.Sends,
		Queue:        q,
		Log:          log.Named("campaigns"),
	}
	a.Reconciler = service.NewReconciler(a.Prospects, a.Sends, m, log.Named("integrity"))
	a.Worker = &service.SendWorker{
		Sends:     a.Sends,
		Campaigns: a.Campaigns,
		Quota:     a.Quota,
		Provider:  execution.New(cfg.ProviderBaseURL, cfg.HTTPTimeout, log.Named("provider")),
		Retry:     cfg.RetryOptions(),
		Metrics:   m,
		Log:       log.Named("worker"),
	}
	return a, nil
}

func openQueue(cfg config.Config, log *zap.Logger) (queue.Queue, error) {
	if cfg.AMQPURL == "" {
		log.Info("using in-memory queue")
		return queue.NewInMemoryQueue(log.Named("queue"), cfg.RetryOptions()), nil
	}
	q, err := queue.DialAMQP(cfg.AMQPURL, cfg.RetryMaxRetries, log.Named("queue"))
	if err != nil {
		return nil, err
	}
	log.Info("using RabbitMQ queue")
	return q, nil
}

// InProcessQueue reports whether published jobs can only be consumed by this
// process.
func (a *App) InProcessQueue() bool {
	_, ok := a.Queue.(*queue.InMemoryQueue)
	return ok
}

// LogFunnelEvents subscribes a logger to the funnel_events topic.
func (a *App) LogFunnelEvents() error {
	log := a.Log.Named("events")
	return a.Queue.Subscribe(queue.TopicFunnelEvents, func(ctx context.Context, body []byte) error {
		var ev service.FunnelEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			log.Warn("invalid funnel event", zap.ByteString("body", body))
			return nil
		}
		log.Info("funnel event",
			zap.String("prospect_id", ev.ProspectID),
			zap.String("campaign_id", ev.CampaignID),
			zap.String("previous_status", string(ev.PreviousStatus)),
			zap.String("new_status", string(ev.NewStatus)),
			zap.Bool("override", ev.Override),
		)
		return nil
	})
}

func (a *App) Close() error {
	qerr := a.Queue.Close()
	derr := a.DB.Close()
	if qerr != nil {
		return fmt.Errorf("close queue: %w", qerr)
	}
	return derr
}
