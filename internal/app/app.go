package app

import (
	"log/slog"
	"time"

	"github.com/Seiaaxn/kanaver3/internal/cache"
	"github.com/Seiaaxn/kanaver3/internal/config"
	"github.com/Seiaaxn/kanaver3/internal/integrity"
	"github.com/Seiaaxn/kanaver3/internal/logging"
	"github.com/Seiaaxn/kanaver3/internal/orchestrator"
	"github.com/Seiaaxn/kanaver3/internal/scheduler"
	"github.com/Seiaaxn/kanaver3/internal/source"
)

// Application owns the process-wide singleton services and wires them
// into the orchestrator. Close releases the background maintenance
// tasks.
type Application struct {
	cfg          config.Config
	Orchestrator *orchestrator.Orchestrator

	sched  *scheduler.Scheduler
	engine *integrity.Engine
	store  *cache.Memory
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) *Application {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	sched := scheduler.New(scheduler.Limits{
		MaxConcurrent:    cfg.Scheduler.MaxConcurrent,
		MaxQueueSize:     cfg.Scheduler.MaxQueueSize,
		ProviderMinDelay: cfg.Scheduler.ProviderMinDelay(),
		Timeout:          cfg.Scheduler.Timeout(),
		RetryAttempts:    cfg.Scheduler.RetryAttempts,
		RetryDelay:       cfg.Scheduler.RetryDelay(),
	}, logging.Component(baseLogger, "scheduler"))

	engine := integrity.New(integrity.Options{
		ProcessedTTL:       cfg.Integrity.ProcessedTTL(),
		FreshnessRetention: cfg.Integrity.FreshnessRetention(),
		SweepInterval:      cfg.Integrity.SweepInterval(),
		Logger:             logging.Component(baseLogger, "integrity"),
	})

	store := cache.NewMemory(cfg.Integrity.SweepInterval())

	registry := source.NewRegistry()
	for _, sc := range cfg.Sources {
		adapterLogger := logging.Component(baseLogger, "source."+sc.ID)
		switch sc.Kind {
		case "api":
			registry.Register(source.NewAPIAdapter(sc, cfg.HTTP, nil, adapterLogger))
		default:
			registry.Register(source.NewHTMLAdapter(sc, cfg.HTTP, nil, adapterLogger))
		}
	}

	policies := orchestrator.PolicyTable{}
	for name, policy := range cfg.Operations {
		policies[name] = orchestrator.Policy{
			StaleThreshold: policy.StaleThreshold(),
			CacheTTL:       policy.CacheTTL(),
		}
	}

	orch := orchestrator.New(sched, engine, store, registry, policies, orchestrator.Defaults{
		FailureThreshold:   cfg.MultiSource.FailureThreshold,
		MultiTimeout:       cfg.MultiSource.Timeout(),
		MaxPages:           cfg.Pagination.MaxPages,
		DuplicateThreshold: cfg.Pagination.DuplicateThreshold,
	}, logging.Component(baseLogger, "orchestrator"))

	return &Application{
		cfg:          cfg,
		Orchestrator: orch,
		sched:        sched,
		engine:       engine,
		store:        store,
	}
}

// Config exposes the loaded configuration.
func (a *Application) Config() config.Config {
	return a.cfg
}

// MultiTimeout returns the configured per-source aggregation deadline.
func (a *Application) MultiTimeout() time.Duration {
	return a.cfg.MultiSource.Timeout()
}

// Close stops the scheduler and the background maintenance tasks.
func (a *Application) Close() {
	a.sched.Close()
	a.engine.Close()
	a.store.Close()
}
