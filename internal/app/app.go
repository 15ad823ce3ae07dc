package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/EpicMandM/esxi-snapshot-service/internal/config"
	"github.com/EpicMandM/esxi-snapshot-service/internal/gate"
	"github.com/EpicMandM/esxi-snapshot-service/internal/handler"
	"github.com/EpicMandM/esxi-snapshot-service/internal/logger"
	"github.com/EpicMandM/esxi-snapshot-service/internal/metrics"
	"github.com/EpicMandM/esxi-snapshot-service/internal/orchestrator"
	"github.com/EpicMandM/esxi-snapshot-service/internal/service"
	"github.com/EpicMandM/esxi-snapshot-service/internal/store"
	"github.com/EpicMandM/esxi-snapshot-service/internal/tasks"
	"github.com/vmware/govmomi"
)

// App wires the vCenter connection, the journal and the orchestrator.
type App struct {
	config  *config.Config
	feature *config.FeatureConfig
	logger  *logger.Logger

	service      *service.VMwareService
	store        store.Store
	metrics      *metrics.Metrics
	orchestrator *orchestrator.Orchestrator
}

func New(cfg *config.Config, feature *config.FeatureConfig, log *logger.Logger) *App {
	if log == nil {
		log = logger.NewWithWriter(io.Discard)
	}
	if feature == nil {
		feature = config.DefaultFeatureConfig()
	}
	return &App{
		config:  cfg,
		feature: feature,
		logger:  log,
		metrics: metrics.New(),
	}
}

// Initialize connects to vCenter and opens the journal.
func (a *App) Initialize(ctx context.Context) error {
	vmwareService, err := service.NewVMwareService(ctx, a.config, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to vCenter: %w", err)
	}
	a.logger.Info("Connected to vCenter", logger.Action("startup"), logger.F("URL", a.config.VSphereURL))
	return a.initialize(vmwareService)
}

// InitializeWithClient is Initialize on an already authenticated client.
func (a *App) InitializeWithClient(ctx context.Context, client *govmomi.Client) error {
	datacenter := ""
	if a.config != nil {
		datacenter = a.config.VSphereDatacenter
	}
	vmwareService, err := service.NewVMwareServiceWithClient(ctx, client, datacenter, a.logger)
	if err != nil {
		return err
	}
	return a.initialize(vmwareService)
}

func (a *App) initialize(vmwareService *service.VMwareService) error {
	a.service = vmwareService

	// An empty store path disables the journal.
	var journal service.OperationJournal
	if path := a.feature.Store.Path; path != "" {
		st, err := store.NewSQLiteStore(path)
		if err != nil {
			return fmt.Errorf("failed to open operation journal: %w", err)
		}
		a.store = st
		journal = st
	}

	a.orchestrator = &orchestrator.Orchestrator{
		Logger: a.logger,
		VMware: vmwareService,
		Tasks: &tasks.Tracker{
			Collector: vmwareService.Collector(a.feature.Tasks.MaxWaitSeconds),
			Logger:    a.logger,
			Metrics:   a.metrics,
			Timeout:   a.feature.Tasks.Timeout.Duration,
		},
		Gate:    gate.New(a.feature.Gate.MinFreePercent, a.feature.Gate.CapacityMultiplier),
		Journal: journal,
		Metrics: a.metrics,
	}
	return nil
}

// Orchestrator returns the snapshot orchestrator, or nil before Initialize.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Handler returns the HTTP API including /metrics.
func (a *App) Handler() (http.Handler, error) {
	if a.orchestrator == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	h := handler.NewAPIHandler(a.orchestrator, a.service.Host(), a.logger)
	return h.Routes(a.metrics.Handler()), nil
}

func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close operation journal: %w", err))
		}
	}
	if a.service != nil {
		if err := a.service.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close VMware service: %w", err))
		} else {
			a.logger.Info("Disconnected from vCenter", logger.Action("shutdown"))
		}
	}
	return errors.Join(errs...)
}
