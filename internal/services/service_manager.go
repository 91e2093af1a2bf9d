package services

import (
	"log/slog"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/cache"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/events"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/repositories"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/validator"
)

// ServiceManager hands out the service instances built once at startup
type ServiceManager interface {
	Attempt() AttemptService
	Sweeper() *AttemptSweeper
	Export() ExportService
}

type ServiceManagerConfig struct {
	Attempt AttemptServiceConfig
	Sweep   SweeperConfig
}

type serviceManager struct {
	attempt AttemptService
	sweeper *AttemptSweeper
	export  ExportService
}

func NewServiceManager(
	repo repositories.Repository,
	attemptCache *cache.AttemptCache,
	publisher events.EventPublisher,
	validator *validator.Validator,
	logger *slog.Logger,
	config ServiceManagerConfig,
) ServiceManager {
	serviceLogger := NewServiceLogger(logger, LogConfig{
		Service:   "attempt-tracking-service",
		Component: "attempt_lifecycle",
	})
	resolver := NewIdentityResolver(repo.Student(), logger)

	return &serviceManager{
		attempt: NewAttemptService(repo, attemptCache, publisher, resolver, validator, serviceLogger, config.Attempt),
		sweeper: NewAttemptSweeper(repo, attemptCache, publisher, logger, config.Sweep),
		export:  NewExportService(repo, logger),
	}
}

func (m *serviceManager) Attempt() AttemptService  { return m.attempt }
func (m *serviceManager) Sweeper() *AttemptSweeper { return m.sweeper }
func (m *serviceManager) Export() ExportService    { return m.export }
