// Package services holds the collaboration engine: session state
// management, conflict resolution, history and undo, presence, and
// session lifecycle.
package services

import (
	"github.com/docmesh/docmesh/pkg/observability"
)

// ServiceConfig provides common configuration for all services
type ServiceConfig struct {
	Logger  observability.Logger
	Metrics observability.MetricsClient
}

// BaseService provides common functionality for all services
type BaseService struct {
	config ServiceConfig
}

// NewBaseService creates a new base service
func NewBaseService(config ServiceConfig) BaseService {
	if config.Logger == nil {
		config.Logger = observability.NewNoopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = observability.NewNoopMetricsClient()
	}
	return BaseService{config: config}
}

// Logger returns the configured logger
func (s *BaseService) Logger() observability.Logger {
	return s.config.Logger
}

// Metrics returns the configured metrics client
func (s *BaseService) Metrics() observability.MetricsClient {
	return s.config.Metrics
}
