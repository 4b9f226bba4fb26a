package repository

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/docmesh/docmesh/pkg/models"
	"github.com/docmesh/docmesh/pkg/observability"
)

// ResilientStore decorates a DocumentStore with retry and circuit
// breaking so transient storage failures do not cascade into sessions.
type ResilientStore struct {
	inner   DocumentStore
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger

	maxElapsed time.Duration
}

// ResilientConfig tunes the retry and breaker behavior
type ResilientConfig struct {
	MaxElapsedTime   time.Duration `mapstructure:"max_elapsed_time"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// DefaultResilientConfig returns settings suitable for a local Redis
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		MaxElapsedTime:   3 * time.Second,
		BreakerTimeout:   15 * time.Second,
		FailureThreshold: 5,
	}
}

// NewResilientStore wraps inner with retries and a circuit breaker
func NewResilientStore(inner DocumentStore, cfg ResilientConfig, logger observability.Logger) *ResilientStore {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	settings := gobreaker.Settings{
		Name:    "document-store",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Document store circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	}

	return &ResilientStore{
		inner:      inner,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
		maxElapsed: cfg.MaxElapsedTime,
	}
}

// execute runs fn through the breaker with exponential backoff. Not-found
// errors pass through untouched; they are outcomes, not failures.
func (s *ResilientStore) execute(ctx context.Context, fn func() error) error {
	operation := func() error {
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, fn()
		})
		if errors.Is(err, ErrDocumentNotFound) {
			return backoff.Permanent(err)
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(s.maxElapsed),
	), ctx)

	return backoff.Retry(operation, policy)
}

func (s *ResilientStore) LoadDocument(ctx context.Context, documentID string) (*models.DocumentState, error) {
	var doc *models.DocumentState
	err := s.execute(ctx, func() error {
		var innerErr error
		doc, innerErr = s.inner.LoadDocument(ctx, documentID)
		return innerErr
	})
	return doc, err
}

func (s *ResilientStore) SaveDocument(ctx context.Context, doc *models.DocumentState) error {
	return s.execute(ctx, func() error {
		return s.inner.SaveDocument(ctx, doc)
	})
}

func (s *ResilientStore) AppendOperations(ctx context.Context, documentID string, ops ...*models.Operation) error {
	return s.execute(ctx, func() error {
		return s.inner.AppendOperations(ctx, documentID, ops...)
	})
}

func (s *ResilientStore) LoadOperationHistory(ctx context.Context, documentID string, limit int) ([]*models.Operation, error) {
	var history []*models.Operation
	err := s.execute(ctx, func() error {
		var innerErr error
		history, innerErr = s.inner.LoadOperationHistory(ctx, documentID, limit)
		return innerErr
	})
	return history, err
}

func (s *ResilientStore) DeleteDocument(ctx context.Context, documentID string) error {
	return s.execute(ctx, func() error {
		return s.inner.DeleteDocument(ctx, documentID)
	})
}

func (s *ResilientStore) Close() error {
	return s.inner.Close()
}
