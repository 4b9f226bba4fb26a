package services

import (
	"context"
	"sync"
	"time"

	"github.com/docmesh/docmesh/pkg/models"
)

// sessionActivity accumulates per-session counters fed by bus events
type sessionActivity struct {
	operationCount    int64
	conflictCount     int64
	resolutionTimeSum time.Duration
	resolutionEvents  int64
}

// LifecycleService maintains per-session metrics and retires idle
// sessions: after maxSessionDuration of inactivity the session is
// exported and every remaining participant is removed.
type LifecycleService struct {
	BaseService

	sessions *SessionService

	mu       sync.Mutex
	activity map[string]*sessionActivity
	exports  map[string]*models.SessionExport

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLifecycleService creates the lifecycle manager and subscribes it to
// the event bus.
func NewLifecycleService(config ServiceConfig, sessions *SessionService, bus *EventBus) *LifecycleService {
	l := &LifecycleService{
		BaseService: NewBaseService(config),
		sessions:    sessions,
		activity:    make(map[string]*sessionActivity),
		exports:     make(map[string]*models.SessionExport),
		stopCh:      make(chan struct{}),
	}

	bus.Subscribe(EventOperationApplied, l.onOperationApplied)
	bus.Subscribe(EventConflictDetected, l.onConflictDetected)
	bus.Subscribe(EventSessionClosed, l.onSessionClosed)

	return l
}

// Run starts the idle-session sweeper; it returns when ctx is done or
// Close is called.
func (l *LifecycleService) Run(ctx context.Context, sweepInterval time.Duration) {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.CleanupExpired(ctx)
		}
	}
}

// Close stops the sweeper
func (l *LifecycleService) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *LifecycleService) onOperationApplied(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.track(event.SessionID).operationCount++
}

func (l *LifecycleService) onConflictDetected(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.track(event.SessionID)
	if payload, ok := event.Data.(ConflictEvent); ok {
		a.conflictCount += int64(len(payload.Conflicts))
		a.resolutionTimeSum += payload.ResolutionTime
		a.resolutionEvents++
	} else {
		a.conflictCount++
	}
}

func (l *LifecycleService) onSessionClosed(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.activity, event.SessionID)
}

// track must be called with the lock held
func (l *LifecycleService) track(sessionID string) *sessionActivity {
	a, ok := l.activity[sessionID]
	if !ok {
		a = &sessionActivity{}
		l.activity[sessionID] = a
	}
	return a
}

// SessionMetrics summarizes one session's collaborative activity.
// Efficiency is the fraction of applied operations that committed without
// a conflict.
func (l *LifecycleService) SessionMetrics(sessionID string) models.SessionMetrics {
	metrics := models.SessionMetrics{SessionID: sessionID}

	if info, err := l.sessions.Info(sessionID); err == nil {
		metrics.Duration = time.Since(info.Created)
		metrics.ParticipantCount = info.ParticipantCount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.activity[sessionID]
	if !ok {
		return metrics
	}

	metrics.OperationCount = a.operationCount
	metrics.ConflictCount = a.conflictCount
	if a.resolutionEvents > 0 {
		metrics.AverageResolutionTime = a.resolutionTimeSum / time.Duration(a.resolutionEvents)
	}
	if a.operationCount > 0 {
		efficiency := 1 - float64(a.conflictCount)/float64(a.operationCount)
		if efficiency < 0 {
			efficiency = 0
		}
		metrics.CollaborationEfficiency = efficiency
	}
	return metrics
}

// ExportSession assembles the final session state including metrics
func (l *LifecycleService) ExportSession(sessionID string) (*models.SessionExport, error) {
	return l.sessions.Export(sessionID, l)
}

// LastExport returns the export captured when a session was retired
func (l *LifecycleService) LastExport(sessionID string) (*models.SessionExport, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	export, ok := l.exports[sessionID]
	return export, ok
}

// CleanupExpired exports and tears down every session whose last activity
// exceeds its maxSessionDuration. It returns the retired session IDs.
func (l *LifecycleService) CleanupExpired(ctx context.Context) []string {
	var retired []string

	for _, sessionID := range l.sessions.SessionIDs() {
		info, err := l.sessions.Info(sessionID)
		if err != nil {
			continue
		}
		if time.Since(info.LastActivity) <= info.Settings.MaxSessionDuration {
			continue
		}

		export, err := l.ExportSession(sessionID)
		if err != nil {
			l.Logger().Warn("Failed to export expiring session", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		} else {
			l.mu.Lock()
			l.exports[sessionID] = export
			l.mu.Unlock()
		}

		participants, err := l.sessions.Participants(sessionID)
		if err != nil {
			continue
		}
		for userID := range participants {
			if err := l.sessions.LeaveSession(ctx, sessionID, userID); err != nil {
				break
			}
		}

		l.Logger().Info("Retired idle session", map[string]interface{}{
			"session_id": sessionID,
			"idle_for":   time.Since(info.LastActivity).String(),
		})
		l.Metrics().IncrementCounter("sessions_retired_total", 1)
		retired = append(retired, sessionID)
	}

	return retired
}
