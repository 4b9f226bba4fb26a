package models

import "time"

// ParticipantRole is the role a user holds inside a session
type ParticipantRole string

// Participant roles
const (
	RoleOwner        ParticipantRole = "owner"
	RoleAdmin        ParticipantRole = "admin"
	RoleEditor       ParticipantRole = "editor"
	RoleCollaborator ParticipantRole = "collaborator"
	RoleViewer       ParticipantRole = "viewer"
)

// RoleWeight returns the priority weight used by user-priority conflict
// resolution. Higher weight wins.
func RoleWeight(role ParticipantRole) int {
	switch role {
	case RoleOwner:
		return 100
	case RoleAdmin:
		return 80
	case RoleEditor:
		return 60
	case RoleCollaborator:
		return 40
	case RoleViewer:
		return 20
	default:
		return 0
	}
}

// ParticipantStatus tracks presence state
type ParticipantStatus string

// Participant statuses
const (
	StatusActive  ParticipantStatus = "active"
	StatusIdle    ParticipantStatus = "idle"
	StatusAway    ParticipantStatus = "away"
	StatusOffline ParticipantStatus = "offline"
)

// ParticipantPermissions are the per-participant capability bits
type ParticipantPermissions struct {
	CanEdit              bool `json:"canEdit"`
	CanComment           bool `json:"canComment"`
	CanInvite            bool `json:"canInvite"`
	CanManagePermissions bool `json:"canManagePermissions"`
}

// PermissionsForRole derives the default capability bits for a role
func PermissionsForRole(role ParticipantRole) ParticipantPermissions {
	switch role {
	case RoleOwner, RoleAdmin:
		return ParticipantPermissions{CanEdit: true, CanComment: true, CanInvite: true, CanManagePermissions: true}
	case RoleEditor, RoleCollaborator:
		return ParticipantPermissions{CanEdit: true, CanComment: true}
	default:
		return ParticipantPermissions{CanComment: true}
	}
}

// Participant is a user currently bound to a session
type Participant struct {
	UserID      string                 `json:"userId"`
	Username    string                 `json:"username"`
	Role        ParticipantRole        `json:"role"`
	Color       string                 `json:"color"`
	JoinedAt    time.Time              `json:"joinedAt"`
	LastSeen    time.Time              `json:"lastSeen"`
	Status      ParticipantStatus      `json:"status"`
	Permissions ParticipantPermissions `json:"permissions"`
}

// SelectionRange is a cursor selection with optional direction
type SelectionRange struct {
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Direction string `json:"direction,omitempty"`
}

// CursorPosition is a user's cursor inside a document
type CursorPosition struct {
	UserID    string          `json:"userId"`
	Position  int             `json:"position"`
	Selection *SelectionRange `json:"selection,omitempty"`
	Timestamp int64           `json:"timestamp"` // ms since epoch
	Color     string          `json:"color"`
}

// ConflictResolutionStrategy selects how colliding operations are merged
type ConflictResolutionStrategy string

// Conflict resolution strategies (closed set)
const (
	StrategyClientWins        ConflictResolutionStrategy = "client_wins"
	StrategyServerWins        ConflictResolutionStrategy = "server_wins"
	StrategyMerge             ConflictResolutionStrategy = "merge"
	StrategyTimestampPriority ConflictResolutionStrategy = "timestamp_priority"
	StrategyUserPriority      ConflictResolutionStrategy = "user_priority"
	StrategyInteractive       ConflictResolutionStrategy = "interactive"
	StrategyContentAware      ConflictResolutionStrategy = "content_aware"
)

// SessionSettings is the per-session configuration surface
type SessionSettings struct {
	MaxConcurrentOperations    int                        `json:"maxConcurrentOperations" mapstructure:"max_concurrent_operations"`
	OperationTimeout           time.Duration              `json:"operationTimeout" mapstructure:"operation_timeout"`
	SyncInterval               time.Duration              `json:"syncInterval" mapstructure:"sync_interval"`
	AutoSaveInterval           time.Duration              `json:"autoSaveInterval" mapstructure:"auto_save_interval"`
	MaxHistorySize             int                        `json:"maxHistorySize" mapstructure:"max_history_size"`
	ConflictResolutionStrategy ConflictResolutionStrategy `json:"conflictResolutionStrategy" mapstructure:"conflict_resolution_strategy"`
	MaxParticipants            int                        `json:"maxParticipants" mapstructure:"max_participants"`
	CompressionEnabled         bool                       `json:"compressionEnabled" mapstructure:"compression_enabled"`
	EnableRealTimeCursors      bool                       `json:"enableRealTimeCursors" mapstructure:"enable_real_time_cursors"`
	EnableOperationHistory     bool                       `json:"enableOperationHistory" mapstructure:"enable_operation_history"`
	MaxSessionDuration         time.Duration              `json:"maxSessionDuration" mapstructure:"max_session_duration"`
}

// DefaultSessionSettings returns the documented defaults
func DefaultSessionSettings() SessionSettings {
	return SessionSettings{
		MaxConcurrentOperations:    100,
		OperationTimeout:           30 * time.Second,
		SyncInterval:               5 * time.Second,
		AutoSaveInterval:           10 * time.Second,
		MaxHistorySize:             1000,
		ConflictResolutionStrategy: StrategyMerge,
		MaxParticipants:            100,
		CompressionEnabled:         true,
		EnableRealTimeCursors:      true,
		EnableOperationHistory:     true,
		MaxSessionDuration:         24 * time.Hour,
	}
}

// CollaborationSession binds one document to a set of participants and the
// state needed to apply their edits.
type CollaborationSession struct {
	SessionID        string                     `json:"sessionId"`
	DocumentID       string                     `json:"documentId"`
	Participants     map[string]*Participant    `json:"participants"`
	DocumentState    *DocumentState             `json:"documentState"`
	OperationHistory []*Operation               `json:"operationHistory"`
	Cursors          map[string]*CursorPosition `json:"cursors"`
	Created          time.Time                  `json:"created"`
	LastActivity     time.Time                  `json:"lastActivity"`
	Settings         SessionSettings            `json:"settings"`
}

// Snapshot is a deep copy of session state usable to restore after
// divergence or on late-join.
type Snapshot struct {
	SnapshotID    string                     `json:"snapshotId"`
	SessionID     string                     `json:"sessionId"`
	DocumentState *DocumentState             `json:"documentState"`
	VectorClock   VectorClock                `json:"vectorClock"`
	HistoryLength int                        `json:"historyLength"`
	Participants  map[string]*Participant    `json:"participants"`
	Cursors       map[string]*CursorPosition `json:"cursors"`
	Timestamp     time.Time                  `json:"timestamp"`
	Automatic     bool                       `json:"automatic"`
	Description   string                     `json:"description,omitempty"`
}

// SessionMetrics summarizes collaborative activity inside a session
type SessionMetrics struct {
	SessionID               string        `json:"sessionId"`
	Duration                time.Duration `json:"duration"`
	OperationCount          int64         `json:"operationCount"`
	ParticipantCount        int           `json:"participantCount"`
	ConflictCount           int64         `json:"conflictCount"`
	AverageResolutionTime   time.Duration `json:"averageResolutionTime"`
	CollaborationEfficiency float64       `json:"collaborationEfficiency"`
}

// SessionExport is the final state produced before a session is torn down
type SessionExport struct {
	SessionID    string                  `json:"sessionId"`
	DocumentID   string                  `json:"documentId"`
	Content      string                  `json:"content"`
	Checksum     string                  `json:"checksum"`
	History      []*Operation            `json:"history"`
	Participants map[string]*Participant `json:"participants"`
	Metrics      SessionMetrics          `json:"metrics"`
	ExportedAt   time.Time               `json:"exportedAt"`
}
