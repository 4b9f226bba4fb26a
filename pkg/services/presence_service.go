package services

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/docmesh/docmesh/pkg/models"
)

// Presence defaults
const (
	DefaultCursorThrottle      = 100 * time.Millisecond
	DefaultTypingTimeout       = 3 * time.Second
	DefaultPresenceTimeout     = 5 * time.Minute
	DefaultMaxCursorsDisplayed = 10
)

// PresenceConfig tunes the presence tracker
type PresenceConfig struct {
	CursorThrottle      time.Duration `mapstructure:"cursor_throttle"`
	TypingTimeout       time.Duration `mapstructure:"typing_timeout"`
	PresenceTimeout     time.Duration `mapstructure:"presence_timeout"`
	MaxCursorsDisplayed int           `mapstructure:"max_cursors_displayed"`
}

// DefaultPresenceConfig returns the documented defaults
func DefaultPresenceConfig() PresenceConfig {
	return PresenceConfig{
		CursorThrottle:      DefaultCursorThrottle,
		TypingTimeout:       DefaultTypingTimeout,
		PresenceTimeout:     DefaultPresenceTimeout,
		MaxCursorsDisplayed: DefaultMaxCursorsDisplayed,
	}
}

// TypingState tracks a user's typing indicator
type TypingState struct {
	IsTyping  bool      `json:"isTyping"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// Viewport is the visible document range reported by a client
type Viewport struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Presence is one user's live state inside a session
type Presence struct {
	UserID    string                   `json:"userId"`
	Status    models.ParticipantStatus `json:"status"`
	LastSeen  time.Time                `json:"lastSeen"`
	Cursor    *models.CursorPosition   `json:"cursor,omitempty"`
	Selection *models.SelectionRange   `json:"selection,omitempty"`
	Typing    TypingState              `json:"typing"`
	Viewport  *Viewport                `json:"viewport,omitempty"`
	Following string                   `json:"following,omitempty"`
	Color     string                   `json:"color"`
}

type presenceEntry struct {
	presence *Presence
	limiter  *rate.Limiter

	typingTimer   *time.Timer
	presenceTimer *time.Timer
}

type sessionPresence struct {
	users map[string]*presenceEntry
}

// PresenceService tracks cursors, selections, typing, and status
// transitions per session. Cursor updates are throttled per user; idle
// timers walk users through active, away, then offline.
type PresenceService struct {
	BaseService

	config PresenceConfig
	bus    *EventBus

	mu       sync.Mutex
	sessions map[string]*sessionPresence
	closed   bool
}

// NewPresenceService creates the presence tracker
func NewPresenceService(config ServiceConfig, presenceConfig PresenceConfig, bus *EventBus) *PresenceService {
	if presenceConfig.CursorThrottle <= 0 {
		presenceConfig.CursorThrottle = DefaultCursorThrottle
	}
	if presenceConfig.TypingTimeout <= 0 {
		presenceConfig.TypingTimeout = DefaultTypingTimeout
	}
	if presenceConfig.PresenceTimeout <= 0 {
		presenceConfig.PresenceTimeout = DefaultPresenceTimeout
	}
	if presenceConfig.MaxCursorsDisplayed <= 0 {
		presenceConfig.MaxCursorsDisplayed = DefaultMaxCursorsDisplayed
	}
	return &PresenceService{
		BaseService: NewBaseService(config),
		config:      presenceConfig,
		bus:         bus,
		sessions:    make(map[string]*sessionPresence),
	}
}

func (s *PresenceService) session(sessionID string) *sessionPresence {
	sp, ok := s.sessions[sessionID]
	if !ok {
		sp = &sessionPresence{users: make(map[string]*presenceEntry)}
		s.sessions[sessionID] = sp
	}
	return sp
}

// Join registers a user's presence in a session
func (s *PresenceService) Join(sessionID, userID string) {
	s.mu.Lock()
	sp := s.session(sessionID)
	entry, ok := sp.users[userID]
	if !ok {
		entry = &presenceEntry{
			presence: &Presence{
				UserID: userID,
				Color:  models.GenerateUserColor(userID),
			},
			limiter: rate.NewLimiter(rate.Every(s.config.CursorThrottle), 1),
		}
		sp.users[userID] = entry
	}
	entry.presence.Status = models.StatusActive
	entry.presence.LastSeen = time.Now()
	s.resetPresenceTimer(sessionID, userID, entry)
	s.mu.Unlock()

	s.emit(EventParticipantJoined, sessionID, userID, nil)
}

// Leave drops a user's presence and stops their timers. Anyone following
// the leaver stops following them.
func (s *PresenceService) Leave(sessionID, userID string) {
	var unfollowed []string

	s.mu.Lock()
	sp, ok := s.sessions[sessionID]
	if ok {
		if entry, found := sp.users[userID]; found {
			stopTimers(entry)
			delete(sp.users, userID)
		}
		for id, other := range sp.users {
			if other.presence.Following == userID {
				other.presence.Following = ""
				unfollowed = append(unfollowed, id)
			}
		}
		if len(sp.users) == 0 {
			delete(s.sessions, sessionID)
		}
	}
	s.mu.Unlock()

	for _, id := range unfollowed {
		s.emit(EventUserFollow, sessionID, id, "")
	}
	s.emit(EventParticipantLeft, sessionID, userID, nil)
}

// UpdateCursor records a cursor position. Updates arriving inside the
// per-user throttle window are dropped; the return value reports whether
// the update was accepted. Accepted updates reset the presence timer.
func (s *PresenceService) UpdateCursor(sessionID, userID string, cursor *models.CursorPosition) bool {
	s.mu.Lock()
	sp := s.session(sessionID)
	entry, ok := sp.users[userID]
	if !ok {
		s.mu.Unlock()
		return false
	}

	if !entry.limiter.Allow() {
		s.mu.Unlock()
		s.Metrics().IncrementCounter("cursor_updates_throttled_total", 1)
		return false
	}

	cursor.UserID = userID
	cursor.Color = entry.presence.Color
	if cursor.Timestamp == 0 {
		cursor.Timestamp = models.NowMillis()
	}
	entry.presence.Cursor = cursor
	entry.presence.Selection = cursor.Selection
	s.markActive(sessionID, userID, entry)
	s.mu.Unlock()

	s.emit(EventCursorUpdated, sessionID, userID, cursor)
	return true
}

// SetTyping sets the typing indicator. A true indicator auto-clears
// after the typing timeout unless refreshed.
func (s *PresenceService) SetTyping(sessionID, userID string, isTyping bool) {
	s.mu.Lock()
	sp := s.session(sessionID)
	entry, ok := sp.users[userID]
	if !ok {
		s.mu.Unlock()
		return
	}

	if entry.typingTimer != nil {
		entry.typingTimer.Stop()
		entry.typingTimer = nil
	}

	entry.presence.Typing.IsTyping = isTyping
	if isTyping {
		entry.presence.Typing.StartedAt = time.Now()
		entry.typingTimer = time.AfterFunc(s.config.TypingTimeout, func() {
			s.SetTyping(sessionID, userID, false)
		})
		s.markActive(sessionID, userID, entry)
	} else {
		entry.presence.Typing.StartedAt = time.Time{}
	}
	s.mu.Unlock()

	s.emit(EventTypingUpdated, sessionID, userID, isTyping)
}

// UpdateStatus sets a user's status explicitly (active, idle, away)
func (s *PresenceService) UpdateStatus(sessionID, userID string, status models.ParticipantStatus) {
	s.mu.Lock()
	sp := s.session(sessionID)
	entry, ok := sp.users[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	entry.presence.Status = status
	entry.presence.LastSeen = time.Now()
	if status == models.StatusActive {
		s.resetPresenceTimer(sessionID, userID, entry)
	}
	s.mu.Unlock()

	s.emit(EventStatusChanged, sessionID, userID, status)
}

// UpdateViewport records the client's visible range
func (s *PresenceService) UpdateViewport(sessionID, userID string, viewport *Viewport) {
	s.mu.Lock()
	sp := s.session(sessionID)
	entry, ok := sp.users[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	entry.presence.Viewport = viewport
	s.markActive(sessionID, userID, entry)
	s.mu.Unlock()

	s.emit(EventViewportUpdated, sessionID, userID, viewport)
}

// Follow makes a user track another participant, so their client can
// scroll along with the target's viewport. An empty target clears the
// follow. Both users must be present; users cannot follow themselves.
func (s *PresenceService) Follow(sessionID, userID, targetID string) bool {
	s.mu.Lock()
	sp := s.session(sessionID)
	entry, ok := sp.users[userID]
	if !ok || userID == targetID {
		s.mu.Unlock()
		return false
	}
	if targetID != "" {
		if _, present := sp.users[targetID]; !present {
			s.mu.Unlock()
			return false
		}
	}
	entry.presence.Following = targetID
	s.markActive(sessionID, userID, entry)
	s.mu.Unlock()

	s.emit(EventUserFollow, sessionID, userID, targetID)
	return true
}

// Touch records activity for a user, resetting the idle timer
func (s *PresenceService) Touch(sessionID, userID string) {
	s.mu.Lock()
	sp := s.session(sessionID)
	if entry, ok := sp.users[userID]; ok {
		s.markActive(sessionID, userID, entry)
	}
	s.mu.Unlock()
}

// GetPresence returns a copy of one user's presence
func (s *PresenceService) GetPresence(sessionID, userID string) (*Presence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	entry, ok := sp.users[userID]
	if !ok {
		return nil, false
	}
	copied := *entry.presence
	return &copied, true
}

// SessionCursors returns current cursors, filtering entries older than
// the presence timeout and capping the list at maxCursorsDisplayed. The
// most recently updated cursors win the cap.
func (s *PresenceService) SessionCursors(sessionID string) []*models.CursorPosition {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}

	horizon := models.NowMillis() - s.config.PresenceTimeout.Milliseconds()
	cursors := make([]*models.CursorPosition, 0, len(sp.users))
	for _, entry := range sp.users {
		cursor := entry.presence.Cursor
		if cursor == nil || cursor.Timestamp < horizon {
			continue
		}
		copied := *cursor
		cursors = append(cursors, &copied)
	}

	sort.Slice(cursors, func(i, j int) bool {
		return cursors[i].Timestamp > cursors[j].Timestamp
	})
	if len(cursors) > s.config.MaxCursorsDisplayed {
		cursors = cursors[:s.config.MaxCursorsDisplayed]
	}
	return cursors
}

// Close stops every outstanding timer
func (s *PresenceService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, sp := range s.sessions {
		for _, entry := range sp.users {
			stopTimers(entry)
		}
	}
	s.sessions = make(map[string]*sessionPresence)
}

// markActive must be called with the lock held
func (s *PresenceService) markActive(sessionID, userID string, entry *presenceEntry) {
	entry.presence.LastSeen = time.Now()
	if entry.presence.Status != models.StatusActive {
		entry.presence.Status = models.StatusActive
	}
	s.resetPresenceTimer(sessionID, userID, entry)
}

// resetPresenceTimer must be called with the lock held
func (s *PresenceService) resetPresenceTimer(sessionID, userID string, entry *presenceEntry) {
	if s.closed {
		return
	}
	if entry.presenceTimer != nil {
		entry.presenceTimer.Stop()
	}
	entry.presenceTimer = time.AfterFunc(s.config.PresenceTimeout, func() {
		s.stepDown(sessionID, userID)
	})
}

// stepDown advances active to away, then away to offline. Offline drops
// the cursor, selection, and typing state.
func (s *PresenceService) stepDown(sessionID, userID string) {
	s.mu.Lock()
	sp, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	entry, ok := sp.users[userID]
	if !ok {
		s.mu.Unlock()
		return
	}

	var next models.ParticipantStatus
	switch entry.presence.Status {
	case models.StatusActive, models.StatusIdle:
		next = models.StatusAway
	case models.StatusAway:
		next = models.StatusOffline
	default:
		s.mu.Unlock()
		return
	}

	entry.presence.Status = next
	if next == models.StatusOffline {
		entry.presence.Cursor = nil
		entry.presence.Selection = nil
		entry.presence.Following = ""
		entry.presence.Typing = TypingState{}
		if entry.typingTimer != nil {
			entry.typingTimer.Stop()
			entry.typingTimer = nil
		}
	} else if !s.closed {
		entry.presenceTimer = time.AfterFunc(s.config.PresenceTimeout, func() {
			s.stepDown(sessionID, userID)
		})
	}
	s.mu.Unlock()

	s.emit(EventStatusChanged, sessionID, userID, next)
}

func (s *PresenceService) emit(eventType, sessionID, userID string, data interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(Event{Type: eventType, SessionID: sessionID, UserID: userID, Data: data})
}

func stopTimers(entry *presenceEntry) {
	if entry.typingTimer != nil {
		entry.typingTimer.Stop()
		entry.typingTimer = nil
	}
	if entry.presenceTimer != nil {
		entry.presenceTimer.Stop()
		entry.presenceTimer = nil
	}
}
