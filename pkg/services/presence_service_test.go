package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmesh/docmesh/pkg/models"
)

func newTestPresence(t *testing.T, cfg PresenceConfig) (*PresenceService, *EventBus) {
	t.Helper()

	bus := NewEventBus(nil)
	svc := NewPresenceService(ServiceConfig{}, cfg, bus)
	t.Cleanup(svc.Close)
	return svc, bus
}

func TestCursorThrottle(t *testing.T) {
	t.Run("Second update inside the throttle window is dropped", func(t *testing.T) {
		svc, _ := newTestPresence(t, PresenceConfig{CursorThrottle: time.Second})
		svc.Join("ses_1", "alice")

		assert.True(t, svc.UpdateCursor("ses_1", "alice", &models.CursorPosition{Position: 1}))
		assert.False(t, svc.UpdateCursor("ses_1", "alice", &models.CursorPosition{Position: 2}))
	})

	t.Run("Updates after the window pass", func(t *testing.T) {
		svc, _ := newTestPresence(t, PresenceConfig{CursorThrottle: 20 * time.Millisecond})
		svc.Join("ses_1", "alice")

		require.True(t, svc.UpdateCursor("ses_1", "alice", &models.CursorPosition{Position: 1}))
		time.Sleep(30 * time.Millisecond)
		assert.True(t, svc.UpdateCursor("ses_1", "alice", &models.CursorPosition{Position: 2}))
	})

	t.Run("Throttle is per user", func(t *testing.T) {
		svc, _ := newTestPresence(t, PresenceConfig{CursorThrottle: time.Second})
		svc.Join("ses_1", "alice")
		svc.Join("ses_1", "bob")

		assert.True(t, svc.UpdateCursor("ses_1", "alice", &models.CursorPosition{Position: 1}))
		assert.True(t, svc.UpdateCursor("ses_1", "bob", &models.CursorPosition{Position: 2}))
	})

	t.Run("Unknown users are rejected", func(t *testing.T) {
		svc, _ := newTestPresence(t, PresenceConfig{})
		assert.False(t, svc.UpdateCursor("ses_1", "ghost", &models.CursorPosition{Position: 1}))
	})
}

func TestTypingIndicator(t *testing.T) {
	t.Run("Typing auto-clears after the timeout", func(t *testing.T) {
		svc, bus := newTestPresence(t, PresenceConfig{TypingTimeout: 30 * time.Millisecond})
		svc.Join("ses_1", "alice")

		cleared := make(chan struct{}, 1)
		bus.Subscribe(EventTypingUpdated, func(event Event) {
			if typing, ok := event.Data.(bool); ok && !typing {
				select {
				case cleared <- struct{}{}:
				default:
				}
			}
		})

		svc.SetTyping("ses_1", "alice", true)
		presence, ok := svc.GetPresence("ses_1", "alice")
		require.True(t, ok)
		assert.True(t, presence.Typing.IsTyping)

		select {
		case <-cleared:
		case <-time.After(time.Second):
			t.Fatal("typing indicator never cleared")
		}

		presence, _ = svc.GetPresence("ses_1", "alice")
		assert.False(t, presence.Typing.IsTyping)
	})
}

func TestStatusTransitions(t *testing.T) {
	t.Run("Idle walks active to away to offline and drops the cursor", func(t *testing.T) {
		svc, _ := newTestPresence(t, PresenceConfig{
			CursorThrottle:  time.Millisecond,
			PresenceTimeout: 25 * time.Millisecond,
		})
		svc.Join("ses_1", "alice")
		require.True(t, svc.UpdateCursor("ses_1", "alice", &models.CursorPosition{Position: 1}))

		deadline := time.Now().Add(time.Second)
		for {
			presence, ok := svc.GetPresence("ses_1", "alice")
			require.True(t, ok)
			if presence.Status == models.StatusOffline {
				assert.Nil(t, presence.Cursor)
				assert.False(t, presence.Typing.IsTyping)
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("never reached offline, status %s", presence.Status)
			}
			time.Sleep(5 * time.Millisecond)
		}
	})

	t.Run("Activity keeps the user active", func(t *testing.T) {
		svc, _ := newTestPresence(t, PresenceConfig{PresenceTimeout: 40 * time.Millisecond})
		svc.Join("ses_1", "alice")

		for i := 0; i < 5; i++ {
			time.Sleep(15 * time.Millisecond)
			svc.Touch("ses_1", "alice")
		}

		presence, ok := svc.GetPresence("ses_1", "alice")
		require.True(t, ok)
		assert.Equal(t, models.StatusActive, presence.Status)
	})
}

func TestSessionCursors(t *testing.T) {
	t.Run("Caps the list at maxCursorsDisplayed", func(t *testing.T) {
		svc, _ := newTestPresence(t, PresenceConfig{
			CursorThrottle:      time.Millisecond,
			MaxCursorsDisplayed: 3,
		})

		for i := 0; i < 6; i++ {
			user := string(rune('a' + i))
			svc.Join("ses_1", user)
			require.True(t, svc.UpdateCursor("ses_1", user, &models.CursorPosition{
				Position:  i,
				Timestamp: int64(1000 + i),
			}))
		}

		cursors := svc.SessionCursors("ses_1")
		assert.Len(t, cursors, 3)
	})

	t.Run("Filters cursors older than the presence timeout", func(t *testing.T) {
		svc, _ := newTestPresence(t, PresenceConfig{CursorThrottle: time.Millisecond})
		svc.Join("ses_1", "alice")
		svc.Join("ses_1", "bob")

		stale := models.NowMillis() - (DefaultPresenceTimeout + time.Minute).Milliseconds()
		require.True(t, svc.UpdateCursor("ses_1", "alice", &models.CursorPosition{Position: 1, Timestamp: stale}))
		require.True(t, svc.UpdateCursor("ses_1", "bob", &models.CursorPosition{Position: 2}))

		cursors := svc.SessionCursors("ses_1")
		require.Len(t, cursors, 1)
		assert.Equal(t, "bob", cursors[0].UserID)
	})
}

func TestFollow(t *testing.T) {
	t.Run("Follow records the target and emits user_follow", func(t *testing.T) {
		svc, bus := newTestPresence(t, PresenceConfig{})
		svc.Join("ses_1", "alice")
		svc.Join("ses_1", "bob")

		var events []Event
		bus.Subscribe(EventUserFollow, func(event Event) {
			events = append(events, event)
		})

		require.True(t, svc.Follow("ses_1", "alice", "bob"))

		presence, ok := svc.GetPresence("ses_1", "alice")
		require.True(t, ok)
		assert.Equal(t, "bob", presence.Following)

		require.Len(t, events, 1)
		assert.Equal(t, "alice", events[0].UserID)
		assert.Equal(t, "bob", events[0].Data)
	})

	t.Run("Empty target stops following", func(t *testing.T) {
		svc, _ := newTestPresence(t, PresenceConfig{})
		svc.Join("ses_1", "alice")
		svc.Join("ses_1", "bob")

		require.True(t, svc.Follow("ses_1", "alice", "bob"))
		require.True(t, svc.Follow("ses_1", "alice", ""))

		presence, ok := svc.GetPresence("ses_1", "alice")
		require.True(t, ok)
		assert.Empty(t, presence.Following)
	})

	t.Run("Refuses absent targets and self-follow", func(t *testing.T) {
		svc, _ := newTestPresence(t, PresenceConfig{})
		svc.Join("ses_1", "alice")

		assert.False(t, svc.Follow("ses_1", "alice", "ghost"))
		assert.False(t, svc.Follow("ses_1", "alice", "alice"))
		assert.False(t, svc.Follow("ses_1", "ghost", "alice"))
	})

	t.Run("Followers are released when the target leaves", func(t *testing.T) {
		svc, bus := newTestPresence(t, PresenceConfig{})
		svc.Join("ses_1", "alice")
		svc.Join("ses_1", "bob")
		require.True(t, svc.Follow("ses_1", "alice", "bob"))

		var cleared []Event
		bus.Subscribe(EventUserFollow, func(event Event) {
			cleared = append(cleared, event)
		})

		svc.Leave("ses_1", "bob")

		presence, ok := svc.GetPresence("ses_1", "alice")
		require.True(t, ok)
		assert.Empty(t, presence.Following)

		require.Len(t, cleared, 1)
		assert.Equal(t, "alice", cleared[0].UserID)
		assert.Equal(t, "", cleared[0].Data)
	})
}

func TestJoinLeavePresence(t *testing.T) {
	t.Run("Leave drops the user and their session when empty", func(t *testing.T) {
		svc, bus := newTestPresence(t, PresenceConfig{})

		var left []string
		bus.Subscribe(EventParticipantLeft, func(event Event) {
			left = append(left, event.UserID)
		})

		svc.Join("ses_1", "alice")
		svc.Leave("ses_1", "alice")

		_, ok := svc.GetPresence("ses_1", "alice")
		assert.False(t, ok)
		assert.Equal(t, []string{"alice"}, left)
	})

	t.Run("Join assigns a deterministic color", func(t *testing.T) {
		svc, _ := newTestPresence(t, PresenceConfig{})
		svc.Join("ses_1", "alice")

		presence, ok := svc.GetPresence("ses_1", "alice")
		require.True(t, ok)
		assert.Equal(t, models.GenerateUserColor("alice"), presence.Color)
	})
}
