package session

import (
	"context"
	"time"

	"github.com/Meldroq8/trivia-game-sub003/internal/minigame"
)

// EventType labels a session lifecycle event on the audit stream.
type EventType string

const (
	EventSessionCreated   EventType = "SessionCreated"
	EventSessionRestarted EventType = "SessionRestarted"
	EventPlayerConnected  EventType = "PlayerConnected"
	EventPlayerReady      EventType = "PlayerReady"
	EventStatusChanged    EventType = "StatusChanged"
	EventTimerReset       EventType = "TimerReset"
	EventAnswerSubmitted  EventType = "AnswerSubmitted"
)

// Event is one session lifecycle event. Payload is event-specific and must be
// JSON-serializable.
type Event struct {
	ID        string        `json:"eventId"`
	SessionID string        `json:"sessionId"`
	Game      minigame.Game `json:"game"`
	Type      EventType     `json:"eventType"`
	Timestamp time.Time     `json:"timestamp"`
	Payload   any           `json:"payload,omitempty"`
}

// EventSink receives session lifecycle events. Implementations must not
// block the caller for long; publication is best-effort.
type EventSink interface {
	PublishSessionEvent(ctx context.Context, event Event) error
}
