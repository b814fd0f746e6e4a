package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/Meldroq8/trivia-game-sub003/internal/minigame"
)

// EventType labels a server-to-client WebSocket event.
type EventType string

const (
	EventSessionUpdate EventType = "SessionUpdate"
	EventSessionGone   EventType = "SessionGone"
	EventLifecycle     EventType = "Lifecycle"
	EventQRCode        EventType = "QRCode"
	EventTimerTick     EventType = "TimerTick"
	EventTimerExpired  EventType = "TimerExpired"
	EventHintsUnlocked EventType = "HintsUnlocked"
	EventJoined        EventType = "Joined"
	EventError         EventType = "Error"
)

// Event is the server-to-client envelope.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals a payload into an envelope. Marshal failures are
// programming errors surfaced as an Error event.
func NewEvent(typ EventType, payload any) *Event {
	if payload == nil {
		return &Event{Type: typ}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return &Event{
			Type:    EventError,
			Payload: json.RawMessage(fmt.Sprintf(`{"error":%q}`, err.Error())),
		}
	}
	return &Event{Type: typ, Payload: data}
}

// CommandType labels a client-to-server WebSocket command.
type CommandType string

// Presenter commands.
const (
	CmdShowQuestion CommandType = "ShowQuestion"
	CmdRestart      CommandType = "Restart"
	CmdFinish       CommandType = "Finish"
)

// Player commands.
const (
	CmdReady         CommandType = "Ready"
	CmdStroke        CommandType = "Stroke"
	CmdNextCelebrity CommandType = "NextCelebrity"
	CmdNextQuestion  CommandType = "NextQuestion"
	CmdSubmitAnswer  CommandType = "SubmitAnswer"
)

// Shared commands. Timer reset is the one control either side may issue.
const (
	CmdResetTimer CommandType = "ResetTimer"
)

// Command is the client-to-server envelope.
type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ShowQuestionPayload names the question the presenter is displaying.
type ShowQuestionPayload struct {
	QuestionID string `json:"questionId"`
}

// StrokePayload carries one drawn stroke.
type StrokePayload struct {
	Stroke minigame.Stroke `json:"stroke"`
}

// NextCelebrityPayload names the headband team whose counter advances.
type NextCelebrityPayload struct {
	Team minigame.Team `json:"team"`
}

// SubmitAnswerPayload carries the final guess-word answer.
type SubmitAnswerPayload struct {
	Answer string `json:"answer"`
}

// ResetTimerPayload carries the authoritative restart value.
type ResetTimerPayload struct {
	Seconds int `json:"seconds"`
}

// LifecyclePayload reports a presenter state-machine transition.
type LifecyclePayload struct {
	State string `json:"state"`
}

// QRCodePayload carries the scannable join string and its PNG endpoint.
type QRCodePayload struct {
	SessionID string        `json:"sessionId"`
	Game      minigame.Game `json:"game"`
	URL       string        `json:"url"`
	ImagePath string        `json:"imagePath"`
}

// TimerPayload reports local countdown progress.
type TimerPayload struct {
	RemainingSec int `json:"remainingSec"`
}

// ErrorPayload reports a non-fatal failure; the triggering action stays
// retryable on the client.
type ErrorPayload struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
