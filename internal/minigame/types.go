package minigame

import (
	"fmt"
	"time"
)

// Game identifies which mini-game a session coordinates.
type Game string

const (
	GameDrawing   Game = "drawing"
	GameHeadband  Game = "headband"
	GameCharades  Game = "charades"
	GameGuessWord Game = "guessword"
)

// Games lists every supported mini-game.
var Games = []Game{GameDrawing, GameHeadband, GameCharades, GameGuessWord}

// ParseGame validates a game tag received from the wire (QR payload, WebSocket
// join command).
func ParseGame(s string) (Game, error) {
	switch Game(s) {
	case GameDrawing, GameHeadband, GameCharades, GameGuessWord:
		return Game(s), nil
	}
	return "", fmt.Errorf("unknown game %q", s)
}

// Status is the session phase. Transitions are monotonic forward; a timer
// reset never changes status.
type Status string

const (
	StatusCreated  Status = "created"
	StatusWaiting  Status = "waiting"
	StatusDrawing  Status = "drawing"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// ActiveStatus returns the in-play status for a game. The drawing game
// historically uses "drawing" where the others use "playing".
func (g Game) ActiveStatus() Status {
	if g == GameDrawing {
		return StatusDrawing
	}
	return StatusPlaying
}

// statusRank orders phases so forward-only transitions can be enforced in one
// place. Both active variants share a rank.
func statusRank(s Status) int {
	switch s {
	case StatusCreated:
		return 0
	case StatusWaiting:
		return 1
	case StatusDrawing, StatusPlaying:
		return 2
	case StatusFinished:
		return 3
	}
	return -1
}

// CanTransition reports whether a session may move from one status to
// another. Equal statuses are allowed so repeated writes are harmless.
func CanTransition(from, to Status) bool {
	fr, tr := statusRank(from), statusRank(to)
	return fr >= 0 && tr >= 0 && tr >= fr
}

// Point is a single coordinate in a stroke, normalized to the drawing canvas.
type Point struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
}

// Stroke is one continuous drawn line. Strokes are append-only within a
// session; the presenter replays them in order.
type Stroke struct {
	Points []Point `json:"points" bson:"points"`
	Color  string  `json:"color" bson:"color"`
	Width  float64 `json:"width" bson:"width"`
}

// Team selects which headband team a counter mutation targets.
type Team string

const (
	TeamA Team = "A"
	TeamB Team = "B"
)

// Session is the shared document coordinating one mini-game instance between
// a presenter screen and a player device. Field ownership is by convention:
// the presenter writes control and question fields, the player writes
// connection flags and gameplay contributions. The two roles only share
// TimeRemaining/TimerResetAt, where last-write-wins is accepted.
type Session struct {
	SessionID string `json:"sessionId" bson:"_id"`
	Game      Game   `json:"game" bson:"game"`
	Status    Status `json:"status" bson:"status"`

	// Question payload copied in at creation so the player device never
	// reads the question collection directly.
	QuestionID   string `json:"questionId" bson:"questionId"`
	QuestionText string `json:"questionText,omitempty" bson:"questionText,omitempty"`
	Difficulty   string `json:"difficulty,omitempty" bson:"difficulty,omitempty"`
	Points       int    `json:"points,omitempty" bson:"points,omitempty"`

	// Player-owned flags.
	PlayerConnected bool `json:"playerConnected" bson:"playerConnected"`
	DrawerConnected bool `json:"drawerConnected" bson:"drawerConnected"`
	PlayerReady     bool `json:"playerReady" bson:"playerReady"`
	DrawerReady     bool `json:"drawerReady" bson:"drawerReady"`

	// Drawing.
	Strokes       []Stroke  `json:"strokes,omitempty" bson:"strokes,omitempty"`
	TimeRemaining int       `json:"timeRemaining,omitempty" bson:"timeRemaining,omitempty"`
	TimerResetAt  time.Time `json:"timerResetAt,omitempty" bson:"timerResetAt,omitempty"`

	// Headband.
	Answer       string `json:"answer,omitempty" bson:"answer,omitempty"`
	AnswerImage  string `json:"answerImage,omitempty" bson:"answerImage,omitempty"`
	Answer2      string `json:"answer2,omitempty" bson:"answer2,omitempty"`
	AnswerImage2 string `json:"answerImage2,omitempty" bson:"answerImage2,omitempty"`
	TeamACounter int    `json:"teamACounter" bson:"teamACounter"`
	TeamBCounter int    `json:"teamBCounter" bson:"teamBCounter"`
	TeamAName    string `json:"teamAName,omitempty" bson:"teamAName,omitempty"`
	TeamBName    string `json:"teamBName,omitempty" bson:"teamBName,omitempty"`

	// Charades.
	AnswerImageURL string `json:"answerImageUrl,omitempty" bson:"answerImageUrl,omitempty"`
	AnswerAudioURL string `json:"answerAudioUrl,omitempty" bson:"answerAudioUrl,omitempty"`
	AnswerVideoURL string `json:"answerVideoUrl,omitempty" bson:"answerVideoUrl,omitempty"`

	// GuessWord.
	SubmittedAnswer string `json:"submittedAnswer,omitempty" bson:"submittedAnswer,omitempty"`
	QuestionCount   int    `json:"questionCount" bson:"questionCount"`
	MaxQuestions    int    `json:"maxQuestions,omitempty" bson:"maxQuestions,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Connected reports whether the second device has attached, under either
// flag name (the drawing game uses the drawer aliases).
func (s *Session) Connected() bool {
	return s.PlayerConnected || s.DrawerConnected
}

// Ready reports whether the second device has signalled readiness.
func (s *Session) Ready() bool {
	return s.PlayerReady || s.DrawerReady
}

// Counter returns the current counter value for a headband team.
func (s *Session) Counter(team Team) int {
	if team == TeamB {
		return s.TeamBCounter
	}
	return s.TeamACounter
}

// SessionID builds the shared session identifier from a question and the
// presenter's user ID. Two presenters running the same question concurrently
// get distinct sessions.
func SessionID(questionID, presenterUserID string) string {
	return questionID + "_" + presenterUserID
}
