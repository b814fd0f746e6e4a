// Package question supplies the question metadata copied into a session at
// creation time. The player device never reads this collection; everything
// it needs is denormalized into the session document at the authorization
// boundary.
package question

import (
	"context"
	"errors"

	"github.com/Meldroq8/trivia-game-sub003/internal/minigame"
)

// ErrQuestionNotFound is returned when no question exists for an ID.
var ErrQuestionNotFound = errors.New("question not found")

// Question is the question-like record the session layer needs. Media URLs
// are optional; Game is empty when the question's category enables no
// mini-game.
type Question struct {
	ID              string        `json:"id"`
	Text            string        `json:"text,omitempty"`
	Answer          string        `json:"answer,omitempty"`
	Answer2         string        `json:"answer2,omitempty"`
	AnswerImageURL  string        `json:"answerImageUrl,omitempty"`
	AnswerImage2URL string        `json:"answerImage2Url,omitempty"`
	AnswerAudioURL  string        `json:"answerAudioUrl,omitempty"`
	AnswerVideoURL  string        `json:"answerVideoUrl,omitempty"`
	Difficulty      string        `json:"difficulty,omitempty"`
	Points          int           `json:"points,omitempty"`
	Game            minigame.Game `json:"game,omitempty"`
}

// Provider reads question records synchronously at session-creation time.
type Provider interface {
	Get(ctx context.Context, id string) (*Question, error)
}
