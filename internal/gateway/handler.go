package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Meldroq8/trivia-game-sub003/internal/minigame"
	"github.com/Meldroq8/trivia-game-sub003/internal/player"
	"github.com/Meldroq8/trivia-game-sub003/internal/presenter"
	"github.com/Meldroq8/trivia-game-sub003/internal/question"
	"github.com/Meldroq8/trivia-game-sub003/internal/session"
)

// Handler serves the WebSocket endpoints for both roles. Each connection
// owns its own lifecycle manager; the connection manager only fans session
// updates out to mirrors.
type Handler struct {
	cm        *ConnectionManager
	services  map[minigame.Game]*session.Service
	questions question.Provider
	baseURL   string
	settings  map[minigame.Game]presenter.GameSettings
	playerCfg player.Config
}

// NewHandler creates the WebSocket handler. The settings map overrides
// per-game tuning; games absent from it use the defaults.
func NewHandler(cm *ConnectionManager, services map[minigame.Game]*session.Service, questions question.Provider, baseURL string, settings map[minigame.Game]presenter.GameSettings) *Handler {
	return &Handler{
		cm:        cm,
		services:  services,
		questions: questions,
		baseURL:   baseURL,
		settings:  settings,
		playerCfg: player.DefaultConfig(),
	}
}

// HandlePresenter upgrades the main-screen connection. The presenter
// identifies itself with a user ID; in production this comes from the
// authenticated session.
func (h *Handler) HandlePresenter(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.cm.Upgrade(w, r, RolePresenter)
	if err != nil {
		log.Error().Err(err).Msg("presenter upgrade failed")
		return
	}

	var opts []presenter.Option
	for game, s := range h.settings {
		opts = append(opts, presenter.WithSettings(game, s))
	}

	ps := &presenterConn{handler: h, conn: conn}
	ps.mgr = presenter.NewManager(h.services, userID, h.baseURL, presenter.Callbacks{
		OnState: func(state presenter.State) {
			conn.SendEvent(NewEvent(EventLifecycle, LifecyclePayload{State: string(state)}))
		},
		OnSession: func(sess *minigame.Session) {
			if sess == nil {
				conn.SendEvent(NewEvent(EventSessionGone, nil))
				return
			}
			conn.SendEvent(NewEvent(EventSessionUpdate, sess))
		},
		OnTimerTick: func(remaining int) {
			conn.SendEvent(NewEvent(EventTimerTick, TimerPayload{RemainingSec: remaining}))
		},
		OnTimerExpire: func() {
			conn.SendEvent(NewEvent(EventTimerExpired, nil))
		},
		OnHintsUnlocked: func() {
			conn.SendEvent(NewEvent(EventHintsUnlocked, nil))
		},
		OnError: func(err error) {
			conn.SendEvent(NewEvent(EventError, ErrorPayload{Message: err.Error(), Retryable: true}))
		},
	}, opts...)

	conn.onCommand = ps.handleCommand
	conn.onClose = ps.mgr.Teardown
	conn.StartPumps()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", userID).
		Msg("presenter connected")
}

// HandlePlayer upgrades the second-device connection reached through the QR
// code. The session identifier and mode tag come from the scanned URL.
func (h *Handler) HandlePlayer(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session is required", http.StatusBadRequest)
		return
	}
	game, err := minigame.ParseGame(r.URL.Query().Get("mode"))
	if err != nil {
		http.Error(w, "invalid mode", http.StatusBadRequest)
		return
	}
	svc, ok := h.services[game]
	if !ok {
		http.Error(w, "unsupported mode", http.StatusBadRequest)
		return
	}

	conn, err := h.cm.Upgrade(w, r, RolePlayer)
	if err != nil {
		log.Error().Err(err).Msg("player upgrade failed")
		return
	}

	mgr := player.NewManager(svc, player.Callbacks{
		OnSession: func(sess *minigame.Session) {
			if sess == nil {
				conn.SendEvent(NewEvent(EventSessionGone, nil))
				return
			}
			conn.SendEvent(NewEvent(EventSessionUpdate, sess))
		},
		OnTimerTick: func(remaining int) {
			conn.SendEvent(NewEvent(EventTimerTick, TimerPayload{RemainingSec: remaining}))
		},
		OnTimerExpire: func() {
			conn.SendEvent(NewEvent(EventTimerExpired, nil))
		},
		OnError: func(err error) {
			conn.SendEvent(NewEvent(EventError, ErrorPayload{Message: err.Error(), Retryable: true}))
		},
	}, player.WithConfig(h.playerCfg))

	pc := &playerConn{conn: conn, mgr: mgr}
	conn.onCommand = pc.handleCommand
	conn.onClose = func() {
		mgr.Leave(context.Background())
	}
	conn.StartPumps()

	// Joining can wait through the creation race; do it off the read loop.
	go func() {
		if err := mgr.Join(context.Background(), sessionID); err != nil {
			if errors.Is(err, player.ErrSessionNotReady) {
				conn.SendEvent(NewEvent(EventError, ErrorPayload{
					Message:   "waiting for presenter",
					Retryable: true,
				}))
				return
			}
			conn.SendEvent(NewEvent(EventError, ErrorPayload{Message: err.Error(), Retryable: true}))
			return
		}
		conn.AttachSession(sessionID)
		conn.SendEvent(NewEvent(EventJoined, nil))
	}()

	log.Info().
		Str("connection_id", conn.ID).
		Str("session_id", sessionID).
		Str("game", string(game)).
		Msg("player connected")
}

// presenterConn holds per-connection presenter state.
type presenterConn struct {
	handler *Handler
	conn    *Connection
	mgr     *presenter.Manager

	mu       sync.Mutex
	question *question.Question
}

func (p *presenterConn) handleCommand(cmd Command) {
	ctx := context.Background()
	switch cmd.Type {
	case CmdShowQuestion:
		var payload ShowQuestionPayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			p.conn.SendEvent(NewEvent(EventError, ErrorPayload{Message: "malformed payload"}))
			return
		}
		q, err := p.handler.questions.Get(ctx, payload.QuestionID)
		if err != nil {
			p.conn.SendEvent(NewEvent(EventError, ErrorPayload{Message: err.Error(), Retryable: true}))
			return
		}
		p.mu.Lock()
		p.question = q
		p.mu.Unlock()

		qr, err := p.mgr.ShowQuestion(ctx, q)
		if err != nil {
			return // reported through OnError
		}
		if qr.SessionID != "" {
			p.conn.AttachSession(qr.SessionID)
			p.conn.SendEvent(NewEvent(EventQRCode, p.qrPayload(qr)))
		}

	case CmdRestart:
		p.mu.Lock()
		q := p.question
		p.mu.Unlock()
		if q == nil {
			p.conn.SendEvent(NewEvent(EventError, ErrorPayload{Message: "no question displayed"}))
			return
		}
		if qr, err := p.mgr.Restart(ctx, q); err == nil {
			p.conn.SendEvent(NewEvent(EventQRCode, p.qrPayload(qr)))
		}

	case CmdResetTimer:
		var payload ResetTimerPayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			p.conn.SendEvent(NewEvent(EventError, ErrorPayload{Message: "malformed payload"}))
			return
		}
		p.mgr.ResetTimer(ctx, payload.Seconds)

	case CmdFinish:
		p.mgr.Finish(ctx)

	default:
		p.conn.SendEvent(NewEvent(EventError, ErrorPayload{Message: "unknown command"}))
	}
}

func (p *presenterConn) qrPayload(qr presenter.QRPayload) QRCodePayload {
	return QRCodePayload{
		SessionID: qr.SessionID,
		Game:      qr.Game,
		URL:       qr.URL,
		ImagePath: "/api/qr?session=" + qr.SessionID + "&mode=" + string(qr.Game),
	}
}

// playerConn holds per-connection player state.
type playerConn struct {
	conn *Connection
	mgr  *player.Manager
}

func (p *playerConn) handleCommand(cmd Command) {
	ctx := context.Background()
	switch cmd.Type {
	case CmdReady:
		p.mgr.Ready(ctx)

	case CmdStroke:
		var payload StrokePayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			p.conn.SendEvent(NewEvent(EventError, ErrorPayload{Message: "malformed payload"}))
			return
		}
		p.mgr.DrawStroke(payload.Stroke)

	case CmdNextCelebrity:
		var payload NextCelebrityPayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			p.conn.SendEvent(NewEvent(EventError, ErrorPayload{Message: "malformed payload"}))
			return
		}
		p.mgr.NextCelebrity(payload.Team)

	case CmdNextQuestion:
		if exhausted := p.mgr.NextQuestion(); exhausted {
			p.conn.SendEvent(NewEvent(EventError, ErrorPayload{Message: "question budget exhausted"}))
		}

	case CmdSubmitAnswer:
		var payload SubmitAnswerPayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			p.conn.SendEvent(NewEvent(EventError, ErrorPayload{Message: "malformed payload"}))
			return
		}
		p.mgr.SubmitAnswer(ctx, payload.Answer)

	case CmdResetTimer:
		var payload ResetTimerPayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			p.conn.SendEvent(NewEvent(EventError, ErrorPayload{Message: "malformed payload"}))
			return
		}
		p.mgr.ResetTimer(ctx, payload.Seconds)

	default:
		p.conn.SendEvent(NewEvent(EventError, ErrorPayload{Message: "unknown command"}))
	}
}
