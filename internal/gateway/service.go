package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/Meldroq8/trivia-game-sub003/internal/minigame"
	"github.com/Meldroq8/trivia-game-sub003/internal/presenter"
	"github.com/Meldroq8/trivia-game-sub003/internal/question"
	"github.com/Meldroq8/trivia-game-sub003/internal/session"
)

// ServiceConfig holds the HTTP-facing settings.
type ServiceConfig struct {
	Addr           string
	BaseURL        string
	AllowedOrigins []string
}

// Service ties the connection manager, the per-game session services and the
// question provider behind one HTTP server.
type Service struct {
	cfg     ServiceConfig
	cm      *ConnectionManager
	handler *Handler
	server  *http.Server
}

// NewService wires the gateway.
func NewService(cfg ServiceConfig, services map[minigame.Game]*session.Service, questions question.Provider, settings map[minigame.Game]presenter.GameSettings) *Service {
	cm := NewConnectionManager(DefaultConnectionConfig())
	handler := NewHandler(cm, services, questions, cfg.BaseURL, settings)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/presenter", handler.HandlePresenter)
	mux.HandleFunc("/ws/player", handler.HandlePlayer)
	mux.HandleFunc("/api/qr", handler.HandleQR)
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		handleStats(w, cm)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	return &Service{
		cfg:     cfg,
		cm:      cm,
		handler: handler,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           c.Handler(mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run starts the broadcast loop and serves HTTP until the context is
// cancelled, then drains connections.
func (s *Service) Run(ctx context.Context) error {
	go s.cm.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("gateway listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	log.Info().Msg("gateway stopped")
	return nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleStats(w http.ResponseWriter, cm *ConnectionManager) {
	connections, sessions := cm.Stats()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]int{
		"connections": connections,
		"sessions":    sessions,
	})
}
