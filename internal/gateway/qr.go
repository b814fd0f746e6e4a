package gateway

import (
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/Meldroq8/trivia-game-sub003/internal/minigame"
)

const qrImageSize = 256

// HandleQR renders the join URL for a session as a PNG. The presenter screen
// embeds this image next to the question so a phone can scan straight into
// the session.
func (h *Handler) HandleQR(w http.ResponseWriter, r *http.Request) {
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

	joinURL := h.baseURL + "/play?mode=" + url.QueryEscape(string(game)) +
		"&session=" + url.QueryEscape(sessionID)

	png, err := qrcode.Encode(joinURL, qrcode.Medium, qrImageSize)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("qr encode failed")
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(png); err != nil {
		log.Debug().Err(err).Msg("qr write aborted")
	}
}
