// handler.go -- HTTP handlers for GET/POST /webhook and POST /test-relay.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/auth"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/notify"
)

// maxEventBytes caps a delivery body. Real events are a few hundred bytes.
const maxEventBytes = 64 << 10

// testRelayMessage is sent by POST /test-relay.
const testRelayMessage = "🧪 Test notification from the Strava MCP bridge. If you can read this, activity notifications are wired up."

// Dispatcher hands an event to background processing. Satisfied by *Runner.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event)
}

// Handler holds dependencies for the webhook endpoints.
type Handler struct {
	// VerifyToken is compared against hub.verify_token. Empty rejects every handshake.
	VerifyToken string
	Dispatcher  Dispatcher
	// Relay is used by TestRelay only; nil when no relay is configured.
	Relay notify.Relay
}

// Verify handles GET /webhook -- the subscription handshake.
// On a match the challenge is echoed back byte for byte.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, token, challenge := q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge")

	if mode != "subscribe" || h.VerifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.VerifyToken)) != 1 {
		slog.Warn("webhook verification failed", append(auth.RequestAttrs(r), "mode", mode)...)
		auth.Forbidden(w)
		return
	}

	// JSON cannot carry invalid UTF-8 unchanged, so such a challenge could not be echoed exactly.
	if !utf8.ValidString(challenge) {
		slog.Warn("webhook challenge is not valid UTF-8", auth.RequestAttrs(r)...)
		auth.BadRequest(w, r, "hub.challenge must be valid UTF-8")
		return
	}

	slog.Info("webhook verified", auth.RequestAttrs(r)...)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	// Keep <, > and & literal so the echoed challenge is unchanged.
	enc.SetEscapeHTML(false)
	enc.Encode(map[string]string{"hub.challenge": challenge})
}

// Receive handles POST /webhook -- always 200, work happens after the response.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	var ev Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&ev); err != nil {
		// 200 anyway, so Strava does not retry a body it will never be able to parse.
		slog.Error("webhook: parsing event failed", append(auth.RequestAttrs(r), "error", err)...)
		auth.WriteJSON(w, http.StatusOK, map[string]bool{"success": false})
		return
	}

	slog.Info("webhook event received", append(auth.RequestAttrs(r), ev.LogAttrs()...)...)
	h.Dispatcher.Dispatch(r.Context(), ev)
	auth.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// TestRelay handles POST /test-relay -- sends a fixed message through the relay.
func (h *Handler) TestRelay(w http.ResponseWriter, r *http.Request) {
	if h.Relay == nil {
		auth.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "POKE_API_KEY not configured"})
		return
	}
	if err := h.Relay.Send(r.Context(), testRelayMessage); err != nil {
		slog.Error("test relay failed", append(auth.RequestAttrs(r), "error", err)...)
		auth.WriteJSON(w, http.StatusBadGateway, map[string]any{
			"success": false,
			"error":   "Relay request failed",
		})
		return
	}
	auth.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Test notification sent to Poke!",
	})
}
