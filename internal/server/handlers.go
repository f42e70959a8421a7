package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/skaric/qrdrop/internal/activity"
	"github.com/skaric/qrdrop/internal/notify"
	"github.com/skaric/qrdrop/internal/session"
)

// handleCreateSession starts a pairing session for the calling desktop.
// Response: {sessionId, expiresAt, url} where url is what the QR code
// encodes for the mobile side.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	identity := requesterIdentity(r)

	sess, err := s.manager.Create(r.Context(), identity)
	if err != nil {
		var rl *session.RateLimitedError
		if errors.As(err, &rl) {
			s.record(activity.TypeRateLimited, "", "session creation from "+identity)
			s.writeRateLimited(w, rl)
			return
		}
		log.Printf("create session: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	s.record(activity.TypeSessionCreated, sess.ID, "")
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sess.ID,
		"expiresAt": sess.ExpiresAt.UnixMilli(),
		"url":       s.baseURL + "/submit/" + sess.ID,
	})
}

// handleSubmit relays a link from the mobile side into the session.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Link string `json:"link"`
	}
	// A malformed body leaves Link empty and fails validation below,
	// which keeps the error shape uniform for the submitter.
	_ = json.NewDecoder(r.Body).Decode(&body)

	err := s.manager.Submit(r.Context(), id, body.Link)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "link sent to desktop",
		})
		return
	case errors.Is(err, session.ErrSessionNotFound):
		s.record(activity.TypeSubmitRejected, id, "session not found or expired")
		writeJSON(w, http.StatusNotFound, errorBody("session not found or expired"))
		return
	}

	var rl *session.RateLimitedError
	if errors.As(err, &rl) {
		s.record(activity.TypeRateLimited, id, "link submission")
		s.writeRateLimited(w, rl)
		return
	}

	var inv *session.InvalidLinkError
	if errors.As(err, &inv) {
		s.record(activity.TypeSubmitRejected, id, inv.Reason)
		writeJSON(w, http.StatusBadRequest, errorBody(inv.Reason))
		return
	}

	log.Printf("submit link for session %s: %v", id, err)
	writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
}

// handleListen establishes the notification channel: an SSE stream that
// emits a connected acknowledgment, then exactly one of link, timeout,
// or error.
func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sse, err := newSSEWriter(w)
	if err != nil {
		log.Printf("listen for session %s: %v", id, err)
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	for ev := range s.watcher.Watch(r.Context(), id) {
		if err := sse.WriteEvent(ev); err != nil {
			// Client is gone; the watcher stops via the request context.
			log.Printf("listen write for session %s: %v", id, err)
			return
		}

		switch ev.Type {
		case notify.EventLink:
			s.record(activity.TypeLinkDelivered, id, "")
		case notify.EventTimeout:
			s.record(activity.TypeWatchTimeout, id, "")
		case notify.EventError:
			s.record(activity.TypeWatchError, id, ev.Message)
		}
	}
}

// requesterIdentity derives the rate limit key for session creation from
// the forwarded client IP: first entry when comma-separated, "unknown"
// when the header is absent.
func requesterIdentity(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return "unknown"
	}
	first, _, _ := strings.Cut(forwarded, ",")
	first = strings.TrimSpace(first)
	if first == "" {
		return "unknown"
	}
	return first
}

func (s *Server) writeRateLimited(w http.ResponseWriter, rl *session.RateLimitedError) {
	if retry := int(rl.RetryAt.Sub(s.clock.Now()).Seconds()) + 1; retry > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retry))
	}
	writeJSON(w, http.StatusTooManyRequests, errorBody("rate limit exceeded, try again later"))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
