package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/chat-widget/internal/widget"
	"github.com/google/uuid"
)

const maxEventBodySize = 1 << 20

// HandleEvents receives a page event posted as JSON and queues it for the controller of the session.
// The worker of the session handles events in the order they were posted, copying the input values
// carried by each event into the page mirror first, so the controller reads what the user actually typed.
//
// The effects of an event reach the page as patches over SSE, and the request is answered with 202 as
// soon as the event is queued.
func (m Main) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, ok := m.sessionFromRequest(r)
	if !ok {
		http.Error(w, "Unknown session", http.StatusUnauthorized)
		return
	}

	if !sess.allow() {
		m.logger.Warn("Event rate limit exceeded", slog.String("session", sess.id))
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var ev widget.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBodySize)).Decode(&ev); err != nil {
		m.logger.Error("Failed to decode event", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Invalid event", http.StatusBadRequest)
		return
	}

	if !sess.ctrl.Handles(ev) {
		m.logger.Warn("Unhandled event",
			slog.String("type", ev.Type),
			slog.String("target", ev.Target))
		http.Error(w, "Unhandled event", http.StatusBadRequest)
		return
	}

	if !sess.enqueue(ev) {
		m.logger.Warn("Event dropped", slog.String("session", sess.id), slog.String("type", ev.Type))
		http.Error(w, "Session busy", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// HandleSSE streams the patches of the requesting session. A streaming session is stored and is never
// released as idle while the stream is open.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		http.Error(w, "Unknown session", http.StatusUnauthorized)
		return
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		http.Error(w, "Unknown session", http.StatusUnauthorized)
		return
	}

	// The session may be gone after a restart; bring it back so later events find it.
	sess, err := m.session(r.Context(), c.Value)
	if err != nil {
		m.logger.Error("Failed to open session",
			slog.String("session", c.Value),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := sess.persist(r.Context(), m.store); err != nil {
		m.logger.Error("Failed to store session",
			slog.String("session", sess.id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sess.streams.Add(1)
	defer func() {
		sess.streams.Add(-1)
		sess.touch()
	}()

	m.sseSrv.ServeHTTP(w, r)
}
