package handlers

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/chat-widget/internal/widget"
	"github.com/google/uuid"
)

type homePageData struct {
	Elements widget.Elements

	Nodes []template.HTML

	LoadingDisplay string
	ModalDisplay   string
	InputValue     string
	InputHeight    string
	SendDisabled   bool
}

// HandleHome renders the widget page. A browser without a valid session cookie is given a new session;
// a returning browser gets its transcript back, rendered from the server side mirror of its page.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if c, err := r.Cookie(sessionCookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			sessionID = c.Value
		}
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	sess, err := m.session(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to open session",
			slog.String("session", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	els := m.opts.Elements
	data := homePageData{
		Elements:       els,
		LoadingDisplay: sess.dom.Display(els.Loading),
		ModalDisplay:   sess.dom.Display(els.APIKeyModal),
		InputValue:     sess.dom.Value(els.UserInput),
		InputHeight:    sess.dom.Style(els.UserInput, "height"),
		SendDisabled:   sess.dom.Disabled(els.SendButton),
	}
	if data.InputHeight == "" {
		data.InputHeight = "32px"
	}
	for _, n := range sess.dom.Children(els.ChatBody) {
		if n.HTML == "" {
			continue
		}
		// Nodes were produced by the message templates.
		data.Nodes = append(data.Nodes, template.HTML(n.HTML))
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}
