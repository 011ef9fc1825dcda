package widget

import (
	"fmt"
	"html/template"
	"strings"

	chatwidget "github.com/MegaGrindStone/chat-widget"
	"github.com/MegaGrindStone/chat-widget/internal/models"
)

type messageNode struct {
	ID           string
	HTML         template.HTML
	QuickReplies []models.QuickReply
}

// nodeRenderer builds the transcript nodes of messages from the embedded message partials.
type nodeRenderer struct {
	templates *template.Template
}

func newNodeRenderer() (nodeRenderer, error) {
	tmpl, err := template.ParseFS(chatwidget.TemplateFS, "templates/partials/*.html")
	if err != nil {
		return nodeRenderer{}, fmt.Errorf("failed to parse message templates: %w", err)
	}
	return nodeRenderer{templates: tmpl}, nil
}

func (n nodeRenderer) render(msg models.Message, replies []models.QuickReply) (string, error) {
	name := "user_message"
	if msg.Role == models.RoleBot {
		name = "bot_message"
	}

	// RenderedHTML is either escaped user text or the output of the markdown renderer.
	node := messageNode{
		ID:           msg.ID,
		HTML:         template.HTML(msg.RenderedHTML),
		QuickReplies: replies,
	}

	var sb strings.Builder
	err := n.templates.ExecuteTemplate(&sb, name, node)
	if err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return sb.String(), nil
}
