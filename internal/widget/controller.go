package widget

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/google/uuid"
)

// Backend is the chat backend the widget talks to.
type Backend interface {
	// SetAPIKey hands an API key to the backend. A refused key is reported as *models.KeyRejectedError.
	SetAPIKey(ctx context.Context, apiKey string) error
	Chat(ctx context.Context, message string) models.ChatResult
}

// Renderer converts bot response text (markdown, possibly with embedded HTML) to HTML.
type Renderer interface {
	Render(text string) (string, error)
}

// Controller drives a single chat widget. It reads user input from the DOM, talks to the backend, and
// renders the transcript back into the DOM. It is safe for concurrent use; at most one chat request is in
// flight at any time.
type Controller struct {
	dom      DOM
	elements Elements
	backend  Backend
	markdown Renderer
	nodes    nodeRenderer
	replies  models.QuickReplySets

	onMessage func(models.Message)

	logger *slog.Logger

	mu         sync.Mutex
	sending    bool
	transcript []models.Message
}

// Option configures a Controller.
type Option func(*Controller)

// Messages shown by the controller.
const (
	KeyAcceptedMessage  = "API key set successfully! You can now ask questions."
	ChatFailedMessage   = "Sorry, there was an error processing your request. Please try again later."
	EmptyKeyAlert       = "Please enter a valid API key."
	KeyRejectedAlert    = "Failed to set API key: "
	KeyRequestFailAlert = "An error occurred while setting the API key."
)

// Input sizing, in pixels.
const (
	inputMinHeight = 32
	inputMaxHeight = 152
)

const errLoggerKey = "err"

// WithElements overrides the element ids. Empty ids keep their default.
func WithElements(elements Elements) Option {
	return func(c *Controller) {
		c.elements = elements.WithDefaults()
	}
}

// WithQuickReplySets replaces the quick reply tables.
func WithQuickReplySets(sets models.QuickReplySets) Option {
	return func(c *Controller) {
		c.replies = sets
	}
}

// WithMessageHook registers fn to be called with every message appended to the transcript. Messages
// replayed through Restore are not passed to fn.
func WithMessageHook(fn func(models.Message)) Option {
	return func(c *Controller) {
		c.onMessage = fn
	}
}

// NewController creates a Controller bound to dom. It returns an error if the message templates can't be
// parsed.
func NewController(dom DOM, backend Backend, markdown Renderer, logger *slog.Logger, opts ...Option) (*Controller, error) {
	nodes, err := newNodeRenderer()
	if err != nil {
		return nil, err
	}

	c := &Controller{
		dom:      dom,
		elements: DefaultElements(),
		backend:  backend,
		markdown: markdown,
		nodes:    nodes,
		replies:  models.DefaultQuickReplySets(),
		logger:   logger.With(slog.String("module", "widget")),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Elements returns the element ids the controller works with.
func (c *Controller) Elements() Elements {
	return c.elements
}

// Transcript returns a copy of the messages rendered so far, in order.
func (c *Controller) Transcript() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.transcript)
}

// Sending reports whether a chat request is in flight.
func (c *Controller) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// Load focuses the user input if the API key modal is hidden, or the API key input otherwise.
func (c *Controller) Load() {
	if c.dom.Display(c.elements.APIKeyModal) == DisplayNone {
		c.dom.Focus(c.elements.UserInput)
		return
	}
	c.dom.Focus(c.elements.APIKeyInput)
}

// ShowSettings opens the API key modal.
func (c *Controller) ShowSettings() {
	c.dom.SetDisplay(c.elements.APIKeyModal, DisplayFlex)
}

// ResizeInput sets the user input height from its scroll height, clamped to the allowed range.
func (c *Controller) ResizeInput(scrollHeight int) {
	height := inputMinHeight
	if scrollHeight > inputMinHeight {
		height = min(scrollHeight, inputMaxHeight)
	}
	c.dom.SetStyle(c.elements.UserInput, "height", fmt.Sprintf("%dpx", height))
}

// SubmitAPIKey sends key to the backend. An empty key is refused locally with an alert. When the backend
// accepts the key, the modal is closed and a confirmation is added to the transcript; otherwise the user is
// alerted and the modal stays open.
func (c *Controller) SubmitAPIKey(ctx context.Context, key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		c.dom.Alert(EmptyKeyAlert)
		return
	}

	err := c.backend.SetAPIKey(ctx, key)
	if err != nil {
		var rejected *models.KeyRejectedError
		if errors.As(err, &rejected) {
			c.logger.Warn("API key rejected", slog.String("reason", rejected.Reason))
			c.dom.Alert(KeyRejectedAlert + rejected.Reason)
			return
		}
		c.logger.Error("Failed to set API key", slog.String(errLoggerKey, err.Error()))
		c.dom.Alert(KeyRequestFailAlert)
		return
	}

	c.dom.SetDisplay(c.elements.APIKeyModal, DisplayNone)
	c.dom.Focus(c.elements.UserInput)
	c.addBotMessage(KeyAcceptedMessage, models.QuickReplyWelcome)
}

// SendMessage sends the content of the user input. Blank input is ignored, and so is any call made while
// another request is in flight; in that case the input is left untouched.
//
// The user message is rendered before the request is made. Once the backend answers, its response is
// rendered with a quick reply set picked from the outgoing message, and the API key modal is reopened if
// the response reports a key problem.
func (c *Controller) SendMessage(ctx context.Context) {
	message := strings.TrimSpace(c.dom.Value(c.elements.UserInput))
	if message == "" {
		return
	}

	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		c.logger.Debug("Send ignored, a request is in flight", slog.String("message", message))
		return
	}
	c.sending = true
	c.mu.Unlock()

	c.dom.SetDisabled(c.elements.SendButton, true)
	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
		c.dom.SetDisabled(c.elements.SendButton, false)
	}()

	c.addUserMessage(message)

	c.dom.SetValue(c.elements.UserInput, "")
	c.dom.SetStyle(c.elements.UserInput, "height", fmt.Sprintf("%dpx", inputMinHeight))

	c.dom.SetDisplay(c.elements.Loading, DisplayBlock)
	c.dom.ScrollToBottom(c.elements.ChatBody)

	res := c.backend.Chat(ctx, message)

	c.dom.SetDisplay(c.elements.Loading, DisplayNone)

	if !res.Delivered() {
		c.logger.Error("Chat request failed",
			slog.String("kind", string(res.Kind)),
			slog.String(errLoggerKey, fmt.Sprint(res.Err)))
		c.addBotMessage(ChatFailedMessage, models.QuickReplyWelcome)
		return
	}

	c.addBotMessage(res.Text, models.SelectQuickReplySet(message))

	if res.Kind == models.ResultAPIKeyMissing {
		c.dom.SetDisplay(c.elements.APIKeyModal, DisplayFlex)
	}
}

// HandleQuickReply puts action in the user input and sends it.
func (c *Controller) HandleQuickReply(ctx context.Context, action string) {
	c.dom.SetValue(c.elements.UserInput, action)
	c.SendMessage(ctx)
}

// RenderMessage inserts msg into the transcript right before the loading indicator and scrolls the
// transcript to its bottom. The quick reply set named by msg.QuickReplySet is attached to bot messages; an
// unknown set name renders no buttons.
func (c *Controller) RenderMessage(msg models.Message) error {
	if err := c.render(msg); err != nil {
		return err
	}

	c.mu.Lock()
	c.transcript = append(c.transcript, msg)
	c.mu.Unlock()

	if c.onMessage != nil {
		c.onMessage(msg)
	}
	return nil
}

// Restore renders previously recorded messages, in order, without reporting them to the message hook.
func (c *Controller) Restore(msgs []models.Message) error {
	for _, msg := range msgs {
		if err := c.render(msg); err != nil {
			return err
		}
		c.mu.Lock()
		c.transcript = append(c.transcript, msg)
		c.mu.Unlock()
	}
	return nil
}

func (c *Controller) render(msg models.Message) error {
	var replies []models.QuickReply
	if msg.Role == models.RoleBot {
		replies = c.replies[msg.QuickReplySet]
	}

	node, err := c.nodes.render(msg, replies)
	if err != nil {
		return err
	}

	c.dom.InsertBefore(c.elements.ChatBody, node, c.elements.Loading)
	c.dom.ScrollToBottom(c.elements.ChatBody)
	return nil
}

func (c *Controller) addUserMessage(text string) {
	c.appendMessage(models.Message{
		ID:           uuid.New().String(),
		Role:         models.RoleUser,
		Text:         text,
		RenderedHTML: template.HTMLEscapeString(text),
		Timestamp:    time.Now(),
	})
}

func (c *Controller) addBotMessage(text, quickReplySet string) {
	rendered, err := c.markdown.Render(text)
	if err != nil {
		c.logger.Error("Failed to render markdown",
			slog.String("text", text),
			slog.String(errLoggerKey, err.Error()))
		rendered = template.HTMLEscapeString(text)
	}

	c.appendMessage(models.Message{
		ID:            uuid.New().String(),
		Role:          models.RoleBot,
		Text:          text,
		RenderedHTML:  rendered,
		QuickReplySet: quickReplySet,
		Timestamp:     time.Now(),
	})
}

func (c *Controller) appendMessage(msg models.Message) {
	if err := c.RenderMessage(msg); err != nil {
		c.logger.Error("Failed to render message",
			slog.String("message", fmt.Sprintf("%+v", msg)),
			slog.String(errLoggerKey, err.Error()))
	}
}
