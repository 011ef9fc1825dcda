package widget

import (
	"context"
)

// Event is a user interaction reported by the page.
type Event struct {
	Type     string `json:"type"`
	Target   string `json:"target"`
	Key      string `json:"key,omitempty"`
	ShiftKey bool   `json:"shiftKey,omitempty"`
	// Action is the text bound to a clicked quick reply.
	Action string `json:"action,omitempty"`
	// ScrollHeight is the scroll height of the target at the time of an input event.
	ScrollHeight int `json:"scrollHeight,omitempty"`
	// Values holds the current value of the page inputs, keyed by element id.
	Values map[string]string `json:"values,omitempty"`
}

// EventKey identifies a subscription: an event type on a target element.
type EventKey struct {
	Target string
	Type   string
}

// EventHandler handles a dispatched event.
type EventHandler func(ctx context.Context, ev Event)

// Event types and pseudo targets understood by the controller.
const (
	EventClick   = "click"
	EventKeyDown = "keydown"
	EventKeyUp   = "keyup"
	EventInput   = "input"
	EventLoad    = "load"

	// TargetWindow is the target of the load event.
	TargetWindow = "window"
	// TargetQuickReply is the target of every quick reply button click.
	TargetQuickReply = "quick-reply"

	keyEnter = "Enter"
)

// Subscriptions returns the event table of the controller.
func (c *Controller) Subscriptions() map[EventKey]EventHandler {
	e := c.elements
	return map[EventKey]EventHandler{
		{Target: TargetWindow, Type: EventLoad}: func(context.Context, Event) {
			c.Load()
		},
		{Target: e.SettingsBtn, Type: EventClick}: func(context.Context, Event) {
			c.ShowSettings()
		},
		{Target: e.SubmitAPIKey, Type: EventClick}: c.submitAPIKeyFromInput,
		{Target: e.APIKeyInput, Type: EventKeyUp}: func(ctx context.Context, ev Event) {
			if ev.Key == keyEnter {
				c.submitAPIKeyFromInput(ctx, ev)
			}
		},
		{Target: e.UserInput, Type: EventInput}: func(_ context.Context, ev Event) {
			c.ResizeInput(ev.ScrollHeight)
		},
		{Target: e.SendButton, Type: EventClick}: func(ctx context.Context, _ Event) {
			c.SendMessage(ctx)
		},
		{Target: e.UserInput, Type: EventKeyDown}: func(ctx context.Context, ev Event) {
			if ev.Key == keyEnter && !ev.ShiftKey {
				c.SendMessage(ctx)
			}
		},
		{Target: TargetQuickReply, Type: EventClick}: func(ctx context.Context, ev Event) {
			if ev.Action == "" {
				return
			}
			c.HandleQuickReply(ctx, ev.Action)
		},
	}
}

// Dispatch runs the handler subscribed to ev. It reports whether such a handler exists.
func (c *Controller) Dispatch(ctx context.Context, ev Event) bool {
	handler, ok := c.Subscriptions()[EventKey{Target: ev.Target, Type: ev.Type}]
	if !ok {
		return false
	}
	handler(ctx, ev)
	return true
}

// Handles reports whether an event is subscribed to, without running it.
func (c *Controller) Handles(ev Event) bool {
	_, ok := c.Subscriptions()[EventKey{Target: ev.Target, Type: ev.Type}]
	return ok
}

func (c *Controller) submitAPIKeyFromInput(ctx context.Context, _ Event) {
	c.SubmitAPIKey(ctx, c.dom.Value(c.elements.APIKeyInput))
}
