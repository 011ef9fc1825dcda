package handlers

import (
	"encoding/json"
	"log/slog"

	"github.com/MegaGrindStone/chat-widget/internal/widget"
	"github.com/tmaxmax/go-sse"
)

// patchSink delivers encoded patches to the pages subscribed to a topic.
type patchSink interface {
	send(topic string, data []byte) error
}

type sseSink struct {
	srv *sse.Server
}

func (s sseSink) send(topic string, data []byte) error {
	msg := sse.Message{
		Type: sse.Type(patchSSEType),
	}
	msg.AppendData(string(data))
	return s.srv.Publish(&msg, topic)
}

// patch is a DOM mutation sent to the browser. The page script applies it to the element with the id ID.
type patch struct {
	Op       string `json:"op"`
	ID       string `json:"id,omitempty"`
	Value    string `json:"value,omitempty"`
	HTML     string `json:"html,omitempty"`
	Before   string `json:"before,omitempty"`
	Property string `json:"property,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
	Message  string `json:"message,omitempty"`
}

const (
	opSetValue       = "setValue"
	opSetDisplay     = "setDisplay"
	opSetStyle       = "setStyle"
	opSetDisabled    = "setDisabled"
	opInsertBefore   = "insertBefore"
	opScrollToBottom = "scrollToBottom"
	opFocus          = "focus"
	opAlert          = "alert"
)

// sseDOM is the DOM of a browser page seen from the server. Reads are served from an in-memory mirror;
// every mutation updates the mirror and is published as a patch on the topic of the page's session.
type sseDOM struct {
	*widget.MemoryDOM

	sink  patchSink
	topic string

	logger *slog.Logger
}

func newSSEDOM(elements widget.Elements, sink patchSink, topic string, logger *slog.Logger) *sseDOM {
	return &sseDOM{
		MemoryDOM: widget.NewMemoryDOM(elements),
		sink:      sink,
		topic:     topic,
		logger:    logger,
	}
}

// syncValues copies input values reported by the browser into the mirror, without publishing them back.
func (d *sseDOM) syncValues(values map[string]string) {
	for id, v := range values {
		d.MemoryDOM.SetValue(id, v)
	}
}

func (d *sseDOM) SetValue(id, value string) {
	d.MemoryDOM.SetValue(id, value)
	d.publish(patch{Op: opSetValue, ID: id, Value: value})
}

func (d *sseDOM) SetDisplay(id, display string) {
	d.MemoryDOM.SetDisplay(id, display)
	d.publish(patch{Op: opSetDisplay, ID: id, Value: display})
}

func (d *sseDOM) SetStyle(id, property, value string) {
	d.MemoryDOM.SetStyle(id, property, value)
	d.publish(patch{Op: opSetStyle, ID: id, Property: property, Value: value})
}

func (d *sseDOM) SetDisabled(id string, disabled bool) {
	d.MemoryDOM.SetDisabled(id, disabled)
	d.publish(patch{Op: opSetDisabled, ID: id, Disabled: disabled})
}

func (d *sseDOM) InsertBefore(parentID, html, beforeID string) {
	d.MemoryDOM.InsertBefore(parentID, html, beforeID)
	d.publish(patch{Op: opInsertBefore, ID: parentID, HTML: html, Before: beforeID})
}

func (d *sseDOM) ScrollToBottom(id string) {
	d.MemoryDOM.ScrollToBottom(id)
	d.publish(patch{Op: opScrollToBottom, ID: id})
}

func (d *sseDOM) Focus(id string) {
	d.MemoryDOM.Focus(id)
	d.publish(patch{Op: opFocus, ID: id})
}

func (d *sseDOM) Alert(message string) {
	d.MemoryDOM.Alert(message)
	d.publish(patch{Op: opAlert, Message: message})
}

func (d *sseDOM) publish(p patch) {
	data, err := json.Marshal(p)
	if err != nil {
		d.logger.Error("Failed to marshal patch",
			slog.String("op", p.Op),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	if err := d.sink.send(d.topic, data); err != nil {
		d.logger.Error("Failed to publish patch",
			slog.String("op", p.Op),
			slog.String(errLoggerKey, err.Error()))
	}
}
