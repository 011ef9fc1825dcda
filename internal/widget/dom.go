package widget

import (
	"slices"
	"sync"
)

// DOM is the set of page mutations the controller needs. Elements are addressed by their id. Implementations
// must be safe for concurrent use.
type DOM interface {
	Value(id string) string
	SetValue(id, value string)
	Display(id string) string
	SetDisplay(id, display string)
	SetStyle(id, property, value string)
	SetDisabled(id string, disabled bool)
	// InsertBefore inserts html as a child of parentID, right before the child with id beforeID. If there
	// is no such child, the node is appended.
	InsertBefore(parentID, html, beforeID string)
	ScrollToBottom(id string)
	Focus(id string)
	// Alert shows a blocking message to the user.
	Alert(message string)
}

// Elements holds the ids of the page elements the controller works with.
type Elements struct {
	ChatBody     string `json:"chatBody" yaml:"chatBody"`
	UserInput    string `json:"userInput" yaml:"userInput"`
	SendButton   string `json:"sendButton" yaml:"sendButton"`
	Loading      string `json:"loading" yaml:"loading"`
	APIKeyModal  string `json:"apiKeyModal" yaml:"apiKeyModal"`
	SettingsBtn  string `json:"settingsButton" yaml:"settingsButton"`
	SubmitAPIKey string `json:"submitApiKey" yaml:"submitApiKey"`
	APIKeyInput  string `json:"apiKeyInput" yaml:"apiKeyInput"`
}

// Display values used by the controller.
const (
	DisplayNone  = "none"
	DisplayFlex  = "flex"
	DisplayBlock = "block"
)

// DefaultElements returns the ids used by the bundled page.
func DefaultElements() Elements {
	return Elements{
		ChatBody:     "chat-body",
		UserInput:    "user-input",
		SendButton:   "send-btn",
		Loading:      "loading",
		APIKeyModal:  "api-key-modal",
		SettingsBtn:  "settings-btn",
		SubmitAPIKey: "submit-api-key",
		APIKeyInput:  "api-key-input",
	}
}

// WithDefaults returns e with every empty id replaced by its default.
func (e Elements) WithDefaults() Elements {
	d := DefaultElements()
	for _, f := range []struct {
		dst *string
		def string
	}{
		{&e.ChatBody, d.ChatBody},
		{&e.UserInput, d.UserInput},
		{&e.SendButton, d.SendButton},
		{&e.Loading, d.Loading},
		{&e.APIKeyModal, d.APIKeyModal},
		{&e.SettingsBtn, d.SettingsBtn},
		{&e.SubmitAPIKey, d.SubmitAPIKey},
		{&e.APIKeyInput, d.APIKeyInput},
	} {
		if *f.dst == "" {
			*f.dst = f.def
		}
	}
	return e
}

// Node is a child of a container element. Nodes inserted by the controller carry HTML and no id; marker
// nodes such as the loading indicator carry an id and no HTML.
type Node struct {
	ID   string
	HTML string
}

// MemoryDOM is an in-memory DOM. It is used headless in tests and as the server side mirror of a browser
// page.
type MemoryDOM struct {
	mu sync.Mutex

	values   map[string]string
	displays map[string]string
	styles   map[string]map[string]string
	disabled map[string]bool
	children map[string][]Node
	scrolls  map[string]int
	focused  string
	alerts   []string
}

// NewMemoryDOM creates a MemoryDOM laid out like the bundled page: the loading indicator is the only child
// of the transcript and is hidden, and the API key modal is visible.
func NewMemoryDOM(elements Elements) *MemoryDOM {
	elements = elements.WithDefaults()
	d := &MemoryDOM{
		values:   make(map[string]string),
		displays: make(map[string]string),
		styles:   make(map[string]map[string]string),
		disabled: make(map[string]bool),
		children: make(map[string][]Node),
		scrolls:  make(map[string]int),
	}
	d.children[elements.ChatBody] = []Node{{ID: elements.Loading}}
	d.displays[elements.Loading] = DisplayNone
	d.displays[elements.APIKeyModal] = DisplayFlex
	return d
}

func (d *MemoryDOM) Value(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[id]
}

func (d *MemoryDOM) SetValue(id, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[id] = value
}

func (d *MemoryDOM) Display(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.displays[id]
}

func (d *MemoryDOM) SetDisplay(id, display string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.displays[id] = display
}

// Style returns the value of an inline style property.
func (d *MemoryDOM) Style(id, property string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.styles[id][property]
}

func (d *MemoryDOM) SetStyle(id, property, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.styles[id] == nil {
		d.styles[id] = make(map[string]string)
	}
	d.styles[id][property] = value
}

// Disabled reports whether the element is disabled.
func (d *MemoryDOM) Disabled(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disabled[id]
}

func (d *MemoryDOM) SetDisabled(id string, disabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disabled[id] = disabled
}

func (d *MemoryDOM) InsertBefore(parentID, html, beforeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes := d.children[parentID]
	idx := slices.IndexFunc(nodes, func(n Node) bool { return n.ID != "" && n.ID == beforeID })
	if idx == -1 {
		idx = len(nodes)
	}
	d.children[parentID] = slices.Insert(nodes, idx, Node{HTML: html})
}

// Children returns a copy of the children of the given element, in document order.
func (d *MemoryDOM) Children(id string) []Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.children[id])
}

func (d *MemoryDOM) ScrollToBottom(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scrolls[id]++
}

// Scrolls returns how many times the element was scrolled to its bottom.
func (d *MemoryDOM) Scrolls(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scrolls[id]
}

func (d *MemoryDOM) Focus(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focused = id
}

// Focused returns the id of the last focused element.
func (d *MemoryDOM) Focused() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focused
}

func (d *MemoryDOM) Alert(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, message)
}

// Alerts returns every alert shown so far.
func (d *MemoryDOM) Alerts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.alerts)
}
