package models

import (
	"fmt"
	"strings"
	"time"
)

// Message represents a single entry of the widget transcript. It holds the raw text as it was typed or
// received, the HTML that was produced for it when it was rendered, and the quick reply set attached to
// it. A message is never modified after it has been rendered.
type Message struct {
	ID            string
	Role          Role
	Text          string
	RenderedHTML  string
	QuickReplySet string
	Timestamp     time.Time
}

// Role represents the author of a transcript message.
type Role string

// ResultKind classifies the outcome of a chat request.
type ResultKind string

const (
	// RoleUser represents a message typed (or picked from a quick reply) by the user.
	RoleUser Role = "user"
	// RoleBot represents a message produced by the chat backend, or a local fallback message shown in its place.
	RoleBot Role = "bot"

	// ResultOK means the backend answered with a usable response text.
	ResultOK ResultKind = "ok"
	// ResultAPIKeyMissing means the backend answered, but the answer reports a missing or invalid API key.
	// The response text is still meant to be shown to the user.
	ResultAPIKeyMissing ResultKind = "api_key_missing"
	// ResultTransportError means the request failed, or the response could not be decoded.
	ResultTransportError ResultKind = "transport_error"
	// ResultUnknown means the response was decoded but carried no response text.
	ResultUnknown ResultKind = "unknown"
)

const (
	apiKeyNotProvidedSentinel = "OpenAI API key not provided"
	errorPrefixSentinel       = "Error:"
	apiKeySentinel            = "API key"
)

// ChatResult is the tagged result of a chat request.
type ChatResult struct {
	Kind ResultKind
	// Text is the response text. Filled for ResultOK and ResultAPIKeyMissing.
	Text string
	// Err is the underlying failure. Filled for ResultTransportError and ResultUnknown.
	Err error
}

// ClassifyResponse turns a successful response text into a ChatResult. The backend reports a missing key
// inside the response text instead of a dedicated field, so detection is done by substring matching.
func ClassifyResponse(text string) ChatResult {
	if strings.Contains(text, apiKeyNotProvidedSentinel) ||
		(strings.Contains(text, errorPrefixSentinel) && strings.Contains(text, apiKeySentinel)) {
		return ChatResult{Kind: ResultAPIKeyMissing, Text: text}
	}
	return ChatResult{Kind: ResultOK, Text: text}
}

// Delivered reports whether the result carries a response text that should be shown as a bot message.
func (r ChatResult) Delivered() bool {
	return r.Kind == ResultOK || r.Kind == ResultAPIKeyMissing
}

// KeyRejectedError is returned when the backend refused an API key. Reason is the message provided by the
// backend, and may be empty.
type KeyRejectedError struct {
	Reason string
}

func (e *KeyRejectedError) Error() string {
	return fmt.Sprintf("api key rejected: %s", e.Reason)
}

// Session is the record of a widget session, one per browser.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}
