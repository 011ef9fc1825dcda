package models

import "strings"

// QuickReply is a pre-canned button. Clicking it behaves as if the user typed Action and pressed send.
type QuickReply struct {
	Label  string `yaml:"label"`
	Action string `yaml:"action"`
}

// QuickReplySets maps a set name to its ordered buttons.
type QuickReplySets map[string][]QuickReply

const (
	// QuickReplyWelcome is shown after greetings, after the API key is accepted, and with fallback messages.
	QuickReplyWelcome = "welcome"
	// QuickReplyUniversities is shown after any other answer.
	QuickReplyUniversities = "universities"
)

var greetingKeywords = []string{"welcome", "hello", "hi"}

// DefaultQuickReplySets returns the built-in quick reply tables. A fresh map is returned on every call, so
// callers may modify it freely.
func DefaultQuickReplySets() QuickReplySets {
	return QuickReplySets{
		QuickReplyWelcome: {
			{Label: "Universities", Action: "List of all universities"},
			{Label: "GPA requirements", Action: "What are the GPA requirements for different universities?"},
			{Label: "Required documents", Action: "What documents do I need for admission?"},
			{Label: "Contact information", Action: "Give me contact information for universities"},
		},
		QuickReplyUniversities: {
			{Label: "List of all universities", Action: "List of all universities"},
			{Label: "Public or private universities", Action: "What are the public and private universities in Kuwait?"},
			{Label: "GPA requirements", Action: "GPA requirements for science or arts programs"},
			{Label: "Search by location", Action: "Search for universities by location"},
		},
	}
}

// Merge returns a copy of q with the sets of other replacing the ones with the same name.
func (q QuickReplySets) Merge(other QuickReplySets) QuickReplySets {
	res := make(QuickReplySets, len(q)+len(other))
	for name, set := range q {
		res[name] = set
	}
	for name, set := range other {
		res[name] = set
	}
	return res
}

// SelectQuickReplySet picks the set to attach to the answer of the given outgoing message. It is a plain
// case-insensitive substring heuristic, so "this" or "which" also count as a greeting.
func SelectQuickReplySet(message string) string {
	lower := strings.ToLower(message)
	for _, kw := range greetingKeywords {
		if strings.Contains(lower, kw) {
			return QuickReplyWelcome
		}
	}
	return QuickReplyUniversities
}
