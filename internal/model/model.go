// Package model holds the wire- and loop-level data types shared by the CDP
// driver, bridge transport, session controller and agent loop (spec §3).
// None of these types carry behavior beyond small helpers; the packages
// that own a concept (internal/cdp, internal/bridge, internal/session) are
// where the logic lives.
package model

// TabHandle identifies a browser tab. The core holds zero or one CDP
// attachment per tab at any instant.
type TabHandle int64

// ElementType classifies an interactive element for the policy's benefit.
type ElementType string

const (
	ElementLink    ElementType = "LINK"
	ElementButton  ElementType = "BUTTON"
	ElementInput   ElementType = "INPUT"
	ElementSelect  ElementType = "SELECT"
	ElementGeneric ElementType = "ELEMENT"
)

// Element is one entry of an observation's interactive-element list.
type Element struct {
	Index    int         `json:"index"`
	Type     ElementType `json:"type"`
	Selector string      `json:"selector"`
	Tag      string      `json:"tag"`
	Text     string      `json:"text"`
}

// MaxElements is the cap on interactive elements shipped in an observation
// (spec §3, §8).
const MaxElements = 15

// MaxClickableCandidates is the cap on raw candidates getClickableElements
// considers before truncation (spec §4.A, §8).
const MaxClickableCandidates = 30

// MaxElementTextLen is the cap on visible text captured per element.
const MaxElementTextLen = 50

// ActionRecord is appended to a session's action log after every execution
// attempt (spec §3).
type ActionRecord struct {
	Step      int    `json:"step"`
	Kind      string `json:"kind"`
	Selector  string `json:"selector,omitempty"`
	Success   bool   `json:"success"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// MaxActionLog is the bounded length of a session's action log (spec §3):
// the most-recent suffix is kept once this is exceeded.
const MaxActionLog = 50

// MaxRecentActions is how many action-log entries an observation carries
// (spec §3).
const MaxRecentActions = 5

// Observation is produced fresh before each policy call (spec §3).
type Observation struct {
	Task             string         `json:"task"`
	URL              string         `json:"url"`
	Title            string         `json:"title"`
	Screenshot       []byte         `json:"screenshot,omitempty"`
	Elements         []Element      `json:"elements"`
	ConsoleLogs      []string       `json:"console_logs,omitempty"`
	RecentActions    []ActionRecord `json:"action_history"`
	ProgressNote     string         `json:"progress_notes,omitempty"`
	OriginalGoal     string         `json:"original_goal"`
	LastActionError  string         `json:"last_action_error,omitempty"`
	StepNumber       int            `json:"step_number"`
	SessionID        string         `json:"session_id"`
}

// Action is the policy's reply (spec §3). Kind is an open string set;
// unrecognized kinds degrade to "wait" per spec §6.
type Action struct {
	Kind        string `json:"action"`
	Selector    string `json:"selector,omitempty"`
	Element     string `json:"element,omitempty"`
	Text        string `json:"text,omitempty"`
	Value       string `json:"value,omitempty"`
	Key         string `json:"key,omitempty"`
	Query       string `json:"query,omitempty"`
	URL         string `json:"url,omitempty"`
	Direction   string `json:"direction,omitempty"`
	ClickMethod string `json:"clickMethod,omitempty"`
	Thought     string `json:"thought,omitempty"`
	Done        bool   `json:"done,omitempty"`
}

// Normalize maps alias fields onto their canonical slots (spec §4.D step 5:
// value/key/query -> text, element -> selector) and returns the normalized
// copy. The original is left untouched.
func (a Action) Normalize() Action {
	n := a
	if n.Text == "" {
		switch {
		case n.Value != "":
			n.Text = n.Value
		case n.Key != "":
			n.Text = n.Key
		case n.Query != "":
			n.Text = n.Query
		}
	}
	if n.Selector == "" && n.Element != "" {
		n.Selector = n.Element
	}
	return n
}

// ConnectionState is the bridge transport's connection lifecycle state
// (spec §3). It progresses monotonically during one connection attempt and
// may cycle arbitrarily across attempts.
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	ConnError    ConnectionState = "error"
)

// ClickMethod is the click-method hint carried on an Action (spec §3).
type ClickMethod string

const (
	ClickAuto  ClickMethod = "auto"
	ClickJS    ClickMethod = "js"
	ClickFocus ClickMethod = "focus"
)
