package bridge

import "github.com/relaypilot/agentbridge/internal/model"

// OutboundMessage is a message sent from this process to the policy
// server. Type selects which of the spec §4.B/§6 payloads is populated.
type OutboundMessage struct {
	Type string `json:"type"`

	// start_session
	Goal  string `json:"goal,omitempty"`
	Model string `json:"model,omitempty"`

	// stop_session / most message types carry a session_id
	SessionID string `json:"session_id,omitempty"`

	// observation
	StepNumber    int                  `json:"step_number,omitempty"`
	URL           string               `json:"url,omitempty"`
	Title         string               `json:"title,omitempty"`
	Screenshot    []byte               `json:"screenshot,omitempty"`
	Elements      []model.Element      `json:"elements,omitempty"`
	ConsoleLogs   []string             `json:"console_logs,omitempty"`
	RecentActions []model.ActionRecord `json:"action_history,omitempty"`
	LastError     string               `json:"last_action_error,omitempty"`
	Task          string               `json:"task"`
	ProgressNote  string               `json:"progress_notes,omitempty"`
	OriginalGoal  string               `json:"original_goal"`
}

// InboundMessage is a message received from the policy server.
type InboundMessage struct {
	Type string `json:"type"`

	// status
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`

	// action — decoded into model.Action by the agent loop, kept
	// flat here to mirror the wire shape exactly.
	Kind        string `json:"action,omitempty"`
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

	// error
	Error string `json:"error,omitempty"`

	// start_automation
	Goal      string `json:"goal,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ToAction converts an inbound "action" message into the shared model.Action
// type, running Normalize to fold the legacy value/key/query/element
// aliases into Text/Selector per spec §6.
func (m InboundMessage) ToAction() model.Action {
	a := model.Action{
		Kind:        m.Kind,
		Selector:    m.Selector,
		Element:     m.Element,
		Text:        m.Text,
		Value:       m.Value,
		Key:         m.Key,
		Query:       m.Query,
		URL:         m.URL,
		Direction:   m.Direction,
		ClickMethod: m.ClickMethod,
		Thought:     m.Thought,
		Done:        m.Done,
	}
	return a.Normalize()
}

// NewObservation builds the outbound "observation" message for obs.
func NewObservation(obs model.Observation) OutboundMessage {
	return OutboundMessage{
		Type:          "observation",
		SessionID:     obs.SessionID,
		StepNumber:    obs.StepNumber,
		URL:           obs.URL,
		Title:         obs.Title,
		Screenshot:    obs.Screenshot,
		Elements:      obs.Elements,
		ConsoleLogs:   obs.ConsoleLogs,
		RecentActions: obs.RecentActions,
		LastError:     obs.LastActionError,
		Task:          obs.Task,
		ProgressNote:  obs.ProgressNote,
		OriginalGoal:  obs.OriginalGoal,
	}
}

// NewStartSession builds the outbound "start_session" message.
func NewStartSession(goal, modelName string) OutboundMessage {
	return OutboundMessage{Type: "start_session", Goal: goal, Model: modelName}
}

// NewStopSession builds the outbound "stop_session" message.
func NewStopSession(sessionID string) OutboundMessage {
	return OutboundMessage{Type: "stop_session", SessionID: sessionID}
}
