// Package agent implements the Agent Loop (spec §4.D): the
// observation-action cycle that drives one session's Driver against the
// policy reached through the Bridge Transport. Grounded on the goclaw
// agent-loop's Think→Act→Observe Loop type (iteration cap, onEvent
// callback, default-filling constructor) re-targeted from LLM tool calls
// to browser actions.
package agent

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaypilot/agentbridge/internal/bridge"
	"github.com/relaypilot/agentbridge/internal/cdp"
	"github.com/relaypilot/agentbridge/internal/model"
	"github.com/relaypilot/agentbridge/internal/routing"
	"github.com/relaypilot/agentbridge/internal/session"
	"github.com/relaypilot/agentbridge/internal/storage"
)

// noNavigationThreshold is how many consecutive clicks without a URL
// change trigger the "did not navigate" error injected into the next
// observation (spec §4.D step 6).
const noNavigationThreshold = 3

// noNavigationWait is how long the loop waits after a click before
// checking whether the URL changed.
const noNavigationWait = 500 * time.Millisecond

// Loop drives one session's observation↔action cycle to completion.
type Loop struct {
	Driver    *cdp.Driver
	Transport bridge.Transport
	Session   *session.Session
	Bus       *routing.Bus
	MaxSteps  int
	Logger    *logrus.Logger

	// Artifacts records screenshots and console snapshots as the loop
	// progresses; nil disables recording.
	Artifacts storage.Sink
}

// New constructs a Loop, filling in defaults the way the teacher's
// constructors fill in zero-valued config fields.
func New(driver *cdp.Driver, transport bridge.Transport, sess *session.Session, bus *routing.Bus, maxSteps int, logger *logrus.Logger) *Loop {
	if maxSteps <= 0 {
		maxSteps = session.DefaultMaxSteps
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Loop{Driver: driver, Transport: transport, Session: sess, Bus: bus, MaxSteps: maxSteps, Logger: logger}
}

// Run executes the loop until the policy signals done, the session is
// stopped, the step cap is hit, or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	var detector loopDetector
	noNavStreak := 0
	injectedError := ""

	for {
		if l.Session.Stopped {
			return nil
		}

		l.Session.Step++
		obs, err := l.buildObservation(ctx, injectedError)
		injectedError = ""
		if err != nil {
			l.Logger.WithError(err).Warn("agent: failed to build observation")
		}

		l.Transport.Send(bridge.NewObservation(obs))
		l.Bus.Publish(routing.Message{Target: routing.TargetController, Payload: obs})

		action, ok := l.awaitAction(ctx)
		if !ok {
			return nil
		}

		if action.Done || strings.EqualFold(action.Kind, "done") {
			l.Session.AppendAction(model.ActionRecord{Step: l.Session.Step, Kind: "done", Success: true, URL: obs.URL})
			l.Bus.Publish(routing.Message{Target: routing.TargetController, Payload: completionEvent{SessionID: l.Session.ID, Reason: "done"}})
			return nil
		}

		if l.Session.Step >= l.MaxSteps {
			l.Bus.Publish(routing.Message{Target: routing.TargetController, Payload: completionEvent{SessionID: l.Session.ID, Reason: "max_steps"}})
			return nil
		}

		action = detector.escalate(action)
		preURL := obs.URL

		success, execErr := l.executeAction(ctx, action)

		rec := model.ActionRecord{Step: l.Session.Step, Kind: action.Kind, Selector: action.Selector, Success: success, URL: preURL}
		if execErr != nil {
			rec.Error = execErr.Error()
		}
		l.Session.AppendAction(rec)

		if strings.EqualFold(action.Kind, "click") && success {
			if l.noNavigationDetected(ctx, preURL) {
				noNavStreak++
				if noNavStreak >= noNavigationThreshold {
					injectedError = "CLICK DID NOT NAVIGATE: the last 3 clicks did not change the page URL. Try a different selector, method, or action."
				}
			} else {
				noNavStreak = 0
			}
		} else {
			noNavStreak = 0
		}
	}
}

type completionEvent struct {
	SessionID string
	Reason    string
}

func (l *Loop) noNavigationDetected(ctx context.Context, preURL string) bool {
	select {
	case <-time.After(noNavigationWait):
	case <-ctx.Done():
		return false
	}
	state, err := l.Driver.GetPageState(ctx)
	if err != nil {
		return false
	}
	return state.URL == preURL
}

func (l *Loop) buildObservation(ctx context.Context, injectedError string) (model.Observation, error) {
	state, err := l.Driver.GetPageState(ctx)
	if err != nil {
		return model.Observation{
			Task:            l.Session.Goal,
			OriginalGoal:    l.Session.Goal,
			RecentActions:   l.Session.RecentActions(),
			LastActionError: injectedError,
			StepNumber:      l.Session.Step,
			SessionID:       l.Session.ID,
		}, err
	}

	screenshot, shotErr := l.Driver.CaptureScreenshot(ctx, "jpeg", 30)
	if shotErr != nil {
		l.Logger.WithError(shotErr).Warn("agent: screenshot capture failed")
	} else {
		l.recordArtifact(ctx, "screenshot", screenshot, "image/jpeg")
	}

	elements, elemErr := l.Driver.GetClickableElements(ctx)
	if elemErr != nil {
		l.Logger.WithError(elemErr).Warn("agent: element enumeration failed")
	}
	if len(elements) > model.MaxElements {
		elements = elements[:model.MaxElements]
	}

	consoleLogs := l.Driver.ConsoleLogs()
	if len(consoleLogs) > 0 {
		l.recordArtifact(ctx, "console", []byte(strings.Join(consoleLogs, "\n")), "text/plain")
	}

	return model.Observation{
		Task:            l.Session.Goal,
		URL:             state.URL,
		Title:           state.Title,
		Screenshot:      screenshot,
		Elements:        elements,
		ConsoleLogs:     consoleLogs,
		RecentActions:   l.Session.RecentActions(),
		OriginalGoal:    l.Session.Goal,
		LastActionError: injectedError,
		StepNumber:      l.Session.Step,
		SessionID:       l.Session.ID,
	}, nil
}

func (l *Loop) recordArtifact(ctx context.Context, kind string, content []byte, contentType string) {
	if l.Artifacts == nil || len(content) == 0 {
		return
	}
	if _, err := l.Artifacts.Put(ctx, &storage.PutRequest{
		SessionID:   l.Session.ID,
		Kind:        kind,
		Content:     content,
		ContentType: contentType,
	}); err != nil {
		l.Logger.WithError(err).Warn("agent: artifact recording failed")
	}
}

// awaitAction blocks for the next "action" message, routing every other
// inbound message type onto the bus so other subscribers still see it
// (spec §4.E: producers are best-effort, but the loop itself only acts on
// "action"). Returns ok=false if the transport closed, ctx was cancelled,
// or the session was stopped while waiting.
func (l *Loop) awaitAction(ctx context.Context) (model.Action, bool) {
	for {
		if l.Session.Stopped {
			return model.Action{}, false
		}
		select {
		case <-ctx.Done():
			return model.Action{}, false
		case msg, ok := <-l.Transport.Inbound():
			if !ok {
				return model.Action{}, false
			}
			switch msg.Type {
			case "action":
				return msg.ToAction(), true
			case "start_automation", "reload_extension":
				l.Bus.Publish(routing.Message{Target: routing.TargetSidecar, Payload: msg})
			default:
				l.Bus.Publish(routing.Message{Target: routing.TargetController, Payload: msg})
			}
		}
	}
}

func (l *Loop) executeAction(ctx context.Context, action model.Action) (bool, error) {
	var err error
	switch strings.ToLower(action.Kind) {
	case "click":
		err = l.Driver.ClickElement(ctx, action.Selector, model.ClickMethod(action.ClickMethod))
	case "submit", "enter":
		err = l.Driver.ClickElement(ctx, action.Selector, model.ClickFocus)
	case "type", "input", "search":
		err = l.Driver.TypeInElement(ctx, action.Selector, action.Text)
	case "clear_input":
		err = l.Driver.TypeInElement(ctx, action.Selector, "")
	case "press":
		err = l.Driver.PressKey(ctx, action.Text)
	case "scroll":
		dy := 300.0
		if strings.EqualFold(action.Direction, "up") {
			dy = -300.0
		}
		err = l.Driver.Scroll(ctx, 0, dy)
	case "navigate":
		err = l.Driver.Navigate(ctx, action.URL)
	case "wait", "screenshot":
		// No-op: the next loop iteration's observation already refreshes
		// the page state and screenshot.
	default:
		// Unknown kinds degrade to wait (spec §6).
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
