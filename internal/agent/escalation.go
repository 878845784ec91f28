package agent

import (
	"regexp"

	"github.com/relaypilot/agentbridge/internal/model"
)

// submitLikeSelector matches selectors whose text a loop-break escalation
// treats as plausibly a submit/search control (spec §4.D).
var submitLikeSelector = regexp.MustCompile(`(?i)btn|submit|search`)

// loopDetector tracks a suffix window of one (kind, selector) pair and
// escalates repeated clicks against the same target, grounded on the
// goclaw agent loop's toolLoopState idea of detecting repeated no-progress
// calls, narrowed here to the spec's two-rule click escalation.
type loopDetector struct {
	lastKind     string
	lastSelector string
	streak       int
}

// escalate records action against the tracked streak and applies the
// loop-break rules in place, returning the (possibly modified) action.
func (d *loopDetector) escalate(a model.Action) model.Action {
	if a.Kind == d.lastKind && a.Selector == d.lastSelector {
		d.streak++
	} else {
		d.streak = 1
	}
	d.lastKind = a.Kind
	d.lastSelector = a.Selector

	if a.Kind != "click" {
		return a
	}

	switch d.streak {
	case 2:
		a.ClickMethod = string(model.ClickJS)
	case 3:
		if submitLikeSelector.MatchString(a.Selector) {
			a.Kind = "submit"
		}
	}
	return a
}
