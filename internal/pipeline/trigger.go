package pipeline

import (
	"strings"
	"time"
)

const (
	EventPush         = "push"
	EventMergeRequest = "merge_request"
)

// KnownEvent reports whether the event name is one a trigger can carry.
func KnownEvent(event string) bool {
	switch event {
	case EventPush, EventMergeRequest:
		return true
	default:
		return false
	}
}

// Trigger is the event a pipeline run is bound to.
type Trigger struct {
	Event  string
	Branch string
	Commit string

	// Source records where the trigger came from: "webhook", "api", "cli".
	Source     string
	ReceivedAt time.Time
}

func (r *Rules) matchEvent(event string) bool {
	if len(r.Events) == 0 {
		return true
	}
	for _, e := range r.Events {
		if e == event {
			return true
		}
	}
	return false
}

func (r *Rules) matchBranch(branch string) bool {
	if len(r.Branches) == 0 {
		return true
	}
	for _, b := range r.Branches {
		if strings.HasSuffix(b, "*") {
			if strings.HasPrefix(branch, strings.TrimSuffix(b, "*")) {
				return true
			}
		} else if b == branch {
			return true
		}
	}
	return false
}

// Match reports whether a trigger passes this filter.
func (r *Rules) Match(t Trigger) bool {
	return r.matchEvent(t.Event) && r.matchBranch(t.Branch)
}

// Matches reports whether a gate runs for a trigger. A gate with its
// own rules ignores the spec-level ones.
func (s *Spec) Matches(g *Gate, t Trigger) bool {
	rules := &s.When
	if g.When != nil {
		rules = g.When
	}
	return rules.Match(t)
}

// MatchingGates selects the gates that should run for a trigger.
func (s *Spec) MatchingGates(t Trigger) []Gate {
	gates := make([]Gate, 0, len(s.Gates))
	for i := range s.Gates {
		if s.Matches(&s.Gates[i], t) {
			gates = append(gates, s.Gates[i])
		}
	}
	return gates
}
