package pipeline

import (
	"fmt"
	"strings"
)

// SpecError reports every problem found in a pipeline declaration at
// once, so authors fix the file in one pass.
type SpecError struct {
	Problems []string
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("invalid pipeline spec: %s", strings.Join(e.Problems, "; "))
}

func validateRules(problems []string, scope string, rules *Rules) []string {
	if rules == nil {
		return problems
	}
	for _, event := range rules.Events {
		if !KnownEvent(event) {
			problems = append(problems, fmt.Sprintf("%s: unknown event %q", scope, event))
		}
	}
	return problems
}

// Validate enforces the declaration contract: at least one gate, unique
// non-empty gate names, non-empty commands, known event filters and
// positive timeouts. It never inspects the host environment.
func (s *Spec) Validate() error {
	var problems []string

	if len(s.Gates) == 0 {
		problems = append(problems, "no gates declared")
	}

	problems = validateRules(problems, "spec", &s.When)

	seen := make(map[string]bool, len(s.Gates))
	for i := range s.Gates {
		gate := &s.Gates[i]
		scope := fmt.Sprintf("gate %q", gate.Name)

		if gate.Name == "" {
			problems = append(problems, fmt.Sprintf("gate #%d: empty name", i+1))
			continue
		}
		if seen[gate.Name] {
			problems = append(problems, fmt.Sprintf("%s: duplicate name", scope))
		}
		seen[gate.Name] = true

		if strings.TrimSpace(gate.Run) == "" {
			problems = append(problems, fmt.Sprintf("%s: empty command", scope))
		}
		if gate.Timeout.Duration < 0 {
			problems = append(problems, fmt.Sprintf("%s: negative timeout", scope))
		}

		problems = validateRules(problems, scope, gate.When)
	}

	if len(problems) > 0 {
		return &SpecError{Problems: problems}
	}
	return nil
}
