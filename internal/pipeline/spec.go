package pipeline

import (
	"strings"
	"time"
)

// Duration is a yaml-friendly wrapper around time.Duration ("90s", "1h").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var buf string
	err := unmarshal(&buf)
	if err != nil {
		return err
	}

	dd, err := time.ParseDuration(strings.TrimSpace(buf))
	if err != nil {
		return err
	}
	d.Duration = dd
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Rules filter triggers by event type and branch name. Empty lists
// match everything. A branch entry ending in '*' matches by prefix.
type Rules struct {
	Events   []string `yaml:"events,omitempty"`
	Branches []string `yaml:"branches,omitempty"`
}

// Gate is one named verification step: a command, its declared
// environment, and the policy applied to a non-zero exit.
type Gate struct {
	Name string `yaml:"name"`
	Run  string `yaml:"run"`

	Env        map[string]string `yaml:"env,omitempty"`
	Toolchain  string            `yaml:"toolchain,omitempty"`
	Components []string          `yaml:"components,omitempty"`

	// When overrides the spec-level rules for this gate only.
	When *Rules `yaml:"when,omitempty"`

	Timeout Duration `yaml:"timeout,omitempty"`

	// AllowFailure makes a non-zero exit (or an infrastructure error)
	// not count against the run.
	AllowFailure bool `yaml:"allow_failure,omitempty"`
}

// Spec is a full pipeline declaration. Gates carry no ordering: the
// listing order is cosmetic and every matching gate runs independently.
type Spec struct {
	Name  string            `yaml:"name"`
	Env   map[string]string `yaml:"env,omitempty"`
	When  Rules             `yaml:"when,omitempty"`
	Gates []Gate            `yaml:"gates"`
}

// GateNames returns the declared gate names in listing order.
func (s *Spec) GateNames() []string {
	names := make([]string, 0, len(s.Gates))
	for i := range s.Gates {
		names = append(names, s.Gates[i].Name)
	}
	return names
}
