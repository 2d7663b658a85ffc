package pipeline

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const defaultSpecName = "pipeline"

// Parse unmarshals and validates a pipeline spec. A validation failure
// is a *SpecError: the declaration is rejected before any gate runs.
func Parse(body []byte) (*Spec, error) {
	spec := &Spec{}
	err := yaml.Unmarshal(body, spec)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to unmarshal pipeline spec")
	}

	if spec.Name == "" {
		spec.Name = defaultSpecName
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	return spec, nil
}

func Load(path string) (*Spec, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to read pipeline spec")
	}
	return Parse(body)
}
