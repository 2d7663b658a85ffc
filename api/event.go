package api

// EventRequest triggers a pipeline run for a branch.
type EventRequest struct {
	Token  string `json:"token,omitempty" form:"token"`
	Event  string `json:"event" form:"event"`
	Branch string `json:"branch" form:"branch"`
	Commit string `json:"commit,omitempty" form:"commit"`
}

type EventResponse struct {
	Status

	// RunID is empty when no gate matched the trigger.
	RunID string   `json:"run_id,omitempty"`
	Gates []string `json:"gates,omitempty"`
}
