package api

// Status is embedded in every response.
type Status struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func StatusOk() Status {
	return Status{Ok: true}
}

func StatusError(err error) Status {
	return Status{Ok: false, Error: err.Error()}
}
