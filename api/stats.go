package api

type Stats struct {
	Dispatched int64 `json:"dispatched"`
	Superseded int64 `json:"superseded"`
	Finished   int64 `json:"finished"`
	Active     int   `json:"active"`
}

type StatsResponse struct {
	Status

	Stats *Stats `json:"stats,omitempty"`
}
