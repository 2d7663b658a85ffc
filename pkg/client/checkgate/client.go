package checkgate

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bigredeye/checkgate/api"
)

type Client struct {
	client *resty.Client
	token  string
}

func NewClient(endpoint, token string) (*Client, error) {
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(time.Second * 10).
		SetRetryCount(3)

	client.Header.Add("Token", token)

	return &Client{client, token}, nil
}

// TriggerEvent asks the server to start a pipeline run. An empty run id
// in the response means no gate matched the trigger.
func (c *Client) TriggerEvent(event, branch, commit string) (*api.EventResponse, error) {
	res := &api.EventResponse{}
	_, err := c.client.R().
		SetResult(res).
		SetError(res).
		SetBody(api.EventRequest{
			Token:  c.token,
			Event:  event,
			Branch: branch,
			Commit: commit,
		}).
		Post("/api/events")
	if err != nil {
		return nil, err
	}

	if !res.Ok {
		return nil, fmt.Errorf("failed to trigger event: %s", res.Error)
	}

	return res, nil
}

func (c *Client) GetRun(id string) (*api.Run, error) {
	res := &api.RunResponse{}
	_, err := c.client.R().
		SetResult(res).
		SetError(res).
		SetPathParam("id", id).
		Get("/api/runs/{id}")
	if err != nil {
		return nil, err
	}

	if !res.Ok {
		return nil, fmt.Errorf("failed to fetch run: %s", res.Error)
	}

	return res.Run, nil
}

func (c *Client) ListRuns(branch string, limit int) ([]api.Run, error) {
	res := &api.RunsResponse{}
	_, err := c.client.R().
		SetResult(res).
		SetError(res).
		SetQueryParam("branch", branch).
		SetQueryParam("limit", fmt.Sprint(limit)).
		Get("/api/runs")
	if err != nil {
		return nil, err
	}

	if !res.Ok {
		return nil, fmt.Errorf("failed to list runs: %s", res.Error)
	}

	return res.Runs, nil
}

func (c *Client) LatestRun(branch string) (*api.Run, error) {
	res := &api.RunResponse{}
	_, err := c.client.R().
		SetResult(res).
		SetError(res).
		SetQueryParam("branch", branch).
		Get("/api/latest")
	if err != nil {
		return nil, err
	}

	if !res.Ok {
		return nil, fmt.Errorf("failed to fetch latest run: %s", res.Error)
	}

	return res.Run, nil
}

func (c *Client) Stats() (*api.Stats, error) {
	res := &api.StatsResponse{}
	_, err := c.client.R().
		SetResult(res).
		SetError(res).
		Get("/api/stats")
	if err != nil {
		return nil, err
	}

	if !res.Ok {
		return nil, fmt.Errorf("failed to fetch stats: %s", res.Error)
	}

	return res.Stats, nil
}
