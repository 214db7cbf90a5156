package rest

import (
	"context"
	"fmt"

	"emperror.dev/errors"
)

// APIError is returned by typed helpers for non success statuses
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned status %d: %s", e.Status, e.Body)
}

type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

type GatewayBotResponse struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// GatewayBot returns the gateway url and recommended shard count for the bot
func (c *Client) GatewayBot(ctx context.Context) (*GatewayBotResponse, error) {
	status, body, err := c.Request(ctx, "GET", EndpointGatewayBot, nil)
	if err != nil {
		return nil, err
	}

	if !IsSuccess(status) {
		return nil, &APIError{Status: status, Body: string(body)}
	}

	var resp GatewayBotResponse
	if err := jsonCodec.Unmarshal(body, &resp); err != nil {
		return nil, errors.WithMessage(err, "decode gateway bot response")
	}

	if resp.Shards < 1 {
		resp.Shards = 1
	}

	return &resp, nil
}
