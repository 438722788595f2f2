package client

import (
	"context"
	"encoding/json"
	"net/http"

	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

// Brain is the client for the LLM service counters.
type Brain struct {
	base    *Client
	baseURL string
}

// NewBrain creates a Brain client.
func NewBrain(base *Client, baseURL string) *Brain {
	return &Brain{base: base, baseURL: baseURL}
}

// LLMCalls returns the current LLM call counters.
func (b *Brain) LLMCalls(ctx context.Context) (v1.LLMCallStats, error) {
	var stats v1.LLMCallStats
	if err := b.base.Do(ctx, http.MethodGet, b.baseURL+"/getLLMCalls", nil, &stats); err != nil {
		return v1.LLMCallStats{}, err
	}
	return stats, nil
}

// Engineer is the client for the plugin-engineering service counters.
type Engineer struct {
	base    *Client
	baseURL string
}

// NewEngineer creates an Engineer client.
func NewEngineer(base *Client, baseURL string) *Engineer {
	return &Engineer{base: base, baseURL: baseURL}
}

// Statistics returns the Engineer's counters.
func (e *Engineer) Statistics(ctx context.Context) (v1.EngineerStatistics, error) {
	var stats v1.EngineerStatistics
	if err := e.base.Do(ctx, http.MethodGet, e.baseURL+"/statistics", nil, &stats); err != nil {
		return v1.EngineerStatistics{}, err
	}
	return stats, nil
}

// ExecuteActionRequest is the payload for a Capabilities Manager action.
type ExecuteActionRequest struct {
	ActionVerb string         `json:"actionVerb"`
	Inputs     map[string]any `json:"inputs"`
}

// ActionResult is one entry of a Capabilities Manager action response.
type ActionResult struct {
	Name              string          `json:"name"`
	ResultDescription string          `json:"resultDescription,omitempty"`
	Result            json.RawMessage `json:"result"`
}

// CapabilitiesManager is the client for the plugin execution service.
type CapabilitiesManager struct {
	base    *Client
	baseURL string
}

// NewCapabilitiesManager creates a Capabilities Manager client.
func NewCapabilitiesManager(base *Client, baseURL string) *CapabilitiesManager {
	return &CapabilitiesManager{base: base, baseURL: baseURL}
}

// ExecuteAction runs an action verb with the given inputs and returns the
// result entries.
func (c *CapabilitiesManager) ExecuteAction(ctx context.Context, req ExecuteActionRequest) ([]ActionResult, error) {
	var results []ActionResult
	if err := c.base.Do(ctx, http.MethodPost, c.baseURL+"/executeAction", req, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// PostOffice is the client for the message hub that relays outbound
// messages to clients.
type PostOffice struct {
	base    *Client
	baseURL string
}

// NewPostOffice creates a PostOffice client.
func NewPostOffice(base *Client, baseURL string) *PostOffice {
	return &PostOffice{base: base, baseURL: baseURL}
}

// SendMessage publishes an envelope through the PostOffice.
func (p *PostOffice) SendMessage(ctx context.Context, msg *v1.Message) error {
	return p.base.Do(ctx, http.MethodPost, p.baseURL+"/message", msg, nil)
}
