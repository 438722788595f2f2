package client

import (
	"context"
	"encoding/json"
	"net/http"

	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

// CreateAgentRequest is the agent-creation payload posted to the Traffic
// Manager when a mission starts.
type CreateAgentRequest struct {
	ActionVerb   string         `json:"actionVerb"`
	Inputs       map[string]any `json:"inputs"`
	MissionID    string         `json:"missionId"`
	Dependencies []string       `json:"dependencies"`
}

// TrafficManager is the client for the agent runtime service.
type TrafficManager struct {
	base    *Client
	baseURL string
}

// NewTrafficManager creates a Traffic Manager client.
func NewTrafficManager(base *Client, baseURL string) *TrafficManager {
	return &TrafficManager{base: base, baseURL: baseURL}
}

// CreateAgent posts an agent-creation request for a new mission.
func (t *TrafficManager) CreateAgent(ctx context.Context, req CreateAgentRequest) error {
	return t.base.Do(ctx, http.MethodPost, t.baseURL+"/createAgent", req, nil)
}

// PauseAgents pauses every agent working on the mission.
func (t *TrafficManager) PauseAgents(ctx context.Context, missionID string) error {
	return t.base.Do(ctx, http.MethodPost, t.baseURL+"/pauseAgents", map[string]string{"missionId": missionID}, nil)
}

// ResumeAgents resumes every agent working on the mission.
func (t *TrafficManager) ResumeAgents(ctx context.Context, missionID string) error {
	return t.base.Do(ctx, http.MethodPost, t.baseURL+"/resumeAgents", map[string]string{"missionId": missionID}, nil)
}

// AbortAgents aborts every agent working on the mission.
func (t *TrafficManager) AbortAgents(ctx context.Context, missionID string) error {
	return t.base.Do(ctx, http.MethodPost, t.baseURL+"/abortAgents", map[string]string{"missionId": missionID}, nil)
}

// SaveAgents checkpoints agent state for the mission.
func (t *TrafficManager) SaveAgents(ctx context.Context, missionID string) error {
	return t.base.Do(ctx, http.MethodPost, t.baseURL+"/saveAgents", map[string]string{"missionId": missionID}, nil)
}

// LoadAgents restores agent state for a loaded mission.
func (t *TrafficManager) LoadAgents(ctx context.Context, missionID string) error {
	return t.base.Do(ctx, http.MethodPost, t.baseURL+"/loadAgents", map[string]string{"missionId": missionID}, nil)
}

// AgentStatistics fetches the raw per-agent statistics for a mission. The
// response shape is collaborator-controlled and normalized downstream, so
// it is returned raw.
func (t *TrafficManager) AgentStatistics(ctx context.Context, missionID string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := t.base.Do(ctx, http.MethodGet, t.baseURL+"/getAgentStatistics/"+missionID, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// DistributeUserMessage forwards a user message envelope to the agents of
// a mission.
func (t *TrafficManager) DistributeUserMessage(ctx context.Context, msg *v1.Message) error {
	return t.base.Do(ctx, http.MethodPost, t.baseURL+"/distributeUserMessage", msg, nil)
}

// SendMessage posts a generic envelope to the Traffic Manager, addressed
// to a specific agent via the envelope recipient.
func (t *TrafficManager) SendMessage(ctx context.Context, msg *v1.Message) error {
	return t.base.Do(ctx, http.MethodPost, t.baseURL+"/message", msg, nil)
}
