// Package userinput correlates human-input requests from suspended agent
// steps with the answers that arrive later, and routes each answer back
// to the agent that asked.
package userinput

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/stage7/missionctl/internal/common/errs"
	"github.com/stage7/missionctl/internal/common/logger"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

// AgentMessenger posts an envelope to a specific agent.
type AgentMessenger interface {
	SendMessage(ctx context.Context, msg *v1.Message) error
}

type pending struct {
	missionID string
	stepID    string
	agentID   string
}

// Router holds pending human-input requests keyed by request id.
type Router struct {
	mu      sync.Mutex
	pending map[string]pending
	agents  AgentMessenger
	logger  *logger.Logger
}

// NewRouter creates an empty Router.
func NewRouter(agents AgentMessenger, log *logger.Logger) *Router {
	return &Router{
		pending: make(map[string]pending),
		agents:  agents,
		logger:  log,
	}
}

// Register records a pending request. A request id that is already
// pending is overwritten; the agent re-asking is authoritative.
func (r *Router) Register(req v1.UserInputRequestContent) error {
	if req.RequestID == "" {
		return errs.Validationf("user input request id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[req.RequestID] = pending{
		missionID: req.MissionID,
		stepID:    req.StepID,
		agentID:   req.AgentID,
	}
	r.logger.Debug("registered pending user input request",
		zap.String("request_id", req.RequestID),
		zap.String("mission_id", req.MissionID),
	)
	return nil
}

// Pending reports whether the request id is awaiting an answer.
func (r *Router) Pending(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[requestID]
	return ok
}

// Respond routes an answer to the agent waiting on requestID. The pending
// entry is consumed whether or not the forward succeeds; the agent retries
// by re-asking, and a stale entry would shadow that.
func (r *Router) Respond(ctx context.Context, requestID string, response json.RawMessage) error {
	r.mu.Lock()
	entry, ok := r.pending[requestID]
	if ok {
		delete(r.pending, requestID)
	}
	r.mu.Unlock()
	if !ok {
		return errs.NotFoundf("no pending user input request %s", requestID)
	}

	msg := v1.NewMessage(v1.MessageTypeUserInputResponse, "user", entry.agentID, v1.UserInputResponseContent{
		RequestID: requestID,
		MissionID: entry.missionID,
		StepID:    entry.stepID,
		AgentID:   entry.agentID,
		Response:  response,
	})
	msg.MissionID = entry.missionID

	if err := r.agents.SendMessage(ctx, msg); err != nil {
		r.logger.Error("failed to forward user input response",
			zap.String("request_id", requestID),
			zap.String("agent_id", entry.agentID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// DropMission discards every pending request belonging to the mission.
// Called when a mission is aborted or removed.
func (r *Router) DropMission(missionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.pending {
		if entry.missionID == missionID {
			delete(r.pending, id)
		}
	}
}
