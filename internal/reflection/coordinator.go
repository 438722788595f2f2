// Package reflection decides what happens to a quiescent mission: it
// assembles the plan history from the latest telemetry, asks the
// Capabilities Manager to reflect on the mission goal, and applies the
// verdict to the mission's lifecycle.
package reflection

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/stage7/missionctl/internal/client"
	"github.com/stage7/missionctl/internal/common/logger"
	"github.com/stage7/missionctl/internal/common/metrics"
	"github.com/stage7/missionctl/internal/mission/service"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

const reflectionQuestion = "Given the original mission goal and the work completed, " +
	"is the mission fully accomplished? If not, what is the next logical step?"

// ActionExecutor runs a capability verb and returns its result entries.
type ActionExecutor interface {
	ExecuteAction(ctx context.Context, req client.ExecuteActionRequest) ([]client.ActionResult, error)
}

// Coordinator runs REFLECT for quiescent missions and applies the outcome.
type Coordinator struct {
	service      *service.Service
	capabilities ActionExecutor
	logger       *logger.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(svc *service.Service, capabilities ActionExecutor, log *logger.Logger) *Coordinator {
	return &Coordinator{
		service:      svc,
		capabilities: capabilities,
		logger:       log,
	}
}

// Reflect asks the REFLECT capability whether the mission is done. The
// mission must already be Reflecting; the outcome moves it to Running on a
// new plan, Completed on a final answer, or Error on failure.
func (c *Coordinator) Reflect(ctx context.Context, missionID string, sample *v1.TelemetrySample) {
	m, err := c.service.Registry().Get(missionID)
	if err != nil {
		c.logger.Warn("mission vanished before reflection", zap.String("mission_id", missionID))
		return
	}

	inputs := map[string]any{
		"missionId":     missionID,
		"plan_history":  planHistory(sample),
		"work_products": "Mission Goal: " + m.Goal + ". Current Status: " + string(m.Status) + ".",
		"question":      reflectionQuestion,
	}

	results, err := c.capabilities.ExecuteAction(ctx, client.ExecuteActionRequest{
		ActionVerb: "REFLECT",
		Inputs:     inputs,
	})
	if err != nil || len(results) == 0 {
		c.fail(ctx, missionID, err)
		return
	}

	switch results[0].Name {
	case "plan":
		metrics.Reflections.WithLabelValues("plan").Inc()
		if _, err := c.service.Transition(ctx, missionID, v1.MissionStatusRunning, "Reflection generated a new plan; mission continues."); err != nil {
			c.logger.Error("failed to resume mission after new plan",
				zap.String("mission_id", missionID),
				zap.Error(err),
			)
		}
	case "answer":
		metrics.Reflections.WithLabelValues("answer").Inc()
		if _, err := c.service.Transition(ctx, missionID, v1.MissionStatusCompleted, answerText(results[0].Result)); err != nil {
			c.logger.Error("failed to complete mission after reflection",
				zap.String("mission_id", missionID),
				zap.Error(err),
			)
		}
	default:
		c.fail(ctx, missionID, nil)
	}
}

func (c *Coordinator) fail(ctx context.Context, missionID string, cause error) {
	metrics.Reflections.WithLabelValues("failed").Inc()
	c.logger.Error("reflection failed",
		zap.String("mission_id", missionID),
		zap.Error(cause),
	)
	if _, err := c.service.Transition(ctx, missionID, v1.MissionStatusError, "Reflection process failed."); err != nil {
		c.logger.Error("failed to mark mission errored after reflection",
			zap.String("mission_id", missionID),
			zap.Error(err),
		)
	}
}

// planHistory flattens the sample's per-agent step graphs into the view
// REFLECT expects: one numbered entry per step with its serialized result.
func planHistory(sample *v1.TelemetrySample) []map[string]any {
	history := make([]map[string]any, 0)
	if sample == nil {
		return history
	}
	stepNumber := 0
	for _, agents := range sample.AgentStatistics {
		for _, agent := range agents {
			for _, step := range agent.Steps {
				stepNumber++
				result := ""
				if len(step.Result) > 0 {
					result = string(step.Result)
				}
				history = append(history, map[string]any{
					"stepNumber":  stepNumber,
					"actionVerb":  step.Verb,
					"description": step.Description,
					"inputs":      map[string]any{},
					"outputs":     map[string]any{"result": result},
				})
			}
		}
	}
	return history
}

// answerText extracts a displayable answer from the result payload, which
// may be a bare string or any JSON value.
func answerText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "Mission accomplished."
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return trimmed
		}
		return "Mission accomplished."
	}
	return string(raw)
}
