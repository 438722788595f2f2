package reflection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stage7/missionctl/internal/client"
	"github.com/stage7/missionctl/internal/common/logger"
	"github.com/stage7/missionctl/internal/mission/registry"
	"github.com/stage7/missionctl/internal/mission/service"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

type noopTraffic struct{}

func (noopTraffic) CreateAgent(context.Context, client.CreateAgentRequest) error { return nil }
func (noopTraffic) PauseAgents(context.Context, string) error                    { return nil }
func (noopTraffic) ResumeAgents(context.Context, string) error                   { return nil }
func (noopTraffic) AbortAgents(context.Context, string) error                    { return nil }
func (noopTraffic) SaveAgents(context.Context, string) error                     { return nil }
func (noopTraffic) LoadAgents(context.Context, string) error                     { return nil }
func (noopTraffic) DistributeUserMessage(context.Context, *v1.Message) error     { return nil }

type noopStore struct{}

func (noopStore) StoreData(context.Context, string, string, any) error { return nil }
func (noopStore) LoadData(context.Context, string, string) (json.RawMessage, error) {
	return nil, errors.New("not found")
}
func (noopStore) QueryData(context.Context, string, map[string]any) ([]json.RawMessage, error) {
	return nil, nil
}
func (noopStore) DeleteCollection(context.Context, string) error { return nil }

type capturePublisher struct {
	mu   sync.Mutex
	sent []*v1.Message
}

func (c *capturePublisher) SendMessage(_ context.Context, msg *v1.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *capturePublisher) lastStatus(t *testing.T) v1.StatusUpdateContent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Type == v1.MessageTypeStatusUpdate {
			var content v1.StatusUpdateContent
			require.NoError(t, c.sent[i].DecodeContent(&content))
			return content
		}
	}
	t.Fatal("no status update published")
	return v1.StatusUpdateContent{}
}

type fakeExecutor struct {
	mu      sync.Mutex
	last    client.ExecuteActionRequest
	results []client.ActionResult
	err     error
}

func (f *fakeExecutor) ExecuteAction(_ context.Context, req client.ExecuteActionRequest) ([]client.ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	return f.results, f.err
}

func newReflectingMission(t *testing.T) (*service.Service, *capturePublisher, string) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	post := &capturePublisher{}
	svc := service.NewService(registry.New(), noopTraffic{}, noopStore{}, post, log)

	m, err := svc.Create(context.Background(), service.CreateMissionRequest{Goal: "ship it"}, "c1", "u1")
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), m.ID, v1.MissionStatusCompleted, "")
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), m.ID, v1.MissionStatusReflecting, "")
	require.NoError(t, err)
	return svc, post, m.ID
}

func testSample() *v1.TelemetrySample {
	return &v1.TelemetrySample{
		AgentStatistics: map[string][]v1.AgentStat{
			v1.AgentStatusCompleted: {{
				AgentID: "a1",
				Steps: []v1.Step{
					{ID: "s1", Verb: "THINK", Status: "COMPLETED", Result: json.RawMessage(`"analysis"`)},
					{ID: "s2", Verb: "WRITE", Status: "COMPLETED"},
				},
			}},
		},
	}
}

func TestReflect_PlanResumesMission(t *testing.T) {
	svc, post, id := newReflectingMission(t)
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console"})
	exec := &fakeExecutor{results: []client.ActionResult{{Name: "plan", Result: json.RawMessage(`{}`)}}}
	c := NewCoordinator(svc, exec, log)

	c.Reflect(context.Background(), id, testSample())

	status, _ := svc.Registry().Status(id)
	assert.Equal(t, v1.MissionStatusRunning, status)
	assert.Contains(t, post.lastStatus(t).Message, "new plan")

	assert.Equal(t, "REFLECT", exec.last.ActionVerb)
	assert.Equal(t, id, exec.last.Inputs["missionId"])
	assert.Equal(t, reflectionQuestion, exec.last.Inputs["question"])
	assert.Contains(t, exec.last.Inputs["work_products"], "Mission Goal: ship it")

	history, ok := exec.last.Inputs["plan_history"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0]["stepNumber"])
	assert.Equal(t, "THINK", history[0]["actionVerb"])
	outputs := history[0]["outputs"].(map[string]any)
	assert.Equal(t, `"analysis"`, outputs["result"])
}

func TestReflect_AnswerCompletesMission(t *testing.T) {
	svc, post, id := newReflectingMission(t)
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console"})
	exec := &fakeExecutor{results: []client.ActionResult{{Name: "answer", Result: json.RawMessage(`"All objectives met."`)}}}
	c := NewCoordinator(svc, exec, log)

	c.Reflect(context.Background(), id, testSample())

	status, _ := svc.Registry().Status(id)
	assert.Equal(t, v1.MissionStatusCompleted, status)
	assert.Equal(t, "All objectives met.", post.lastStatus(t).Message)
}

func TestReflect_FailureMarksError(t *testing.T) {
	svc, post, id := newReflectingMission(t)
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console"})
	exec := &fakeExecutor{err: errors.New("capabilities manager down")}
	c := NewCoordinator(svc, exec, log)

	c.Reflect(context.Background(), id, testSample())

	status, _ := svc.Registry().Status(id)
	assert.Equal(t, v1.MissionStatusError, status)
	assert.Equal(t, "Reflection process failed.", post.lastStatus(t).Message)
}

func TestReflect_UnknownResultMarksError(t *testing.T) {
	svc, _, id := newReflectingMission(t)
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console"})
	exec := &fakeExecutor{results: []client.ActionResult{{Name: "shrug"}}}
	c := NewCoordinator(svc, exec, log)

	c.Reflect(context.Background(), id, testSample())

	status, _ := svc.Registry().Status(id)
	assert.Equal(t, v1.MissionStatusError, status)
}

func TestAnswerText(t *testing.T) {
	assert.Equal(t, "done", answerText(json.RawMessage(`"done"`)))
	assert.Equal(t, "Mission accomplished.", answerText(nil))
	assert.Equal(t, "Mission accomplished.", answerText(json.RawMessage(`"  "`)))
	assert.Equal(t, `{"a":1}`, answerText(json.RawMessage(`{"a":1}`)))
}
