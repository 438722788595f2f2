package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stage7/missionctl/internal/client"
	"github.com/stage7/missionctl/internal/common/logger"
	"github.com/stage7/missionctl/internal/events/bus"
	"github.com/stage7/missionctl/internal/mission/dispatch"
	"github.com/stage7/missionctl/internal/mission/registry"
	"github.com/stage7/missionctl/internal/mission/service"
	"github.com/stage7/missionctl/internal/telemetry"
	"github.com/stage7/missionctl/internal/userinput"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

type stubTraffic struct {
	mu   sync.Mutex
	sent []*v1.Message
}

func (*stubTraffic) CreateAgent(context.Context, client.CreateAgentRequest) error { return nil }
func (*stubTraffic) PauseAgents(context.Context, string) error                    { return nil }
func (*stubTraffic) ResumeAgents(context.Context, string) error                   { return nil }
func (*stubTraffic) AbortAgents(context.Context, string) error                    { return nil }
func (*stubTraffic) SaveAgents(context.Context, string) error                     { return nil }
func (*stubTraffic) LoadAgents(context.Context, string) error                     { return nil }
func (*stubTraffic) DistributeUserMessage(context.Context, *v1.Message) error     { return nil }

func (s *stubTraffic) SendMessage(_ context.Context, msg *v1.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *stubTraffic) AgentStatistics(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

type stubStore struct{}

func (stubStore) StoreData(context.Context, string, string, any) error { return nil }
func (stubStore) LoadData(context.Context, string, string) (json.RawMessage, error) {
	return nil, errors.New("not found")
}
func (stubStore) QueryData(context.Context, string, map[string]any) ([]json.RawMessage, error) {
	return nil, nil
}
func (stubStore) DeleteCollection(context.Context, string) error { return nil }

type stubBrain struct{}

func (stubBrain) LLMCalls(context.Context) (v1.LLMCallStats, error) { return v1.LLMCallStats{}, nil }

type stubEngineer struct{}

func (stubEngineer) Statistics(context.Context) (v1.EngineerStatistics, error) {
	return v1.EngineerStatistics{}, nil
}

type sink struct{}

func (sink) SendMessage(context.Context, *v1.Message) error { return nil }

func newTestRouter(t *testing.T) (*gin.Engine, *service.Service, *userinput.Router, *stubTraffic) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)

	traffic := &stubTraffic{}
	svc := service.NewService(registry.New(), traffic, stubStore{}, sink{}, log)
	inputs := userinput.NewRouter(traffic, log)
	svc.SetPendingInputCleaner(inputs)
	b := bus.NewMemoryMessageBus(log)
	d := dispatch.NewDispatcher(svc, inputs, b, log)
	agg := telemetry.NewAggregator(svc, stubBrain{}, stubEngineer{}, traffic, sink{}, telemetry.DefaultInterval, log)

	h := New(d, svc, inputs, agg, b, log)
	router := gin.New()
	h.RegisterPublic(router)
	h.Register(router.Group("/"))
	return router, svc, inputs, traffic
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPostMessage_CreateMission(t *testing.T) {
	router, svc, _, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/message", v1.Message{
		Type:     v1.MessageTypeCreateMission,
		Sender:   "user",
		Content:  json.RawMessage(`{"goal":"G","name":"N"}`),
		ClientID: "c1",
		UserID:   "u1",
	})

	require.Equal(t, http.StatusOK, w.Code)
	var response struct {
		Message string `json:"message"`
		Result  struct {
			MissionID string `json:"missionId"`
			Status    string `json:"status"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.NotEmpty(t, response.Result.MissionID)
	assert.Equal(t, "Running", response.Result.Status)

	summaries, err := svc.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "N", summaries[0].Name)
}

func TestPostMessage_UnknownMissionIs404(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/message", v1.Message{
		Type:    v1.MessageTypePause,
		Sender:  "user",
		Content: json.RawMessage(`{"missionId":"ghost"}`),
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostMessage_MalformedBody(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/message", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAgentStatisticsUpdate(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/agentStatisticsUpdate", v1.AgentStatisticsUpdate{
		AgentID:   "a1",
		MissionID: "not-a-uuid",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/agentStatisticsUpdate", v1.AgentStatisticsUpdate{
		AgentID:   "a1",
		MissionID: uuid.New().String(),
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUserInputResponse(t *testing.T) {
	router, _, inputs, traffic := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/userInputResponse", map[string]any{
		"requestId": "r1", "response": "yes",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, inputs.Register(v1.UserInputRequestContent{
		RequestID: "r1", MissionID: "m1", StepID: "s1", AgentID: "a1",
	}))
	w = doJSON(t, router, http.MethodPost, "/userInputResponse", map[string]any{
		"requestId": "r1", "response": "yes",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, inputs.Pending("r1"))
	require.Len(t, traffic.sent, 1)
	assert.Equal(t, "a1", traffic.sent[0].Recipient)
}

func TestFileRoutes(t *testing.T) {
	router, svc, _, _ := newTestRouter(t)
	m, err := svc.Create(context.Background(), service.CreateMissionRequest{Goal: "G"}, "c1", "u1")
	require.NoError(t, err)

	ref := v1.FileRef{ID: "f1", OriginalName: "report.pdf"}
	w := doJSON(t, router, http.MethodPost, "/missions/"+m.ID+"/files/add", ref)
	assert.Equal(t, http.StatusOK, w.Code)

	// Unknown mission is 404.
	w = doJSON(t, router, http.MethodPost, "/missions/ghost/files/add", ref)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Remove via body and via path are equivalent.
	w = doJSON(t, router, http.MethodPost, "/missions/"+m.ID+"/files/remove", map[string]string{"fileId": "f1"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/missions/"+m.ID+"/files/add", ref)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, router, http.MethodDelete, "/missions/"+m.ID+"/files/f1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	got, err := svc.Registry().Get(m.ID)
	require.NoError(t, err)
	assert.Empty(t, got.AttachedFiles)
}

func TestHealthz(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
