package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stage7/missionctl/internal/client"
	"github.com/stage7/missionctl/internal/common/errs"
	"github.com/stage7/missionctl/internal/common/logger"
	"github.com/stage7/missionctl/internal/mission/models"
	"github.com/stage7/missionctl/internal/mission/registry"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

type fakeTraffic struct {
	mu          sync.Mutex
	created     []client.CreateAgentRequest
	paused      []string
	resumed     []string
	aborted     []string
	saved       []string
	loaded      []string
	distributed []*v1.Message
	failCreate  error
}

func (f *fakeTraffic) CreateAgent(_ context.Context, req client.CreateAgentRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return f.failCreate
	}
	f.created = append(f.created, req)
	return nil
}

func (f *fakeTraffic) PauseAgents(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = append(f.paused, id)
	return nil
}

func (f *fakeTraffic) ResumeAgents(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, id)
	return nil
}

func (f *fakeTraffic) AbortAgents(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, id)
	return nil
}

func (f *fakeTraffic) SaveAgents(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, id)
	return nil
}

func (f *fakeTraffic) LoadAgents(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = append(f.loaded, id)
	return nil
}

func (f *fakeTraffic) DistributeUserMessage(_ context.Context, msg *v1.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.distributed = append(f.distributed, msg)
	return nil
}

type fakeStore struct {
	mu       sync.Mutex
	docs     map[string]map[string]json.RawMessage // collection -> id -> doc
	cleared  []string
	queryErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]map[string]json.RawMessage)}
}

func (f *fakeStore) StoreData(_ context.Context, id, collection string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if f.docs[collection] == nil {
		f.docs[collection] = make(map[string]json.RawMessage)
	}
	f.docs[collection][id] = raw
	return nil
}

func (f *fakeStore) LoadData(_ context.Context, id, collection string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[collection][id]
	if !ok {
		return nil, errs.NotFoundf("document %s", id)
	}
	return doc, nil
}

func (f *fakeStore) QueryData(_ context.Context, collection string, query map[string]any) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	userID, _ := query["userId"].(string)
	var docs []json.RawMessage
	for _, doc := range f.docs[collection] {
		var m models.Mission
		if json.Unmarshal(doc, &m) == nil && m.UserID == userID {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (f *fakeStore) DeleteCollection(_ context.Context, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, collection)
	delete(f.docs, collection)
	return nil
}

type fakePostOffice struct {
	mu   sync.Mutex
	sent []*v1.Message
}

func (f *fakePostOffice) SendMessage(_ context.Context, msg *v1.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakePostOffice) byType(t v1.MessageType) []*v1.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*v1.Message
	for _, msg := range f.sent {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, *fakeTraffic, *fakeStore, *fakePostOffice) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	traffic := &fakeTraffic{}
	store := newFakeStore()
	post := &fakePostOffice{}
	svc := NewService(registry.New(), traffic, store, post, log)
	return svc, traffic, store, post
}

func TestCreate(t *testing.T) {
	svc, traffic, store, post := newTestService(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, CreateMissionRequest{Goal: "G", Name: "N"}, "c1", "u1")
	require.NoError(t, err)
	assert.Equal(t, v1.MissionStatusRunning, m.Status)
	assert.Equal(t, "N", m.Name)
	assert.Equal(t, "u1", m.UserID)

	require.Len(t, traffic.created, 1)
	assert.Equal(t, "ACCOMPLISH", traffic.created[0].ActionVerb)
	assert.Equal(t, m.ID, traffic.created[0].MissionID)
	assert.Equal(t, "G", traffic.created[0].Inputs["goal"])
	assert.Empty(t, traffic.created[0].Dependencies)

	assert.Contains(t, store.cleared, "actionPlans")
	assert.Contains(t, store.docs["missions"], m.ID)

	updates := post.byType(v1.MessageTypeStatusUpdate)
	require.NotEmpty(t, updates)
	assert.Equal(t, "c1", updates[0].ClientID)

	// Create + immediate List returns the new mission.
	summaries, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, m.ID, summaries[0].ID)
	assert.Equal(t, v1.MissionStatusRunning, summaries[0].Status)
}

func TestCreate_AgentFailure(t *testing.T) {
	svc, traffic, _, _ := newTestService(t)
	traffic.failCreate = errors.New("traffic manager down")

	_, err := svc.Create(context.Background(), CreateMissionRequest{Goal: "G"}, "c1", "u1")
	require.Error(t, err)

	// The mission stays in memory in Error so the client can inspect it.
	summaries, err := svc.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, v1.MissionStatusError, summaries[0].Status)
}

func TestCreate_RequiresGoal(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.Create(context.Background(), CreateMissionRequest{}, "c1", "u1")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestCreate_SameGoalDistinctIDs(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	m1, err := svc.Create(ctx, CreateMissionRequest{Goal: "G"}, "c1", "u1")
	require.NoError(t, err)
	m2, err := svc.Create(ctx, CreateMissionRequest{Goal: "G"}, "c1", "u1")
	require.NoError(t, err)
	assert.NotEqual(t, m1.ID, m2.ID)
}

func TestPauseResume(t *testing.T) {
	svc, traffic, _, post := newTestService(t)
	ctx := context.Background()
	m, err := svc.Create(ctx, CreateMissionRequest{Goal: "G"}, "c1", "u1")
	require.NoError(t, err)
	before := len(post.byType(v1.MessageTypeStatusUpdate))

	paused, err := svc.Pause(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.MissionStatusPaused, paused.Status)
	assert.Equal(t, []string{m.ID}, traffic.paused)

	resumed, err := svc.Resume(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.MissionStatusRunning, resumed.Status)
	assert.Equal(t, []string{m.ID}, traffic.resumed)

	// Pause then Resume emits exactly two status updates.
	assert.Equal(t, before+2, len(post.byType(v1.MessageTypeStatusUpdate)))
}

func TestPause_OnlyFromRunning(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	m, err := svc.Create(ctx, CreateMissionRequest{Goal: "G"}, "c1", "u1")
	require.NoError(t, err)

	_, err = svc.Pause(ctx, m.ID)
	require.NoError(t, err)
	_, err = svc.Pause(ctx, m.ID)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = svc.Pause(ctx, "unknown")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAbort_PropagatesRemoval(t *testing.T) {
	svc, traffic, store, post := newTestService(t)
	ctx := context.Background()
	m, err := svc.Create(ctx, CreateMissionRequest{Goal: "G"}, "c1", "u1")
	require.NoError(t, err)
	svc.Registry().Subscribe("c2", m.ID)

	require.NoError(t, svc.Abort(ctx, m.ID))
	assert.Equal(t, []string{m.ID}, traffic.aborted)

	// Both subscription sets lose the mission.
	assert.Empty(t, svc.Registry().SubscribersOf(m.ID))
	assert.False(t, svc.Registry().Has(m.ID))

	// One Aborted update per client.
	var abortedTo []string
	for _, msg := range post.byType(v1.MessageTypeStatusUpdate) {
		var content v1.StatusUpdateContent
		require.NoError(t, msg.DecodeContent(&content))
		if content.Status == v1.MissionStatusAborted {
			abortedTo = append(abortedTo, msg.ClientID)
		}
	}
	assert.ElementsMatch(t, []string{"c1", "c2"}, abortedTo)

	// The persisted copy is retained for history.
	doc, err := store.LoadData(ctx, m.ID, "missions")
	require.NoError(t, err)
	var persisted models.Mission
	require.NoError(t, json.Unmarshal(doc, &persisted))
	assert.Equal(t, v1.MissionStatusAborted, persisted.Status)
}

func TestSave_Idempotent(t *testing.T) {
	svc, traffic, store, _ := newTestService(t)
	ctx := context.Background()
	m, err := svc.Create(ctx, CreateMissionRequest{Goal: "G", Name: "N"}, "c1", "u1")
	require.NoError(t, err)

	first, err := svc.Save(ctx, m.ID, "")
	require.NoError(t, err)
	doc1 := store.docs["missions"][m.ID]

	second, err := svc.Save(ctx, m.ID, "")
	require.NoError(t, err)
	doc2 := store.docs["missions"][m.ID]

	assert.Equal(t, first.Name, second.Name)
	var p1, p2 models.Mission
	require.NoError(t, json.Unmarshal(doc1, &p1))
	require.NoError(t, json.Unmarshal(doc2, &p2))
	assert.Equal(t, p1.ID, p2.ID)
	assert.Equal(t, p1.Name, p2.Name)
	assert.Equal(t, p1.Status, p2.Status)
	assert.Equal(t, 2, len(traffic.saved))
}

func TestSave_Rename(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	m, err := svc.Create(ctx, CreateMissionRequest{Goal: "G", Name: "old"}, "c1", "u1")
	require.NoError(t, err)

	saved, err := svc.Save(ctx, m.ID, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", saved.Name)
}

func TestLoad_RoundTrip(t *testing.T) {
	svc, traffic, _, _ := newTestService(t)
	ctx := context.Background()
	m, err := svc.Create(ctx, CreateMissionRequest{Goal: "G", Name: "N", MissionContext: "ctx"}, "c1", "u1")
	require.NoError(t, err)
	_, err = svc.Save(ctx, m.ID, "")
	require.NoError(t, err)

	// Drop from memory to force a storage load.
	svc.Registry().Remove(m.ID)

	loaded, err := svc.Load(ctx, m.ID, "c2", "u1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, loaded.ID)
	assert.Equal(t, "N", loaded.Name)
	assert.Equal(t, "G", loaded.Goal)
	assert.Equal(t, "ctx", loaded.MissionContext)
	assert.Equal(t, "u1", loaded.UserID)
	assert.Equal(t, []string{m.ID}, traffic.loaded)
	assert.Equal(t, []string{"c2"}, svc.Registry().SubscribersOf(m.ID))
}

func TestLoad_AccessDenied(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	m, err := svc.Create(ctx, CreateMissionRequest{Goal: "G"}, "c1", "u1")
	require.NoError(t, err)
	_, err = svc.Save(ctx, m.ID, "")
	require.NoError(t, err)
	svc.Registry().Remove(m.ID)

	_, err = svc.Load(ctx, m.ID, "c2", "u2")
	assert.ErrorIs(t, err, errs.ErrAccessDenied)
	assert.False(t, svc.Registry().Has(m.ID), "registry unchanged on denial")
}

func TestLoad_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.Load(context.Background(), "missing", "c1", "u1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestList_InMemoryWins(t *testing.T) {
	svc, _, store, _ := newTestService(t)
	ctx := context.Background()
	m, err := svc.Create(ctx, CreateMissionRequest{Goal: "G", Name: "live"}, "c1", "u1")
	require.NoError(t, err)

	// Persisted copy with a stale name.
	stale := m.Clone()
	stale.Name = "stale"
	require.NoError(t, store.StoreData(ctx, m.ID, "missions", stale))

	summaries, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "live", summaries[0].Name)
}

func TestList_StorageFailureDegrades(t *testing.T) {
	svc, _, store, _ := newTestService(t)
	ctx := context.Background()
	m, err := svc.Create(ctx, CreateMissionRequest{Goal: "G"}, "c1", "u1")
	require.NoError(t, err)

	store.queryErr = errors.New("librarian down")
	summaries, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, m.ID, summaries[0].ID)
}

func TestHandleUserMessage(t *testing.T) {
	svc, traffic, _, _ := newTestService(t)
	ctx := context.Background()
	m, err := svc.Create(ctx, CreateMissionRequest{Goal: "G"}, "c1", "u1")
	require.NoError(t, err)

	_, err = svc.HandleUserMessage(ctx, m.ID, "c1", "hello agents")
	require.NoError(t, err)

	require.Len(t, traffic.distributed, 1)
	msg := traffic.distributed[0]
	assert.Equal(t, v1.MessageTypeUserMessage, msg.Type)
	assert.Equal(t, "user", msg.Sender)
	assert.Equal(t, "agents", msg.Recipient)
	assert.Equal(t, "c1", msg.ClientID)
	var content v1.UserMessageContent
	require.NoError(t, msg.DecodeContent(&content))
	assert.Equal(t, m.ID, content.MissionID)
	assert.Equal(t, "hello agents", content.Message)

	_, err = svc.HandleUserMessage(ctx, "missing", "c1", "x")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAttachedFiles(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	m, err := svc.Create(ctx, CreateMissionRequest{Goal: "G"}, "c1", "u1")
	require.NoError(t, err)

	ref := v1.FileRef{ID: "f1", OriginalName: "report.pdf", Size: 42}
	withFile, err := svc.AddAttachedFile(ctx, m.ID, ref)
	require.NoError(t, err)
	require.Len(t, withFile.AttachedFiles, 1)

	// Duplicate add is a no-op on the collection.
	again, err := svc.AddAttachedFile(ctx, m.ID, ref)
	require.NoError(t, err)
	assert.Len(t, again.AttachedFiles, 1)

	// Unknown remove is ignored.
	same, err := svc.RemoveAttachedFile(ctx, m.ID, "unknown")
	require.NoError(t, err)
	assert.Len(t, same.AttachedFiles, 1)

	removed, err := svc.RemoveAttachedFile(ctx, m.ID, "f1")
	require.NoError(t, err)
	assert.Empty(t, removed.AttachedFiles)
}
