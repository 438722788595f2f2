package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stage7/missionctl/internal/client"
	"github.com/stage7/missionctl/internal/common/errs"
	"github.com/stage7/missionctl/internal/common/metrics"
	"github.com/stage7/missionctl/internal/mission/models"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

// CreateMissionRequest carries the CREATE_MISSION content.
type CreateMissionRequest struct {
	Goal           string `json:"goal"`
	Name           string `json:"name,omitempty"`
	MissionContext string `json:"missionContext,omitempty"`
}

// Create starts a new mission: it clears the cached action plans,
// registers the mission, subscribes the client, persists, and asks the
// Traffic Manager for the first agent. On agent-creation failure the
// mission is left in Error and the failure is surfaced.
func (s *Service) Create(ctx context.Context, req CreateMissionRequest, clientID, userID string) (*models.Mission, error) {
	if req.Goal == "" {
		return nil, errs.Validationf("mission goal is required")
	}

	// Stale plans from earlier missions would poison ACCOMPLISH; clearing
	// is best-effort.
	if err := s.store.DeleteCollection(ctx, actionPlansCollection); err != nil {
		s.logger.Warn("failed to clear action plan cache", zap.Error(err))
	}

	now := time.Now().UTC()
	name := req.Name
	if name == "" {
		name = models.DefaultName(now)
	}

	m := &models.Mission{
		ID:             uuid.New().String(),
		UserID:         userID,
		Name:           name,
		Goal:           req.Goal,
		MissionContext: req.MissionContext,
		Status:         v1.MissionStatusInitializing,
		CreatedAt:      now,
		UpdatedAt:      now,
		AttachedFiles:  []v1.FileRef{},
	}

	s.registry.Add(m)
	s.registry.Subscribe(clientID, m.ID)
	s.persist(ctx, m)

	inputs := map[string]any{"goal": m.Goal}
	if m.MissionContext != "" {
		inputs["missionContext"] = m.MissionContext
	}
	err := s.traffic.CreateAgent(ctx, client.CreateAgentRequest{
		ActionVerb:   "ACCOMPLISH",
		Inputs:       inputs,
		MissionID:    m.ID,
		Dependencies: []string{},
	})
	if err != nil {
		s.logger.Error("agent creation failed",
			zap.String("mission_id", m.ID),
			zap.Error(err),
		)
		if _, terr := s.Transition(ctx, m.ID, v1.MissionStatusError, "Failed to start mission."); terr != nil {
			s.logger.Error("failed to mark mission errored", zap.String("mission_id", m.ID), zap.Error(terr))
		}
		return nil, err
	}

	running, err := s.Transition(ctx, m.ID, v1.MissionStatusRunning, "Mission started.")
	if err != nil {
		return nil, err
	}

	metrics.MissionsCreated.Inc()
	s.logger.Info("mission created",
		zap.String("mission_id", m.ID),
		zap.String("user_id", userID),
	)
	return running, nil
}

// Pause suspends a running mission.
func (s *Service) Pause(ctx context.Context, missionID string) (*models.Mission, error) {
	status, ok := s.registry.Status(missionID)
	if !ok {
		return nil, errs.NotFoundf("mission %s", missionID)
	}
	if status != v1.MissionStatusRunning {
		return nil, errs.Validationf("cannot pause mission in status %s", status)
	}
	if err := s.traffic.PauseAgents(ctx, missionID); err != nil {
		return nil, err
	}
	return s.Transition(ctx, missionID, v1.MissionStatusPaused, "Mission paused.")
}

// Resume continues a paused mission.
func (s *Service) Resume(ctx context.Context, missionID string) (*models.Mission, error) {
	status, ok := s.registry.Status(missionID)
	if !ok {
		return nil, errs.NotFoundf("mission %s", missionID)
	}
	if status != v1.MissionStatusPaused {
		return nil, errs.Validationf("cannot resume mission in status %s", status)
	}
	if err := s.traffic.ResumeAgents(ctx, missionID); err != nil {
		return nil, err
	}
	return s.Transition(ctx, missionID, v1.MissionStatusRunning, "Mission resumed.")
}

// Abort terminates the mission, emits a final Aborted status once, and
// removes the mission from memory and every subscription set. The
// persisted copy is retained for history.
func (s *Service) Abort(ctx context.Context, missionID string) error {
	if !s.registry.Has(missionID) {
		return errs.NotFoundf("mission %s", missionID)
	}
	if err := s.traffic.AbortAgents(ctx, missionID); err != nil {
		return err
	}

	m, err := s.registry.Update(missionID, func(m *models.Mission) error {
		return m.Transition(v1.MissionStatusAborted)
	})
	if err != nil {
		return err
	}
	s.persist(ctx, m)
	s.emitStatus(ctx, m, "Mission aborted.")

	s.registry.Remove(missionID)
	if s.inputs != nil {
		s.inputs.DropMission(missionID)
	}
	metrics.MissionsAborted.Inc()
	s.logger.Info("mission aborted", zap.String("mission_id", missionID))
	return nil
}

// Save persists the mission and checkpoints its agents. Idempotent. A
// name, when provided, renames the mission first; a mission that never
// had a name gets a timestamped default.
func (s *Service) Save(ctx context.Context, missionID, name string) (*models.Mission, error) {
	m, err := s.registry.Update(missionID, func(m *models.Mission) error {
		if name != "" {
			m.Name = name
		}
		if m.Name == "" {
			m.Name = models.DefaultName(time.Now())
		}
		m.Touch()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.StoreData(ctx, m.ID, missionsCollection, m); err != nil {
		return nil, err
	}
	if err := s.traffic.SaveAgents(ctx, missionID); err != nil {
		return nil, err
	}
	s.emitStatus(ctx, m, "Mission saved.")
	return m, nil
}

// Load restores a persisted mission into memory and resumes its agents.
// The caller must be the mission owner.
func (s *Service) Load(ctx context.Context, missionID, clientID, userID string) (*models.Mission, error) {
	if m, err := s.registry.Get(missionID); err == nil {
		if m.UserID != userID {
			return nil, errs.AccessDeniedf("mission %s is not owned by %s", missionID, userID)
		}
		s.registry.Subscribe(clientID, missionID)
		s.emitStatus(ctx, m, "")
		return m, nil
	}

	raw, err := s.store.LoadData(ctx, missionID, missionsCollection)
	if err != nil {
		return nil, err
	}

	var m models.Mission
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errs.Validationf("persisted mission %s is malformed: %v", missionID, err)
	}
	if m.UserID != userID {
		return nil, errs.AccessDeniedf("mission %s is not owned by %s", missionID, userID)
	}

	s.registry.Add(&m)
	if err := s.traffic.LoadAgents(ctx, missionID); err != nil {
		s.registry.Remove(missionID)
		return nil, err
	}
	s.registry.Subscribe(clientID, missionID)

	loaded := m.Clone()
	s.emitStatus(ctx, loaded, "Mission loaded.")
	s.logger.Info("mission loaded",
		zap.String("mission_id", missionID),
		zap.String("user_id", userID),
	)
	return loaded, nil
}

// List returns the union of in-memory and persisted missions owned by the
// user, de-duplicated by id with the in-memory copy winning. A storage
// failure degrades to the in-memory projection.
func (s *Service) List(ctx context.Context, userID string) ([]v1.MissionSummary, error) {
	byID := make(map[string]v1.MissionSummary)

	docs, err := s.store.QueryData(ctx, missionsCollection, map[string]any{"userId": userID})
	if err != nil {
		s.logger.Warn("mission list storage query failed, using in-memory only",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	} else {
		for _, doc := range docs {
			var m models.Mission
			if err := json.Unmarshal(doc, &m); err != nil {
				s.logger.Warn("skipping malformed persisted mission", zap.Error(err))
				continue
			}
			byID[m.ID] = m.Summary()
		}
	}

	for _, m := range s.registry.OwnedBy(userID) {
		byID[m.ID] = m.Summary()
	}

	summaries := make([]v1.MissionSummary, 0, len(byID))
	for _, summary := range byID {
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}
