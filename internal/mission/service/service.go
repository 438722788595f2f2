// Package service implements the mission lifecycle engine: command
// handlers for create, pause, resume, abort, save, load, list, and user
// messages, plus status fan-out to subscribed clients.
package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/stage7/missionctl/internal/client"
	"github.com/stage7/missionctl/internal/common/logger"
	"github.com/stage7/missionctl/internal/mission/models"
	"github.com/stage7/missionctl/internal/mission/registry"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

const senderName = "MissionControl"

// Librarian collection names.
const (
	missionsCollection    = "missions"
	actionPlansCollection = "actionPlans"
)

// TrafficManager is the slice of the agent runtime the lifecycle engine
// drives.
type TrafficManager interface {
	CreateAgent(ctx context.Context, req client.CreateAgentRequest) error
	PauseAgents(ctx context.Context, missionID string) error
	ResumeAgents(ctx context.Context, missionID string) error
	AbortAgents(ctx context.Context, missionID string) error
	SaveAgents(ctx context.Context, missionID string) error
	LoadAgents(ctx context.Context, missionID string) error
	DistributeUserMessage(ctx context.Context, msg *v1.Message) error
}

// MissionStore is the slice of the Librarian the lifecycle engine uses.
type MissionStore interface {
	StoreData(ctx context.Context, id, collection string, data any) error
	LoadData(ctx context.Context, id, collection string) (json.RawMessage, error)
	QueryData(ctx context.Context, collection string, query map[string]any) ([]json.RawMessage, error)
	DeleteCollection(ctx context.Context, collection string) error
}

// StatusPublisher delivers outbound messages to clients via the PostOffice.
type StatusPublisher interface {
	SendMessage(ctx context.Context, msg *v1.Message) error
}

// PendingInputCleaner drops pending human-input requests when their
// mission goes away.
type PendingInputCleaner interface {
	DropMission(missionID string)
}

// Service provides mission lifecycle business logic.
type Service struct {
	registry   *registry.Registry
	traffic    TrafficManager
	store      MissionStore
	postOffice StatusPublisher
	inputs     PendingInputCleaner
	logger     *logger.Logger
}

// NewService creates a new mission service.
func NewService(reg *registry.Registry, traffic TrafficManager, store MissionStore, postOffice StatusPublisher, log *logger.Logger) *Service {
	return &Service{
		registry:   reg,
		traffic:    traffic,
		store:      store,
		postOffice: postOffice,
		logger:     log,
	}
}

// SetPendingInputCleaner wires the human-input router so aborts can drop
// its correlation entries.
func (s *Service) SetPendingInputCleaner(cleaner PendingInputCleaner) {
	s.inputs = cleaner
}

// Registry exposes the mission registry for read-side collaborators.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Transition moves a mission to the next status atomically, persists the
// snapshot, and emits a status update. note, when non-empty, rides along
// in the update for the client to display.
func (s *Service) Transition(ctx context.Context, missionID string, to v1.MissionStatus, note string) (*models.Mission, error) {
	m, err := s.registry.Update(missionID, func(m *models.Mission) error {
		return m.Transition(to)
	})
	if err != nil {
		return nil, err
	}
	s.persist(ctx, m)
	s.emitStatus(ctx, m, note)
	return m, nil
}

// persist writes the mission snapshot to the Librarian. Failures are
// logged; the in-memory copy stays authoritative.
func (s *Service) persist(ctx context.Context, m *models.Mission) {
	if err := s.store.StoreData(ctx, m.ID, missionsCollection, m); err != nil {
		s.logger.Warn("failed to persist mission",
			zap.String("mission_id", m.ID),
			zap.Error(err),
		)
	}
}

// emitStatus pushes a STATUS_UPDATE to every client subscribed to the
// mission. Publish failures are logged and do not fail the command.
func (s *Service) emitStatus(ctx context.Context, m *models.Mission, note string) {
	content := v1.StatusUpdateContent{
		ID:        m.ID,
		Name:      m.Name,
		Status:    m.Status,
		Goal:      m.Goal,
		Message:   note,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	for _, clientID := range s.registry.SubscribersOf(m.ID) {
		msg := v1.NewMessage(v1.MessageTypeStatusUpdate, senderName, "user", content)
		msg.ClientID = clientID
		msg.MissionID = m.ID
		if err := s.postOffice.SendMessage(ctx, msg); err != nil {
			s.logger.Warn("failed to publish status update",
				zap.String("mission_id", m.ID),
				zap.String("client_id", clientID),
				zap.Error(err),
			)
		}
	}
}
