package service

import (
	"context"

	"github.com/stage7/missionctl/internal/common/errs"
	"github.com/stage7/missionctl/internal/mission/models"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

// HandleUserMessage forwards a user's chat message to the mission's agents
// through the Traffic Manager.
func (s *Service) HandleUserMessage(ctx context.Context, missionID, clientID, message string) (*models.Mission, error) {
	if !s.registry.Has(missionID) {
		return nil, errs.NotFoundf("mission %s", missionID)
	}

	msg := v1.NewMessage(v1.MessageTypeUserMessage, "user", "agents", v1.UserMessageContent{
		MissionID: missionID,
		Message:   message,
	})
	msg.ClientID = clientID
	msg.MissionID = missionID

	if err := s.traffic.DistributeUserMessage(ctx, msg); err != nil {
		return nil, err
	}

	m, err := s.registry.Update(missionID, func(m *models.Mission) error {
		m.Touch()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emitStatus(ctx, m, "")
	return m, nil
}
