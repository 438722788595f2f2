package service

import (
	"context"

	v1 "github.com/stage7/missionctl/pkg/api/v1"

	"github.com/stage7/missionctl/internal/mission/models"
)

// AddAttachedFile appends a file reference to the mission. Adding a ref
// whose id is already attached is a no-op on the collection.
func (s *Service) AddAttachedFile(ctx context.Context, missionID string, ref v1.FileRef) (*models.Mission, error) {
	m, err := s.registry.Update(missionID, func(m *models.Mission) error {
		for _, existing := range m.AttachedFiles {
			if existing.ID == ref.ID {
				return nil
			}
		}
		m.AttachedFiles = append(m.AttachedFiles, ref)
		m.Touch()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.persist(ctx, m)
	s.emitStatus(ctx, m, "")
	return m, nil
}

// RemoveAttachedFile removes a file reference by id. Unknown ids are
// ignored.
func (s *Service) RemoveAttachedFile(ctx context.Context, missionID, fileID string) (*models.Mission, error) {
	m, err := s.registry.Update(missionID, func(m *models.Mission) error {
		for i, existing := range m.AttachedFiles {
			if existing.ID == fileID {
				m.AttachedFiles = append(m.AttachedFiles[:i], m.AttachedFiles[i+1:]...)
				m.Touch()
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.persist(ctx, m)
	s.emitStatus(ctx, m, "")
	return m, nil
}
