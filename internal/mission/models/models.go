// Package models defines the mission domain entities and the lifecycle
// state machine.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/stage7/missionctl/internal/common/errs"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

// Mission is the central entity owned by Mission Control. The persisted
// copy in the Librarian is a back-up/restore channel, not a shared writer.
type Mission struct {
	ID             string           `json:"id"`
	UserID         string           `json:"userId"`
	Name           string           `json:"name"`
	Goal           string           `json:"goal"`
	MissionContext string           `json:"missionContext,omitempty"`
	Status         v1.MissionStatus `json:"status"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	AttachedFiles  []v1.FileRef     `json:"attachedFiles"`
}

// Touch advances UpdatedAt, keeping it monotonically non-decreasing.
func (m *Mission) Touch() {
	now := time.Now().UTC()
	if now.After(m.UpdatedAt) {
		m.UpdatedAt = now
	}
}

// Summary projects the mission for LIST_MISSIONS.
func (m *Mission) Summary() v1.MissionSummary {
	return v1.MissionSummary{
		ID:        m.ID,
		Name:      m.Name,
		Status:    m.Status,
		Goal:      m.Goal,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// Clone returns a deep copy safe to use outside the registry lock.
func (m *Mission) Clone() *Mission {
	cp := *m
	cp.AttachedFiles = append([]v1.FileRef(nil), m.AttachedFiles...)
	return &cp
}

// DefaultName returns the name given to a mission saved without one.
func DefaultName(at time.Time) string {
	return "Mission " + strings.ReplaceAll(at.UTC().Format(time.RFC3339), ":", "-")
}

// legalTransitions is the lifecycle state machine. Aborted is terminal.
var legalTransitions = map[v1.MissionStatus][]v1.MissionStatus{
	v1.MissionStatusInitializing: {v1.MissionStatusRunning, v1.MissionStatusError, v1.MissionStatusAborted},
	v1.MissionStatusRunning:      {v1.MissionStatusPaused, v1.MissionStatusAborted, v1.MissionStatusReflecting, v1.MissionStatusCompleted, v1.MissionStatusError},
	v1.MissionStatusPaused:       {v1.MissionStatusRunning, v1.MissionStatusAborted},
	v1.MissionStatusCompleted:    {v1.MissionStatusAborted, v1.MissionStatusReflecting},
	v1.MissionStatusError:        {v1.MissionStatusAborted, v1.MissionStatusReflecting},
	v1.MissionStatusReflecting:   {v1.MissionStatusRunning, v1.MissionStatusCompleted, v1.MissionStatusError},
	v1.MissionStatusAborted:      {},
}

// CanTransition reports whether moving from one status to another is
// permitted by the state machine.
func CanTransition(from, to v1.MissionStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the mission to the next status, enforcing legality and
// advancing UpdatedAt.
func (m *Mission) Transition(to v1.MissionStatus) error {
	if !CanTransition(m.Status, to) {
		return fmt.Errorf("%w: %s -> %s for mission %s", errs.ErrIllegalTransition, m.Status, to, m.ID)
	}
	m.Status = to
	m.Touch()
	return nil
}
