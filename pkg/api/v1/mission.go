package v1

import "time"

// MissionStatus represents the lifecycle state of a mission.
type MissionStatus string

const (
	MissionStatusInitializing MissionStatus = "Initializing"
	MissionStatusRunning      MissionStatus = "Running"
	MissionStatusPaused       MissionStatus = "Paused"
	MissionStatusAborted      MissionStatus = "Aborted"
	MissionStatusCompleted    MissionStatus = "Completed"
	MissionStatusError        MissionStatus = "Error"
	MissionStatusReflecting   MissionStatus = "Reflecting"
)

// FileRef is a reference to a file attached to a mission. Files are owned
// by their mission; there is no ref-counting across missions.
type FileRef struct {
	ID            string    `json:"id"`
	OriginalName  string    `json:"originalName"`
	Size          int64     `json:"size"`
	MimeType      string    `json:"mimeType"`
	UploadedAt    time.Time `json:"uploadedAt"`
	UploadedBy    string    `json:"uploadedBy"`
	Description   string    `json:"description,omitempty"`
	IsDeliverable bool      `json:"isDeliverable,omitempty"`
	StepID        string    `json:"stepId,omitempty"`
}

// MissionSummary is the projection returned by LIST_MISSIONS.
type MissionSummary struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    MissionStatus `json:"status"`
	Goal      string        `json:"goal"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}
