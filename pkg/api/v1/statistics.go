package v1

import "encoding/json"

// Agent and step status values reported by the Traffic Manager.
const (
	AgentStatusRunning   = "RUNNING"
	AgentStatusCompleted = "COMPLETED"
	AgentStatusError     = "ERROR"
	AgentStatusPaused    = "PAUSED"
)

// Step is a single unit of agent work.
type Step struct {
	ID              string          `json:"id"`
	Verb            string          `json:"actionVerb"`
	Description     string          `json:"description,omitempty"`
	Status          string          `json:"status"`
	Dependencies    []string        `json:"dependencies"`
	InputReferences map[string]any  `json:"inputReferences,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
}

// AgentStat is the per-agent view inside a telemetry sample.
type AgentStat struct {
	AgentID string `json:"agentId"`
	Color   string `json:"color"`
	Steps   []Step `json:"steps"`
}

// LLMCallStats are the counters reported by the Brain.
type LLMCallStats struct {
	LLMCalls       int `json:"llmCalls"`
	ActiveLLMCalls int `json:"activeLLMCalls"`
}

// EngineerStatistics are the counters reported by the Engineer.
type EngineerStatistics struct {
	NewPlugins []string `json:"newPlugins"`
}

// TelemetrySample is the per-mission, per-tick aggregate pushed to
// subscribed clients. Samples are ephemeral and never persisted.
type TelemetrySample struct {
	LLMCalls           int                    `json:"llmCalls"`
	ActiveLLMCalls     int                    `json:"activeLLMCalls"`
	AgentCountByStatus map[string]int         `json:"agentCountByStatus"`
	AgentStatistics    map[string][]AgentStat `json:"agentStatistics"`
	EngineerStatistics EngineerStatistics     `json:"engineerStatistics"`
}

// AgentStatisticsUpdate is the body of POST /agentStatisticsUpdate.
type AgentStatisticsUpdate struct {
	AgentID    string          `json:"agentId"`
	MissionID  string          `json:"missionId"`
	Statistics json.RawMessage `json:"statistics"`
	Timestamp  string          `json:"timestamp"`
}
