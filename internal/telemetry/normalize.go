// Package telemetry aggregates per-mission progress from the Brain, the
// Engineer, and the Traffic Manager on a fixed tick and pushes consolidated
// samples to subscribed clients. It also detects mission quiescence and
// hands quiescent missions to the reflection coordinator.
package telemetry

import (
	"encoding/json"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/stage7/missionctl/internal/common/logger"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

// rawAgent defers step decoding so malformed shapes can be repaired.
type rawAgent struct {
	AgentID string          `json:"agentId"`
	Color   string          `json:"color"`
	Steps   json.RawMessage `json:"steps"`
}

// serializedMap is the wire form some collaborators emit for native maps:
// a marker plus key/value entry pairs.
type serializedMap struct {
	Type    string            `json:"_type"`
	Entries []json.RawMessage `json:"entries"`
}

// NormalizeAgentStatistics restores the Traffic Manager's per-agent stats
// to a native status-to-agents mapping. The payload may arrive either as
// a plain object or in the serialized-Map form, and each agent's steps may
// arrive as an index-keyed object instead of an array; both shapes are
// repaired with a warning rather than rejected.
func NormalizeAgentStatistics(raw json.RawMessage, log *logger.Logger) map[string][]v1.AgentStat {
	out := make(map[string][]v1.AgentStat)
	if len(raw) == 0 {
		return out
	}

	byStatus, err := decodeStatusMap(raw)
	if err != nil {
		log.Warn("unrecognized agent statistics payload, dropping", zap.Error(err))
		return out
	}

	for status, agentsRaw := range byStatus {
		var agents []rawAgent
		if err := json.Unmarshal(agentsRaw, &agents); err != nil {
			log.Warn("malformed agent list in statistics, dropping status bucket",
				zap.String("status", status),
				zap.Error(err),
			)
			continue
		}
		stats := make([]v1.AgentStat, 0, len(agents))
		for _, agent := range agents {
			steps, repaired := normalizeSteps(agent.Steps)
			if repaired {
				log.Warn("rebuilt agent steps from non-sequence payload",
					zap.String("agent_id", agent.AgentID),
				)
			}
			stats = append(stats, v1.AgentStat{
				AgentID: agent.AgentID,
				Color:   agent.Color,
				Steps:   steps,
			})
		}
		out[status] = stats
	}
	return out
}

// decodeStatusMap accepts either a plain status-to-agents object or the
// serialized-Map form and returns the raw agents per status.
func decodeStatusMap(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var marker serializedMap
	if err := json.Unmarshal(raw, &marker); err == nil && marker.Type == "Map" {
		byStatus := make(map[string]json.RawMessage, len(marker.Entries))
		for _, entry := range marker.Entries {
			var pair []json.RawMessage
			if err := json.Unmarshal(entry, &pair); err != nil || len(pair) != 2 {
				continue
			}
			var status string
			if err := json.Unmarshal(pair[0], &status); err != nil {
				continue
			}
			byStatus[status] = pair[1]
		}
		return byStatus, nil
	}

	var byStatus map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byStatus); err != nil {
		return nil, err
	}
	// A plain object may still be the Map form with object entries; the
	// marker branch above handles those, so strip the marker keys here.
	delete(byStatus, "_type")
	delete(byStatus, "entries")
	return byStatus, nil
}

// normalizeSteps decodes steps as a sequence, falling back to rebuilding
// the sequence from an index-keyed object. The bool reports whether a
// repair was needed.
func normalizeSteps(raw json.RawMessage) ([]v1.Step, bool) {
	if len(raw) == 0 {
		return []v1.Step{}, false
	}

	var steps []v1.Step
	if err := json.Unmarshal(raw, &steps); err == nil {
		if steps == nil {
			steps = []v1.Step{}
		}
		return steps, false
	}

	var indexed map[string]v1.Step
	if err := json.Unmarshal(raw, &indexed); err != nil {
		return []v1.Step{}, true
	}

	keys := make([]string, 0, len(indexed))
	for k := range indexed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aerr := strconv.Atoi(keys[i])
		b, berr := strconv.Atoi(keys[j])
		if aerr != nil || berr != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})

	rebuilt := make([]v1.Step, 0, len(keys))
	for _, k := range keys {
		rebuilt = append(rebuilt, indexed[k])
	}
	return rebuilt, true
}

// countByStatus projects the normalized stats to per-status agent counts.
func countByStatus(stats map[string][]v1.AgentStat) map[string]int {
	counts := make(map[string]int, len(stats))
	for status, agents := range stats {
		counts[status] = len(agents)
	}
	return counts
}
