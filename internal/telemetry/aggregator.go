package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stage7/missionctl/internal/common/logger"
	"github.com/stage7/missionctl/internal/common/metrics"
	"github.com/stage7/missionctl/internal/mission/service"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

const senderName = "MissionControl"

// DefaultInterval is the recommended tick period.
const DefaultInterval = 5 * time.Second

// LLMCallSource reports Brain counters.
type LLMCallSource interface {
	LLMCalls(ctx context.Context) (v1.LLMCallStats, error)
}

// EngineerSource reports Engineer counters.
type EngineerSource interface {
	Statistics(ctx context.Context) (v1.EngineerStatistics, error)
}

// AgentStatsSource reports the Traffic Manager's raw per-agent stats.
type AgentStatsSource interface {
	AgentStatistics(ctx context.Context, missionID string) (json.RawMessage, error)
}

// Reflector receives quiescent missions once they have been transitioned
// to Reflecting.
type Reflector interface {
	Reflect(ctx context.Context, missionID string, sample *v1.TelemetrySample)
}

// Aggregator pulls collaborator telemetry on a fixed tick and pushes
// per-mission samples to every subscribed client.
type Aggregator struct {
	service    *service.Service
	brain      LLMCallSource
	engineer   EngineerSource
	traffic    AgentStatsSource
	postOffice service.StatusPublisher
	reflector  Reflector
	interval   time.Duration
	logger     *logger.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewAggregator creates an Aggregator ticking at interval.
func NewAggregator(
	svc *service.Service,
	brain LLMCallSource,
	engineer EngineerSource,
	traffic AgentStatsSource,
	postOffice service.StatusPublisher,
	interval time.Duration,
	log *logger.Logger,
) *Aggregator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Aggregator{
		service:    svc,
		brain:      brain,
		engineer:   engineer,
		traffic:    traffic,
		postOffice: postOffice,
		interval:   interval,
		logger:     log,
	}
}

// SetReflector wires the reflection coordinator. Without one, quiescent
// missions stay where they are.
func (a *Aggregator) SetReflector(r Reflector) {
	a.reflector = r
	a.inFlight = make(map[string]struct{})
}

// Run ticks until ctx is cancelled. In-flight mission work is abandoned at
// its next suspension point on shutdown.
func (a *Aggregator) Run(ctx context.Context) {
	if a.inFlight == nil {
		a.inFlight = make(map[string]struct{})
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("telemetry aggregator started", zap.Duration("interval", a.interval))
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("telemetry aggregator stopped")
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

// tick fans subscribed missions out to workers. A mission whose previous
// tick is still outstanding is skipped this round.
func (a *Aggregator) tick(ctx context.Context) {
	metrics.TelemetryTicks.Inc()

	pairs := a.service.Registry().SubscriptionPairs()
	if len(pairs) == 0 {
		return
	}

	clientsByMission := make(map[string][]string)
	for _, pair := range pairs {
		clientsByMission[pair.MissionID] = append(clientsByMission[pair.MissionID], pair.ClientID)
	}

	for missionID, clients := range clientsByMission {
		status, ok := a.service.Registry().Status(missionID)
		if !ok {
			continue
		}
		switch status {
		case v1.MissionStatusRunning, v1.MissionStatusCompleted, v1.MissionStatusError:
		default:
			continue
		}
		if !a.acquire(missionID) {
			a.logger.Debug("previous tick still running, skipping mission",
				zap.String("mission_id", missionID),
			)
			continue
		}
		go func(missionID string, status v1.MissionStatus, clients []string) {
			defer a.release(missionID)
			a.sampleMission(ctx, missionID, status, clients)
		}(missionID, status, clients)
	}
}

func (a *Aggregator) acquire(missionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.inFlight[missionID]; busy {
		return false
	}
	a.inFlight[missionID] = struct{}{}
	return true
}

func (a *Aggregator) release(missionID string) {
	a.mu.Lock()
	delete(a.inFlight, missionID)
	a.mu.Unlock()
}

// sampleMission collects one sample, publishes it to each client, and
// triggers reflection when the mission has gone quiescent.
func (a *Aggregator) sampleMission(ctx context.Context, missionID string, status v1.MissionStatus, clients []string) {
	sample := a.Collect(ctx, missionID)
	a.publish(ctx, missionID, sample, clients)

	quiescent := (status == v1.MissionStatusCompleted || status == v1.MissionStatusError) &&
		sample.AgentCountByStatus[v1.AgentStatusRunning] == 0
	if !quiescent || a.reflector == nil {
		return
	}

	// The Reflecting transition is the re-entry guard: a mission already
	// Reflecting fails the transition and is not retriggered.
	if _, err := a.service.Transition(ctx, missionID, v1.MissionStatusReflecting, "Reflecting on mission progress."); err != nil {
		a.logger.Debug("mission not eligible for reflection",
			zap.String("mission_id", missionID),
			zap.Error(err),
		)
		return
	}
	a.reflector.Reflect(ctx, missionID, sample)
}

// Collect builds one TelemetrySample. The three collaborator calls run
// concurrently; a failed dependency contributes a zero substructure and a
// warning, never an error.
func (a *Aggregator) Collect(ctx context.Context, missionID string) *v1.TelemetrySample {
	var (
		llm      v1.LLMCallStats
		engineer v1.EngineerStatistics
		agentRaw json.RawMessage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := a.brain.LLMCalls(gctx)
		if err != nil {
			metrics.CollaboratorFailures.WithLabelValues("brain").Inc()
			a.logger.Warn("brain counters unavailable", zap.Error(err))
			return nil
		}
		llm = stats
		return nil
	})
	g.Go(func() error {
		stats, err := a.engineer.Statistics(gctx)
		if err != nil {
			metrics.CollaboratorFailures.WithLabelValues("engineer").Inc()
			a.logger.Warn("engineer counters unavailable", zap.Error(err))
			return nil
		}
		engineer = stats
		return nil
	})
	g.Go(func() error {
		raw, err := a.traffic.AgentStatistics(gctx, missionID)
		if err != nil {
			metrics.CollaboratorFailures.WithLabelValues("trafficmanager").Inc()
			a.logger.Warn("agent statistics unavailable",
				zap.String("mission_id", missionID),
				zap.Error(err),
			)
			return nil
		}
		agentRaw = raw
		return nil
	})
	_ = g.Wait()

	agentStats := NormalizeAgentStatistics(agentRaw, a.logger)
	if engineer.NewPlugins == nil {
		engineer.NewPlugins = []string{}
	}
	return &v1.TelemetrySample{
		LLMCalls:           llm.LLMCalls,
		ActiveLLMCalls:     llm.ActiveLLMCalls,
		AgentCountByStatus: countByStatus(agentStats),
		AgentStatistics:    agentStats,
		EngineerStatistics: engineer,
	}
}

// publish pushes the sample to each client. A failed publish is logged and
// does not stop the tick.
func (a *Aggregator) publish(ctx context.Context, missionID string, sample *v1.TelemetrySample, clients []string) {
	for _, clientID := range clients {
		msg := v1.NewMessage(v1.MessageTypeStatistics, senderName, "user", sample)
		msg.ClientID = clientID
		msg.MissionID = missionID
		if err := a.postOffice.SendMessage(ctx, msg); err != nil {
			a.logger.Warn("failed to publish telemetry sample",
				zap.String("mission_id", missionID),
				zap.String("client_id", clientID),
				zap.Error(err),
			)
			continue
		}
		metrics.TelemetrySamplesPublished.Inc()
	}
}

// HandleAgentUpdate reacts to an agent-side push by collecting a fresh
// sample for the mission and fanning it out immediately, outside the tick.
func (a *Aggregator) HandleAgentUpdate(ctx context.Context, update v1.AgentStatisticsUpdate) {
	clients := a.service.Registry().SubscribersOf(update.MissionID)
	if len(clients) == 0 {
		return
	}
	sample := a.Collect(ctx, update.MissionID)
	a.publish(ctx, update.MissionID, sample, clients)
}
