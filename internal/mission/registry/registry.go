// Package registry holds the in-memory mission table and the per-client
// subscription index. Both are process-wide shared state guarded by a
// single mutex; callers get clones or snapshots, never live pointers,
// except through Update which runs inside the lock.
package registry

import (
	"sync"

	"github.com/stage7/missionctl/internal/common/errs"
	"github.com/stage7/missionctl/internal/common/metrics"
	"github.com/stage7/missionctl/internal/mission/models"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

// SubscriptionPair is one (client, mission) edge of the subscription index.
type SubscriptionPair struct {
	ClientID  string
	MissionID string
}

// Registry is the mission table plus the client subscription index.
type Registry struct {
	mu            sync.RWMutex
	missions      map[string]*models.Mission
	subscriptions map[string]map[string]struct{} // clientID -> set of missionIDs
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		missions:      make(map[string]*models.Mission),
		subscriptions: make(map[string]map[string]struct{}),
	}
}

// Add inserts a mission. An existing mission with the same id is replaced.
func (r *Registry) Add(m *models.Mission) {
	r.mu.Lock()
	r.missions[m.ID] = m
	metrics.MissionsActive.Set(float64(len(r.missions)))
	r.mu.Unlock()
}

// Get returns a clone of the mission, or ErrNotFound.
func (r *Registry) Get(missionID string) (*models.Mission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.missions[missionID]
	if !ok {
		return nil, errs.NotFoundf("mission %s", missionID)
	}
	return m.Clone(), nil
}

// Has reports whether the mission is in memory.
func (r *Registry) Has(missionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.missions[missionID]
	return ok
}

// Update runs fn on the live mission inside the write lock, making a
// status check-and-set atomic. fn must not block.
func (r *Registry) Update(missionID string, fn func(*models.Mission) error) (*models.Mission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.missions[missionID]
	if !ok {
		return nil, errs.NotFoundf("mission %s", missionID)
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// Remove deletes the mission and strips it from every client's
// subscription set atomically. It returns the clients that were
// subscribed.
func (r *Registry) Remove(missionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.missions, missionID)
	metrics.MissionsActive.Set(float64(len(r.missions)))

	var clients []string
	for clientID, missions := range r.subscriptions {
		if _, ok := missions[missionID]; !ok {
			continue
		}
		clients = append(clients, clientID)
		delete(missions, missionID)
		// Removing the last mission for a client removes the client entry.
		if len(missions) == 0 {
			delete(r.subscriptions, clientID)
		}
	}
	return clients
}

// Subscribe registers a client's interest in a mission. Re-subscribing is
// a no-op.
func (r *Registry) Subscribe(clientID, missionID string) {
	if clientID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	missions, ok := r.subscriptions[clientID]
	if !ok {
		missions = make(map[string]struct{})
		r.subscriptions[clientID] = missions
	}
	missions[missionID] = struct{}{}
}

// Unsubscribe removes a client's interest in a mission.
func (r *Registry) Unsubscribe(clientID, missionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	missions, ok := r.subscriptions[clientID]
	if !ok {
		return
	}
	delete(missions, missionID)
	if len(missions) == 0 {
		delete(r.subscriptions, clientID)
	}
}

// SubscribersOf returns the clients subscribed to a mission.
func (r *Registry) SubscribersOf(missionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var clients []string
	for clientID, missions := range r.subscriptions {
		if _, ok := missions[missionID]; ok {
			clients = append(clients, clientID)
		}
	}
	return clients
}

// SubscriptionPairs snapshots every (client, mission) edge for telemetry
// fan-out.
func (r *Registry) SubscriptionPairs() []SubscriptionPair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var pairs []SubscriptionPair
	for clientID, missions := range r.subscriptions {
		for missionID := range missions {
			pairs = append(pairs, SubscriptionPair{ClientID: clientID, MissionID: missionID})
		}
	}
	return pairs
}

// HasSubscribers reports whether any client is subscribed to anything.
func (r *Registry) HasSubscribers() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscriptions) > 0
}

// OwnedBy returns clones of every in-memory mission owned by userID.
func (r *Registry) OwnedBy(userID string) []*models.Mission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var owned []*models.Mission
	for _, m := range r.missions {
		if m.UserID == userID {
			owned = append(owned, m.Clone())
		}
	}
	return owned
}

// Status returns the mission's current status without cloning.
func (r *Registry) Status(missionID string) (v1.MissionStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.missions[missionID]
	if !ok {
		return "", false
	}
	return m.Status, true
}
