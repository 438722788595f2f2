package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stage7/missionctl/internal/common/errs"
	"github.com/stage7/missionctl/internal/mission/models"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

func TestRegistry_AddGet(t *testing.T) {
	r := New()
	r.Add(&models.Mission{ID: "m1", UserID: "u1", Status: v1.MissionStatusRunning})

	m, err := r.Get("m1")
	require.NoError(t, err)
	assert.Equal(t, "u1", m.UserID)

	_, err = r.Get("unknown")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRegistry_GetReturnsClone(t *testing.T) {
	r := New()
	r.Add(&models.Mission{ID: "m1", Status: v1.MissionStatusRunning})

	m, err := r.Get("m1")
	require.NoError(t, err)
	m.Status = v1.MissionStatusAborted

	again, err := r.Get("m1")
	require.NoError(t, err)
	assert.Equal(t, v1.MissionStatusRunning, again.Status)
}

func TestRegistry_SubscribeIdempotent(t *testing.T) {
	r := New()
	r.Add(&models.Mission{ID: "m1"})
	r.Subscribe("c1", "m1")
	r.Subscribe("c1", "m1")

	assert.Equal(t, []string{"c1"}, r.SubscribersOf("m1"))
	assert.Len(t, r.SubscriptionPairs(), 1)
}

func TestRegistry_UnsubscribeRemovesEmptyClient(t *testing.T) {
	r := New()
	r.Subscribe("c1", "m1")
	r.Unsubscribe("c1", "m1")

	assert.False(t, r.HasSubscribers())
}

func TestRegistry_RemoveClearsAllSubscriptions(t *testing.T) {
	r := New()
	r.Add(&models.Mission{ID: "m1"})
	r.Subscribe("c1", "m1")
	r.Subscribe("c2", "m1")
	r.Subscribe("c2", "m2")

	clients := r.Remove("m1")
	assert.ElementsMatch(t, []string{"c1", "c2"}, clients)
	assert.Empty(t, r.SubscribersOf("m1"))
	// c2 keeps its other subscription, c1 is gone entirely.
	assert.Equal(t, []string{"c2"}, r.SubscribersOf("m2"))
	assert.False(t, r.Has("m1"))
}

func TestRegistry_UpdateAtomicTransition(t *testing.T) {
	r := New()
	r.Add(&models.Mission{ID: "m1", Status: v1.MissionStatusRunning})

	m, err := r.Update("m1", func(m *models.Mission) error {
		return m.Transition(v1.MissionStatusPaused)
	})
	require.NoError(t, err)
	assert.Equal(t, v1.MissionStatusPaused, m.Status)

	_, err = r.Update("m1", func(m *models.Mission) error {
		return m.Transition(v1.MissionStatusCompleted)
	})
	assert.ErrorIs(t, err, errs.ErrIllegalTransition)

	status, ok := r.Status("m1")
	require.True(t, ok)
	assert.Equal(t, v1.MissionStatusPaused, status)
}

func TestRegistry_OwnedBy(t *testing.T) {
	r := New()
	r.Add(&models.Mission{ID: "m1", UserID: "u1"})
	r.Add(&models.Mission{ID: "m2", UserID: "u2"})
	r.Add(&models.Mission{ID: "m3", UserID: "u1"})

	owned := r.OwnedBy("u1")
	ids := []string{owned[0].ID, owned[1].ID}
	assert.ElementsMatch(t, []string{"m1", "m3"}, ids)
}
