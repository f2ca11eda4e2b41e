package registry

import (
	"testing"
	"time"

	"github.com/gridpool/market-core/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBase = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) *Service {
	t.Helper()
	return NewService(testBase, config.Default().Timeslot)
}

func TestDuplicateBrokerRegistrationDropped(t *testing.T) {
	reg := newTestRegistry(t)

	first, err := reg.AddBroker("alice", false)
	require.NoError(t, err)

	_, err = reg.AddBroker("alice", true)
	require.Error(t, err)

	// the original record survives untouched
	found, err := reg.FindBroker("alice")
	require.NoError(t, err)
	assert.Same(t, first, found)
	assert.False(t, found.Wholesale)
	assert.Len(t, reg.Brokers(), 1)
}

func TestBrokersKeepRegistrationOrder(t *testing.T) {
	reg := newTestRegistry(t)
	for _, username := range []string{"carol", "alice", "bob"} {
		_, err := reg.AddBroker(username, false)
		require.NoError(t, err)
	}

	brokers := reg.Brokers()
	require.Len(t, brokers, 3)
	assert.Equal(t, "carol", brokers[0].Username)
	assert.Equal(t, "alice", brokers[1].Username)
	assert.Equal(t, "bob", brokers[2].Username)
}

func TestFindBrokerUnknown(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.FindBroker("nobody")
	assert.Error(t, err)
}

func TestEnabledWindowExcludesCurrentTimeslot(t *testing.T) {
	reg := newTestRegistry(t)

	enabled := reg.EnabledTimeslots()
	require.Len(t, enabled, 24)
	assert.Equal(t, 1, enabled[0].Serial)
	assert.Equal(t, 24, enabled[len(enabled)-1].Serial)

	assert.False(t, reg.IsEnabled(0))
	assert.True(t, reg.IsEnabled(1))
	assert.True(t, reg.IsEnabled(24))
	assert.False(t, reg.IsEnabled(25))
}

func TestAdvanceShiftsTheWindow(t *testing.T) {
	reg := newTestRegistry(t)

	ts := reg.Advance()
	assert.Equal(t, 1, ts.Serial)
	assert.Equal(t, 1, reg.CurrentTimeslot().Serial)

	assert.False(t, reg.IsEnabled(1), "the new current timeslot closes for trading")
	assert.True(t, reg.IsEnabled(2))
	assert.True(t, reg.IsEnabled(25))
	assert.False(t, reg.IsEnabled(26))
}

func TestTimeslotStartTimes(t *testing.T) {
	reg := newTestRegistry(t)

	assert.Equal(t, testBase, reg.CurrentTimeslot().Start)

	enabled := reg.EnabledTimeslots()
	assert.Equal(t, testBase.Add(time.Hour), enabled[0].Start)
	assert.Equal(t, testBase.Add(24*time.Hour), enabled[23].Start)
}
