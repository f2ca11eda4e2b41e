package scheduler

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gridpool/market-core/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	serial int
}

func (c *fakeClock) Advance() types.Timeslot {
	c.serial++
	return types.Timeslot{Serial: c.serial, Start: time.Unix(int64(c.serial)*3600, 0)}
}

type recordingActivator struct {
	name string
	log  *[]string
	err  error
}

func (a *recordingActivator) Activate(t time.Time, phase int) error {
	*a.log = append(*a.log, fmt.Sprintf("%s:%d", a.name, phase))
	return a.err
}

func TestStepRunsPhasesInOrder(t *testing.T) {
	var calls []string
	clock := &fakeClock{}
	svc := NewService(clock,
		&recordingActivator{name: "auction", log: &calls},
		&recordingActivator{name: "accounting", log: &calls})

	ts, err := svc.Step()
	require.NoError(t, err)
	assert.Equal(t, 1, ts.Serial)
	assert.Equal(t, []string{"auction:1", "accounting:2"}, calls)

	ts, err = svc.Step()
	require.NoError(t, err)
	assert.Equal(t, 2, ts.Serial)
	assert.Equal(t, []string{"auction:1", "accounting:2", "auction:1", "accounting:2"}, calls)
}

func TestStepHaltsOnAuctionFailure(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	svc := NewService(&fakeClock{},
		&recordingActivator{name: "auction", log: &calls, err: boom},
		&recordingActivator{name: "accounting", log: &calls})

	_, err := svc.Step()
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, []string{"auction:1"}, calls, "accounting must not run after a clearing failure")
}

func TestStepReportsAccountingFailure(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	svc := NewService(&fakeClock{},
		&recordingActivator{name: "auction", log: &calls},
		&recordingActivator{name: "accounting", log: &calls, err: boom})

	_, err := svc.Step()
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}
