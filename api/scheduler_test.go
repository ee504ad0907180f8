package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLateFeeScheduler_RunsOnStart(t *testing.T) {
	// GIVEN: An overdue bill
	f := newAPIFixture(t)
	bill := f.seed(t)
	f.now = time.Date(2026, time.March, 20, 9, 0, 0, 0, time.UTC)

	// WHEN: The scheduler starts
	s := NewLateFeeScheduler(f.handler, "@daily", time.UTC, nil)
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool {
		runs, err := f.handler.Store.ListLateFeeRuns(context.Background(), 10)
		return err == nil && len(runs) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, s.NextRun().IsZero())
	s.Stop()

	// THEN: The fee was applied by the first sweep
	rec, err := f.handler.Store.GetBill(context.Background(), bill.ID)
	require.NoError(t, err)
	assert.Equal(t, "25.00", money(rec.LateFeeAmount))
	assert.True(t, s.NextRun().IsZero())
}

func TestLateFeeScheduler_Disabled(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t)

	s := NewLateFeeScheduler(f.handler, "@hourly", time.UTC, nil)
	s.Enabled = false
	require.NoError(t, s.Start())
	s.Stop()

	runs, err := f.handler.Store.ListLateFeeRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestLateFeeScheduler_BadSpec(t *testing.T) {
	f := newAPIFixture(t)

	s := NewLateFeeScheduler(f.handler, "whenever", time.UTC, nil)

	assert.Error(t, s.Start())
}

func TestLateFeeScheduler_SkipsOverlappingRun(t *testing.T) {
	// GIVEN: A sweep in progress
	f := newAPIFixture(t)
	f.seed(t)
	s := NewLateFeeScheduler(f.handler, "@hourly", time.UTC, nil)
	s.sweepMu.Lock()

	// WHEN: Another sweep is triggered
	s.RunNow()
	s.sweepMu.Unlock()

	// THEN: Nothing ran
	runs, err := f.handler.Store.ListLateFeeRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
