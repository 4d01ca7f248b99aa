package housekeeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls int32
}

func (c *countingSweeper) Sweep() {
	atomic.AddInt32(&c.calls, 1)
}

func TestRegisterSweepRunsOnSchedule(t *testing.T) {
	hk := New(nil)
	sweeper := &countingSweeper{}

	require.NoError(t, hk.RegisterSweep("@every 10ms", "test-sweep", sweeper))
	hk.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hk.Stop(ctx)
	}()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&sweeper.calls) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestRegisterSweepRejectsBadSpec(t *testing.T) {
	hk := New(nil)
	err := hk.RegisterSweep("not a cron spec", "bad", &countingSweeper{})
	assert.Error(t, err)
}
