package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealthManagerAggregatesRegisteredChecks(t *testing.T) {
	hm := NewHealthManager(nil)
	require.True(t, hm.IsHealthy(), "manager with no checks reports healthy")

	hm.Register("event_log", func() error { return nil })
	require.True(t, hm.IsHealthy())

	breakerErr := errors.New("circuit open")
	hm.Register("exchange_adapter", func() error { return breakerErr })
	require.False(t, hm.IsHealthy())

	status := hm.GetStatus()
	require.Equal(t, "Healthy", status["event_log"])
	require.Equal(t, "Unhealthy: circuit open", status["exchange_adapter"])
}

func TestHealthManagerCheckRecoversWithComponent(t *testing.T) {
	hm := NewHealthManager(nil)
	broken := true
	hm.Register("snapshot_store", func() error {
		if broken {
			return errors.New("write failed")
		}
		return nil
	})
	require.False(t, hm.IsHealthy())

	broken = false
	require.True(t, hm.IsHealthy())
	require.Equal(t, "Healthy", hm.GetStatus()["snapshot_store"])
}

func TestFailingReportsInRegistrationOrder(t *testing.T) {
	hm := NewHealthManager(nil)
	hm.Register("scheduler", func() error { return errors.New("loop error") })
	hm.Register("event_log", func() error { return nil })
	hm.Register("worker_pool", func() error { return errors.New("stopped") })

	require.Equal(t, []string{"scheduler", "worker_pool"}, hm.Failing())

	hm.Register("scheduler", func() error { return nil })
	require.Equal(t, []string{"worker_pool"}, hm.Failing())
}
