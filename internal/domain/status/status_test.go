package status

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNewStore_BootState verifies the fail-safe boot contract: disarmed,
// outputs off, offline.
func TestNewStore_BootState(t *testing.T) {
	t.Parallel()

	s := NewStore()
	snap := s.Snapshot()

	require.Equal(t, Disarmed, snap.Alarm)
	require.False(t, snap.Actuators.Siren)
	require.False(t, snap.Actuators.Floodlight)
	require.Equal(t, LinkDown, snap.Connectivity.LinkStatus)
	require.Equal(t, RemoteOffline, snap.Connectivity.RemoteStatus)
	require.Equal(t, Health{}, snap.Health)
}

// TestStore_SnapshotIsCopy verifies readers get values, not references.
func TestStore_SnapshotIsCopy(t *testing.T) {
	t.Parallel()

	s := NewStore()
	snap := s.Snapshot()
	snap.Alarm = Alarm

	require.Equal(t, Disarmed, s.AlarmState())
}

// TestStore_SettersAndFlags exercises every writer path.
func TestStore_SettersAndFlags(t *testing.T) {
	t.Parallel()

	s := NewStore()

	s.SetAlarmState(Armed)
	require.Equal(t, Armed, s.AlarmState())

	s.SetActuators(ActuatorState{Siren: true, Floodlight: true})
	require.Equal(t, ActuatorState{Siren: true, Floodlight: true}, s.Actuators())

	s.SetConnectivity(ConnectivityState{
		SelectedInterface: "eth0",
		LinkStatus:        LinkUp,
		RemoteStatus:      RemoteReconnecting,
	})
	s.SetRemoteStatus(RemoteOnline)

	snap := s.Snapshot()
	require.Equal(t, "eth0", snap.Connectivity.SelectedInterface)
	require.Equal(t, RemoteOnline, snap.Connectivity.RemoteStatus)

	s.MarkStorageDegraded()
	s.MarkEventsPruned()
	s.MarkHardwareDegraded()

	health := s.Snapshot().Health
	require.True(t, health.StorageDegraded)
	require.True(t, health.EventsPruned)
	require.True(t, health.HardwareDegraded)
}

// TestStore_ChangedAtOnlyMovesOnRealTransitions verifies idempotent writes
// do not bump the change timestamp.
func TestStore_ChangedAtOnlyMovesOnRealTransitions(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.SetAlarmState(Armed)
	first := s.Snapshot().ChangedAt

	s.SetAlarmState(Armed)
	require.Equal(t, first, s.Snapshot().ChangedAt)
}

// TestStore_ConcurrentAccess exercises the lock under parallel readers
// and writers; run with -race.
func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()

			for j := 0; j < 100; j++ {
				s.SetAlarmState(Armed)
				s.SetActuators(ActuatorState{Siren: j%2 == 0})
			}
		}()

		go func() {
			defer wg.Done()

			for j := 0; j < 100; j++ {
				_ = s.Snapshot()
			}
		}()
	}

	wg.Wait()
	require.True(t, s.AlarmState().Valid())
}

// TestAlarmState_Valid pins the set of recognized states.
func TestAlarmState_Valid(t *testing.T) {
	t.Parallel()

	for _, state := range []AlarmState{Disarmed, ExitDelay, Armed, EntryDelay, Alarm} {
		require.True(t, state.Valid())
	}

	require.False(t, AlarmState("panic").Valid())
	require.False(t, AlarmState("").Valid())
}
