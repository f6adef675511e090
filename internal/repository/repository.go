package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/perimeter-sentinel/internal/config"
	"github.com/oshokin/perimeter-sentinel/internal/domain/status"
	"github.com/oshokin/perimeter-sentinel/internal/logger"
)

// snapshotFilename holds the last persisted alarm state.
const snapshotFilename = "alarm_state.json"

// snapshot is the on-disk form of the persisted alarm state.
type snapshot struct {
	// AlarmState is the last committed state.
	AlarmState status.AlarmState `json:"alarm_state"`
	// SavedAt is when the snapshot was written, in UTC.
	SavedAt time.Time `json:"saved_at"`
}

// AlarmStateRepository persists the alarm state across restarts.
// The restored state is for status continuity only: boot never re-drives
// outputs from it, the fail-safe boot contract wins.
type AlarmStateRepository struct {
	path string
}

// NewAlarmStateRepository creates a repository rooted in dataDir.
func NewAlarmStateRepository(dataDir string) *AlarmStateRepository {
	return &AlarmStateRepository{
		path: filepath.Join(dataDir, snapshotFilename),
	}
}

// SaveAlarmState writes the snapshot atomically via rename.
func (r *AlarmStateRepository) SaveAlarmState(_ context.Context, state status.AlarmState) error {
	data, err := json.Marshal(snapshot{
		AlarmState: state,
		SavedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}

	return nil
}

// LoadAlarmState returns the persisted state, or Disarmed when the
// snapshot is absent or unreadable. An unreadable snapshot is logged and
// discarded; the safe default always wins over a corrupt file.
func (r *AlarmStateRepository) LoadAlarmState(ctx context.Context) status.AlarmState {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WarnKV(ctx, "Failed to read alarm state snapshot", "error", err)
		}

		return status.Disarmed
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		logger.WarnKV(ctx, "Corrupt alarm state snapshot, starting disarmed", "error", err)

		return status.Disarmed
	}

	if !snap.AlarmState.Valid() {
		logger.WarnKV(ctx, "Unknown alarm state in snapshot, starting disarmed",
			"state", snap.AlarmState)

		return status.Disarmed
	}

	return snap.AlarmState
}
