package remotesync

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pot-code/elira-progress/internal/infrastructure/driver"
	"github.com/pot-code/elira-progress/internal/progress"
)

// Beacon last-resort storage for snapshots a session could not sync
type Beacon interface {
	Save(userID string, snap progress.Snapshot) error
	// Take returns nil, nil when nothing was left behind
	Take(userID, lessonID string) (*progress.Snapshot, error)
}

// DefaultBeaconTTL how long an unsynced snapshot is kept
const DefaultBeaconTTL = 7 * 24 * time.Hour

// BeaconStore Beacon on a key-value store
type BeaconStore struct {
	kv  driver.KeyValueDB
	ttl time.Duration
}

var _ Beacon = &BeaconStore{}

type beaconPayload struct {
	Progress progress.LessonProgress `json:"progress"`
	Version  uint64                  `json:"version"`
	SavedAt  int64                   `json:"saved_at"`
}

// NewBeaconStore ttl <= 0 uses DefaultBeaconTTL
func NewBeaconStore(kv driver.KeyValueDB, ttl time.Duration) *BeaconStore {
	if ttl <= 0 {
		ttl = DefaultBeaconTTL
	}
	return &BeaconStore{kv: kv, ttl: ttl}
}

func beaconKey(userID, lessonID string) string {
	return fmt.Sprintf("progress:beacon:%s:%s", userID, lessonID)
}

// Save keep snap, overwriting an older beacon of the same lesson
func (bs *BeaconStore) Save(userID string, snap progress.Snapshot) error {
	key := beaconKey(userID, snap.Progress.LessonID)
	if prev, err := bs.read(key); err == nil && prev != nil &&
		prev.Progress.Percentage > snap.Progress.Percentage {
		snap.Progress = progress.Merge(&prev.Progress, snap.Progress)
	}
	b, err := json.Marshal(beaconPayload{
		Progress: snap.Progress,
		Version:  snap.Version,
		SavedAt:  time.Now().UnixNano() / int64(time.Millisecond),
	})
	if err != nil {
		return fmt.Errorf("encode beacon: %w", err)
	}
	return bs.kv.SetEX(key, string(b), bs.ttl)
}

// Take read and remove the beacon of a lesson
func (bs *BeaconStore) Take(userID, lessonID string) (*progress.Snapshot, error) {
	key := beaconKey(userID, lessonID)
	snap, err := bs.read(key)
	if err != nil || snap == nil {
		return nil, err
	}
	if err := bs.kv.Del(key); err != nil {
		return nil, fmt.Errorf("remove beacon: %w", err)
	}
	return snap, nil
}

func (bs *BeaconStore) read(key string) (*progress.Snapshot, error) {
	raw, err := bs.kv.Get(key)
	if errors.Is(err, driver.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var payload beaconPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode beacon: %w", err)
	}
	return &progress.Snapshot{Progress: payload.Progress, Version: payload.Version}, nil
}
