package remotesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pot-code/elira-progress/internal/progress"
	"go.uber.org/zap"
)

// SyncOption options for a syncer
type SyncOption struct {
	MaxAttempts     uint          // submit attempts per drain
	InitialInterval time.Duration // first retry wait
	MaxInterval     time.Duration // retry wait cap
	Grace           time.Duration // final flush budget on Close
	// OnPersisted called from the worker with the record the backend kept
	OnPersisted func(lessonID string, persisted *progress.LessonProgress)
}

// Syncer pushes tracker snapshots to a Service from a single worker.
//
// At most one snapshot per lesson is pending; a newer version replaces it and
// versions already confirmed are dropped.
type Syncer struct {
	svc    Service
	beacon Beacon
	userID string
	logger *zap.Logger
	option SyncOption

	mu        sync.Mutex
	pending   map[string]progress.Snapshot
	confirmed map[string]uint64

	kick    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	closed  bool
}

// NewSyncer create a syncer for userID, beacon may be nil
func NewSyncer(svc Service, userID string, beacon Beacon, logger *zap.Logger, options ...*SyncOption) *Syncer {
	option := SyncOption{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Grace:           3 * time.Second,
	}
	if len(options) > 0 {
		custom := options[0]
		if custom.MaxAttempts > 0 {
			option.MaxAttempts = custom.MaxAttempts
		}
		if custom.InitialInterval > 0 {
			option.InitialInterval = custom.InitialInterval
		}
		if custom.MaxInterval > 0 {
			option.MaxInterval = custom.MaxInterval
		}
		if custom.Grace > 0 {
			option.Grace = custom.Grace
		}
		option.OnPersisted = custom.OnPersisted
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		svc:       svc,
		beacon:    beacon,
		userID:    userID,
		logger:    logger,
		option:    option,
		pending:   make(map[string]progress.Snapshot),
		confirmed: make(map[string]uint64),
		kick:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start run the worker
func (s *Syncer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	go s.run()
}

// Push queue a snapshot, returns false if it was dropped as stale
func (s *Syncer) Push(snap progress.Snapshot) bool {
	lessonID := snap.Progress.LessonID

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	accepted := s.offer(lessonID, snap)
	hasPending := len(s.pending) > 0
	s.mu.Unlock()

	if hasPending {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return accepted
}

// offer must be called with mu held
func (s *Syncer) offer(lessonID string, snap progress.Snapshot) bool {
	if snap.Version <= s.confirmed[lessonID] {
		return false
	}
	if cur, ok := s.pending[lessonID]; ok && cur.Version >= snap.Version {
		return false
	}
	s.pending[lessonID] = snap
	return true
}

// Pending snapshot waiting for lessonID
func (s *Syncer) Pending(lessonID string) (progress.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.pending[lessonID]
	return snap, ok
}

// Confirmed highest version the backend acknowledged for lessonID
func (s *Syncer) Confirmed(lessonID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed[lessonID]
}

func (s *Syncer) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.kick:
			s.drain(s.ctx)
		}
	}
}

func (s *Syncer) snapshotPending() []progress.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]progress.Snapshot, 0, len(s.pending))
	for _, snap := range s.pending {
		out = append(out, snap)
	}
	return out
}

// drain submit every pending snapshot once, returns the ones still pending
func (s *Syncer) drain(ctx context.Context) []progress.Snapshot {
	var failed []progress.Snapshot
	for _, snap := range s.snapshotPending() {
		if ctx.Err() != nil {
			failed = append(failed, snap)
			continue
		}
		lessonID := snap.Progress.LessonID
		persisted, err := s.submit(ctx, snap)
		switch {
		case err == nil:
			s.confirm(lessonID, snap.Version)
			if persisted != nil && s.option.OnPersisted != nil {
				s.option.OnPersisted(lessonID, persisted)
			}
		case IsRetryable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			s.logger.Warn("progress submit postponed", zap.Error(err),
				zap.String("user.id", s.userID),
				zap.String("lesson.id", lessonID),
				zap.Uint64("progress.version", snap.Version))
			failed = append(failed, snap)
		default:
			s.logger.Error("progress submit rejected", zap.Error(err),
				zap.String("user.id", s.userID),
				zap.String("lesson.id", lessonID),
				zap.Uint64("progress.version", snap.Version))
			s.discard(lessonID, snap.Version)
		}
	}
	return failed
}

func (s *Syncer) submit(ctx context.Context, snap progress.Snapshot) (*progress.LessonProgress, error) {
	lessonID := snap.Progress.LessonID
	op := func() (*progress.LessonProgress, error) {
		p, err := s.svc.SubmitProgress(ctx, s.userID, lessonID, snap.Progress)
		if err == nil || IsRetryable(err) {
			return p, err
		}
		return nil, backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.option.InitialInterval
	b.MaxInterval = s.option.MaxInterval
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.option.MaxAttempts),
	)
}

func (s *Syncer) confirm(lessonID string, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version > s.confirmed[lessonID] {
		s.confirmed[lessonID] = version
	}
	if cur, ok := s.pending[lessonID]; ok && cur.Version <= version {
		delete(s.pending, lessonID)
	}
}

func (s *Syncer) discard(lessonID string, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.pending[lessonID]; ok && cur.Version == version {
		delete(s.pending, lessonID)
	}
}

// Close stop the worker, push the final snapshots within the grace period and
// hand whatever still failed to the beacon
func (s *Syncer) Close(ctx context.Context, final ...progress.Snapshot) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, snap := range final {
		s.offer(snap.Progress.LessonID, snap)
	}
	started := s.started
	s.mu.Unlock()

	s.cancel()
	if started {
		<-s.done
	}

	graceCtx, cancel := context.WithTimeout(ctx, s.option.Grace)
	defer cancel()
	failed := s.drain(graceCtx)
	if len(failed) == 0 {
		return nil
	}
	if s.beacon == nil {
		return ErrUnsynced
	}

	var saveErr error
	for _, snap := range failed {
		if err := s.beacon.Save(s.userID, snap); err != nil {
			s.logger.Error("failed to store progress beacon", zap.Error(err),
				zap.String("user.id", s.userID),
				zap.String("lesson.id", snap.Progress.LessonID))
			saveErr = err
			continue
		}
		s.logger.Info("progress kept in beacon",
			zap.String("user.id", s.userID),
			zap.String("lesson.id", snap.Progress.LessonID),
			zap.Uint64("progress.version", snap.Version))
	}
	return saveErr
}

// ErrUnsynced final flush failed and no beacon was configured
var ErrUnsynced = errors.New("progress could not be synced")
