package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/genpire/rfq-service/internal/core/domain"
)

const DefaultRefreshInterval = 60 * time.Second

var ErrRegistryClosed = errors.New("session registry closed")

type rfqStore interface {
	Fetch(ctx context.Context, creatorID string) ([]domain.RFQ, error)
	Invalidate(ctx context.Context, creatorID string) error
}

// Refresher reloads one creator's RFQs; RFQService satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, creatorID string) ([]domain.RFQ, error)
}

const refreshTimeout = 5 * time.Second

type session struct {
	refs int
	stop chan struct{}
	done chan struct{}
}

// SessionRegistry tracks creators with an open dashboard. Each active
// creator is queued for refresh every interval; workers drain the queue.
// Ending the last session for a creator clears its cached RFQs.
type SessionRegistry struct {
	store        rfqStore
	interval     time.Duration
	refreshQueue chan string

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

func NewSessionRegistry(store rfqStore, interval time.Duration, queueSize int) *SessionRegistry {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &SessionRegistry{
		store:        store,
		interval:     interval,
		refreshQueue: make(chan string, queueSize),
		sessions:     make(map[string]*session),
	}
}

// Start loads the creator's RFQs and begins periodic refresh. Repeated
// starts for the same creator are reference counted.
func (r *SessionRegistry) Start(ctx context.Context, creatorID string) error {
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return ErrCreatorRequired
	}
	if _, err := r.store.Fetch(ctx, creatorID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if s, ok := r.sessions[creatorID]; ok {
		s.refs++
		return nil
	}
	s := &session{refs: 1, stop: make(chan struct{}), done: make(chan struct{})}
	r.sessions[creatorID] = s
	go r.tick(creatorID, s)
	slog.Info("session started", "creator_id", creatorID)
	return nil
}

// Stop releases one reference. The last release stops the ticker and drops
// the cached list.
func (r *SessionRegistry) Stop(ctx context.Context, creatorID string) error {
	r.mu.Lock()
	s, ok := r.sessions[creatorID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	s.refs--
	if s.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.sessions, creatorID)
	r.mu.Unlock()

	close(s.stop)
	<-s.done
	slog.Info("session ended", "creator_id", creatorID)
	return r.store.Invalidate(ctx, creatorID)
}

func (r *SessionRegistry) Active(creatorID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[creatorID]
	return ok
}

func (r *SessionRegistry) GetRefreshQueue() <-chan string {
	return r.refreshQueue
}

// Close stops every ticker, then closes the refresh queue so workers exit.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	for _, s := range sessions {
		close(s.stop)
		<-s.done
	}
	close(r.refreshQueue)
}

// RunWorkers starts n goroutines draining the refresh queue. They exit once
// Close has been called and the queue is empty.
func (r *SessionRegistry) RunWorkers(n int, store Refresher) *sync.WaitGroup {
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.work(id, store)
		}(i)
	}
	return &wg
}

func (r *SessionRegistry) work(id int, store Refresher) {
	for creatorID := range r.refreshQueue {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)

		list, err := store.Refresh(ctx, creatorID)
		if err != nil {
			// Next tick retries; the cached list stays as it was.
			slog.Warn("refresh failed", "worker", id, "creator_id", creatorID, "error", err)
		} else {
			slog.Debug("refreshed rfqs", "worker", id, "creator_id", creatorID, "count", len(list))
		}

		cancel()
	}
}

func (r *SessionRegistry) tick(creatorID string, s *session) {
	defer close(s.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			select {
			case r.refreshQueue <- creatorID:
			case <-s.stop:
				return
			default:
				slog.Warn("refresh queue full, skipping tick", "creator_id", creatorID)
			}
		}
	}
}
