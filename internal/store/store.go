// Package store keeps per-domain snapshots synchronized with the trading
// server: pushes merge in, local edits write back debounced, and polling
// covers the gaps while the push connection is down.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tradedeck/internal/config"
	"github.com/aristath/tradedeck/internal/domain"
	"github.com/aristath/tradedeck/internal/prefs"
	"github.com/aristath/tradedeck/internal/remote"
	"github.com/aristath/tradedeck/internal/router"
)

// Snapshot is the read surface of a store: the data plus its sync status.
type Snapshot[T any] struct {
	Data        T         `json:"data"`
	IsLoading   bool      `json:"is_loading"`
	LastError   string    `json:"last_error,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
	Stale       bool      `json:"stale,omitempty"`
}

// Deps bundles what every concrete store needs.
type Deps struct {
	Client    *remote.Client
	Router    *router.Router
	Cache     *prefs.Cache
	Sync      config.SyncConfig
	Connected func() bool
	Clock     Clock
	Log       zerolog.Logger
}

// Options configures the generic sync machinery for one domain.
type Options[T any] struct {
	// Name keys the cache entry and the log component.
	Name string
	// Fetch pulls a fresh snapshot from the server.
	Fetch func(ctx context.Context) (T, error)
	// WriteBack pushes a locally mutated snapshot to the server. Nil for
	// read-only domains.
	WriteBack func(ctx context.Context, data T) error
	// Connected reports whether the push connection is up. When it is, the
	// fallback poll loop stays idle.
	Connected func() bool

	Clock     Clock
	Debounce  time.Duration
	WriteTTL  time.Duration
	PollEvery time.Duration
	Cache     *prefs.Cache
	Log       zerolog.Logger
}

// Store is the generic sync core shared by the domain stores. Reads return
// copies; writers go through ApplyPush (server authority) or Mutate
// (optimistic local edit with debounced write-back).
type Store[T any] struct {
	name string
	opts Options[T]
	log  zerolog.Logger

	mu          sync.RWMutex
	data        T
	loading     bool
	lastError   string
	lastUpdated time.Time
	stale       bool

	pendingID    string
	pendingTimer Timer
	ttlTimer     Timer
	writeFailed  bool
	prevStatus   domain.Status

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	onChange func(name string)
}

// NewStore builds the sync core. Call Start to begin syncing and Close to
// tear it down.
func NewStore[T any](opts Options[T]) *Store[T] {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store[T]{
		name:   opts.Name,
		opts:   opts,
		log:    opts.Log.With().Str("component", "store").Str("domain", opts.Name).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOnChange registers a single change hook, invoked after every snapshot
// change with the store name. Must be called before Start.
func (s *Store[T]) SetOnChange(fn func(name string)) { s.onChange = fn }

// Start seeds the snapshot from the cache if one exists, kicks off the
// initial pull, and starts the fallback poll loop.
func (s *Store[T]) Start() {
	if s.opts.Cache != nil {
		var cached T
		fresh, err := s.opts.Cache.Load(s.name, &cached)
		if err == nil {
			s.mu.Lock()
			// A push or pull that already landed always beats the seed.
			if s.lastUpdated.IsZero() {
				s.data = cached
				s.stale = !fresh
				s.mu.Unlock()
				s.log.Debug().Bool("fresh", fresh).Msg("Seeded snapshot from cache")
				s.notify()
			} else {
				s.mu.Unlock()
			}
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Refresh()
	}()

	if s.opts.PollEvery > 0 {
		s.wg.Add(1)
		go s.pollLoop()
	}
}

// Close stops timers and background work. Pending write-backs are abandoned.
func (s *Store[T]) Close() {
	s.cancel()
	s.mu.Lock()
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
		s.pendingTimer = nil
	}
	if s.ttlTimer != nil {
		s.ttlTimer.Stop()
		s.ttlTimer = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Snapshot returns a copy of the current state.
func (s *Store[T]) Snapshot() Snapshot[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot[T]{
		Data:        s.data,
		IsLoading:   s.loading,
		LastError:   s.lastError,
		LastUpdated: s.lastUpdated,
		Stale:       s.stale,
	}
}

// Pending reports whether a local edit is awaiting write-back confirmation.
func (s *Store[T]) Pending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingID != ""
}

// Refresh pulls a fresh snapshot from the server and replaces the local one.
// Concurrent refreshes coalesce into a single in-flight pull.
func (s *Store[T]) Refresh() {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return
	}
	s.loading = true
	s.mu.Unlock()
	s.notify()

	data, err := s.opts.Fetch(s.ctx)

	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.lastError = err.Error()
		s.mu.Unlock()
		if s.ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("Snapshot refresh failed")
		}
		s.notify()
		return
	}
	s.data = data
	s.lastError = ""
	s.stale = false
	s.lastUpdated = s.opts.Clock.Now()
	s.mu.Unlock()

	s.saveCache(data)
	s.notify()
}

// ApplyPush merges a server-originated update into the snapshot. While a
// local edit is pending and its write-back has not failed, the push is
// suppressed so the optimistic state is not clobbered mid-flight. Once the
// write-back has failed, the authoritative push wins and the pending edit is
// discarded.
func (s *Store[T]) ApplyPush(merge func(cur T) T) {
	s.mu.Lock()
	if s.pendingID != "" {
		if !s.writeFailed {
			s.mu.Unlock()
			s.log.Debug().Msg("Suppressing server push while local write is pending")
			return
		}
		s.log.Debug().Msg("Authoritative push corrects a failed local write")
		s.clearPendingLocked()
	}
	s.data = merge(s.data)
	s.lastError = ""
	s.stale = false
	s.lastUpdated = s.opts.Clock.Now()
	data := s.data
	s.mu.Unlock()

	s.saveCache(data)
	s.notify()
}

// Mutate applies a local edit immediately and schedules a debounced
// write-back. A new edit inside the debounce window supersedes the previous
// schedule, so a burst of edits produces a single write. If the write is not
// confirmed before the revert deadline the local state is discarded in favor
// of a fresh server pull.
func (s *Store[T]) Mutate(edit func(cur T) T) {
	s.mu.Lock()
	s.data = edit(s.data)
	s.lastUpdated = s.opts.Clock.Now()

	id := uuid.NewString()
	s.pendingID = id
	s.writeFailed = false
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
	}
	s.pendingTimer = s.opts.Clock.AfterFunc(s.opts.Debounce, func() { s.flush(id) })
	if s.ttlTimer != nil {
		s.ttlTimer.Stop()
	}
	if s.opts.WriteTTL > 0 {
		s.ttlTimer = s.opts.Clock.AfterFunc(s.opts.WriteTTL, func() { s.expirePending(id) })
	}
	s.mu.Unlock()
	s.notify()
}

// HandleConnectionState refreshes the snapshot when the push connection
// comes (back) up, so missed updates are reconciled immediately.
func (s *Store[T]) HandleConnectionState(state domain.ConnectionState) {
	s.mu.Lock()
	prev := s.prevStatus
	s.prevStatus = state.Status
	s.mu.Unlock()

	if state.Status == domain.StatusConnected && prev != domain.StatusConnected && prev != "" {
		s.log.Debug().Msg("Connection restored, refreshing snapshot")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Refresh()
		}()
	}
}

func (s *Store[T]) flush(id string) {
	s.mu.RLock()
	if s.pendingID != id {
		s.mu.RUnlock()
		return
	}
	data := s.data
	s.mu.RUnlock()

	err := s.opts.WriteBack(s.ctx, data)

	s.mu.Lock()
	if s.pendingID != id {
		// A newer edit superseded this write while it was in flight.
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.lastError = err.Error()
		s.writeFailed = true
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("Write-back failed, keeping local edit until revert deadline")
		s.notify()
		return
	}
	s.clearPendingLocked()
	s.lastError = ""
	s.mu.Unlock()

	s.log.Debug().Msg("Write-back confirmed")
	s.saveCache(data)
	s.notify()
}

func (s *Store[T]) expirePending(id string) {
	s.mu.Lock()
	if s.pendingID != id {
		s.mu.Unlock()
		return
	}
	s.clearPendingLocked()
	s.mu.Unlock()

	s.log.Warn().Msg("Write-back unconfirmed past the revert deadline, reverting to server state")
	s.Refresh()
}

// clearPendingLocked resolves the pending edit and stops its timers.
// Caller must hold mu.
func (s *Store[T]) clearPendingLocked() {
	s.pendingID = ""
	s.writeFailed = false
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
		s.pendingTimer = nil
	}
	if s.ttlTimer != nil {
		s.ttlTimer.Stop()
		s.ttlTimer = nil
	}
}

func (s *Store[T]) pollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		if s.opts.Connected != nil && s.opts.Connected() {
			continue
		}
		s.log.Debug().Msg("Push connection down, polling snapshot")
		s.Refresh()
	}
}

func (s *Store[T]) saveCache(data T) {
	if s.opts.Cache == nil {
		return
	}
	if err := s.opts.Cache.Store(s.name, data); err != nil {
		s.log.Debug().Err(err).Msg("Failed to cache snapshot")
	}
}

func (s *Store[T]) notify() {
	if s.onChange != nil {
		s.onChange(s.name)
	}
}
