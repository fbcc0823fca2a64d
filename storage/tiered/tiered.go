// Package tiered provides a Hot/Cold counter storage that meters on a fast
// store (Hot) and mirrors every accepted increment to a durable store (Cold).
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mihaimyh/promptbuddy/pkg/quota"
)

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the authoritative counter store (e.g., Redis, Memory)
	Hot quota.Storage

	// Cold is the durable mirror (e.g., Postgres, Firestore). It receives one
	// increment for every increment accepted by Hot.
	Cold quota.Storage

	// AsyncUsageSync mirrors increments from a background worker. If false,
	// the Cold write happens inside Increment (slower but never queued).
	AsyncUsageSync bool

	// SyncBufferSize is the size of the buffered channel for async mirroring.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when a mirror write fails or is dropped.
	// Essential for monitoring drift between Hot and Cold.
	AsyncErrorHandler func(error)
}

// Storage implements quota.Storage with two backends:
// - Hot-Primary: Increment is decided by Hot alone
// - Audit Mirror: each accepted increment is replayed on Cold
// - Degraded Read: GetUsed falls back to Cold when Hot fails
type Storage struct {
	hot  quota.Storage
	cold quota.Storage
	conf Config

	syncQueue chan func() error
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// mu orders enqueues against Close so no job lands after the final drain
	mu     sync.RWMutex
	closed bool
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncUsageSync {
		s.startWorker()
	}

	return s, nil
}

// Close stops the mirror worker after draining queued writes. It does not close
// the underlying stores.
func (s *Storage) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.shutdown)
		s.mu.Unlock()
		s.wg.Wait()
	})
	return nil
}

// startWorker runs the background mirror loop.
// Jobs run one at a time, so Cold sees increments in the order Hot accepted them.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				s.run(job)
			case <-s.shutdown:
				for {
					select {
					case job := <-s.syncQueue:
						s.run(job)
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) run(job func() error) {
	if err := job(); err != nil {
		s.reportError(fmt.Errorf("tiered sync failed: %w", err))
	}
}

func (s *Storage) reportError(err error) {
	if s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(err)
	}
}

// GetUsed implements quota.Storage. Hot answers; Cold is only consulted when Hot fails.
func (s *Storage) GetUsed(ctx context.Context, subject, dayKey string, kind quota.Kind) (int, error) {
	used, err := s.hot.GetUsed(ctx, subject, dayKey, kind)
	if err == nil {
		return used, nil
	}

	coldUsed, coldErr := s.cold.GetUsed(ctx, subject, dayKey, kind)
	if coldErr != nil {
		return 0, errors.Join(err, coldErr)
	}
	return coldUsed, nil
}

// Increment implements quota.Storage with the hot-primary/audit-mirror strategy.
func (s *Storage) Increment(ctx context.Context, subject, dayKey string, kind quota.Kind) (int, error) {
	used, err := s.hot.Increment(ctx, subject, dayKey, kind)
	if err != nil {
		return 0, err
	}

	if !s.conf.AsyncUsageSync {
		// Hot already accepted the unit, so a failed mirror is reported, not returned
		if _, err := s.cold.Increment(ctx, subject, dayKey, kind); err != nil {
			s.reportError(fmt.Errorf("tiered storage: sync cold write failed: %w", err))
		}
		return used, nil
	}

	job := func() error {
		// Background context so the mirror completes after the request ends
		_, err := s.cold.Increment(context.Background(), subject, dayKey, kind)
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.reportError(errors.New("tiered storage: closed, dropping cold write"))
		return used, nil
	}

	select {
	case s.syncQueue <- job:
	default:
		s.reportError(errors.New("tiered storage: sync queue full, dropping cold write"))
	}

	return used, nil
}
