// Package memory provides an in-process implementation of the quota.Storage interface.
//
// Every subject is owned by a single actor goroutine that applies commands one at a
// time, so increments for a subject are totally ordered no matter how many request
// handlers race on it. Different subjects never contend with each other.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mihaimyh/promptbuddy/pkg/quota"
)

// DefaultIdleTimeout retires an actor that received no command for this long.
// It is longer than any calendar day, so a retired actor only held counters for
// days that are no longer read.
const DefaultIdleTimeout = 48 * time.Hour

type opKind int

const (
	opGet opKind = iota
	opIncrement
)

type counterKey struct {
	dayKey string
	kind   quota.Kind
}

type command struct {
	op    opKind
	key   counterKey
	reply chan int
}

// actor owns the counters of exactly one subject
type actor struct {
	subject string
	cmds    chan command
	done    chan struct{}
	counts  map[counterKey]int
	latest  string
}

// apply runs one command. An increment for a newer day drops the older days.
func (a *actor) apply(cmd command) int {
	if cmd.op == opIncrement {
		if cmd.key.dayKey > a.latest {
			for k := range a.counts {
				if k.dayKey < cmd.key.dayKey {
					delete(a.counts, k)
				}
			}
			a.latest = cmd.key.dayKey
		}
		a.counts[cmd.key]++
	}
	return a.counts[cmd.key]
}

// Option configures the in-memory storage
type Option func(*Storage)

// WithIdleTimeout sets how long an actor may sit idle before it is stopped and
// its counters dropped. Zero or negative keeps actors for the life of the Storage.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Storage) {
		s.idleTimeout = d
	}
}

// Storage implements quota.Storage with one actor per subject
type Storage struct {
	mu          sync.Mutex
	actors      map[string]*actor
	stop        chan struct{}
	closed      bool
	wg          sync.WaitGroup
	idleTimeout time.Duration
}

// New creates a new in-memory storage adapter
func New(opts ...Option) *Storage {
	s := &Storage{
		actors:      make(map[string]*actor),
		stop:        make(chan struct{}),
		idleTimeout: DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetUsed implements quota.Storage
func (s *Storage) GetUsed(ctx context.Context, subject, dayKey string, kind quota.Kind) (int, error) {
	return s.send(ctx, subject, dayKey, kind, opGet)
}

// Increment implements quota.Storage
func (s *Storage) Increment(ctx context.Context, subject, dayKey string, kind quota.Kind) (int, error) {
	return s.send(ctx, subject, dayKey, kind, opIncrement)
}

func (s *Storage) send(ctx context.Context, subject, dayKey string, kind quota.Kind, op opKind) (int, error) {
	if err := quota.ValidateKey(subject, dayKey, kind); err != nil {
		return 0, err
	}

	cmd := command{
		op:    op,
		key:   counterKey{dayKey: dayKey, kind: kind},
		reply: make(chan int, 1),
	}

	for {
		a, err := s.actorFor(subject)
		if err != nil {
			return 0, err
		}

		select {
		case a.cmds <- cmd:
		case <-a.done:
			// Retired between lookup and send; the next lookup starts a fresh actor
			continue
		case <-s.stop:
			return 0, quota.ErrStorageUnavailable
		case <-ctx.Done():
			return 0, ctx.Err()
		}

		// Once accepted the command is applied even if the caller gives up waiting.
		select {
		case used := <-cmd.reply:
			return used, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// actorFor returns the actor owning subject, starting it on first use
func (s *Storage) actorFor(subject string) (*actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, quota.ErrStorageUnavailable
	}

	a, ok := s.actors[subject]
	if !ok {
		a = &actor{
			subject: subject,
			cmds:    make(chan command),
			done:    make(chan struct{}),
			counts:  make(map[counterKey]int),
		}
		s.actors[subject] = a
		s.wg.Add(1)
		go s.run(a)
	}
	return a, nil
}

func (s *Storage) run(a *actor) {
	defer s.wg.Done()

	var idle <-chan time.Time
	var timer *time.Timer
	if s.idleTimeout > 0 {
		timer = time.NewTimer(s.idleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case cmd := <-a.cmds:
			cmd.reply <- a.apply(cmd)
			if timer != nil {
				timer.Reset(s.idleTimeout)
			}
		case <-idle:
			s.retire(a)
			return
		case <-s.stop:
			return
		}
	}
}

// retire unregisters a before it stops receiving, so no new lookup can return it
func (s *Storage) retire(a *actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actors[a.subject] == a {
		delete(s.actors, a.subject)
	}
	close(a.done)
}

// Subjects returns the number of subjects with a running actor
func (s *Storage) Subjects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actors)
}

// Close stops every actor. Counters are lost; subsequent calls fail with quota.ErrStorageUnavailable.
func (s *Storage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
