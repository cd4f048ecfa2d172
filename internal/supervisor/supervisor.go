// Package supervisor runs one long-lived session loop per subscribed topic
// and restarts it with capped exponential backoff whenever the session ends.
package supervisor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/a-khushal/TickerTUI/internal/models"
	"github.com/a-khushal/TickerTUI/logger"
)

// ErrHalt tells the supervisor the session failed permanently. The topic is
// dropped instead of reconnected; a fresh Subscribe starts over.
var ErrHalt = errors.New("session halted")

// ErrAlreadySubscribed is returned when the topic already has a running task.
var ErrAlreadySubscribed = errors.New("topic already subscribed")

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("supervisor closed")

// RunFunc is one session: it blocks until the stream ends, the context is
// canceled or a fatal condition is hit. attempt starts at 1 and resets after
// a sufficiently long healthy session.
type RunFunc func(ctx context.Context, attempt int) error

// BackoffPolicy shapes the delay between reconnect attempts.
type BackoffPolicy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // fraction of the delay randomized in both directions
}

// Delay returns the deterministic backoff for the given attempt: Base doubled
// per prior attempt, capped at Max.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// jittered spreads Delay by ±Jitter so reconnecting topics do not stampede.
func (p BackoffPolicy) jittered(attempt int, rng *rand.Rand) time.Duration {
	d := p.Delay(attempt)
	if p.Jitter <= 0 {
		return d
	}
	spread := (rng.Float64()*2 - 1) * p.Jitter
	return time.Duration(float64(d) * (1 + spread))
}

// Handle identifies one subscription instance. Re-subscribing the same topic
// yields a new handle.
type Handle struct {
	ID    uuid.UUID
	Topic models.Topic
}

type task struct {
	handle Handle
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the topic tasks. Safe for concurrent use.
type Supervisor struct {
	policy BackoffPolicy
	// a session at least this long counts as healthy and resets the attempt
	// counter
	resetAfter time.Duration

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	rng *rand.Rand
	log *logger.Entry
}

func New(policy BackoffPolicy, resetAfter time.Duration) *Supervisor {
	if policy.Base <= 0 {
		policy.Base = 500 * time.Millisecond
	}
	if policy.Max <= 0 {
		policy.Max = 30 * time.Second
	}
	if resetAfter <= 0 {
		resetAfter = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		policy:     policy,
		resetAfter: resetAfter,
		tasks:      make(map[string]*task),
		ctx:        ctx,
		cancel:     cancel,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		log:        logger.GetLogger().WithComponent("stream_supervisor"),
	}
}

// Subscribe starts the reconnect loop for a topic. At most one task per topic
// key may run at a time.
func (s *Supervisor) Subscribe(topic models.Topic, run RunFunc) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Handle{}, ErrClosed
	}
	key := topic.Key()
	if _, ok := s.tasks[key]; ok {
		return Handle{}, ErrAlreadySubscribed
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{
		handle: Handle{ID: uuid.New(), Topic: topic},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.tasks[key] = t

	s.wg.Add(1)
	go s.loop(ctx, t, run)

	s.log.WithFields(logger.Fields{"topic": key, "handle": t.handle.ID.String()}).Info("topic subscribed")
	return t.handle, nil
}

// Unsubscribe cancels the topic's task and waits for it to stop. Returns
// false when the topic was not subscribed.
func (s *Supervisor) Unsubscribe(topic models.Topic) bool {
	key := topic.Key()

	s.mu.Lock()
	t, ok := s.tasks[key]
	if ok {
		delete(s.tasks, key)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	t.cancel()
	<-t.done
	s.log.WithFields(logger.Fields{"topic": key}).Info("topic unsubscribed")
	return true
}

// Subscribed reports whether the topic currently has a running task.
func (s *Supervisor) Subscribed(topic models.Topic) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[topic.Key()]
	return ok
}

// Topics returns the currently subscribed topics.
func (s *Supervisor) Topics() []models.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Topic, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.handle.Topic)
	}
	return out
}

// Close cancels every task and waits for all loops to exit. The supervisor
// cannot be reused afterwards.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Supervisor) loop(ctx context.Context, t *task, run RunFunc) {
	defer s.wg.Done()
	defer close(t.done)

	key := t.handle.Topic.Key()
	attempt := 0
	for {
		attempt++
		started := time.Now()
		err := run(ctx, attempt)

		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrHalt) {
			s.log.WithFields(logger.Fields{"topic": key}).WithError(err).Error("session halted, dropping topic")
			s.drop(key, t.handle.ID)
			return
		}

		if time.Since(started) >= s.resetAfter {
			attempt = 0
		}

		s.mu.Lock()
		delay := s.policy.jittered(attempt, s.rng)
		s.mu.Unlock()

		s.log.WithFields(logger.Fields{
			"topic":   key,
			"attempt": attempt,
			"delay":   delay.String(),
		}).WithError(err).Warn("session ended, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// drop removes the task entry after a halt, but only if it still owns the
// key; a concurrent re-subscribe must not be clobbered.
func (s *Supervisor) drop(key string, id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[key]; ok && t.handle.ID == id {
		delete(s.tasks, key)
	}
}
