// Package fanout delivers job snapshots to any number of listeners.
//
// Each subscription keeps at most one pending snapshot per job, replaced by
// newer versions, so a slow listener skips intermediate states instead of
// blocking the publisher or other listeners.
package fanout

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
)

var ErrClosed = errors.New("subscription closed")

// finishedTTL is how long a subscription remembers the delivered version of a
// completed or failed job. Late out-of-order snapshots of that job are
// rejected until then; afterwards the entry is dropped.
const finishedTTL = time.Minute

type Broker struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool

	retire time.Duration
	now    func() time.Time
}

func NewBroker() *Broker {
	return &Broker{
		subs:   make(map[*Subscription]struct{}),
		retire: finishedTTL,
		now:    time.Now,
	}
}

// Publish hands a snapshot to every subscription. It never blocks on listeners.
func (b *Broker) Publish(job *entity.Job) {
	if job == nil {
		return
	}
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.offer(job)
	}
}

// Subscribe starts receiving snapshots published from now on. Earlier
// snapshots are not replayed.
func (b *Broker) Subscribe() *Subscription {
	s := &Subscription{
		broker:    b,
		pending:   make(map[string]*entity.Job),
		delivered: make(map[string]uint64),
		finished:  make(map[string]time.Time),
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closeLocked()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.mu.Lock()
		s.closeLocked()
		s.mu.Unlock()
	}
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

type Subscription struct {
	broker *Broker

	mu        sync.Mutex
	pending   map[string]*entity.Job
	delivered map[string]uint64
	finished  map[string]time.Time
	closed    bool

	signal chan struct{}
	done   chan struct{}
}

func (s *Subscription) offer(job *entity.Job) {
	s.mu.Lock()
	if s.closed || job.Version <= s.delivered[job.ID] {
		s.mu.Unlock()
		return
	}
	if cur, ok := s.pending[job.ID]; ok && cur.Version >= job.Version {
		s.mu.Unlock()
		return
	}
	s.pending[job.ID] = job.Clone()
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next blocks until at least one snapshot is pending and returns all of them
// ordered by version. It returns ErrClosed once the subscription is closed.
func (s *Subscription) Next(ctx context.Context) ([]*entity.Job, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if len(s.pending) > 0 {
			now := s.broker.now()
			s.retireFinishedLocked(now)
			out := make([]*entity.Job, 0, len(s.pending))
			for id, job := range s.pending {
				out = append(out, job)
				s.delivered[id] = job.Version
				if job.Status.IsTerminal() {
					s.finished[id] = now
				}
				delete(s.pending, id)
			}
			s.mu.Unlock()
			sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
			return out, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, ErrClosed
		case <-s.signal:
		}
	}
}

// retireFinishedLocked forgets terminal jobs delivered more than the broker's
// retire interval ago, keeping delivered bounded on long-lived subscriptions.
func (s *Subscription) retireFinishedLocked(now time.Time) {
	for id, at := range s.finished {
		if now.Sub(at) >= s.broker.retire {
			delete(s.finished, id)
			delete(s.delivered, id)
		}
	}
}

func (s *Subscription) Close() {
	s.broker.remove(s)
	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
}

// Done is closed when the subscription or its broker is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	s.pending = nil
	close(s.done)
}
