package broker

import (
	"context"
	"sync"
	"time"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
)

// Subscription streams the events of one job by polling the store. It
// closes itself once the completion event was delivered.
type Subscription struct {
	events chan []domain.JobEvent
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Subscribe starts polling the events of jobID with ids greater than after.
func (b *Broker) Subscribe(ctx context.Context, jobID string, after *int64) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		events: make(chan []domain.JobEvent),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	var cursor *int64
	if after != nil {
		v := *after
		cursor = &v
	}
	go sub.poll(ctx, b, jobID, cursor)
	return sub
}

// Events is closed when the job completed, the subscription was cancelled
// or polling failed; check Err afterwards.
func (s *Subscription) Events() <-chan []domain.JobEvent { return s.events }

func (s *Subscription) Unsubscribe() {
	s.cancel()
	<-s.done
}

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) poll(ctx context.Context, b *Broker, jobID string, after *int64) {
	defer close(s.done)
	defer close(s.events)
	defer s.cancel()

	ticker := time.NewTicker(b.cfg.EventPollInterval)
	defer ticker.Stop()
	for {
		events, err := b.store.ListEvents(ctx, jobID, after)
		if err != nil {
			if ctx.Err() == nil {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
		if len(events) > 0 {
			select {
			case s.events <- events:
			case <-ctx.Done():
				return
			}
			last := events[len(events)-1].ID
			after = &last
			if containsCompletion(events) {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func containsCompletion(events []domain.JobEvent) bool {
	for _, event := range events {
		if event.Type == domain.EventTypeCompletion {
			return true
		}
	}
	return false
}
