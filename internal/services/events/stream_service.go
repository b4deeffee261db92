package events

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/radekstepan/therascript-sub007/internal/interfaces"
	"github.com/radekstepan/therascript-sub007/internal/models"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind starts losing events; delivery is best-effort.
const subscriberBuffer = 256

// Service implements StreamService as an in-process fan-out broadcaster
// keyed by job id. Publishing is wait-free: a full subscriber channel drops
// the event for that subscriber only.
type Service struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan models.StreamEvent
	nextID int
	closed bool
	logger arbor.ILogger
}

// NewService creates a new stream service
func NewService(logger arbor.ILogger) interfaces.StreamService {
	return &Service{
		subs:   make(map[string]map[int]chan models.StreamEvent),
		logger: logger,
	}
}

// Publish fills in the event's job id and timestamp and broadcasts it to all
// current subscribers of that job. Never blocks and never fails.
func (s *Service) Publish(jobID string, event models.StreamEvent) {
	event.JobID = jobID
	event.Timestamp = time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}

	channels := s.subs[jobID]
	if len(channels) == 0 {
		return
	}

	for id, ch := range channels {
		select {
		case ch <- event:
		default:
			s.logger.Trace().
				Str("job_id", jobID).
				Int("subscriber", id).
				Str("event_type", string(event.Type)).
				Msg("Subscriber channel full, event dropped")
		}
	}
}

// Subscribe returns a channel of events for one job plus an unsubscribe
// function. Events published before the subscription are not replayed.
func (s *Service) Subscribe(jobID string) (<-chan models.StreamEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan models.StreamEvent, subscriberBuffer)

	if s.closed {
		close(ch)
		return ch, func() {}
	}

	if s.subs[jobID] == nil {
		s.subs[jobID] = make(map[int]chan models.StreamEvent)
	}
	id := s.nextID
	s.nextID++
	s.subs[jobID][id] = ch

	s.logger.Debug().
		Str("job_id", jobID).
		Int("subscriber_count", len(s.subs[jobID])).
		Msg("Stream subscriber added")

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if channels, ok := s.subs[jobID]; ok {
				if _, ok := channels[id]; ok {
					delete(channels, id)
					close(ch)
				}
				if len(channels) == 0 {
					delete(s.subs, jobID)
				}
			}
		})
	}

	return ch, unsubscribe
}

// Close shuts down the service and closes all subscriber channels
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for jobID, channels := range s.subs {
		for _, ch := range channels {
			close(ch)
		}
		delete(s.subs, jobID)
	}

	s.logger.Info().Msg("Stream service closed")
	return nil
}
