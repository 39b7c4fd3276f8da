package api

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"stickyboard/domain"
)

type recordingSink struct {
	Storage

	mu       sync.Mutex
	batches  [][]domain.NoteEvent
	failures int
}

func (s *recordingSink) EnqueueEvents(_ context.Context, events []domain.NoteEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("queue offline")
	}
	s.batches = append(s.batches, append([]domain.NoteEvent(nil), events...))
	return nil
}

func (s *recordingSink) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func testPublisherConfig() publisherConfig {
	return publisherConfig{
		bufferSize:     16,
		workerCount:    2,
		maxAttempts:    5,
		enqueueTimeout: time.Second,
		handoffTimeout: 10 * time.Millisecond,
		retryInitial:   time.Millisecond,
		retryMax:       5 * time.Millisecond,
	}
}

func sampleEvents() []domain.NoteEvent {
	return []domain.NoteEvent{{
		BoardID: "b1",
		NoteID:  "n1",
		Actor:   "user",
		Kind:    domain.EventNoteSaved,
		Time:    nextTimestamp(),
	}}
}

func TestEventPublisherDeliversAsync(t *testing.T) {
	sink := &recordingSink{}
	pub := newEventPublisher(sink, log.New(), testPublisherConfig())

	if err := pub.EnqueueEvents(context.Background(), sampleEvents()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	pub.Shutdown()

	if sink.delivered() != 1 {
		t.Fatalf("expected one delivered batch, got %d", sink.delivered())
	}
	if stats := pub.Stats(); stats.Delivered != 1 || stats.Dropped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestEventPublisherRetriesUntilDelivered(t *testing.T) {
	sink := &recordingSink{failures: 3}
	pub := newEventPublisher(sink, log.New(), testPublisherConfig())

	if err := pub.EnqueueEvents(context.Background(), sampleEvents()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.delivered() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	pub.Shutdown()

	if sink.delivered() != 1 {
		t.Fatalf("expected delivery after retries, got %d batches", sink.delivered())
	}
}

func TestEventPublisherDropsAfterMaxAttempts(t *testing.T) {
	sink := &recordingSink{failures: 100}
	logger := log.New()
	logger.SetOutput(io.Discard)
	cfg := testPublisherConfig()
	cfg.maxAttempts = 2
	pub := newEventPublisher(sink, logger, cfg)

	if err := pub.EnqueueEvents(context.Background(), sampleEvents()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for pub.Stats().Dropped == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	pub.Shutdown()

	if stats := pub.Stats(); stats.Dropped != 1 || stats.Delivered != 0 {
		t.Fatalf("expected the batch to be dropped, stats: %+v", stats)
	}
	if sink.delivered() != 0 {
		t.Fatalf("no batch should have reached the sink, got %d", sink.delivered())
	}
}

func TestEventPublisherRejectsAfterShutdown(t *testing.T) {
	pub := newEventPublisher(&recordingSink{}, log.New(), testPublisherConfig())
	pub.Shutdown()

	if err := pub.EnqueueEvents(context.Background(), sampleEvents()); err == nil {
		t.Fatal("expected enqueue after shutdown to fail")
	}
}

func TestEventPublisherIgnoresEmptyBatch(t *testing.T) {
	sink := &recordingSink{}
	pub := newEventPublisher(sink, log.New(), testPublisherConfig())
	if err := pub.EnqueueEvents(context.Background(), nil); err != nil {
		t.Fatalf("empty batch must be a no-op, got %v", err)
	}
	pub.Shutdown()
	if sink.delivered() != 0 {
		t.Fatalf("nothing should be delivered, got %d", sink.delivered())
	}
}
