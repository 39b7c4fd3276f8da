package api

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"stickyboard/domain"
)

var errPublisherSaturated = errors.New("event publisher is saturated")

type publisherConfig struct {
	bufferSize     int
	workerCount    int
	maxAttempts    int
	enqueueTimeout time.Duration
	handoffTimeout time.Duration
	retryInitial   time.Duration
	retryMax       time.Duration
}

func publisherConfigFromEnv() publisherConfig {
	cfg := publisherConfig{
		bufferSize:     envInt("EVENTS_BUFFER", 4096),
		workerCount:    envInt("EVENTS_WORKERS", 8),
		maxAttempts:    envInt("EVENTS_MAX_ATTEMPTS", 5),
		enqueueTimeout: envDur("EVENTS_ENQUEUE_TIMEOUT", 30*time.Second),
		handoffTimeout: envDur("EVENTS_HANDOFF_TIMEOUT", 15*time.Millisecond),
		retryInitial:   envDur("EVENTS_RETRY_INITIAL", 250*time.Millisecond),
		retryMax:       envDur("EVENTS_RETRY_MAX", 30*time.Second),
	}
	if cfg.workerCount <= 0 {
		cfg.workerCount = 1
	}
	if cfg.maxAttempts <= 0 {
		cfg.maxAttempts = 1
	}
	if cfg.bufferSize <= 0 {
		cfg.bufferSize = cfg.workerCount * 2
	}
	return cfg
}

type eventBatch struct {
	events  []domain.NoteEvent
	attempt int
}

// EventPublisher decorates a Storage so board activity events are delivered
// off the request path. Failed deliveries are retried with backoff; the feed
// is best effort, so a batch that exhausts its attempts is dropped, not
// surfaced to the client.
type EventPublisher struct {
	Storage

	cfg    publisherConfig
	logger *log.Logger

	workCh   chan *eventBatch
	stopCh   chan struct{}
	workerWG sync.WaitGroup
	retryWG  sync.WaitGroup

	closeOnce sync.Once
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewEventPublisher wraps base with asynchronous event delivery, configured
// from EVENTS_* environment variables.
func NewEventPublisher(base Storage, logger *log.Logger) *EventPublisher {
	return newEventPublisher(base, logger, publisherConfigFromEnv())
}

func newEventPublisher(base Storage, logger *log.Logger, cfg publisherConfig) *EventPublisher {
	if base == nil {
		panic("event publisher requires a storage")
	}
	if logger == nil {
		panic("event publisher requires a logger")
	}
	p := &EventPublisher{
		Storage: base,
		cfg:     cfg,
		logger:  logger,
		workCh:  make(chan *eventBatch, cfg.bufferSize),
		stopCh:  make(chan struct{}),
	}
	for i := 0; i < cfg.workerCount; i++ {
		p.workerWG.Add(1)
		go p.worker(i)
	}
	return p
}

// EnqueueEvents hands the batch to a delivery worker. It only fails when the
// buffer is saturated and the handoff timeout elapses, or after Shutdown.
func (p *EventPublisher) EnqueueEvents(_ context.Context, events []domain.NoteEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &eventBatch{events: append([]domain.NoteEvent(nil), events...)}

	if ok, closed := p.trySend(batch); closed {
		return errors.New("event publisher shutting down")
	} else if ok {
		return nil
	}

	if p.cfg.handoffTimeout <= 0 {
		p.dropped.Add(1)
		return errPublisherSaturated
	}
	timer := time.NewTimer(p.cfg.handoffTimeout)
	defer timer.Stop()
	ok, closed := p.sendWithTimer(batch, timer.C)
	if closed {
		return errors.New("event publisher shutting down")
	}
	if !ok {
		p.dropped.Add(1)
		return errPublisherSaturated
	}
	return nil
}

func (p *EventPublisher) trySend(batch *eventBatch) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()
	select {
	case p.workCh <- batch:
		return true, false
	default:
		return false, false
	}
}

func (p *EventPublisher) sendWithTimer(batch *eventBatch, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()
	select {
	case p.workCh <- batch:
		return true, false
	case <-timer:
		return false, false
	}
}

// Shutdown stops accepting new batches and waits for in-flight deliveries,
// including scheduled retries.
func (p *EventPublisher) Shutdown() {
	p.closeOnce.Do(func() {
		close(p.stopCh)
		close(p.workCh)
	})
	p.workerWG.Wait()
	p.retryWG.Wait()
}

func (p *EventPublisher) worker(id int) {
	defer p.workerWG.Done()
	for batch := range p.workCh {
		if batch == nil {
			continue
		}
		p.deliver(batch, id)
	}
}

func (p *EventPublisher) deliver(batch *eventBatch, workerID int) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.enqueueTimeout)
	err := p.Storage.EnqueueEvents(ctx, batch.events)
	cancel()
	if err == nil {
		p.delivered.Add(uint64(len(batch.events)))
		return
	}

	batch.attempt++
	if batch.attempt >= p.cfg.maxAttempts {
		p.dropped.Add(1)
		p.logger.WithError(err).Errorf("dropping event batch, events=%d, attempts=%d, worker=%d", len(batch.events), batch.attempt, workerID)
		return
	}
	p.logger.WithError(err).Warnf("event delivery failed, events=%d, attempt=%d, worker=%d", len(batch.events), batch.attempt, workerID)
	p.scheduleRetry(batch)
}

func (p *EventPublisher) scheduleRetry(batch *eventBatch) {
	delay := exponentialBackoff(batch.attempt, p.cfg.retryInitial, p.cfg.retryMax)
	p.retryWG.Add(1)
	go func() {
		defer p.retryWG.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-p.stopCh:
			return
		}
		if ok, _ := p.trySend(batch); ok {
			return
		}
		// Buffer full or closed during the backoff window; the feed is best
		// effort, so the batch is dropped rather than blocking the retry pool.
		p.dropped.Add(1)
	}()
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	if attempt <= 0 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}

// PublisherStats is a point-in-time snapshot of delivery progress.
type PublisherStats struct {
	Buffered  int    `json:"buffered"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

func (p *EventPublisher) Stats() PublisherStats {
	return PublisherStats{
		Buffered:  len(p.workCh),
		Delivered: p.delivered.Load(),
		Dropped:   p.dropped.Load(),
	}
}
