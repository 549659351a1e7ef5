// Package coordinate implements the signal coordination layer: a
// detector registry, a priority queue that multiplexes every
// registered detector's SignalCandidate stream, and a worker that
// dispatches validated candidates to a SignalManager with bounded
// retries. Grounded on internal/alerting/manager.go's fan-out-with-
// retry dispatch loop, generalized from a fixed alert-sink list to a
// priority-ordered detector registry.
package coordinate

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/orderflowlabs/flowengine/internal/detect"
)

// EventType enumerates the coordinator's observable lifecycle events.
type EventType string

const (
	EventDetectorRegistered EventType = "detectorRegistered"
	EventSignalQueued       EventType = "signalQueued"
	EventSignalProcessed    EventType = "signalProcessed"
	EventSignalFailed       EventType = "signalFailed"
	EventDetectorError      EventType = "detectorError"
)

// Event is the coordinator's single observable event type; listeners
// switch on Type and read the fields relevant to it.
type Event struct {
	Type           EventType
	DetectorID     string
	Candidate      *detect.SignalCandidate
	Confirmed      *ConfirmedSignal
	Err            error
	ProcessingTime time.Duration
}

// Config fully specifies the coordinator. Every field is required.
type Config struct {
	MaxQueueDepth            int
	SignalProcessingTimeout  time.Duration
	MaxRetries               int
}

func (c Config) Validate() error {
	switch {
	case c.MaxQueueDepth <= 0:
		return fmt.Errorf("coordinate: max_queue_depth must be positive")
	case c.SignalProcessingTimeout <= 0:
		return fmt.Errorf("coordinate: signal_processing_timeout_ms must be positive")
	case c.MaxRetries < 0:
		return fmt.Errorf("coordinate: max_retries must be non-negative")
	}
	return nil
}

type registration struct {
	detector      detect.Detector
	acceptedTypes map[detect.SignalType]bool
	priority      int
	enabled       bool
}

// Coordinator holds the detector registry and priority queue described
// in spec §4.8. All queue mutation happens on the caller's goroutine
// (via Poll) or the single worker goroutine (via the run loop); the
// two are serialized by mu, so the queue itself need not be lock-free.
type Coordinator struct {
	cfg     Config
	manager SignalManager

	mu         sync.Mutex
	detectors  map[string]*registration
	queue      *priorityQueue

	listeners []func(Event)

	wake    chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New constructs a Coordinator dispatching confirmed work to manager.
// cfg must already have passed Validate(); New panics otherwise, since
// this is a startup-time configuration error.
func New(manager SignalManager, cfg Config) *Coordinator {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return &Coordinator{
		cfg:       cfg,
		manager:   manager,
		detectors: make(map[string]*registration),
		queue:     newPriorityQueue(),
		wake:      make(chan struct{}, 1),
	}
}

// OnEvent registers a listener invoked synchronously for every
// coordinator event. Listeners must not block.
func (c *Coordinator) OnEvent(f func(Event)) {
	c.listeners = append(c.listeners, f)
}

// QueueDepth reports the number of candidates currently queued for
// dispatch, for the API server's /health endpoint.
func (c *Coordinator) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

func (c *Coordinator) emit(e Event) {
	for _, f := range c.listeners {
		f(e)
	}
}

// RegisterDetector adds a detector to the registry with its accepted
// signal types and dispatch priority (lower values drain first).
func (c *Coordinator) RegisterDetector(d detect.Detector, acceptedTypes []detect.SignalType, priority int, enabled bool) {
	c.mu.Lock()
	accepted := make(map[detect.SignalType]bool, len(acceptedTypes))
	for _, t := range acceptedTypes {
		accepted[t] = true
	}
	c.detectors[d.ID()] = &registration{
		detector:      d,
		acceptedTypes: accepted,
		priority:      priority,
		enabled:       enabled,
	}
	c.mu.Unlock()

	c.emit(Event{Type: EventDetectorRegistered, DetectorID: d.ID()})
}

// Start launches the worker goroutine that drains the priority queue.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx)
}

// Stop signals the worker to exit and waits for it to drain.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
}

// Poll drains every registered detector's queued candidates and zone
// updates, validates each candidate from an enabled detector, and
// enqueues it for dispatch. Candidates from disabled detectors are
// discarded, and zone updates are discarded for every detector, since
// nothing in this module consumes them. Called by main.go's trade
// handler right after each enriched trade is dispatched to detectors,
// on the same goroutine — this is the coordinator's "subscription" to detector
// output in a single-producer/single-consumer pipeline with no
// dedicated detector-side event channel.
func (c *Coordinator) Poll(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, reg := range c.detectors {
		status := reg.detector.Status()
		if status.CircuitOpen {
			c.emit(Event{Type: EventDetectorError, DetectorID: id, Err: fmt.Errorf("circuit breaker open")})
		}
		reg.detector.ZoneUpdates() // drain and discard
		if !reg.enabled {
			reg.detector.Candidates() // drain and discard
			continue
		}
		for _, cand := range reg.detector.Candidates() {
			if err := validateCandidate(cand, reg.acceptedTypes); err != nil {
				c.emit(Event{Type: EventDetectorError, DetectorID: id, Err: err})
				continue
			}
			c.enqueueLocked(cand, id, reg.priority, now)
		}
	}
}

func (c *Coordinator) enqueueLocked(cand detect.SignalCandidate, detectorID string, priority int, now time.Time) {
	if c.queue.len() >= c.cfg.MaxQueueDepth {
		if dropped, ok := c.queue.dropLowestPriority(); ok {
			c.emit(Event{Type: EventSignalFailed, DetectorID: dropped.detectorID,
				Candidate: &dropped.candidate, Err: fmt.Errorf("queue overflow: dropped lowest-priority candidate")})
		}
	}
	j := &job{candidate: cand, detectorID: detectorID, priority: priority, enqueuedAt: now}
	c.queue.push(j)
	candCopy := cand
	c.emit(Event{Type: EventSignalQueued, DetectorID: detectorID, Candidate: &candCopy})

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// validateCandidate implements the coordinator's input validation:
// schema (non-empty id/type), finite numeric fields, known type, side
// matches the {buy,sell} family.
func validateCandidate(cand detect.SignalCandidate, accepted map[detect.SignalType]bool) error {
	if cand.ID == "" {
		return fmt.Errorf("candidate missing id")
	}
	if !accepted[cand.Type] {
		return fmt.Errorf("candidate type %q not accepted by this registration", cand.Type)
	}
	if cand.Side != detect.Buy && cand.Side != detect.Sell {
		return fmt.Errorf("candidate side %q is not buy or sell", cand.Side)
	}
	if math.IsNaN(cand.Confidence) || math.IsInf(cand.Confidence, 0) {
		return fmt.Errorf("candidate confidence is not finite")
	}
	if cand.Confidence < 0 || cand.Confidence > 1 {
		return fmt.Errorf("candidate confidence %f out of [0,1]", cand.Confidence)
	}
	if cand.Price.IsZero() {
		return fmt.Errorf("candidate price is zero")
	}
	return nil
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-c.wake:
			c.drain(ctx)
		}
	}
}

func (c *Coordinator) drain(ctx context.Context) {
	for {
		c.mu.Lock()
		j, ok := c.queue.pop()
		c.mu.Unlock()
		if !ok {
			return
		}
		c.process(ctx, j)
	}
}

func (c *Coordinator) process(ctx context.Context, j *job) {
	start := time.Now()
	deadline, cancel := context.WithTimeout(ctx, c.cfg.SignalProcessingTimeout)
	defer cancel()

	confirmed, produced, err := c.manager.Handle(deadline, j.candidate)
	elapsed := time.Since(start)

	if err != nil {
		j.attempts++
		if j.attempts <= c.cfg.MaxRetries {
			log.Printf("coordinate: retrying job %s after error: %v (attempt %d)", j.candidate.ID, err, j.attempts)
			c.mu.Lock()
			c.queue.push(j)
			c.mu.Unlock()
			return
		}
		c.emit(Event{Type: EventSignalFailed, DetectorID: j.detectorID, Candidate: &j.candidate, Err: err, ProcessingTime: elapsed})
		return
	}

	if !produced {
		return
	}
	c.emit(Event{Type: EventSignalProcessed, DetectorID: j.detectorID, Candidate: &j.candidate, Confirmed: &confirmed, ProcessingTime: elapsed})
}
