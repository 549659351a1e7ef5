package coordinate

import (
	"context"
	"testing"
	"time"

	"github.com/orderflowlabs/flowengine/internal/detect"
	"github.com/orderflowlabs/flowengine/internal/fxmath"
	"github.com/orderflowlabs/flowengine/internal/preprocess"
)

type stubDetector struct {
	id         string
	candidates []detect.SignalCandidate
	status     detect.Status
}

func (s *stubDetector) ID() string                                   { return s.id }
func (s *stubDetector) OnEnrichedTrade(preprocess.EnrichedTrade)      {}
func (s *stubDetector) Status() detect.Status                        { return s.status }
func (s *stubDetector) ZoneUpdates() []detect.ZoneUpdate             { return nil }
func (s *stubDetector) Candidates() []detect.SignalCandidate {
	out := s.candidates
	s.candidates = nil
	return out
}

func mustPrice(t *testing.T, v string) fxmath.Price {
	t.Helper()
	p, ok := fxmath.NewPrice(v)
	if !ok {
		t.Fatalf("invalid price %q", v)
	}
	return p
}

func defaultCoordinatorConfig() Config {
	return Config{MaxQueueDepth: 8, SignalProcessingTimeout: time.Second, MaxRetries: 2}
}

func TestValidateCandidateRejectsUnknownType(t *testing.T) {
	accepted := map[detect.SignalType]bool{detect.SignalAbsorption: true}
	cand := detect.SignalCandidate{ID: "x", Type: detect.SignalExhaustion, Side: detect.Buy, Confidence: 0.5, Price: mustPrice(t, "1")}
	if err := validateCandidate(cand, accepted); err == nil {
		t.Error("expected rejection of a type not in the accepted set")
	}
}

func TestValidateCandidateRejectsOutOfRangeConfidence(t *testing.T) {
	accepted := map[detect.SignalType]bool{detect.SignalAbsorption: true}
	cand := detect.SignalCandidate{ID: "x", Type: detect.SignalAbsorption, Side: detect.Buy, Confidence: 1.5, Price: mustPrice(t, "1")}
	if err := validateCandidate(cand, accepted); err == nil {
		t.Error("expected rejection of confidence outside [0,1]")
	}
}

func TestPriorityQueueDrainsLowestNumberFirst(t *testing.T) {
	pq := newPriorityQueue()
	now := time.Now()
	pq.push(&job{priority: 5, enqueuedAt: now})
	pq.push(&job{priority: 1, enqueuedAt: now.Add(time.Second)})
	pq.push(&job{priority: 1, enqueuedAt: now})

	first, _ := pq.pop()
	if first.priority != 1 || !first.enqueuedAt.Equal(now) {
		t.Errorf("expected lowest-numbered priority, earliest job first, got priority=%d at %v", first.priority, first.enqueuedAt)
	}
	second, _ := pq.pop()
	if second.priority != 1 {
		t.Errorf("expected remaining priority-1 job next, got %d", second.priority)
	}
	third, _ := pq.pop()
	if third.priority != 5 {
		t.Errorf("expected priority-5 job last, got %d", third.priority)
	}
}

type alwaysConfirmManager struct{}

func (alwaysConfirmManager) Handle(ctx context.Context, cand detect.SignalCandidate) (ConfirmedSignal, bool, error) {
	return ConfirmedSignal{ID: "c", Type: cand.Type, Side: cand.Side, Price: cand.Price, Confidence: cand.Confidence}, true, nil
}

func TestCoordinatorEndToEndProcessesQueuedSignal(t *testing.T) {
	c := New(alwaysConfirmManager{}, defaultCoordinatorConfig())

	var processed []Event
	c.OnEvent(func(e Event) {
		if e.Type == EventSignalProcessed {
			processed = append(processed, e)
		}
	})

	d := &stubDetector{id: "absorption"}
	c.RegisterDetector(d, []detect.SignalType{detect.SignalAbsorption}, 1, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	d.candidates = append(d.candidates, detect.SignalCandidate{
		ID: "a-1", Type: detect.SignalAbsorption, Side: detect.Sell,
		Price: mustPrice(t, "100.00"), Confidence: 0.8, Timestamp: time.Now(),
	})
	c.Poll(time.Now())

	deadline := time.Now().Add(2 * time.Second)
	for len(processed) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(processed) == 0 {
		t.Fatal("expected coordinator to process the queued candidate")
	}
}
