package detect

import (
	"fmt"
	"sync"
	"time"

	"github.com/orderflowlabs/flowengine/internal/preprocess"
	"github.com/orderflowlabs/flowengine/internal/rolling"
)

// CVDWindow configures one rolling cumulative-volume-delta window.
type CVDWindow struct {
	Name     string
	Duration time.Duration
	Capacity int
}

// CVDConfig fully specifies DeltaCVDDetector. ShortWindow must name one
// of Windows; the detector's short-window z-score is what gates
// emission, while the remaining windows must agree in sign.
type CVDConfig struct {
	Windows        []CVDWindow
	ShortWindow    string
	ZScoreThreshold float64
	EventCooldown  time.Duration
}

func (c CVDConfig) Validate() error {
	if len(c.Windows) < 2 {
		return fmt.Errorf("cvd: at least two windows are required")
	}
	found := false
	for _, w := range c.Windows {
		if w.Name == "" {
			return fmt.Errorf("cvd: window name must be set")
		}
		if w.Duration <= 0 {
			return fmt.Errorf("cvd: window %q duration must be positive", w.Name)
		}
		if w.Capacity <= 0 {
			return fmt.Errorf("cvd: window %q capacity must be positive", w.Name)
		}
		if w.Name == c.ShortWindow {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("cvd: short_window %q does not name a configured window", c.ShortWindow)
	}
	if c.ZScoreThreshold <= 0 {
		return fmt.Errorf("cvd: z_score_threshold must be positive")
	}
	if c.EventCooldown <= 0 {
		return fmt.Errorf("cvd: event_cooldown_ms must be positive")
	}
	return nil
}

// cvdResult is the pooled object carrying one window's current
// statistics, reused across trades to bound allocator pressure on the
// hot path per spec §4.7.
type cvdResult struct {
	windowName string
	mean       float64
	stddev     float64
	zscore     float64
	cumulative float64
}

var cvdResultPool = sync.Pool{New: func() any { return new(cvdResult) }}

func acquireCVDResult() *cvdResult {
	r := cvdResultPool.Get().(*cvdResult)
	*r = cvdResult{}
	return r
}

func releaseCVDResult(r *cvdResult) { cvdResultPool.Put(r) }

type cvdWindowState struct {
	cfg        CVDWindow
	cumulative float64
	history    *rolling.Window[float64]
}

// DeltaCVDDetector confirms momentum by tracking cumulative signed
// volume across multiple window sizes and emitting when the short
// window's z-score crosses a threshold and the longer windows agree
// in sign. Grounded on internal/signals/quantitative.go's ZScore
// computation, extended to multiple concurrent windows.
type DeltaCVDDetector struct {
	id      string
	cfg     CVDConfig
	windows map[string]*cvdWindowState

	lastSignal time.Time
	candidates []SignalCandidate
	status     Status
	nextID     uint64
}

func NewDeltaCVDDetector(id string, cfg CVDConfig) *DeltaCVDDetector {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	d := &DeltaCVDDetector{
		id:      id,
		cfg:     cfg,
		windows: make(map[string]*cvdWindowState, len(cfg.Windows)),
	}
	for _, w := range cfg.Windows {
		d.windows[w.Name] = &cvdWindowState{
			cfg:     w,
			history: rolling.New[float64](w.Capacity, w.Duration),
		}
	}
	return d
}

func (d *DeltaCVDDetector) ID() string              { return d.id }
func (d *DeltaCVDDetector) Status() Status          { return d.status }
func (d *DeltaCVDDetector) ZoneUpdates() []ZoneUpdate { return nil }

func (d *DeltaCVDDetector) Candidates() []SignalCandidate {
	out := d.candidates
	d.candidates = nil
	return out
}

func (d *DeltaCVDDetector) OnEnrichedTrade(e preprocess.EnrichedTrade) {
	now := e.Trade.Timestamp
	d.status.SamplesObserved++

	signed := float64(e.DeltaSign) * e.Delta.ToFloat()

	results := make([]*cvdResult, 0, len(d.windows))
	defer func() {
		for _, r := range results {
			releaseCVDResult(r)
		}
	}()

	for name, ws := range d.windows {
		ws.cumulative += signed
		ws.history.Add(now, ws.cumulative)

		r := acquireCVDResult()
		r.windowName = name
		r.cumulative = ws.cumulative
		if mean, ok := meanOf(ws.history.Values()); ok {
			r.mean = mean
			if sd, ok := stdDevOf(ws.history.Values()); ok && sd > 0 {
				r.stddev = sd
				r.zscore = (ws.cumulative - mean) / sd
			}
		}
		results = append(results, r)
	}

	var short *cvdResult
	agree := true
	shortSign := 0
	for _, r := range results {
		if r.windowName == d.cfg.ShortWindow {
			short = r
		}
	}
	if short == nil || short.stddev == 0 {
		return
	}
	if short.zscore > 0 {
		shortSign = 1
	} else if short.zscore < 0 {
		shortSign = -1
	} else {
		return
	}
	for _, r := range results {
		if r.windowName == d.cfg.ShortWindow {
			continue
		}
		sign := 0
		if r.cumulative > 0 {
			sign = 1
		} else if r.cumulative < 0 {
			sign = -1
		}
		if sign != 0 && sign != shortSign {
			agree = false
			break
		}
	}

	absZ := short.zscore
	if absZ < 0 {
		absZ = -absZ
	}
	if absZ < d.cfg.ZScoreThreshold || !agree {
		return
	}
	if !d.lastSignal.IsZero() && now.Sub(d.lastSignal) < d.cfg.EventCooldown {
		return
	}

	side := Buy
	if shortSign < 0 {
		side = Sell
	}

	d.nextID++
	d.candidates = append(d.candidates, SignalCandidate{
		ID:         fmt.Sprintf("%s-%d", d.id, d.nextID),
		DetectorID: d.id,
		Type:       SignalCVDConfirm,
		Side:       side,
		Price:      e.Trade.Price,
		Timestamp:  now,
		Confidence: clamp01(absZ / (d.cfg.ZScoreThreshold * 2)),
		Payload: map[string]any{
			"short_window_zscore": short.zscore,
		},
	})
	d.lastSignal = now
	d.status.LastSignalAt = now
}
