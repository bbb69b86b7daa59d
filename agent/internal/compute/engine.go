package compute

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/queuelab/queuelab/agent/internal/scraper"
	"github.com/queuelab/queuelab/pkg/erlangc"
	"github.com/queuelab/queuelab/pkg/types"
)

// uptimeWindow is the number of recent scrape outcomes tracked for uptime %.
const uptimeWindow = 20

// Reasons reported in Observation.Message for an unknown state.
const (
	msgBaseline  = "collecting baseline"
	msgNoClock   = "no time elapsed since the previous scrape"
	msgNoArrival = "no arrivals in the last window"
	msgNoService = "no completed requests in the last window"
)

// Engine maintains per-source baselines across scrape cycles and turns the
// counter deltas into an evaluated Observation.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	states map[string]*sourceState
}

// NewEngine returns a ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{states: make(map[string]*sourceState)}
}

// Process ingests a ScrapeResult and returns the observation for its source.
//
// now is passed explicitly so callers (and tests) control the clock without
// sleeping. Use time.Now() in production.
//
// The first successful scrape for a source records the baseline and returns
// state unknown, since no interval has been observed yet.
func (e *Engine) Process(res *scraper.ScrapeResult, now time.Time) types.Observation {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(res.SourceID)
	success := res.Err == nil
	st.recordScrape(success)

	out := types.Observation{
		SourceID:   res.SourceID,
		Endpoint:   res.Endpoint,
		ObservedAt: now.UTC(),
		State:      types.StateUnknown,
		Servers:    res.Servers,
		UptimePct:  st.uptimePct(),
	}

	if !success {
		out.Message = "scrape failed: " + res.Err.Error()
		return out
	}

	if st.prev == nil {
		out.Message = msgBaseline
		st.updateBaseline(res, now)
		return out
	}

	elapsed := now.Sub(st.prevTime).Minutes()
	if elapsed <= 0 {
		out.Message = msgNoClock
		return out
	}

	arrivals := deltaOf(res.Arrivals, st.prev.Arrivals)
	sum := deltaOf(res.ServiceSum, st.prev.ServiceSum)
	count := deltaOf(res.ServiceCount, st.prev.ServiceCount)
	st.updateBaseline(res, now)

	out.ArrivalsPM = arrivals / elapsed
	if arrivals == 0 {
		out.Message = msgNoArrival
		return out
	}
	if count == 0 || sum <= 0 {
		out.Message = msgNoService
		return out
	}

	in := erlangc.Input{
		InterarrivalTime: elapsed / arrivals,
		ServiceTime:      sum / count / 60,
		Servers:          res.Servers,
	}
	out.InterarrivalTime = in.InterarrivalTime
	out.ServiceTime = in.ServiceTime

	m, err := erlangc.Evaluate(in)
	var unstable *erlangc.InstabilityError
	switch {
	case errors.As(err, &unstable):
		out.State = types.StateUnstable
		out.Rho = unstable.Rho
		out.OfferedLoad = unstable.OfferedLoad
		out.Message = err.Error()
		slog.Warn("compute: source unstable", "source", res.SourceID, "rho", unstable.Rho)
	case err != nil:
		out.Message = fmt.Sprintf("evaluate: %v", err)
		slog.Warn("compute: evaluation failed", "source", res.SourceID, "err", err)
	default:
		out.State = types.StateForRho(m.Rho)
		out.Rho = m.Rho
		out.OfferedLoad = m.OfferedLoad
		out.Metrics = &m
	}
	return out
}

// Forget drops the baseline and uptime history for id.
func (e *Engine) Forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, id)
}

// sourceState holds per-source counters and uptime history.
type sourceState struct {
	prev     *scraper.ScrapeResult
	prevTime time.Time
	history  []bool // scrape outcomes, newest last
}

func (e *Engine) stateFor(id string) *sourceState {
	if st, ok := e.states[id]; ok {
		return st
	}
	st := &sourceState{}
	e.states[id] = st
	return st
}

func (st *sourceState) updateBaseline(res *scraper.ScrapeResult, now time.Time) {
	st.prev = res
	st.prevTime = now
}

func (st *sourceState) recordScrape(success bool) {
	if len(st.history) >= uptimeWindow {
		st.history = st.history[1:]
	}
	st.history = append(st.history, success)
}

func (st *sourceState) uptimePct() float64 {
	if len(st.history) == 0 {
		return 100
	}
	var ok int
	for _, s := range st.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(st.history)) * 100
}

// deltaOf returns the positive counter delta between current and previous.
// If current < previous (counter reset after restart), returns 0.
func deltaOf(current, previous float64) float64 {
	d := current - previous
	if d < 0 {
		return 0
	}
	return d
}
