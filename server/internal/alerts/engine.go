package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/queuelab/queuelab/pkg/types"
	"github.com/queuelab/queuelab/server/internal/config"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert is one firing or resolved rule match for a source.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	SourceID   string     `json:"source_id"`
	Severity   string     `json:"severity"`
	Condition  string     `json:"condition"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`

	// Queue is the source's queue as of the observation that fired or
	// resolved the alert.
	Queue QueueState `json:"queue"`
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates rules against incoming observations and notifies webhooks
// when an alert fires or resolves. It is safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	active   map[string]*Alert    // key: "rule:source"
	lastFire map[string]time.Time // cooldown per key
	history  []*Alert             // resolved, oldest first

	deliveries sync.WaitGroup
}

// New compiles the configured rules. An Engine without rules is valid and
// Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) (*Engine, error) {
	rules := make([]rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		c, err := parseCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("alerts: rule %q: %w", r.Name, err)
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		if r.Cooldown <= 0 {
			r.Cooldown = defaultCooldown
		}
		rules = append(rules, rule{AlertRule: r, cond: c})
	}
	return &Engine{
		rules:    rules,
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}, nil
}

// Evaluate tests every rule against obs. Matching rules outside their
// cooldown fire; firing alerts whose condition no longer holds resolve.
// Webhook delivery runs in the background.
func (e *Engine) Evaluate(obs types.Observation) {
	if len(e.rules) == 0 {
		return
	}
	now := e.now()

	for _, r := range e.rules {
		key := r.Name + ":" + obs.SourceID
		fires, value := r.cond.eval(obs)

		e.mu.Lock()
		var notify *Alert
		if fires {
			if _, firing := e.active[key]; !firing && now.Sub(e.lastFire[key]) >= r.Cooldown {
				a := &Alert{
					ID:        uuid.NewString(),
					RuleName:  r.Name,
					SourceID:  obs.SourceID,
					Severity:  r.Severity,
					Condition: r.Condition,
					Value:     value,
					Message:   fmt.Sprintf("%s fired on %s: %s (value %.4f)", r.Name, obs.SourceID, r.Condition, value),
					FiredAt:   now,
					State:     StateFiring,
					Queue:     queueState(obs),
				}
				e.active[key] = a
				e.lastFire[key] = now
				cp := *a
				notify = &cp
			}
		} else if a, ok := e.active[key]; ok {
			resolved := now
			a.State = StateResolved
			a.ResolvedAt = &resolved
			a.Queue = queueState(obs)
			delete(e.active, key)
			e.history = append(e.history, a)
			if len(e.history) > maxHistoryLen {
				e.history = e.history[len(e.history)-maxHistoryLen:]
			}
			cp := *a
			notify = &cp
		}
		e.mu.Unlock()

		if notify == nil {
			continue
		}
		if notify.State == StateFiring {
			slog.Warn("alerts: fired",
				"rule", r.Name,
				"source", obs.SourceID,
				"value", value,
				"severity", r.Severity,
			)
		} else {
			slog.Info("alerts: resolved", "rule", r.Name, "source", obs.SourceID)
		}
		e.deliveries.Add(1)
		go func(a *Alert) {
			defer e.deliveries.Done()
			e.deliver(a)
		}(notify)
	}
}

// Active returns copies of the firing alerts and of those resolved within the
// past hour, newest first.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]Alert, 0, len(e.active)+len(e.history))
	for _, a := range e.active {
		out = append(out, *a)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Firing returns the number of alerts currently firing.
func (e *Engine) Firing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Wait blocks until in-flight webhook deliveries finish.
func (e *Engine) Wait() {
	e.deliveries.Wait()
}
