package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/queuelab/queuelab/pkg/types"
)

// QueueState is the queue snapshot carried by an alert. The waiting figures
// are only set when the source had steady-state metrics.
type QueueState struct {
	State       string   `json:"state"`
	Rho         float64  `json:"rho"`
	OfferedLoad float64  `json:"offered_load"`
	Servers     int      `json:"servers"`
	Pw          *float64 `json:"pw,omitempty"`
	Wq          *float64 `json:"wq,omitempty"`
	Lq          *float64 `json:"lq,omitempty"`
}

func queueState(obs types.Observation) QueueState {
	q := QueueState{
		State:       obs.State,
		Rho:         obs.Rho,
		OfferedLoad: obs.OfferedLoad,
		Servers:     obs.Servers,
	}
	if m := obs.Metrics; m != nil {
		pw, wq, lq := m.Pw, m.Wq, m.Lq
		q.Pw, q.Wq, q.Lq = &pw, &wq, &lq
	}
	return q
}

type fact struct {
	name, value string
}

// queueFacts lists what a notification shows about the queue, most telling
// first.
func queueFacts(a *Alert) []fact {
	q := a.Queue
	facts := []fact{
		{"Source", a.SourceID},
		{"State", q.State},
		{"ρ", fmt.Sprintf("%.4f", q.Rho)},
		{"Servers", strconv.Itoa(q.Servers)},
	}
	switch {
	case q.Pw != nil:
		facts = append(facts,
			fact{"Pw", fmt.Sprintf("%.4f", *q.Pw)},
			fact{"Wq", fmt.Sprintf("%.4f min", *q.Wq)},
			fact{"Lq", fmt.Sprintf("%.4f", *q.Lq)},
		)
	case q.State == types.StateUnstable:
		facts = append(facts, fact{"Queue", fmt.Sprintf("grows without bound (%.2f Erlang offered)", q.OfferedLoad)})
	}
	return append(facts,
		fact{"Condition", a.Condition},
		fact{"Value", fmt.Sprintf("%.4f", a.Value)},
	)
}

// deliver sends webhook notifications for a to all configured targets.
// Errors are logged but do not affect the caller.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var body []byte
		switch wh.Type {
		case "slack":
			body = slackPayload(a)
		case "teams":
			body = teamsPayload(a)
		case "http":
			body, _ = json.Marshal(map[string]interface{}{"alert": a, "summary": summary(a)})
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err := e.post(url, body); err != nil {
			slog.Error("alerts: webhook delivery failed", "type", wh.Type, "rule", a.RuleName, "source", a.SourceID, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered", "type", wh.Type, "rule", a.RuleName, "state", a.State)
	}
}

// summary is the one-line headline shared by every payload.
func summary(a *Alert) string {
	return fmt.Sprintf("%s %s on %s: %s at ρ %.4f", stateLabel(a.State), a.RuleName, a.SourceID, a.Queue.State, a.Queue.Rho)
}

func slackPayload(a *Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s* %s", severityLabel(a.Severity), summary(a))
	for _, f := range queueFacts(a) {
		fmt.Fprintf(&b, "\n>%s: %s", f.name, f.value)
	}
	body, _ := json.Marshal(map[string]string{"text": b.String()})
	return body
}

func teamsPayload(a *Alert) []byte {
	facts := queueFacts(a)
	out := make([]map[string]string, len(facts))
	for i, f := range facts {
		out[i] = map[string]string{"name": f.name, "value": f.value}
	}
	body, _ := json.Marshal(map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity),
		"summary":    summary(a),
		"title":      fmt.Sprintf("queuelab %s: %s", a.State, a.RuleName),
		"text":       a.Message,
		"sections":   []map[string]interface{}{{"facts": out}},
	})
	return body
}

func (e *Engine) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func stateLabel(s string) string {
	if s == StateResolved {
		return "RESOLVED"
	}
	return "FIRING"
}

// severityColor maps severity to the Teams card accent.
func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
