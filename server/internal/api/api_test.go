package api_test

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/queuelab/queuelab/pkg/erlangc"
	"github.com/queuelab/queuelab/pkg/types"
	"github.com/queuelab/queuelab/server/internal/alerts"
	"github.com/queuelab/queuelab/server/internal/api"
	"github.com/queuelab/queuelab/server/internal/auth"
	"github.com/queuelab/queuelab/server/internal/config"
	"github.com/queuelab/queuelab/server/internal/form"
	"github.com/queuelab/queuelab/server/internal/metrics"
	"github.com/queuelab/queuelab/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

type fixture struct {
	h     *api.Handler
	store *store.Store
	alert *alerts.Engine
}

func newFixture(t *testing.T, rules ...config.AlertRule) fixture {
	t.Helper()
	st := store.New(5 * time.Minute)
	al, err := alerts.New(config.AlertsConfig{Rules: rules})
	if err != nil {
		t.Fatalf("alerts.New: %v", err)
	}
	h := api.New(api.Options{
		Store:      st,
		Alerts:     al,
		Metrics:    metrics.New(st),
		Defaults:   form.Defaults{MaxServers: 50},
		IngestAuth: auth.Middleware("apikey", "x-api-key", "secret"),
	})
	return fixture{h: h, store: st, alert: al}
}

func observation(id string, interarrival float64) types.Observation {
	in := erlangc.Input{InterarrivalTime: interarrival, ServiceTime: 3, Servers: 2}
	obs := types.Observation{
		SourceID:         id,
		InterarrivalTime: in.InterarrivalTime,
		ServiceTime:      in.ServiceTime,
		Servers:          in.Servers,
		UptimePct:        100,
	}
	if m, err := erlangc.Evaluate(in); err == nil {
		obs.State = types.StateForRho(m.Rho)
		obs.Rho = m.Rho
		obs.OfferedLoad = m.OfferedLoad
		obs.Metrics = &m
	} else {
		obs.State = types.StateUnstable
		obs.Rho = 1.5
		obs.OfferedLoad = 3
	}
	return obs
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}, key string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("x-api-key", key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/evaluate -------------------------------------------------------

func TestEvaluate_Query(t *testing.T) {
	f := newFixture(t)
	rr := get(t, f.h, "/api/v1/evaluate?interarrival=4&service_time=3&servers=2")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	var resp api.EvaluationResponse
	decode(t, rr, &resp)

	if resp.Input.Servers != 2 {
		t.Errorf("servers: got %d, want 2", resp.Input.Servers)
	}
	if math.Abs(resp.Metrics.Rho-0.375) > 1e-12 {
		t.Errorf("rho: got %v, want 0.375", resp.Metrics.Rho)
	}
	if len(resp.Steps) != 12 {
		t.Errorf("steps: got %d, want 12", len(resp.Steps))
	}
}

func TestEvaluate_QueryDefaultServers(t *testing.T) {
	f := newFixture(t)
	rr := get(t, f.h, "/api/v1/evaluate?interarrival=4&service_time=3")
	var resp api.EvaluationResponse
	decode(t, rr, &resp)
	if resp.Input.Servers != form.DefaultServers {
		t.Errorf("servers: got %d, want %d", resp.Input.Servers, form.DefaultServers)
	}
}

func TestEvaluate_JSONBody(t *testing.T) {
	f := newFixture(t)
	rr := postJSON(t, f.h, "/api/v1/evaluate", map[string]interface{}{
		"interarrival_time": 1, "service_time": 2.5, "servers": 5,
	}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	var resp api.EvaluationResponse
	decode(t, rr, &resp)
	if resp.Input.Servers != 5 || math.Abs(resp.Metrics.Rho-0.5) > 1e-12 {
		t.Errorf("got input %+v rho %v", resp.Input, resp.Metrics.Rho)
	}
}

func TestEvaluate_FormBody(t *testing.T) {
	f := newFixture(t)
	body := url.Values{"interarrival": {"4"}, "service_time": {"3"}}.Encode()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
}

func TestEvaluate_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		path  string
		field string
	}{
		{"zero interarrival", "/api/v1/evaluate?interarrival=0&service_time=3", form.FieldInterarrival},
		{"negative service", "/api/v1/evaluate?interarrival=4&service_time=-1", form.FieldServiceTime},
		{"not a number", "/api/v1/evaluate?interarrival=abc&service_time=3", form.FieldInterarrival},
		{"empty", "/api/v1/evaluate", ""},
		{"too many servers", "/api/v1/evaluate?interarrival=4&service_time=3&servers=51", form.FieldServers},
		{"rate overflows", "/api/v1/evaluate?interarrival=1e-310&service_time=1e-310", form.FieldInterarrival},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := get(t, f.h, tc.path)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d, want 400", rr.Code)
			}
			var resp map[string]interface{}
			decode(t, rr, &resp)
			if resp["kind"] != "validation" {
				t.Errorf("kind: got %v, want validation", resp["kind"])
			}
			if tc.field != "" && resp["field"] != tc.field {
				t.Errorf("field: got %v, want %s", resp["field"], tc.field)
			}
		})
	}
}

func TestEvaluate_JSONValidation(t *testing.T) {
	f := newFixture(t)
	for name, body := range map[string]interface{}{
		"malformed":     "{not json",
		"unknown field": map[string]interface{}{"interarrival_time": 4, "service_time": 3, "lambda": 1},
		"zero servers":  map[string]interface{}{"interarrival_time": 4, "service_time": 3, "servers": 0},
		"missing times": map[string]interface{}{"servers": 2},
	} {
		t.Run(name, func(t *testing.T) {
			rr := postJSON(t, f.h, "/api/v1/evaluate", body, "")
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400 (%s)", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestEvaluate_Unstable(t *testing.T) {
	f := newFixture(t)
	rr := get(t, f.h, "/api/v1/evaluate?interarrival=1&service_time=1&servers=1")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status: got %d, want 422", rr.Code)
	}
	var resp map[string]interface{}
	decode(t, rr, &resp)
	if resp["kind"] != "instability" {
		t.Errorf("kind: got %v, want instability", resp["kind"])
	}
	if resp["rho"].(float64) != 1 {
		t.Errorf("rho: got %v, want 1", resp["rho"])
	}
}

func TestEvaluate_HeavyLoadManyServers(t *testing.T) {
	st := store.New(time.Minute)
	al, _ := alerts.New(config.AlertsConfig{})
	h := api.New(api.Options{Store: st, Alerts: al, Metrics: metrics.New(st), Defaults: form.Defaults{MaxServers: 2000}})

	rr := get(t, h, "/api/v1/evaluate?interarrival=1&service_time=900&servers=1000")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	var resp api.EvaluationResponse
	decode(t, rr, &resp)
	m := resp.Metrics
	if !(m.P0 > 0 && m.P0 <= 1) || !(m.Pw >= 0 && m.Pw < 1) {
		t.Errorf("probabilities out of range: p0=%v pw=%v", m.P0, m.Pw)
	}
	if m.W < 900 || m.Lq < 0 {
		t.Errorf("got w=%v lq=%v", m.W, m.Lq)
	}
}

func TestEvaluate_PrometheusFormat(t *testing.T) {
	f := newFixture(t)
	rr := get(t, f.h, "/api/v1/evaluate?interarrival=4&service_time=3&format=prometheus")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type: got %q", ct)
	}
	var parser expfmt.TextParser
	fams, err := parser.TextToMetricFamilies(rr.Body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fams["erlangc_rho"] == nil {
		t.Error("erlangc_rho missing")
	}
}

func TestEvaluate_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/evaluate", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status: got %d, want 405", rr.Code)
	}
	var resp map[string]interface{}
	decode(t, rr, &resp)
	if resp["error"] == nil {
		t.Error("405 body has no error")
	}
}

// --- /api/v1/observations ---------------------------------------------------

func TestIngest_RequiresKey(t *testing.T) {
	f := newFixture(t)
	rr := postJSON(t, f.h, "/api/v1/observations", observation("checkout", 4), "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rr.Code)
	}
	if f.store.Count() != 0 {
		t.Error("unauthorized observation was stored")
	}
}

func TestIngest_StoresObservation(t *testing.T) {
	f := newFixture(t)
	rr := postJSON(t, f.h, "/api/v1/observations", observation("checkout", 4), "secret")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202 (%s)", rr.Code, rr.Body.String())
	}
	e, ok := f.store.Get("checkout")
	if !ok {
		t.Fatal("observation not stored")
	}
	if e.Observation.State != types.StateStable {
		t.Errorf("state: got %q", e.Observation.State)
	}
	if e.Observation.ObservedAt.IsZero() {
		t.Error("observed_at not filled")
	}
}

func TestIngest_MissingSourceID(t *testing.T) {
	f := newFixture(t)
	obs := observation("", 4)
	rr := postJSON(t, f.h, "/api/v1/observations", obs, "secret")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
}

func TestIngest_UnknownState(t *testing.T) {
	f := newFixture(t)
	obs := observation("checkout", 4)
	obs.State = "melting"
	rr := postJSON(t, f.h, "/api/v1/observations", obs, "secret")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
}

func TestIngest_ServersAboveLimit(t *testing.T) {
	f := newFixture(t)
	obs := types.Observation{
		SourceID:         "fleet",
		State:            types.StateStable,
		InterarrivalTime: 1,
		ServiceTime:      1,
		Servers:          51,
	}
	rr := postJSON(t, f.h, "/api/v1/observations", obs, "secret")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400 (%s)", rr.Code, rr.Body.String())
	}
	var resp map[string]interface{}
	decode(t, rr, &resp)
	if resp["field"] != form.FieldServers {
		t.Errorf("field: got %v, want %s", resp["field"], form.FieldServers)
	}
	if f.store.Count() != 0 {
		t.Error("observation above the server limit was stored")
	}
}

func TestIngest_EvaluatesMissingMetrics(t *testing.T) {
	f := newFixture(t)
	obs := types.Observation{
		SourceID:         "checkout",
		State:            types.StateStable,
		InterarrivalTime: 1.7,
		ServiceTime:      3,
		Servers:          2,
	}
	postJSON(t, f.h, "/api/v1/observations", obs, "secret")

	e, ok := f.store.Get("checkout")
	if !ok {
		t.Fatal("observation not stored")
	}
	if e.Observation.Metrics == nil {
		t.Fatal("metrics not computed")
	}
	if e.Observation.State != types.StateSaturating {
		t.Errorf("state: got %q, want saturating (rho %.3f)", e.Observation.State, e.Observation.Rho)
	}
}

func TestIngest_CorrectsUnstableState(t *testing.T) {
	f := newFixture(t)
	obs := types.Observation{
		SourceID:         "checkout",
		State:            types.StateStable,
		InterarrivalTime: 1,
		ServiceTime:      3,
		Servers:          2,
	}
	postJSON(t, f.h, "/api/v1/observations", obs, "secret")

	e, _ := f.store.Get("checkout")
	if e.Observation.State != types.StateUnstable || math.Abs(e.Observation.Rho-1.5) > 1e-12 {
		t.Errorf("got state %q rho %v, want unstable 1.5", e.Observation.State, e.Observation.Rho)
	}
	if e.Observation.Metrics != nil {
		t.Error("unstable observation carries metrics")
	}
}

func TestIngest_FiresAlerts(t *testing.T) {
	f := newFixture(t, config.AlertRule{Name: "down", Condition: "state == unstable", Severity: "critical"})
	postJSON(t, f.h, "/api/v1/observations", observation("checkout", 1), "secret")

	rr := get(t, f.h, "/api/v1/alerts")
	var resp []alerts.Alert
	decode(t, rr, &resp)
	if len(resp) != 1 || resp[0].RuleName != "down" || resp[0].SourceID != "checkout" {
		t.Errorf("alerts: got %+v", resp)
	}
	f.alert.Wait()
}

// --- /api/v1/sources, health, snapshot --------------------------------------

func TestSources_ListAndGet(t *testing.T) {
	f := newFixture(t)
	f.store.Put(observation("search", 4))
	f.store.Put(observation("checkout", 1.7))

	rr := get(t, f.h, "/api/v1/sources")
	var list []api.SourceResponse
	decode(t, rr, &list)
	if len(list) != 2 || list[0].SourceID != "checkout" {
		t.Fatalf("sources: got %+v", list)
	}
	if len(list[0].Hints) == 0 || list[0].Hints[0].Key != "saturating" {
		t.Errorf("hints: got %+v", list[0].Hints)
	}

	rr = get(t, f.h, "/api/v1/sources/search")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var one api.SourceResponse
	decode(t, rr, &one)
	if one.SourceID != "search" || one.Metrics == nil || one.LastSeen == "" {
		t.Errorf("source: got %+v", one)
	}
}

func TestSources_GetMissing(t *testing.T) {
	f := newFixture(t)
	rr := get(t, f.h, "/api/v1/sources/nope")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rr.Code)
	}
}

func TestHealth_EmptyStore(t *testing.T) {
	f := newFixture(t)
	var resp api.HealthResponse
	decode(t, get(t, f.h, "/api/v1/health"), &resp)
	if resp.State != types.StateUnknown || resp.SourceCount != 0 {
		t.Errorf("health: got %+v", resp)
	}
}

func TestHealth_WorstSource(t *testing.T) {
	f := newFixture(t)
	f.store.Put(observation("a", 4))
	f.store.Put(observation("b", 1.7))
	f.store.Put(observation("c", 1))
	f.store.Put(types.Observation{SourceID: "d", State: types.StateUnknown})

	var resp api.HealthResponse
	decode(t, get(t, f.h, "/api/v1/health"), &resp)

	if resp.State != types.StateUnstable {
		t.Errorf("state: got %q, want unstable", resp.State)
	}
	if resp.SourceCount != 4 || resp.StableCount != 1 || resp.SaturatingCount != 1 ||
		resp.UnstableCount != 1 || resp.UnknownCount != 1 {
		t.Errorf("counts: got %+v", resp)
	}
	if resp.WorstSource != "c" || resp.WorstRho != 1.5 {
		t.Errorf("worst: got %s %v", resp.WorstSource, resp.WorstRho)
	}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	f.store.Put(observation("checkout", 4))

	var resp api.SnapshotResponse
	decode(t, get(t, f.h, "/api/v1/snapshot"), &resp)
	if len(resp.Sources) != 1 || resp.Health.SourceCount != 1 {
		t.Errorf("snapshot: got %+v", resp)
	}
	if _, err := time.Parse(time.RFC3339, resp.GeneratedAt); err != nil {
		t.Errorf("generated_at: %v", err)
	}
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	rr := get(t, f.h, "/api/v1/pipelines")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}
