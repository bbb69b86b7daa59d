package main

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/queuelab/queuelab/agent/internal/compute"
	"github.com/queuelab/queuelab/agent/internal/config"
	"github.com/queuelab/queuelab/agent/internal/scraper"
	"github.com/queuelab/queuelab/agent/internal/security"
	"github.com/queuelab/queuelab/pkg/types"
)

type pipeline struct {
	src config.Source
	s   scraper.Scraper
}

// sourceSet is the live list of scraped sources. A config reload replaces it
// while the scrape loop keeps running.
type sourceSet struct {
	engine *compute.Engine

	mu        sync.Mutex
	pipelines []pipeline
}

func newSourceSet(engine *compute.Engine) *sourceSet {
	return &sourceSet{engine: engine}
}

// apply replaces the pipelines with srcs. Unchanged sources keep their
// scraper; sources that changed or disappeared lose their baseline.
func (set *sourceSet) apply(ctx context.Context, srcs []config.Source) {
	set.mu.Lock()
	defer set.mu.Unlock()

	old := make(map[string]pipeline, len(set.pipelines))
	for _, p := range set.pipelines {
		old[p.src.ID] = p
	}

	next := make([]pipeline, 0, len(srcs))
	for _, src := range srcs {
		if p, ok := old[src.ID]; ok && reflect.DeepEqual(p.src, src) {
			next = append(next, p)
			delete(old, src.ID)
			continue
		}
		s, err := scraper.New(src)
		if err != nil {
			slog.Error("skipping source, could not build scraper", "source", src.ID, "err", err)
			continue
		}
		next = append(next, pipeline{src: src, s: s})
		set.engine.Forget(src.ID)
		slog.Info("registered source", "id", src.ID, "endpoint", src.Endpoint, "servers", src.Servers)
		go checkCert(ctx, src)
	}
	for id := range old {
		if !containsID(next, id) {
			set.engine.Forget(id)
			slog.Info("removed source", "id", id)
		}
	}
	set.pipelines = next
}

func (set *sourceSet) snapshot() []pipeline {
	set.mu.Lock()
	defer set.mu.Unlock()
	out := make([]pipeline, len(set.pipelines))
	copy(out, set.pipelines)
	return out
}

// scrapeAll scrapes every source once and returns the resulting observations.
func (set *sourceSet) scrapeAll(ctx context.Context, now time.Time) []types.Observation {
	var out []types.Observation
	for _, p := range set.snapshot() {
		res, err := p.s.Scrape(ctx)
		if err != nil {
			return out
		}
		out = append(out, set.engine.Process(res, now))
	}
	return out
}

func containsID(ps []pipeline, id string) bool {
	for _, p := range ps {
		if p.src.ID == id {
			return true
		}
	}
	return false
}

// checkCert warns when an https source presents a certificate that is
// expired, close to expiry, or cannot be fetched.
func checkCert(ctx context.Context, src config.Source) {
	cs, ok := security.Check(ctx, src.Endpoint, src.TLS.InsecureSkipVerify, time.Now())
	if !ok {
		return
	}
	switch cs.Status {
	case security.CertValid:
		slog.Debug("source certificate valid", "source", src.ID, "days_left", cs.DaysLeft)
	case security.CertUnreachable:
		slog.Warn("source certificate could not be inspected", "source", src.ID, "endpoint", cs.Endpoint)
	default:
		slog.Warn("source certificate "+cs.Status, "source", src.ID,
			"days_left", cs.DaysLeft, "not_after", cs.NotAfter, "issuer", cs.Issuer)
	}
}
