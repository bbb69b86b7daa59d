package config

import (
	"context"
	"os"
	"reflect"
	"testing"
	"time"
)

const watchBase = `
agent:
  server_endpoint: "http://localhost:8080"
  sources:
    - id: api
      endpoint: "http://localhost:9100/metrics"
`

const watchTwoSources = `
agent:
  server_endpoint: "http://localhost:8080"
  sources:
    - id: api
      endpoint: "http://localhost:9100/metrics"
    - id: worker
      endpoint: "http://localhost:9200/metrics"
      servers: 8
`

// startWatch loads content, starts Watch on it and returns the file path and
// a channel of applied source lists.
func startWatch(t *testing.T, content string) (string, <-chan []Source) {
	t.Helper()
	path := writeTemp(t, content)
	running, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	applied := make(chan []Source, 8)
	go func() {
		_ = Watch(ctx, path, running, func(srcs []Source) { applied <- srcs })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	return path, applied
}

func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
}

func expectSources(t *testing.T, applied <-chan []Source) []Source {
	t.Helper()
	select {
	case srcs := <-applied:
		return srcs
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for sources to be applied")
		return nil
	}
}

func expectNoSources(t *testing.T, applied <-chan []Source) {
	t.Helper()
	select {
	case srcs := <-applied:
		t.Fatalf("sources applied unexpectedly: %+v", srcs)
	case <-time.After(300 * time.Millisecond):
	}
}

func sourceIDs(srcs []Source) []string {
	ids := make([]string, len(srcs))
	for i, s := range srcs {
		ids[i] = s.ID
	}
	return ids
}

func TestWatch_AppliesSourceChanges(t *testing.T) {
	path, applied := startWatch(t, watchBase)
	rewrite(t, path, watchTwoSources)

	srcs := expectSources(t, applied)
	if got := sourceIDs(srcs); !reflect.DeepEqual(got, []string{"api", "worker"}) {
		t.Fatalf("source ids: got %v, want [api worker]", got)
	}
	if srcs[1].Servers != 8 || srcs[1].ArrivalsMetric != DefaultArrivalsMetric {
		t.Errorf("worker defaults not applied: %+v", srcs[1])
	}
}

func TestWatch_SkipsReloadWithoutSourceChanges(t *testing.T) {
	path, applied := startWatch(t, watchBase)

	rewrite(t, path, watchBase+"  scrape_interval: 5s\n")
	expectNoSources(t, applied)

	rewrite(t, path, watchTwoSources)
	if got := sourceIDs(expectSources(t, applied)); len(got) != 2 {
		t.Fatalf("source ids: got %v, want two", got)
	}
	expectNoSources(t, applied)
}

func TestWatch_InvalidReloadKeepsSources(t *testing.T) {
	path, applied := startWatch(t, watchBase)

	rewrite(t, path, "agent: [\n")
	expectNoSources(t, applied)

	rewrite(t, path, watchTwoSources)
	expectSources(t, applied)
}

func TestWatch_FollowsRenameSave(t *testing.T) {
	path, applied := startWatch(t, watchBase)

	tmp := path + ".swp"
	rewrite(t, tmp, watchTwoSources)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if got := sourceIDs(expectSources(t, applied)); len(got) != 2 {
		t.Fatalf("source ids: got %v, want two", got)
	}
}

func TestRestartRequired(t *testing.T) {
	base := AgentConfig{
		ServerEndpoint: "http://localhost:8080",
		ScrapeInterval: DefaultScrapeInterval,
		BufferSize:     DefaultBufferSize,
		Log:            LogConfig{Format: "json", Level: "info"},
		Sources:        []Source{{ID: "api"}},
	}
	tests := []struct {
		name   string
		change func(c *AgentConfig)
		want   []string
	}{
		{"nothing", func(*AgentConfig) {}, nil},
		{"sources only", func(c *AgentConfig) { c.Sources = nil }, nil},
		{"endpoint", func(c *AgentConfig) { c.ServerEndpoint = "http://other:8080" }, []string{"server_endpoint"}},
		{"interval and buffer", func(c *AgentConfig) {
			c.ScrapeInterval = time.Minute
			c.BufferSize = 10
		}, []string{"scrape_interval", "buffer_size"}},
		{"server auth", func(c *AgentConfig) { c.ServerAuth.Mode = "apikey" }, []string{"server_auth"}},
		{"server tls", func(c *AgentConfig) { c.ServerTLS.InsecureSkipVerify = true }, []string{"server_tls"}},
		{"log level", func(c *AgentConfig) { c.Log.Level = "debug" }, []string{"log"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			updated := base
			tc.change(&updated)
			if got := RestartRequired(base, updated); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}
