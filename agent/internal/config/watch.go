package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"

	"github.com/fsnotify/fsnotify"
)

// Watch follows path and hands the source list to onSources whenever a
// reload changes it. running is the config the agent started with.
//
// Only sources are applied live. A reload that touches a setting listed by
// RestartRequired is logged and otherwise ignored, and a reload that fails
// to parse keeps the previous sources. Watch runs until ctx is cancelled.
func Watch(ctx context.Context, path string, running *Config, onSources func([]Source)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory so saves that replace the file by rename are seen.
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	slog.Info("config: watching for source changes", "path", path, "sources", len(running.Agent.Sources))

	applied := running.Agent.Sources
	var warned []string
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous sources", "path", path, "err", err)
				continue
			}

			if changed := RestartRequired(running.Agent, cfg.Agent); !reflect.DeepEqual(changed, warned) {
				warned = changed
				if len(changed) > 0 {
					slog.Warn("config: restart the agent to apply", "settings", changed)
				}
			}

			if reflect.DeepEqual(applied, cfg.Agent.Sources) {
				continue
			}
			applied = cfg.Agent.Sources
			slog.Info("config: sources reloaded", "path", path, "sources", len(applied))
			onSources(applied)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// RestartRequired lists the settings that differ between running and updated
// but are only read at startup: the shipper connection, the scrape interval,
// the buffer size and logging.
func RestartRequired(running, updated AgentConfig) []string {
	var changed []string
	if running.ServerEndpoint != updated.ServerEndpoint {
		changed = append(changed, "server_endpoint")
	}
	if running.ScrapeInterval != updated.ScrapeInterval {
		changed = append(changed, "scrape_interval")
	}
	if running.BufferSize != updated.BufferSize {
		changed = append(changed, "buffer_size")
	}
	if running.ServerAuth != updated.ServerAuth {
		changed = append(changed, "server_auth")
	}
	if running.ServerTLS != updated.ServerTLS {
		changed = append(changed, "server_tls")
	}
	if running.Log != updated.Log {
		changed = append(changed, "log")
	}
	return changed
}
