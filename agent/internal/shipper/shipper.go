package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/queuelab/queuelab/agent/internal/config"
	"github.com/queuelab/queuelab/agent/internal/security"
	"github.com/queuelab/queuelab/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

// Shipper buffers observations and posts them to queuelab-server.
// Ship() is non-blocking; when the buffer is full the oldest observation is
// evicted. Run() must be called in a goroutine to drain the buffer.
type Shipper struct {
	url    string
	buf    chan types.Observation
	client *http.Client
	bo     *backoff
}

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) (*Shipper, error) {
	client, err := security.NewClient(cfg.ServerAuth, cfg.ServerTLS, sendTimeout)
	if err != nil {
		return nil, fmt.Errorf("shipper: build http client: %w", err)
	}
	return &Shipper{
		url:    cfg.ObservationsURL(),
		buf:    make(chan types.Observation, cfg.BufferSize),
		client: client,
		bo:     newBackoff(backoffInitial, backoffMax),
	}, nil
}

// Ship enqueues obs. If the buffer is full the oldest entry is evicted to make
// room.
func (s *Shipper) Ship(obs types.Observation) {
	select {
	case s.buf <- obs:
		return
	default:
	}
	select {
	case old := <-s.buf:
		slog.Warn("shipper: buffer full, evicted oldest observation",
			"source", old.SourceID, "buffer_cap", cap(s.buf))
	default:
	}
	select {
	case s.buf <- obs:
	default:
		slog.Warn("shipper: buffer full, dropped observation", "source", obs.SourceID)
	}
}

// Pending returns the number of buffered observations.
func (s *Shipper) Pending() int {
	return len(s.buf)
}

// Run drains the buffer, posting observations to the server. A failed send is
// retried with exponential backoff until it succeeds, fails permanently, or
// ctx is cancelled. Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	for {
		var obs types.Observation
		select {
		case <-ctx.Done():
			return
		case obs = <-s.buf:
		}
		if !s.deliver(ctx, obs) {
			return
		}
	}
}

// deliver sends obs until it is accepted or discarded. It returns false when
// ctx was cancelled.
func (s *Shipper) deliver(ctx context.Context, obs types.Observation) bool {
	for {
		err := s.send(ctx, obs)
		if err == nil {
			s.bo.reset()
			slog.Debug("shipper: observation delivered", "source", obs.SourceID, "state", obs.State)
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			slog.Error("shipper: permanent send error, discarding observation",
				"source", obs.SourceID, "err", err)
			return true
		}

		wait := s.bo.next()
		slog.Warn("shipper: send failed, will retry",
			"endpoint", s.url,
			"source", obs.SourceID,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

// send posts one observation.
func (s *Shipper) send(ctx context.Context, obs types.Observation) error {
	body, err := json.Marshal(obs)
	if err != nil {
		return &permanentError{msg: fmt.Sprintf("encode: %v", err)}
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return &permanentError{msg: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	if isPermanentStatus(resp.StatusCode) {
		return &permanentError{msg: msg}
	}
	return errors.New(msg)
}

// permanentError marks a send that must not be retried.
type permanentError struct {
	msg string
}

func (e *permanentError) Error() string { return e.msg }

// isPermanentStatus reports whether the server rejected the observation
// itself. 429 is rate limiting and is retried.
func isPermanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	ceiling time.Duration
	current time.Duration
}

func newBackoff(initial, ceiling time.Duration) *backoff {
	return &backoff{initial: initial, ceiling: ceiling, current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.ceiling {
		b.current = b.ceiling
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
