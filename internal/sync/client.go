package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	neturl "net/url"
	gosync "sync"
	"time"

	"github.com/wovenlog/weave/internal/event"
	"github.com/wovenlog/weave/internal/metrics"
	"github.com/wovenlog/weave/internal/store"
)

const (
	// ProbeTimeout is the default bound on the connectivity check.
	ProbeTimeout = 2 * time.Second
	// RequestTimeout bounds one push/pull exchange.
	RequestTimeout = 3 * time.Second
	// DefaultRetryInterval is the periodic sync cadence.
	DefaultRetryInterval = 30 * time.Second
)

// Client exchanges events with one peer replica. Transport failures
// never surface to callers: the client degrades to offline, logs,
// counts, and retries on its interval. Crossing back to online triggers
// an immediate exchange.
type Client struct {
	peer         string
	httpc        *http.Client
	store        *store.GraphStore
	coord        *Coordinator
	logger       *slog.Logger
	now          func() time.Time
	probeTimeout time.Duration

	mu     gosync.Mutex
	online bool
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpc = h }
}

func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func WithClientClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func WithProbeTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

func NewClient(peer string, s *store.GraphStore, coord *Coordinator, opts ...ClientOption) *Client {
	c := &Client{
		peer:         peer,
		httpc:        &http.Client{},
		store:        s,
		coord:        coord,
		logger:       slog.Default(),
		now:          time.Now,
		probeTimeout: ProbeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Online reports the last known connectivity state.
func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	was := c.online
	c.online = online
	c.mu.Unlock()
	if was != online {
		if online {
			c.logger.Info("sync: peer online", "peer", c.peer)
		} else {
			c.logger.Warn("sync: peer offline", "peer", c.peer)
		}
	}
}

// Probe checks peer reachability; any 2xx from /health counts.
func (c *Client) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.peer+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// SyncOnce runs one full exchange: probe, push unsynced events, merge
// whatever the peer returns, acknowledge the pushed ids. Returns whether
// the exchange succeeded; failure only flips the client offline.
func (c *Client) SyncOnce(ctx context.Context) bool {
	if !c.Probe(ctx) {
		c.setOnline(false)
		return false
	}
	c.setOnline(true)

	outgoing := c.store.Unsynced()
	req := SyncRequest{
		Events:      make([]event.Event, 0, len(outgoing)),
		LastSync:    c.coord.LastSync(),
		VectorClock: c.coord.VectorSnapshot(),
	}
	for _, e := range outgoing {
		req.Events = append(req.Events, *e)
	}

	var resp SyncResponse
	if err := c.post(ctx, "/api/sync", req, &resp); err != nil {
		metrics.SyncFailures.Inc()
		c.logger.Warn("sync: exchange failed", "peer", c.peer, "error", err)
		c.setOnline(false)
		return false
	}

	if _, err := c.coord.Merge(ctx, resp.NewEvents, resp.VectorClock); err != nil {
		metrics.SyncFailures.Inc()
		c.logger.Warn("sync: merge of peer events failed", "peer", c.peer, "error", err)
		return false
	}

	ids := make([]string, len(outgoing))
	for i, e := range outgoing {
		ids[i] = e.ID
	}
	if err := c.store.MarkSynced(ctx, ids...); err != nil {
		c.logger.Warn("sync: acknowledging pushed events failed", "error", err)
	}

	c.coord.RecordSync(ctx, c.now())
	c.logger.Debug("sync: exchange complete",
		"peer", c.peer, "pushed", len(outgoing), "received", len(resp.NewEvents))
	return true
}

// Pull fetches events newer than since without pushing anything. The
// local clock rides along so the peer stays causally aware of one-way
// listeners.
func (c *Client) Pull(ctx context.Context, since time.Time) (MergeReport, error) {
	query := neturl.Values{}
	query.Set("since", since.UTC().Format(time.RFC3339Nano))
	if clock := c.coord.VectorSnapshot(); clock != "" {
		query.Set("vectorClock", clock)
	}
	url := "/api/events?" + query.Encode()

	var resp EventsResponse
	if err := c.get(ctx, url, &resp); err != nil {
		metrics.SyncFailures.Inc()
		c.setOnline(false)
		return MergeReport{}, err
	}
	c.setOnline(true)
	return c.coord.Merge(ctx, resp.Events, resp.VectorClock)
}

// Run syncs immediately, then on every tick until the context ends. The
// probe inside SyncOnce handles the offline→online transition: the first
// tick after the peer recovers performs a full exchange.
func (c *Client) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	c.SyncOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SyncOnce(ctx)
		}
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.peer+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.peer+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
