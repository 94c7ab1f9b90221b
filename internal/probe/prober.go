package probe

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lanbeam/lanbeam/internal/device"
)

const (
	defaultInterval = 10 * time.Second
	defaultTimeout  = 5 * time.Second
	defaultWindow   = 10
	maxParallel     = 4
)

// Pinger is the ping surface of the peer API client.
type Pinger interface {
	Ping(ctx context.Context, baseURL string) (time.Duration, error)
}

// Snapshot is one device's probe result set.
type Snapshot struct {
	DeviceID  string    `json:"deviceId"`
	AvgMs     int64     `json:"avgMs"`
	LastMs    int64     `json:"lastMs"`
	Samples   int       `json:"samples"`
	Reachable bool      `json:"reachable"`
	LastProbe time.Time `json:"lastProbe"`
}

type deviceStats struct {
	samples   []int64
	lastMs    int64
	reachable bool
	lastProbe time.Time
}

func (s *deviceStats) avg() int64 {
	if len(s.samples) == 0 {
		return -1
	}
	var sum int64
	for _, v := range s.samples {
		sum += v
	}
	return sum / int64(len(s.samples))
}

// Prober measures round-trip time to every registered device on a
// fixed schedule, keeping a rolling window per device.
type Prober struct {
	registry *device.Registry
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	window   int

	mu    sync.RWMutex
	stats map[string]*deviceStats
}

type Option func(*Prober)

func WithInterval(d time.Duration) Option {
	return func(p *Prober) { p.interval = d }
}

func WithTimeout(d time.Duration) Option {
	return func(p *Prober) { p.timeout = d }
}

func WithWindow(n int) Option {
	return func(p *Prober) { p.window = n }
}

func New(registry *device.Registry, pinger Pinger, opts ...Option) *Prober {
	p := &Prober{
		registry: registry,
		pinger:   pinger,
		interval: defaultInterval,
		timeout:  defaultTimeout,
		window:   defaultWindow,
		stats:    make(map[string]*deviceStats),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run probes all known devices until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Prober) cycle(ctx context.Context) {
	devices := p.registry.Snapshot()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for _, d := range devices {
		g.Go(func() error {
			p.probeOne(ctx, d)
			return nil
		})
	}
	g.Wait()

	p.prune(devices)
}

func (p *Prober) probeOne(ctx context.Context, d device.Device) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rtt, err := p.pinger.Ping(ctx, d.BaseURL())

	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.stats[d.ID]
	if st == nil {
		st = &deviceStats{}
		p.stats[d.ID] = st
	}
	st.lastProbe = time.Now().UTC()

	if err != nil {
		st.reachable = false
		st.lastMs = -1
		slog.Debug("device ping failed", "id", d.ID, "name", d.Name, "error", err)
		return
	}

	st.reachable = true
	st.lastMs = rtt.Milliseconds()
	if len(st.samples) >= p.window {
		st.samples = st.samples[1:]
	}
	st.samples = append(st.samples, st.lastMs)
}

// prune drops stats for devices that left the registry.
func (p *Prober) prune(known []device.Device) {
	alive := make(map[string]struct{}, len(known))
	for _, d := range known {
		alive[d.ID] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.stats {
		if _, ok := alive[id]; !ok {
			delete(p.stats, id)
		}
	}
}

// RTT returns the rolling average round-trip for a device. The second
// return is false until the device has answered at least one probe and
// is currently reachable.
func (p *Prober) RTT(id string) (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st, ok := p.stats[id]
	if !ok || !st.reachable || len(st.samples) == 0 {
		return -1, false
	}
	return st.avg(), true
}

// Snapshots returns every device's probe state, sorted by device id.
func (p *Prober) Snapshots() []Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Snapshot, 0, len(p.stats))
	for id, st := range p.stats {
		out = append(out, Snapshot{
			DeviceID:  id,
			AvgMs:     st.avg(),
			LastMs:    st.lastMs,
			Samples:   len(st.samples),
			Reachable: st.reachable,
			LastProbe: st.lastProbe,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
