package probe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanbeam/lanbeam/internal/device"
)

type scriptedPinger struct {
	mu   sync.Mutex
	rtts map[string][]time.Duration
	errs map[string]error
}

func (p *scriptedPinger) Ping(ctx context.Context, baseURL string) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err, ok := p.errs[baseURL]; ok {
		return 0, err
	}
	queue := p.rtts[baseURL]
	if len(queue) == 0 {
		return 5 * time.Millisecond, nil
	}
	rtt := queue[0]
	if len(queue) > 1 {
		p.rtts[baseURL] = queue[1:]
	}
	return rtt, nil
}

func registryWith(devices ...device.Device) *device.Registry {
	r := device.NewRegistry("self")
	for _, d := range devices {
		r.Upsert(d)
	}
	return r
}

func TestProberRollingAverage(t *testing.T) {
	d := device.Device{ID: "a", Name: "a", IP: "192.168.1.10", Port: 38900}
	reg := registryWith(d)

	pinger := &scriptedPinger{
		rtts: map[string][]time.Duration{
			d.BaseURL(): {
				10 * time.Millisecond,
				20 * time.Millisecond,
				30 * time.Millisecond,
				40 * time.Millisecond,
			},
		},
	}

	p := New(reg, pinger, WithWindow(3))
	for i := 0; i < 4; i++ {
		p.cycle(context.Background())
	}

	// window keeps the last three samples: 20, 30, 40
	rtt, ok := p.RTT("a")
	require.True(t, ok)
	assert.Equal(t, int64(30), rtt)

	snaps := p.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, 3, snaps[0].Samples)
	assert.Equal(t, int64(40), snaps[0].LastMs)
	assert.True(t, snaps[0].Reachable)
}

func TestProberUnreachableDevice(t *testing.T) {
	d := device.Device{ID: "b", Name: "b", IP: "192.168.1.11", Port: 38900}
	reg := registryWith(d)

	pinger := &scriptedPinger{
		errs: map[string]error{d.BaseURL(): errors.New("connection refused")},
	}

	p := New(reg, pinger)
	p.cycle(context.Background())

	rtt, ok := p.RTT("b")
	assert.False(t, ok)
	assert.Equal(t, int64(-1), rtt)

	snaps := p.Snapshots()
	require.Len(t, snaps, 1)
	assert.False(t, snaps[0].Reachable)
	assert.Equal(t, int64(-1), snaps[0].LastMs)
}

func TestProberRecoversAfterOutage(t *testing.T) {
	d := device.Device{ID: "c", Name: "c", IP: "192.168.1.12", Port: 38900}
	reg := registryWith(d)

	pinger := &scriptedPinger{
		errs: map[string]error{d.BaseURL(): errors.New("timeout")},
	}
	p := New(reg, pinger)
	p.cycle(context.Background())

	_, ok := p.RTT("c")
	require.False(t, ok)

	// device comes back
	pinger.mu.Lock()
	delete(pinger.errs, d.BaseURL())
	pinger.mu.Unlock()

	p.cycle(context.Background())
	rtt, ok := p.RTT("c")
	require.True(t, ok)
	assert.GreaterOrEqual(t, rtt, int64(0))
}

func TestProberPrunesEvictedDevices(t *testing.T) {
	d := device.Device{ID: "gone", Name: "gone", IP: "192.168.1.13", Port: 38900}
	reg := registryWith(d)

	p := New(reg, &scriptedPinger{})
	p.cycle(context.Background())
	require.Len(t, p.Snapshots(), 1)

	reg.Remove("gone")
	p.cycle(context.Background())
	assert.Empty(t, p.Snapshots())
}

func TestProberRunStopsOnCancel(t *testing.T) {
	reg := registryWith()
	p := New(reg, &scriptedPinger{}, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("prober did not stop")
	}
}
