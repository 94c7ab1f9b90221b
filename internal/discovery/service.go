package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanbeam/lanbeam/internal/device"
	"github.com/lanbeam/lanbeam/internal/events"
	"github.com/lanbeam/lanbeam/internal/jsonc"
	"github.com/lanbeam/lanbeam/internal/utils"
)

const (
	defaultHeartbeat     = 3 * time.Second
	defaultSweepEvery    = 5 * time.Second
	defaultDeviceTimeout = 30 * time.Second
	defaultRejoinEvery   = 2 * time.Minute
	defaultHealthEvery   = 30 * time.Second
	defaultMaxSilence    = 60 * time.Second
	defaultRestartDelay  = 2 * time.Second
	defaultMaxSendFails  = 3

	readBufferSize = 64 * 1024
)

// InfoFetcher probes a peer's info endpoint. Implemented by the peer
// API client, injected here so manual adds stay testable.
type InfoFetcher interface {
	DeviceInfo(ctx context.Context, baseURL string) (device.Device, error)
}

type Config struct {
	Identity *device.Identity
	Registry *device.Registry
	Devices  *events.Topic[[]device.Device]
	Info     InfoFetcher
	Port     int
	Group    net.IP

	Heartbeat     time.Duration
	SweepEvery    time.Duration
	DeviceTimeout time.Duration
	RejoinEvery   time.Duration
	HealthEvery   time.Duration
	MaxSilence    time.Duration
	RestartDelay  time.Duration
	MaxSendFails  int
}

func (c *Config) fillDefaults() {
	if c.Heartbeat <= 0 {
		c.Heartbeat = defaultHeartbeat
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = defaultSweepEvery
	}
	if c.DeviceTimeout <= 0 {
		c.DeviceTimeout = defaultDeviceTimeout
	}
	if c.RejoinEvery <= 0 {
		c.RejoinEvery = defaultRejoinEvery
	}
	if c.HealthEvery <= 0 {
		c.HealthEvery = defaultHealthEvery
	}
	if c.MaxSilence <= 0 {
		c.MaxSilence = defaultMaxSilence
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = defaultRestartDelay
	}
	if c.MaxSendFails <= 0 {
		c.MaxSendFails = defaultMaxSendFails
	}
}

// Service announces this device over UDP multicast and broadcast,
// ingests peer heartbeats into the registry and keeps itself healthy by
// restarting the socket when sends fail or the wire goes silent.
type Service struct {
	cfg  Config
	life *lifecycle
	dial dialFunc

	restartCh chan string
	dests     []net.Addr
	sendFails int

	lastRecv atomic.Int64
}

func New(cfg Config) (*Service, error) {
	if cfg.Identity == nil || cfg.Registry == nil {
		return nil, errors.New("discovery: identity and registry are required")
	}
	if cfg.Group == nil || !cfg.Group.IsMulticast() {
		return nil, fmt.Errorf("discovery: %v is not a multicast group", cfg.Group)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("discovery: invalid port %d", cfg.Port)
	}
	cfg.fillDefaults()

	return &Service{
		cfg:       cfg,
		life:      &lifecycle{},
		dial:      openMulticast,
		restartCh: make(chan string, 1),
	}, nil
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	return s.life.current()
}

// Run drives the presence session until ctx is cancelled, recreating
// the socket after self-heal restarts.
func (s *Service) Run(ctx context.Context) error {
	if err := s.life.to(StateStarting); err != nil {
		return fmt.Errorf("presence service: %w", err)
	}
	slog.Info("presence service starting", "port", s.cfg.Port, "group", s.cfg.Group.String())

	for {
		reason, err := s.session(ctx)

		if ctx.Err() != nil {
			s.shutdown()
			return nil
		}

		if err != nil {
			slog.Error("presence session ended", "error", err)
		} else {
			slog.Warn("presence session restarting", "reason", reason)
		}

		if s.life.current() != StateRestarting {
			if terr := s.life.to(StateRestarting); terr != nil {
				s.shutdown()
				return terr
			}
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-time.After(s.cfg.RestartDelay):
		}

		if err := s.life.to(StateStarting); err != nil {
			s.shutdown()
			return err
		}
	}
}

func (s *Service) shutdown() {
	_ = s.life.to(StateStopping)
	_ = s.life.to(StateIdle)
	slog.Info("presence service stopped")
}

// session opens the socket and runs the heartbeat, ingest, eviction,
// rejoin and watchdog loops until shutdown or a restart request.
func (s *Service) session(ctx context.Context) (string, error) {
	// drop restart requests left over from a previous session
	select {
	case <-s.restartCh:
	default:
	}

	s.refreshNetwork()

	conn, err := s.dial(s.cfg.Port, s.cfg.Group)
	if err != nil {
		return "", fmt.Errorf("open presence socket: %w", err)
	}

	if err := s.life.to(StateRunning); err != nil {
		conn.Close()
		return "", err
	}

	s.sendFails = 0
	s.lastRecv.Store(time.Now().UnixNano())

	readCtx, stopRead := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.readLoop(readCtx, conn)
	}()

	s.announce(conn)

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	sweep := time.NewTicker(s.cfg.SweepEvery)
	rejoin := time.NewTicker(s.cfg.RejoinEvery)
	health := time.NewTicker(s.cfg.HealthEvery)
	defer func() {
		heartbeat.Stop()
		sweep.Stop()
		rejoin.Stop()
		health.Stop()
	}()

	var reason string
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case reason = <-s.restartCh:
			break loop
		case <-heartbeat.C:
			s.announce(conn)
		case <-sweep.C:
			s.sweep()
		case <-rejoin.C:
			if err := conn.Rejoin(); err != nil {
				slog.Warn("presence multicast rejoin failed", "error", err)
			}
		case <-health.C:
			s.checkSilence()
		}
	}

	stopRead()
	conn.Close()
	wg.Wait()
	return reason, nil
}

// refreshNetwork re-resolves the announced address and the heartbeat
// destinations. Runs at every session start so restarts pick up
// network changes.
func (s *Service) refreshNetwork() {
	if !s.cfg.Identity.RefreshAddr() {
		slog.Warn("no usable lan interface, keeping previous address")
	}

	dests := []net.Addr{&net.UDPAddr{IP: s.cfg.Group, Port: s.cfg.Port}}
	if _, ipnet, err := utils.LANAddr(); err == nil {
		dests = append(dests, &net.UDPAddr{IP: utils.BroadcastAddr(ipnet), Port: s.cfg.Port})
	} else {
		dests = append(dests, &net.UDPAddr{IP: net.IPv4bcast, Port: s.cfg.Port})
	}
	s.dests = dests
}

// announce sends one heartbeat to the multicast group and the subnet
// broadcast address. A tick where every destination fails counts
// toward the self-heal threshold.
func (s *Service) announce(conn presenceConn) {
	data, err := jsonc.Marshal(s.cfg.Identity.Snapshot())
	if err != nil {
		slog.Error("presence encode failed", "error", err)
		return
	}

	failed := 0
	for _, dst := range s.dests {
		if _, err := conn.WriteTo(data, dst); err != nil {
			failed++
			slog.Debug("presence send failed", "dst", dst.String(), "error", err)
		}
	}

	if failed < len(s.dests) {
		s.sendFails = 0
		return
	}

	s.sendFails++
	slog.Warn("presence heartbeat failed", "consecutive", s.sendFails)
	if s.sendFails >= s.cfg.MaxSendFails {
		s.requestRestart("heartbeat send failures")
	}
}

func (s *Service) readLoop(ctx context.Context, conn presenceConn) {
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if ctx.Err() == nil {
				slog.Debug("presence read ended", "error", err)
			}
			return
		}

		s.lastRecv.Store(time.Now().UnixNano())
		s.handlePacket(buf[:n], src)
	}
}

// handlePacket ingests one datagram. Malformed packets and our own
// loopback are dropped without comment.
func (s *Service) handlePacket(data []byte, src net.Addr) {
	var d device.Device
	if err := jsonc.Unmarshal(data, &d); err != nil {
		return
	}
	if err := d.Validate(); err != nil {
		return
	}
	if d.ID == s.cfg.Identity.ID() {
		return
	}

	_, known := s.cfg.Registry.Get(d.ID)
	if s.cfg.Registry.Upsert(d) {
		if known {
			slog.Info("device updated", "id", d.ID, "name", d.Name, "addr", d.Addr())
		} else {
			slog.Info("device discovered", "id", d.ID, "name", d.Name, "addr", d.Addr(), "src", src.String())
		}
		s.publish()
	}
}

func (s *Service) sweep() {
	evicted := s.cfg.Registry.EvictStale(s.cfg.DeviceTimeout)
	if len(evicted) == 0 {
		return
	}
	for _, d := range evicted {
		slog.Info("device timed out", "id", d.ID, "name", d.Name, "lastSeen", d.LastSeen)
	}
	s.publish()
}

func (s *Service) checkSilence() {
	last := time.Unix(0, s.lastRecv.Load())
	if silent := time.Since(last); silent > s.cfg.MaxSilence {
		slog.Warn("presence socket silent", "for", silent.Round(time.Second))
		s.requestRestart("socket silent")
	}
}

func (s *Service) publish() {
	if s.cfg.Devices != nil {
		s.cfg.Devices.Publish(s.cfg.Registry.Snapshot())
	}
}

// requestRestart moves the lifecycle to restarting and signals the
// session loop. Requests racing an in-flight restart are dropped by
// the transition table.
func (s *Service) requestRestart(reason string) {
	if err := s.life.to(StateRestarting); err != nil {
		slog.Debug("presence restart skipped", "reason", reason, "state", s.life.current().String())
		return
	}
	select {
	case s.restartCh <- reason:
	default:
	}
}

// NotifyNetworkChange restarts the presence session so the socket and
// the announced address match the new network.
func (s *Service) NotifyNetworkChange() {
	s.requestRestart("network change")
}

// AddDevice probes addr for its device info and inserts the responder
// into the registry. Covers peers outside the multicast domain.
func (s *Service) AddDevice(ctx context.Context, host string, port int) (device.Device, error) {
	if s.cfg.Info == nil {
		return device.Device{}, errors.New("device info client not configured")
	}

	baseURL := "http://" + net.JoinHostPort(host, strconv.Itoa(port))
	d, err := s.cfg.Info.DeviceInfo(ctx, baseURL)
	if err != nil {
		return device.Device{}, fmt.Errorf("probe %s: %w", baseURL, err)
	}

	if d.IP == "" {
		d.IP = host
	}
	if d.Port == 0 {
		d.Port = port
	}
	if err := d.Validate(); err != nil {
		return device.Device{}, fmt.Errorf("device info from %s: %w", baseURL, err)
	}

	if s.cfg.Registry.Upsert(d) {
		slog.Info("device added", "id", d.ID, "name", d.Name, "addr", d.Addr())
		s.publish()
	}
	return d, nil
}
