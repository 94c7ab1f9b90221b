package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/lanbeam/lanbeam/internal/clipboard"
	"github.com/lanbeam/lanbeam/internal/config"
	"github.com/lanbeam/lanbeam/internal/db"
	"github.com/lanbeam/lanbeam/internal/device"
	"github.com/lanbeam/lanbeam/internal/discovery"
	"github.com/lanbeam/lanbeam/internal/events"
	"github.com/lanbeam/lanbeam/internal/peerapi"
	"github.com/lanbeam/lanbeam/internal/probe"
	"github.com/lanbeam/lanbeam/internal/server"
	"github.com/lanbeam/lanbeam/internal/syncengine"
	"github.com/lanbeam/lanbeam/internal/transfer"
	"github.com/lanbeam/lanbeam/internal/workspace"
)

const (
	// free space the disk guard keeps untouched when accepting transfers
	diskSpaceMargin = 512 << 20

	addrRefreshEvery = 30 * time.Second
)

// App is the LanBeam daemon: every service wired from one Config and run
// under a single errgroup. Construction wires what needs no side effects,
// Start acquires the workspace and runs until ctx is cancelled.
type App struct {
	cfg      *config.Config
	identity *device.Identity
	registry *device.Registry
	client   *peerapi.Client
	topics   server.EventTopics

	ws        *workspace.Workspace
	db        *sqlx.DB
	queue     *transfer.Queue
	discovery *discovery.Service
	prober    *probe.Prober
	engine    *syncengine.Engine
	server    *server.Server
}

func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	identity := device.NewIdentity(cfg)
	return &App{
		cfg:      cfg,
		identity: identity,
		registry: device.NewRegistry(identity.ID()),
		client:   peerapi.New(),
		topics: server.EventTopics{
			Devices:   events.NewTopic[[]device.Device]("devices.updates"),
			Transfers: events.NewTopic[transfer.Transfer]("transfers.updates"),
			Clipboard: events.NewTopic[clipboard.Entry]("clipboard.updates"),
			SyncJobs:  events.NewTopic[syncengine.Job]("sync.updates"),
		},
	}, nil
}

// Start brings the daemon up and blocks until ctx is cancelled or a
// service fails. The workspace lock and database live for exactly this
// call.
func (a *App) Start(ctx context.Context) error {
	slog.Info("daemon start", "device", a.cfg.DeviceName, "id", a.identity.ID())

	if err := a.setup(); err != nil {
		return err
	}
	defer a.teardown()

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := a.server.Start(egCtx); err != nil {
			return fmt.Errorf("peer server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		if err := a.discovery.Run(egCtx); err != nil {
			return fmt.Errorf("discovery: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		if err := a.prober.Run(egCtx); err != nil {
			return fmt.Errorf("prober: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		if err := a.queue.Run(egCtx); err != nil {
			return fmt.Errorf("transfer queue: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		a.watchAddr(egCtx)
		return nil
	})

	if err := a.engine.Start(egCtx); err != nil {
		return fmt.Errorf("sync engine: %w", err)
	}
	eg.Go(func() error {
		<-egCtx.Done()
		a.engine.Close()
		return nil
	})

	err := eg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon failure", "error", err)
		return err
	}

	slog.Info("daemon stopped")
	return nil
}

// setup claims the workspace, opens the database and wires the services
// that depend on them.
func (a *App) setup() error {
	ws, err := workspace.NewWorkspace(a.cfg.DownloadDir)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	if err := ws.Setup(); err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	a.ws = ws

	database, err := db.NewSqliteDb(db.WithPath(ws.DatabasePath()), db.WithMaxOpenConns(1))
	if err != nil {
		a.teardown()
		return fmt.Errorf("database: %w", err)
	}
	a.db = database

	history, err := transfer.NewHistoryStore(database)
	if err != nil {
		a.teardown()
		return fmt.Errorf("transfer history: %w", err)
	}
	jobStore, err := syncengine.NewStore(database)
	if err != nil {
		a.teardown()
		return fmt.Errorf("sync job store: %w", err)
	}

	accept := transfer.DiskSpaceAccept(ws.Root, diskSpaceMargin)
	if !a.cfg.AutoAccept {
		accept = func(*peerapi.SendRequest) (bool, string) {
			return false, "receiver is not accepting transfers"
		}
	}

	tracker := transfer.NewTracker(a.topics.Transfers, accept, history)
	receiver := transfer.NewReceiver(tracker, ws, a.cfg.OverwriteExisting)
	sender := transfer.NewSender(a.client, a.identity, a.cfg.MaxUploadRateKBps)
	a.queue = transfer.NewQueue(sender, a.topics.Transfers, history)

	inbox := clipboard.NewInbox(ws.ClipboardDir, a.topics.Clipboard)

	disco, err := discovery.New(discovery.Config{
		Identity: a.identity,
		Registry: a.registry,
		Devices:  a.topics.Devices,
		Info:     a.client,
		Port:     a.cfg.DiscoveryPort,
		Group:    net.ParseIP(a.cfg.MulticastGroup),
	})
	if err != nil {
		a.teardown()
		return err
	}
	a.discovery = disco
	a.prober = probe.New(a.registry, a.client)

	a.engine = syncengine.NewEngine(jobStore, a.client, a.identity, a.registry, a.topics.SyncJobs, a.cfg.SyncIgnorePatterns)

	a.server = server.New(fmt.Sprintf(":%d", a.cfg.TransferPort), &server.Services{
		Identity:  a.identity,
		Registry:  a.registry,
		Prober:    a.prober,
		Tracker:   tracker,
		Receiver:  receiver,
		Inbox:     inbox,
		Workspace: ws,
		Topics:    a.topics,
	})

	return nil
}

// teardown releases what setup claimed, in reverse order. Safe to call
// with a partially completed setup.
func (a *App) teardown() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Warn("close database", "error", err)
		}
		a.db = nil
	}
	if a.ws != nil {
		if err := a.ws.Unlock(); err != nil {
			slog.Warn("unlock workspace", "error", err)
		}
		a.ws = nil
	}
}

// watchAddr re-resolves the LAN address on a slow tick and nudges discovery
// when it moves, so the announced endpoint follows network changes.
func (a *App) watchAddr(ctx context.Context) {
	ticker := time.NewTicker(addrRefreshEvery)
	defer ticker.Stop()

	last := a.identity.Snapshot().IP
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.identity.RefreshAddr() {
				continue
			}
			if now := a.identity.Snapshot().IP; now != last {
				slog.Info("lan address changed", "from", last, "to", now)
				last = now
				a.discovery.NotifyNetworkChange()
			}
		}
	}
}
