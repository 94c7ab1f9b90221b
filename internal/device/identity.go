package device

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/host"

	"github.com/lanbeam/lanbeam/internal/config"
	"github.com/lanbeam/lanbeam/internal/utils"
	"github.com/lanbeam/lanbeam/internal/version"
)

// Identity is this node's own device record. The IP is re-resolved when
// connectivity changes, everything else is fixed at startup.
type Identity struct {
	mu sync.RWMutex
	d  Device
}

// NewIdentity builds the local identity from config. The IP is left
// empty when no LAN interface is usable, RefreshAddr fills it in later.
func NewIdentity(cfg *config.Config) *Identity {
	id := cfg.DeviceID
	if id == "" {
		id = utils.HWID
	}

	ident := &Identity{
		d: Device{
			ID:       id,
			Name:     cfg.DeviceName,
			Port:     cfg.TransferPort,
			Platform: platformTag(),
			Version:  version.Version,
		},
	}
	ident.RefreshAddr()
	return ident
}

// RefreshAddr re-resolves the LAN address. Returns false when no usable
// interface was found, keeping the previous address in place.
func (i *Identity) RefreshAddr() bool {
	ip, _, err := utils.LANAddr()
	if err != nil {
		return false
	}

	i.mu.Lock()
	i.d.IP = ip.String()
	i.mu.Unlock()
	return true
}

// ID returns the stable device id.
func (i *Identity) ID() string {
	return i.d.ID
}

// Snapshot returns the current identity stamped with the present time.
func (i *Identity) Snapshot() Device {
	i.mu.RLock()
	defer i.mu.RUnlock()

	d := i.d
	d.LastSeen = time.Now().UTC()
	return d
}

func platformTag() string {
	info, err := host.Info()
	if err != nil || info.Platform == "" {
		return runtime.GOOS
	}
	return fmt.Sprintf("%s/%s", info.OS, info.Platform)
}
