package transfer

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/lanbeam/lanbeam/internal/peerapi"
)

// AcceptFunc decides an incoming handshake. It returns whether the transfer
// is accepted and, when it is not, a human-readable reason for the sender.
type AcceptFunc func(req *peerapi.SendRequest) (bool, string)

// AutoAccept accepts every request.
func AutoAccept(*peerapi.SendRequest) (bool, string) {
	return true, ""
}

// DiskSpaceAccept accepts requests whose declared size plus a safety margin
// fits on the volume holding dir. When the usage probe itself fails the
// request is let through rather than rejected blind.
func DiskSpaceAccept(dir string, margin uint64) AcceptFunc {
	return func(req *peerapi.SendRequest) (bool, string) {
		usage, err := disk.Usage(dir)
		if err != nil {
			slog.Warn("disk usage check failed", "path", dir, "error", err)
			return true, ""
		}

		need := uint64(req.FileSize) + margin
		if usage.Free < need {
			return false, fmt.Sprintf("not enough disk space: need %s, free %s",
				humanize.IBytes(need), humanize.IBytes(usage.Free))
		}
		return true, ""
	}
}
