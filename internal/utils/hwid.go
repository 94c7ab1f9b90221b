package utils

import (
	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

// HWID is a stable identifier for this machine. Falls back to a random
// id when the platform does not expose one.
var HWID = resolveHWID()

func resolveHWID() string {
	id, err := machineid.ProtectedID("lanbeam")
	if err != nil {
		return uuid.NewString()
	}
	return id
}
