package device

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Device describes one node on the LAN. It is also the presence packet
// payload and the /api/info response body.
type Device struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	IP       string    `json:"ip"`
	Port     int       `json:"port"`
	Platform string    `json:"platform"`
	Version  string    `json:"version"`
	LastSeen time.Time `json:"lastSeen"`
}

// Addr returns the host:port of the device's transfer API.
func (d Device) Addr() string {
	return net.JoinHostPort(d.IP, strconv.Itoa(d.Port))
}

// BaseURL returns the http base URL of the device's transfer API.
func (d Device) BaseURL() string {
	return "http://" + d.Addr()
}

// Validate checks the fields a decoded packet must carry to be usable.
func (d Device) Validate() error {
	if d.ID == "" {
		return errors.New("device id is empty")
	}
	if d.Name == "" {
		return errors.New("device name is empty")
	}
	if net.ParseIP(d.IP) == nil {
		return fmt.Errorf("invalid device ip %q", d.IP)
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("invalid device port %d", d.Port)
	}
	return nil
}
