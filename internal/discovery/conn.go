package discovery

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/lanbeam/lanbeam/internal/utils"
)

// presenceConn is the socket surface the service drives. Split out so
// the failure paths can be exercised without a real network.
type presenceConn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, addr net.Addr) (int, error)
	SetReadDeadline(t time.Time) error
	Rejoin() error
	Close() error
}

type dialFunc func(port int, group net.IP) (presenceConn, error)

// multicastConn is the production socket: one UDP4 listener joined to
// the group on every eligible interface, loopback enabled so our own
// heartbeats double as a liveness signal.
type multicastConn struct {
	udp   *net.UDPConn
	pc    *ipv4.PacketConn
	group net.IP
}

func openMulticast(port int, group net.IP) (presenceConn, error) {
	udp, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("listen udp4 :%d: %w", port, err)
	}

	mc := &multicastConn{
		udp:   udp,
		pc:    ipv4.NewPacketConn(udp),
		group: group,
	}
	if err := mc.join(false); err != nil {
		udp.Close()
		return nil, fmt.Errorf("join group %s: %w", group, err)
	}
	mc.pc.SetMulticastTTL(4)
	mc.pc.SetMulticastLoopback(true)
	return mc, nil
}

func (c *multicastConn) join(leaveFirst bool) error {
	ifaces := utils.MulticastInterfaces()
	if len(ifaces) == 0 {
		return errors.New("no multicast capable interfaces")
	}

	groupAddr := &net.UDPAddr{IP: c.group}
	var joined int
	var errs []error
	for i := range ifaces {
		if leaveFirst {
			c.pc.LeaveGroup(&ifaces[i], groupAddr)
		}
		if err := c.pc.JoinGroup(&ifaces[i], groupAddr); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ifaces[i].Name, err))
			continue
		}
		joined++
	}
	if joined == 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Rejoin refreshes group membership on all interfaces. Recovers
// memberships dropped by interface churn without recreating the socket.
func (c *multicastConn) Rejoin() error {
	return c.join(true)
}

func (c *multicastConn) ReadFrom(b []byte) (int, net.Addr, error) {
	return c.udp.ReadFrom(b)
}

func (c *multicastConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	return c.udp.WriteTo(b, addr)
}

func (c *multicastConn) SetReadDeadline(t time.Time) error {
	return c.udp.SetReadDeadline(t)
}

func (c *multicastConn) Close() error {
	return c.udp.Close()
}
