package utils

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastAddr(t *testing.T) {
	tests := []struct {
		name string
		cidr string
		want string
	}{
		{"class c", "192.168.1.42/24", "192.168.1.255"},
		{"class a", "10.0.5.9/8", "10.255.255.255"},
		{"small subnet", "172.16.4.10/30", "172.16.4.11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, ipnet, err := net.ParseCIDR(tt.cidr)
			require.NoError(t, err)
			ipnet.IP = ip

			got := BroadcastAddr(ipnet)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestIsVirtualIface(t *testing.T) {
	assert.True(t, isVirtualIface("docker0"))
	assert.True(t, isVirtualIface("veth12ab"))
	assert.True(t, isVirtualIface("utun3"))
	assert.True(t, isVirtualIface("tailscale0"))
	assert.False(t, isVirtualIface("eth0"))
	assert.False(t, isVirtualIface("en0"))
	assert.False(t, isVirtualIface("wlan0"))
}

func TestHWIDStable(t *testing.T) {
	assert.NotEmpty(t, HWID)
	assert.Equal(t, HWID, HWID)
}
