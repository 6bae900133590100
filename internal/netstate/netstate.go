// Package netstate answers the connectivity and Wi-Fi gate questions the
// retry policy and PartWorker preparation phase consult (§4.6/§7), probing
// local network interfaces with github.com/shirou/gopsutil/v3/net the same
// way kmkrofficial-project-tachyon's network dashboard inventories
// interfaces, instead of hand-rolling a socket probe.
package netstate

import (
	"strings"

	gopsnet "github.com/shirou/gopsutil/v3/net"
)

// wirelessNamePrefixes is the heuristic used to decide whether an
// interface "looks wireless" from its name; gopsutil exposes no portable
// interface-type flag, so this mirrors the common OS naming convention
// (wlan0, wlp2s0, en0 on Wi-Fi-only Macs is ambiguous and intentionally
// excluded, Wi-Fi on Windows).
var wirelessNamePrefixes = []string{"wlan", "wlp", "wifi", "wi-fi"}

// State reports the current connectivity and Wi-Fi gate.
type State struct {
	Connected bool
	OnWifi    bool
}

// Probe inspects the host's network interfaces and returns the current
// State. Errors reading the interface list are treated as "no
// connectivity" rather than propagated, since the caller only needs a
// boolean gate.
func Probe() State {
	ifaces, err := gopsnet.Interfaces()
	if err != nil {
		return State{}
	}

	state := State{}
	for _, iface := range ifaces {
		if !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
			continue
		}
		if len(iface.Addrs) == 0 {
			continue
		}
		state.Connected = true
		if looksWireless(iface.Name) {
			state.OnWifi = true
		}
	}
	return state
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

func looksWireless(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range wirelessNamePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
