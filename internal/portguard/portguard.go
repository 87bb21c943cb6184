// Package portguard performs the startup port pre-flight: every TCP and
// UDP port the coordinator needs is trial-bound and immediately released
// before any long-lived listener opens, so a port conflict fails fast
// with a message naming the conflicting endpoint.
package portguard

import (
	"fmt"
	"net"
)

// Endpoint names one port this process intends to bind, for error
// reporting when the pre-flight fails.
type Endpoint struct {
	Name  string // human label, e.g. "video ingress (UDP)"
	Proto string // "tcp" or "udp"
	Host  string
	Port  int
}

func (e Endpoint) addr() string { return fmt.Sprintf("%s:%d", e.Host, e.Port) }

// Check trial-binds every endpoint in order, closing each immediately.
// The first conflict aborts with an error identifying the endpoint; it is
// the caller's job to treat this as startup-fatal.
func Check(endpoints []Endpoint) error {
	for _, ep := range endpoints {
		if err := tryBind(ep); err != nil {
			return fmt.Errorf("port guard: %s (%s/%s) unavailable: %w", ep.Name, ep.addr(), ep.Proto, err)
		}
	}
	return nil
}

func tryBind(ep Endpoint) error {
	switch ep.Proto {
	case "tcp":
		l, err := net.Listen("tcp", ep.addr())
		if err != nil {
			return err
		}
		return l.Close()
	case "udp":
		addr, err := net.ResolveUDPAddr("udp", ep.addr())
		if err != nil {
			return err
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	default:
		return fmt.Errorf("unknown protocol %q", ep.Proto)
	}
}
