// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package services

import (
	"fmt"
	"net"
	"time"
)

const portProbeTimeout = 500 * time.Millisecond

// probeReachable reports whether port is accepting TCP connections on
// either loopback address; a service bound to only one of the two
// families still counts as reachable.
func probeReachable(port int) bool {
	for _, host := range []string{"127.0.0.1", "::1"} {
		addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
		conn, err := net.DialTimeout("tcp", addr, portProbeTimeout)
		if err == nil {
			_ = conn.Close()
			return true
		}
	}
	return false
}
