//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package turnserver

import "net"

const reusePortSupported = false

func listenConfig() *net.ListenConfig {
	return &net.ListenConfig{}
}
