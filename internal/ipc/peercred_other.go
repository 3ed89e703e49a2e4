//go:build !linux && !darwin

package ipc

import (
	"errors"
	"net"
)

// PeerCredentials holds the identity of a connected peer process.
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// peerCredentials is unavailable here; socket file permissions remain the
// only gate.
func peerCredentials(net.Conn) (*PeerCredentials, error) {
	return nil, errors.New("peer credentials not supported on this platform")
}
