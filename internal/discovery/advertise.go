// Package discovery announces a running server over multicast DNS.
package discovery

import (
	"context"
	"os"

	"github.com/grandcat/zeroconf"
	"github.com/pkg/errors"
)

const (
	ServiceType = "_tftp._udp"
	Domain      = "local."
)

// InstanceName is the hostname, falling back to "tftpd" when it cannot
// be determined.
func InstanceName() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "tftpd"
	}
	return hostname
}

// Advertise registers the service and keeps it registered until ctx is done.
func Advertise(ctx context.Context, instance string, port int) error {
	if port <= 0 || port > 65535 {
		return errors.Errorf("invalid port %d", port)
	}

	server, err := zeroconf.Register(instance, ServiceType, Domain, port, []string{"txtv=0"}, nil)
	if err != nil {
		return errors.Wrap(err, "registering mDNS service")
	}
	defer server.Shutdown()

	<-ctx.Done()
	return nil
}
