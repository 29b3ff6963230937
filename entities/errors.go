package entities

import (
	"errors"
	"net"
	"strings"
)

var ErrStoreEntityNotFound = errors.New("store resource not found")

// ErrDataUnavailable is returned when the ledger has not produced the requested data yet.
var ErrDataUnavailable = errors.New("ledger data not yet available")

// ErrTransientNetwork marks failures to reach a node (connection refused, dns, timeouts).
var ErrTransientNetwork = errors.New("transient network error")

// IsTransientNetwork reports whether err should trigger a node failover.
func IsTransientNetwork(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientNetwork) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "network") || strings.Contains(message, "enotfound")
}
