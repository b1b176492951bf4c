package queue

import (
	"context"
	"net"
	"time"
)

// NetworkRequirement gates jobs on reachability of a remote endpoint. Each
// IsPresent call performs a fresh TCP probe; nothing is cached.
type NetworkRequirement struct {
	// Target is a host:port to probe.
	Target string
	// Timeout bounds the probe; zero means 3 seconds.
	Timeout time.Duration
}

func (r NetworkRequirement) Name() string { return "network" }

func (r NetworkRequirement) IsPresent(ctx context.Context) bool {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.Target)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// SecretProvider reports whether the derived secret needed to talk to the
// secure channel is currently available.
type SecretProvider interface {
	Unlocked() bool
}

// SecretRequirement gates jobs on availability of the derived secret.
type SecretRequirement struct {
	Provider SecretProvider
}

func (r SecretRequirement) Name() string { return "secret" }

func (r SecretRequirement) IsPresent(ctx context.Context) bool {
	return r.Provider != nil && r.Provider.Unlocked()
}
