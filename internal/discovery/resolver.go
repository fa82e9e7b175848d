package discovery

import (
	"context"
	"errors"
	"fmt"

	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// Resolver finds the process listening on a local TCP port. It returns
// 0 and a nil error when nothing is listening.
type Resolver interface {
	ResolvePID(ctx context.Context, port int) (int, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, port int) (int, error)

func (f ResolverFunc) ResolvePID(ctx context.Context, port int) (int, error) { return f(ctx, port) }

// Chain tries each resolver in turn. A resolver that answers, including
// with 0 for "nothing is listening", ends the chain; only an error moves on
// to the next one. An error is returned when every resolver failed.
type Chain []Resolver

func (c Chain) ResolvePID(ctx context.Context, port int) (int, error) {
	var errs []error
	for _, r := range c {
		pid, err := r.ResolvePID(ctx, port)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return pid, nil
	}
	return 0, errors.Join(errs...)
}

// NetTableResolver reads the operating system's TCP table through gopsutil.
type NetTableResolver struct{}

func (NetTableResolver) ResolvePID(ctx context.Context, port int) (int, error) {
	conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return 0, fmt.Errorf("read tcp table: %w", err)
	}
	for _, c := range conns {
		if c.Status == "LISTEN" && int(c.Laddr.Port) == port && c.Pid > 0 {
			return int(c.Pid), nil
		}
	}
	return 0, nil
}
